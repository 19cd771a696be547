// Package factory manages the lifecycle of all application dependencies.
package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gate-service/internal/client"
	"gate-service/internal/config"
	"gate-service/internal/messaging"
	"gate-service/internal/models"
	chrepo "gate-service/internal/repository/clickhouse"
	redisrepo "gate-service/internal/repository/redis"
	"gate-service/internal/service"
	"gate-service/internal/tls"
	"gate-service/internal/util"
)

// Factory builds and owns the dependency graph: config -> clients ->
// repositories -> service factory.
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Clients
	redisClient      *client.RedisClient
	kafkaProducer    *client.KafkaProducer
	clickhouseClient *client.ClickHouseClient

	// Repositories
	gateCache       *redisrepo.GateCache
	sessionCache    *redisrepo.SessionCache
	groupDirectory  *redisrepo.GroupDirectory
	auditRepository *chrepo.AuditRepository

	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
}

// NewFactory creates and initializes all application dependencies.
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{config: cfg}

	if cfg.Server.EnableTLS {
		factory.tlsManager = tls.NewTLSManager(&tls.TLSConfig{
			EnableTLS:   cfg.Server.EnableTLS,
			AutoCert:    cfg.Server.AutoCert,
			Domain:      cfg.Server.Domain,
			CertFile:    cfg.Server.CertFile,
			KeyFile:     cfg.Server.KeyFile,
			AutoCertDir: cfg.Server.AutoCertDir,
			Email:       cfg.Server.Email,
			Environment: cfg.Environment,
		})
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	factory.initializeRepositories()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("audit_enabled", cfg.Clickhouse.Enabled),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health
// checks. Redis is mandatory; Kafka and ClickHouse degrade gracefully
// outside production.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Redis: every piece of gate state lives here, so failure is fatal.
	redisClient, err := client.NewRedisClient(f.config, util.Get())
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	f.redisClient = redisClient
	if err := f.redisClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("redis health check: %w", err)
	}
	util.Info("Redis client initialized and healthy")

	// Kafka: without it submissions cannot be delivered; production refuses
	// to start, development degrades to SendFailed responses.
	if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
		if f.config.IsProduction() {
			return fmt.Errorf("kafka: %w", err)
		}
		util.Warn("Kafka producer initialization failed - submissions will fail to deliver", util.ErrorField(err))
	} else {
		f.kafkaProducer = producer
	}

	// ClickHouse audit trail is optional by configuration.
	if f.config.Clickhouse.Enabled {
		if chClient, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
			if f.config.IsProduction() {
				return fmt.Errorf("clickhouse: %w", err)
			}
			util.Warn("ClickHouse initialization failed - audit trail disabled", util.ErrorField(err))
		} else {
			f.clickhouseClient = chClient
		}
	}

	return nil
}

func (f *Factory) initializeRepositories() {
	f.gateCache = redisrepo.NewGateCache(f.redisClient)
	f.sessionCache = redisrepo.NewSessionCache(f.redisClient, f.config.Session.TTL)
	f.groupDirectory = redisrepo.NewGroupDirectory(f.redisClient)

	if f.clickhouseClient != nil {
		f.auditRepository = chrepo.NewAuditRepository(f.clickhouseClient)
	}
}

// ServiceFactory returns the lazily built service factory.
func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		var messenger service.Messenger
		if f.kafkaProducer != nil {
			messenger = messaging.NewKafkaMessenger(f.kafkaProducer, f.config.Kafka.MessageTopic)
		} else {
			messenger = unavailableMessenger{}
		}

		var auditor service.Auditor
		if f.auditRepository != nil {
			auditor = f.auditRepository
		}

		f.serviceFactory = service.NewServiceFactory(
			f.config,
			f.gateCache,
			f.sessionCache,
			f.groupDirectory,
			messenger,
			auditor,
			util.Get(),
		)
	}
	return f.serviceFactory
}

// HealthCheck reports per-dependency health.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	} else {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	}

	return healthErrors
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		util.Info("Shutting down factory...")

		if f.auditRepository != nil {
			if err := f.auditRepository.Close(); err != nil {
				util.Error("Failed to close audit repository", util.ErrorField(err))
			}
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

// unavailableMessenger stands in when Kafka is absent in development.
type unavailableMessenger struct{}

func (unavailableMessenger) Deliver(_ context.Context, _ *models.PrivateMessage) error {
	return fmt.Errorf("message transport not configured")
}
