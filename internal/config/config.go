package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"gate-service/internal/gate"
)

// Config is a read-only snapshot of service configuration, loaded once at
// startup. Handlers and services never mutate it.
type Config struct {
	Environment string

	Server     ServerConfig
	Logging    LoggingConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Clickhouse ClickhouseConfig
	Session    SessionConfig

	Gates map[string]GateConfig
}

type ServerConfig struct {
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	Domain       string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	Email        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type KafkaConfig struct {
	Brokers []string
	// Topic the forum platform consumes private-message envelopes from.
	MessageTopic string
}

type ClickhouseConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Database string
}

type SessionConfig struct {
	// TTL bounds how long an unlock stays usable when never consumed.
	TTL time.Duration
}

// GateConfig carries the per-kind settings of one public endpoint.
type GateConfig struct {
	Enabled     bool
	DoorCode    string
	TargetGroup string
	// BotUsername is the sender identity for forwarded messages; empty means
	// the platform's system sender.
	BotUsername string
	// RateLimitPerHour caps unlock attempts and submissions globally for the
	// kind, each in its own counter window. 0 disables the endpoint.
	RateLimitPerHour int
	// MaxMessageLength limits the message body in characters. 0 = unlimited.
	MaxMessageLength int
	// SecretRotationHours is the rotating-secret lifetime; values <= 0 fall
	// back to 24h.
	SecretRotationHours int
}

var (
	globalConfig *Config
	once         sync.Once
)

// LoadConfig reads configuration from the environment (and .env outside
// production) exactly once.
func LoadConfig() *Config {
	once.Do(func() {
		env := getEnv("GATE_ENV", "development")
		if env != "production" {
			// Missing .env is fine; variables may come from the real env.
			_ = godotenv.Load()
			env = getEnv("GATE_ENV", env)
		}

		globalConfig = &Config{
			Environment: env,
			Server: ServerConfig{
				Port:         getEnvInt("GATE_PORT", 8080),
				TLSPort:      getEnvInt("GATE_TLS_PORT", 8443),
				EnableTLS:    getEnvBool("GATE_ENABLE_TLS", false),
				AutoCert:     getEnvBool("GATE_AUTOCERT", false),
				Domain:       getEnv("GATE_DOMAIN", ""),
				CertFile:     getEnv("GATE_TLS_CERT_FILE", ""),
				KeyFile:      getEnv("GATE_TLS_KEY_FILE", ""),
				AutoCertDir:  getEnv("GATE_AUTOCERT_DIR", "/var/lib/gate-service/certs"),
				Email:        getEnv("GATE_AUTOCERT_EMAIL", ""),
				ReadTimeout:  getEnvDuration("GATE_READ_TIMEOUT", 10*time.Second),
				WriteTimeout: getEnvDuration("GATE_WRITE_TIMEOUT", 10*time.Second),
				IdleTimeout:  getEnvDuration("GATE_IDLE_TIMEOUT", 60*time.Second),
			},
			Logging: LoggingConfig{
				Level:  getEnv("GATE_LOG_LEVEL", "info"),
				Format: getEnv("GATE_LOG_FORMAT", "json"),
			},
			Redis: RedisConfig{
				URL:      getEnv("GATE_REDIS_URL", "redis://localhost:6379"),
				Password: getEnv("GATE_REDIS_PASSWORD", ""),
				DB:       getEnvInt("GATE_REDIS_DB", 0),
				PoolSize: getEnvInt("GATE_REDIS_POOL_SIZE", 50),
			},
			Kafka: KafkaConfig{
				Brokers:      splitList(getEnv("GATE_KAFKA_BROKERS", "localhost:9092")),
				MessageTopic: getEnv("GATE_KAFKA_MESSAGE_TOPIC", "forum.private-messages"),
			},
			Clickhouse: ClickhouseConfig{
				Enabled:  getEnvBool("GATE_CLICKHOUSE_ENABLED", false),
				URL:      getEnv("GATE_CLICKHOUSE_URL", "http://localhost:8123"),
				Username: getEnv("GATE_CLICKHOUSE_USER", "default"),
				Password: getEnv("GATE_CLICKHOUSE_PASSWORD", ""),
				Database: getEnv("GATE_CLICKHOUSE_DATABASE", "gate"),
			},
			Session: SessionConfig{
				TTL: getEnvDuration("GATE_SESSION_TTL", time.Hour),
			},
			Gates: map[string]GateConfig{
				gate.KindFeedback.Namespace():   loadGateConfig("GATE_FEEDBACK"),
				gate.KindWhiteboard.Namespace(): loadGateConfig("GATE_WHITEBOARD"),
			},
		}
	})

	return globalConfig
}

// Get returns the loaded configuration, loading it on first use.
func Get() *Config {
	if globalConfig == nil {
		return LoadConfig()
	}
	return globalConfig
}

func loadGateConfig(prefix string) GateConfig {
	return GateConfig{
		Enabled:             getEnvBool(prefix+"_ENABLED", false),
		DoorCode:            getEnv(prefix+"_DOOR_CODE", ""),
		TargetGroup:         getEnv(prefix+"_TARGET_GROUP", ""),
		BotUsername:         getEnv(prefix+"_BOT_USERNAME", ""),
		RateLimitPerHour:    getEnvInt(prefix+"_RATE_LIMIT_PER_HOUR", 0),
		MaxMessageLength:    getEnvInt(prefix+"_MAX_MESSAGE_LENGTH", 0),
		SecretRotationHours: getEnvInt(prefix+"_SECRET_ROTATION_HOURS", 24),
	}
}

// GateFor returns the settings for a kind. The zero value (disabled) comes
// back for kinds never configured.
func (c *Config) GateFor(k gate.Kind) GateConfig {
	return c.Gates[k.Namespace()]
}

// SecretRotation returns the effective rotation interval for a kind.
func (g GateConfig) SecretRotation() time.Duration {
	hours := g.SecretRotationHours
	if hours <= 0 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return !c.IsProduction()
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
