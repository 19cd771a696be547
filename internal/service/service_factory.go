package service

import (
	"go.uber.org/zap"

	"gate-service/internal/config"
	redisrepo "gate-service/internal/repository/redis"
)

// ServiceFactory creates and manages service instances.
type ServiceFactory struct {
	cfg       *config.Config
	gateCache *redisrepo.GateCache
	sessions  *redisrepo.SessionCache
	groups    *redisrepo.GroupDirectory
	messenger Messenger
	auditor   Auditor
	logger    *zap.Logger

	gateService *GateService
}

func NewServiceFactory(
	cfg *config.Config,
	gateCache *redisrepo.GateCache,
	sessions *redisrepo.SessionCache,
	groups *redisrepo.GroupDirectory,
	messenger Messenger,
	auditor Auditor,
	logger *zap.Logger,
) *ServiceFactory {
	return &ServiceFactory{
		cfg:       cfg,
		gateCache: gateCache,
		sessions:  sessions,
		groups:    groups,
		messenger: messenger,
		auditor:   auditor,
		logger:    logger,
	}
}

// GateService returns the gate policy engine (singleton).
func (f *ServiceFactory) GateService() *GateService {
	if f.gateService == nil {
		f.gateService = NewGateService(
			f.cfg,
			f.gateCache,
			f.sessions,
			f.groups,
			NewClientIdentifier(f.gateCache),
			f.messenger,
			f.auditor,
			f.logger,
		)
	}
	return f.gateService
}
