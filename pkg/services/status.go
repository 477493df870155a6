package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlbot/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-sqlbot/pkg/logging"
	"github.com/ekaya-inc/ekaya-sqlbot/pkg/models"
)

// auditPingTimeout bounds the audit store probe in Status.
const auditPingTimeout = 2 * time.Second

// DefinitionCounter reports how many definitions are loaded.
type DefinitionCounter interface {
	Count() int
}

// CacheCounter reports how many results are cached.
type CacheCounter interface {
	CacheEntries() int
}

// ConnectionStatsProvider reports open connection state.
type ConnectionStatsProvider interface {
	GetStats() datasource.ConnectionStats
}

// Pinger checks an optional backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatusService assembles the process health snapshot.
type StatusService interface {
	Status(ctx context.Context) models.HealthStatus
}

type statusService struct {
	version     string
	definitions DefinitionCounter
	cache       CacheCounter
	connections ConnectionStatsProvider
	auditStore  Pinger
	logger      *zap.Logger
}

// NewStatusService creates a StatusService. auditStore may be nil when
// execution records are only logged.
func NewStatusService(
	version string,
	definitions DefinitionCounter,
	cache CacheCounter,
	connections ConnectionStatsProvider,
	auditStore Pinger,
	logger *zap.Logger,
) StatusService {
	return &statusService{
		version:     version,
		definitions: definitions,
		cache:       cache,
		connections: connections,
		auditStore:  auditStore,
		logger:      logger.Named("status"),
	}
}

// Status never fails. Problems degrade the status instead.
func (s *statusService) Status(ctx context.Context) models.HealthStatus {
	stats := s.connections.GetStats()
	status := models.HealthStatus{
		Status:          models.HealthOK,
		Version:         s.version,
		QueriesLoaded:   s.definitions.Count(),
		CacheEntries:    s.cache.CacheEntries(),
		OpenConnections: stats.TotalConnections,
		Databases:       stats.Databases,
	}

	if status.QueriesLoaded == 0 {
		status.Status = models.HealthDegraded
		status.Problems = append(status.Problems, "no query definitions loaded")
	}

	if s.auditStore != nil {
		pingCtx, cancel := context.WithTimeout(ctx, auditPingTimeout)
		defer cancel()
		if err := s.auditStore.Ping(pingCtx); err != nil {
			s.logger.Warn("Audit store unreachable", zap.String("error", logging.SanitizeError(err)))
			status.Status = models.HealthDegraded
			status.AuditStore = "unavailable"
			status.Problems = append(status.Problems, "audit store unreachable")
		} else {
			status.AuditStore = models.HealthOK
		}
	}

	return status
}
