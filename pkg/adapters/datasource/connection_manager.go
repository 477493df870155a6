package datasource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ekaya-inc/ekaya-sqlbot/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-sqlbot/pkg/logging"
	"github.com/ekaya-inc/ekaya-sqlbot/pkg/models"
	"github.com/ekaya-inc/ekaya-sqlbot/pkg/retry"
)

const (
	DefaultProbeTimeout = 5 * time.Second
	DefaultDialect      = "mssql"
	livenessProbeSQL    = "SELECT 1"
)

// ConnectionManagerConfig holds configuration for the connection manager.
type ConnectionManagerConfig struct {
	// DefaultDialect is used when a connection string matches no dialect.
	DefaultDialect string
	// ProbeTimeout bounds the liveness probe run before reusing a connection.
	ProbeTimeout time.Duration
	// Retry controls connection establishment retries. Nil uses retry.DefaultConfig.
	Retry *retry.Config
	// LookupEnv resolves credentials keys. Nil uses os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

var errManagerClosed = errors.New("connection manager is closed")

// ConnectionManager owns one connection per database name. Each connection
// is probed before reuse and replaced transparently when the probe fails.
type ConnectionManager struct {
	mu             sync.RWMutex
	connections    map[string]*ManagedConnection // key: database name
	defaultDialect string
	probeTimeout   time.Duration
	retryCfg       *retry.Config
	lookupEnv      func(string) (string, bool)
	stopped        bool
	dials          singleflight.Group // key: database name
	logger         *zap.Logger
}

// ManagedConnection is a cached connection with its bookkeeping.
type ManagedConnection struct {
	conn     *Connection
	envKey   string
	lastUsed time.Time
	mu       sync.Mutex // serializes liveness checks for this database
}

// NewConnectionManager creates a connection manager with the given configuration.
func NewConnectionManager(cfg ConnectionManagerConfig, logger *zap.Logger) *ConnectionManager {
	if cfg.DefaultDialect == "" {
		cfg.DefaultDialect = DefaultDialect
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.LookupEnv == nil {
		cfg.LookupEnv = os.LookupEnv
	}

	return &ConnectionManager{
		connections:    make(map[string]*ManagedConnection),
		defaultDialect: cfg.DefaultDialect,
		probeTimeout:   cfg.ProbeTimeout,
		retryCfg:       cfg.Retry,
		lookupEnv:      cfg.LookupEnv,
		logger:         logger.Named("datasource"),
	}
}

// GetConnection returns the live connection for database, creating it on
// first use. A cached connection is probed first; if the probe fails it is
// closed and replaced.
func (m *ConnectionManager) GetConnection(ctx context.Context, database, credentialsEnvKey string) (QueryExecutor, error) {
	conn, err := m.getConnection(ctx, database, credentialsEnvKey)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (m *ConnectionManager) getConnection(ctx context.Context, database, credentialsEnvKey string) (*Connection, error) {
	if !models.ValidDatabaseName(database) {
		return nil, fmt.Errorf("%w '%s': only letters, numbers and underscores allowed", apperrors.ErrInvalidDatabaseName, database)
	}

	m.mu.RLock()
	if m.stopped {
		m.mu.RUnlock()
		return nil, errManagerClosed
	}
	managed, exists := m.connections[database]
	m.mu.RUnlock()

	if exists {
		alive, err := m.checkLiveness(ctx, managed)
		if alive {
			return managed.conn, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		m.logger.Warn("Connection is stale, reconnecting",
			zap.String("database", database),
			zap.String("error", logging.SanitizeError(err)),
		)
		m.removeConnection(database, managed)
	}

	return m.createConnection(ctx, database, credentialsEnvKey)
}

// checkLiveness probes a cached connection. A connection that is serving
// another query counts as alive: with a single pooled connection the probe
// would only measure the wait for that query, not the server.
func (m *ConnectionManager) checkLiveness(ctx context.Context, managed *ManagedConnection) (bool, error) {
	managed.mu.Lock()
	defer managed.mu.Unlock()

	before := managed.conn.db.Stats()
	if before.InUse > 0 {
		managed.lastUsed = time.Now()
		return true, nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	err := managed.conn.probe(probeCtx)
	cancel()

	if err == nil {
		managed.lastUsed = time.Now()
		return true, nil
	}

	// The probe queued behind a query that started after the check above.
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil &&
		managed.conn.db.Stats().WaitCount > before.WaitCount {
		managed.lastUsed = time.Now()
		return true, nil
	}
	return false, err
}

// createConnection opens and verifies a new connection. Concurrent callers
// for the same database share one dial; dials for different databases run
// in parallel and never hold m.mu while talking to a server.
// Caller must NOT hold any locks.
func (m *ConnectionManager) createConnection(ctx context.Context, database, credentialsEnvKey string) (*Connection, error) {
	v, err, _ := m.dials.Do(database, func() (any, error) {
		m.mu.RLock()
		managed, exists := m.connections[database]
		stopped := m.stopped
		m.mu.RUnlock()

		if stopped {
			return nil, errManagerClosed
		}
		if exists {
			managed.mu.Lock()
			managed.lastUsed = time.Now()
			managed.mu.Unlock()
			return managed.conn, nil
		}

		conn, err := m.dial(ctx, database, credentialsEnvKey)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		if m.stopped {
			_ = conn.db.Close()
			return nil, errManagerClosed
		}
		m.connections[database] = &ManagedConnection{
			conn:     conn,
			envKey:   credentialsEnvKey,
			lastUsed: time.Now(),
		}

		m.logger.Info("Created database connection",
			zap.String("database", database),
			zap.String("dialect", conn.dialect.Name()),
			zap.Int("total_connections", len(m.connections)),
		)
		return conn, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Connection), nil
}

// dial resolves credentials, opens the handle and verifies it with retry.
func (m *ConnectionManager) dial(ctx context.Context, database, credentialsEnvKey string) (*Connection, error) {
	connString, ok := m.lookupEnv(credentialsEnvKey)
	if !ok || connString == "" {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrMissingCredentials, credentialsEnvKey)
	}

	dialect, err := DetectDialect(connString, m.defaultDialect)
	if err != nil {
		return nil, err
	}

	dsn, err := dialect.WithDatabase(connString, database)
	if err != nil {
		return nil, fmt.Errorf("failed to select database %s: %w", database, err)
	}

	m.logger.Debug("Creating database connection",
		zap.String("database", database),
		zap.String("dialect", dialect.Name()),
		zap.String("dsn", logging.SanitizeConnectionString(dsn)),
	)

	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %s", dialect.Name(), logging.SanitizeError(err))
	}
	// One physical connection per database; database/sql serializes access to it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	conn := &Connection{database: database, dialect: dialect, db: db}

	// Verify with retry for transient network failures
	err = retry.DoIfRetryable(ctx, m.retryCfg, func() error {
		return conn.probe(ctx)
	})
	if err != nil {
		_ = db.Close()
		m.logger.Error("Failed to connect after retries",
			zap.String("database", database),
			zap.String("error", logging.SanitizeError(err)),
		)
		return nil, fmt.Errorf("failed to connect to database %s: %s", database, logging.SanitizeError(err))
	}
	return conn, nil
}

// removeConnection drops the cached entry if it is still the given one and
// closes it, ignoring close errors on the discarded connection.
// Caller must NOT hold m.mu lock (this method acquires write lock).
func (m *ConnectionManager) removeConnection(database string, stale *ManagedConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, exists := m.connections[database]; exists && current == stale {
		delete(m.connections, database)
	}
	if err := stale.conn.db.Close(); err != nil {
		m.logger.Debug("Ignoring error closing stale connection",
			zap.String("database", database),
			zap.String("error", logging.SanitizeError(err)),
		)
	}
}

// Close closes all connections. This method is idempotent and safe to call
// multiple times.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil
	}
	m.stopped = true

	for database, managed := range m.connections {
		if managed == nil || managed.conn == nil {
			continue
		}
		if err := managed.conn.db.Close(); err != nil {
			m.logger.Error("Error closing connection",
				zap.String("database", database),
				zap.String("error", logging.SanitizeError(err)),
			)
			continue
		}
		m.logger.Debug("Closed connection", zap.String("database", database))
	}

	m.connections = make(map[string]*ManagedConnection)
	m.logger.Info("Connection manager closed")
	return nil
}

// GetStats returns statistics about the connection manager.
// Safe to call concurrently.
func (m *ConnectionManager) GetStats() ConnectionStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	stats := ConnectionStats{
		TotalConnections: len(m.connections),
		Databases:        make([]string, 0, len(m.connections)),
		ByDialect:        make(map[string]int),
	}

	for database, managed := range m.connections {
		stats.Databases = append(stats.Databases, database)
		if managed == nil {
			continue
		}
		stats.ByDialect[managed.conn.dialect.Name()]++

		managed.mu.Lock()
		idleSeconds := int(now.Sub(managed.lastUsed).Seconds())
		managed.mu.Unlock()
		if idleSeconds > stats.OldestIdleSeconds {
			stats.OldestIdleSeconds = idleSeconds
		}
	}
	sort.Strings(stats.Databases)

	return stats
}

// ConnectionStats contains statistics about the connection manager state.
type ConnectionStats struct {
	TotalConnections  int            `json:"total_connections"`
	Databases         []string       `json:"databases"`
	ByDialect         map[string]int `json:"by_dialect"`
	OldestIdleSeconds int            `json:"oldest_idle_seconds"`
}
