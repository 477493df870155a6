package audit

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlbot/pkg/logging"
)

const (
	DefaultPostgresBufferSize = 256
	insertTimeout             = 5 * time.Second
)

const insertAuditRecordSQL = `
	INSERT INTO query_audit_log (
		executed_at, correlation_id, interface, user_id, query_id, query_name,
		database_name, params, success, from_cache, row_count, error_code,
		error_message, duration_ms
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

// PostgresSink persists records to the query_audit_log table. Writes happen
// on a single background goroutine; when the buffer is full the record is
// dropped with a warning instead of blocking the execution path.
type PostgresSink struct {
	pool    *pgxpool.Pool
	records chan ExecutionRecord
	done    chan struct{}
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewPostgresSink starts the writer goroutine. Call Close to flush and stop it.
func NewPostgresSink(pool *pgxpool.Pool, bufferSize int, logger *zap.Logger) *PostgresSink {
	if bufferSize <= 0 {
		bufferSize = DefaultPostgresBufferSize
	}
	s := &PostgresSink{
		pool:    pool,
		records: make(chan ExecutionRecord, bufferSize),
		done:    make(chan struct{}),
		logger:  logger.Named("sql_tools_audit"),
	}
	go s.run()
	return s
}

func (s *PostgresSink) Record(_ context.Context, rec ExecutionRecord) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	select {
	case s.records <- rec:
	default:
		s.logger.Warn("Audit buffer full, dropping record",
			zap.String("correlation_id", rec.CorrelationID),
			zap.String("query_name", rec.QueryName),
		)
	}
}

func (s *PostgresSink) run() {
	defer close(s.done)
	for rec := range s.records {
		if err := s.insert(rec); err != nil {
			s.logger.Error("Failed to persist audit record",
				zap.String("correlation_id", rec.CorrelationID),
				zap.String("error", logging.SanitizeError(err)),
			)
		}
	}
}

func (s *PostgresSink) insert(rec ExecutionRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()

	_, err := s.pool.Exec(ctx, insertAuditRecordSQL,
		rec.Timestamp,
		rec.CorrelationID,
		rec.Interface,
		nullIfEmpty(rec.UserID),
		rec.QueryID,
		rec.QueryName,
		rec.Database,
		rec.Params,
		rec.Success,
		rec.FromCache,
		rec.RowCount,
		nullIfEmpty(rec.ErrorCode),
		nullIfEmpty(rec.Error),
		rec.Duration.Milliseconds(),
	)
	return err
}

// Close stops accepting records, drains the buffer and waits for the writer.
// Idempotent. The pool is owned by the caller and is not closed.
func (s *PostgresSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.records)
	s.mu.Unlock()

	<-s.done
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
