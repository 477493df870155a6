// Package audit records query executions and security events.
//
// Every execution attempt that reaches validation produces one
// ExecutionRecord which is handed to a Sink. The log sink is always present;
// a PostgreSQL sink can be added to keep a queryable history.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlbot/pkg/models"
)

// ExecutionRecord is one audited execution attempt. It carries the caller's
// parameter values but never connection strings or credentials.
type ExecutionRecord struct {
	Timestamp     time.Time         `json:"timestamp"`
	CorrelationID string            `json:"correlation_id"`
	Interface     string            `json:"interface"`
	UserID        string            `json:"user_id,omitempty"`
	QueryID       string            `json:"query_id"`
	QueryName     string            `json:"query_name"`
	Database      string            `json:"database"`
	Params        map[string]string `json:"params"`
	Success       bool              `json:"success"`
	FromCache     bool              `json:"from_cache"` // cache hits are not audited, so always false today
	RowCount      int               `json:"row_count"`
	ErrorCode     string            `json:"error_code,omitempty"`
	Error         string            `json:"error,omitempty"`
	Duration      time.Duration     `json:"duration"`
}

// NewExecutionRecord starts a record for the given context and definition.
func NewExecutionRecord(ec models.ExecutionContext, def *models.QueryDefinition, params map[string]string) ExecutionRecord {
	copied := make(map[string]string, len(params))
	for k, v := range params {
		copied[k] = v
	}
	return ExecutionRecord{
		Timestamp:     time.Now().UTC(),
		CorrelationID: ec.CorrelationID,
		Interface:     ec.Interface,
		UserID:        ec.UserID,
		QueryID:       def.ID,
		QueryName:     def.Name,
		Database:      def.Database,
		Params:        copied,
	}
}

// Sink receives execution records. Implementations must not block the caller
// for long and must be safe for concurrent use.
type Sink interface {
	Record(ctx context.Context, rec ExecutionRecord)
}

// LogSink writes records to the "sql_tools_audit" logger.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("sql_tools_audit")}
}

func (s *LogSink) Record(_ context.Context, rec ExecutionRecord) {
	user := rec.UserID
	if user == "" {
		user = "unknown"
	}
	prefix := fmt.Sprintf("[%s] %s:%s", rec.CorrelationID, rec.Interface, user)

	fields := []zap.Field{
		zap.String("correlation_id", rec.CorrelationID),
		zap.String("interface", rec.Interface),
		zap.String("user_id", rec.UserID),
		zap.String("query_id", rec.QueryID),
		zap.String("query_name", rec.QueryName),
		zap.String("database", rec.Database),
		zap.Any("params", rec.Params),
		zap.Bool("success", rec.Success),
		zap.Bool("from_cache", rec.FromCache),
		zap.Int("row_count", rec.RowCount),
		zap.Duration("duration", rec.Duration),
	}

	if rec.Success {
		s.logger.Info(prefix+" query executed", fields...)
		return
	}
	fields = append(fields,
		zap.String("error_code", rec.ErrorCode),
		zap.String("error", rec.Error),
	)
	s.logger.Warn(prefix+" query failed", fields...)
}

// MultiSink fans records out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) Record(ctx context.Context, rec ExecutionRecord) {
	for _, s := range m {
		if s != nil {
			s.Record(ctx, rec)
		}
	}
}

// Close closes every sink that has a Close method and joins their errors.
func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
