// Package engine executes query definitions: it validates parameters,
// consults the result cache, runs the SQL through a pooled connection and
// returns a uniform result envelope. It never returns a Go error to its
// callers; every failure becomes a QueryResult with Success=false.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlbot/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-sqlbot/pkg/audit"
	"github.com/ekaya-inc/ekaya-sqlbot/pkg/logging"
	"github.com/ekaya-inc/ekaya-sqlbot/pkg/models"
	sqlutil "github.com/ekaya-inc/ekaya-sqlbot/pkg/sql"
)

// Execution outcomes reported to Metrics.
const (
	OutcomeSuccess         = "success"
	OutcomeCacheHit        = "cache_hit"
	OutcomeValidationError = "validation_error"
	OutcomeExecutionError  = "execution_error"
)

const executionFailedPrefix = "Query execution failed: "

// Metrics receives execution observations. sqlDuration is zero unless SQL ran.
type Metrics interface {
	ObserveExecution(queryName, outcome string, sqlDuration time.Duration)
	SetCacheEntries(n int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveExecution(string, string, time.Duration) {}
func (nopMetrics) SetCacheEntries(int)                            {}

// Executor runs query definitions. Safe for concurrent use.
type Executor struct {
	connections  datasource.ConnectionProvider
	cache        *ResultCache
	audit        audit.Sink
	security     *audit.SecurityAuditor
	metrics      Metrics
	queryTimeout time.Duration
	logger       *zap.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithCache replaces the default result cache.
func WithCache(cache *ResultCache) Option {
	return func(e *Executor) { e.cache = cache }
}

// WithAuditSink replaces the default log-only audit sink.
func WithAuditSink(sink audit.Sink) Option {
	return func(e *Executor) { e.audit = sink }
}

func WithSecurityAuditor(auditor *audit.SecurityAuditor) Option {
	return func(e *Executor) { e.security = auditor }
}

func WithMetrics(m Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithQueryTimeout bounds each SQL call. Zero disables the deadline.
func WithQueryTimeout(d time.Duration) Option {
	return func(e *Executor) { e.queryTimeout = d }
}

// NewExecutor creates an executor that acquires connections from connections.
func NewExecutor(connections datasource.ConnectionProvider, logger *zap.Logger, opts ...Option) *Executor {
	e := &Executor{
		connections: connections,
		metrics:     nopMetrics{},
		logger:      logger.Named("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache == nil {
		e.cache = NewResultCache(DefaultCacheMaxEntries)
	}
	if e.audit == nil {
		e.audit = audit.NewLogSink(logger)
	}
	if e.security == nil {
		e.security = audit.NewSecurityAuditor(logger)
	}
	return e
}

// execution is the outcome of the guarded part of Execute.
type execution struct {
	rows    []models.Row
	columns []string
	elapsed time.Duration
}

// Execute runs def with params on behalf of ec.
//
// A cache hit returns immediately without touching the database or the
// audit trail. Otherwise exactly one audit record is written, whether the
// attempt fails validation, fails downstream, or succeeds.
func (e *Executor) Execute(ctx context.Context, def *models.QueryDefinition, params map[string]string, ec models.ExecutionContext) *models.QueryResult {
	if ec.CorrelationID == "" {
		ec = models.NewExecutionContext(ec.Interface, ec.UserID)
	}

	e.logger.Info(ec.String()+" executing "+def.Name,
		zap.String("correlation_id", ec.CorrelationID),
		zap.String("interface", ec.Interface),
		zap.String("user_id", ec.UserID),
		zap.String("query_name", def.Name),
		zap.Int("param_count", len(params)),
	)

	key := CacheKey(def.Name, params)
	if def.CacheTTLSeconds > 0 {
		if hit, ok := e.cache.Get(key); ok {
			e.logger.Debug(ec.String()+" cache hit",
				zap.String("query_name", def.Name),
				zap.Time("cached_at", hit.CachedAt),
			)
			e.metrics.ObserveExecution(def.Name, OutcomeCacheHit, 0)
			return models.NewCachedResult(hit.Rows, hit.Columns, hit.CachedAt, ec.CorrelationID)
		}
	}

	rec := audit.NewExecutionRecord(ec, def, params)

	if missing := missingParameters(def, params); len(missing) > 0 {
		msg := fmt.Sprintf("Missing required parameters: %s. %s", strings.Join(missing, ", "), def.Description)
		e.security.LogParameterValidation(ec, def.Name, msg)

		rec.ErrorCode = models.ErrorCodeValidation
		rec.Error = msg
		e.audit.Record(ctx, rec)
		e.metrics.ObserveExecution(def.Name, OutcomeValidationError, 0)
		return models.NewFailedResult(msg, models.ErrorCodeValidation, ec.CorrelationID)
	}

	out, err := e.run(ctx, def, params, ec, key)
	if err != nil {
		msg := executionFailedPrefix + logging.SanitizeError(err)
		e.logger.Error(ec.String()+" query failed",
			zap.String("correlation_id", ec.CorrelationID),
			zap.String("query_name", def.Name),
			zap.String("database", def.Database),
			zap.String("error", logging.SanitizeError(err)),
		)

		rec.ErrorCode = models.ErrorCodeExecution
		rec.Error = msg
		if out != nil {
			rec.Duration = out.elapsed
		}
		e.audit.Record(ctx, rec)
		e.metrics.ObserveExecution(def.Name, OutcomeExecutionError, rec.Duration)
		return models.NewFailedResult(msg, models.ErrorCodeExecution, ec.CorrelationID)
	}

	rec.Success = true
	rec.RowCount = len(out.rows)
	rec.Duration = out.elapsed
	e.audit.Record(ctx, rec)
	e.metrics.ObserveExecution(def.Name, OutcomeSuccess, out.elapsed)

	e.logger.Info(ec.String()+" query succeeded",
		zap.String("correlation_id", ec.CorrelationID),
		zap.String("query_name", def.Name),
		zap.Int("row_count", len(out.rows)),
		zap.Duration("elapsed", out.elapsed),
	)

	return models.NewExecutedResult(out.rows, out.columns, out.elapsed, ec.CorrelationID)
}

// run covers placeholder check, connection, bind, execute, normalization
// and cache store. Panics are converted into errors.
func (e *Executor) run(ctx context.Context, def *models.QueryDefinition, params map[string]string, ec models.ExecutionContext, key string) (out *execution, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error(ec.String()+" panic during query execution",
				zap.String("correlation_id", ec.CorrelationID),
				zap.String("query_name", def.Name),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			out = nil
			err = fmt.Errorf("internal error: %v", r)
		}
	}()

	if err := sqlutil.CheckPlaceholderCount(def.Name, def.SQL, len(def.Parameters)); err != nil {
		return nil, err
	}

	conn, err := e.connections.GetConnection(ctx, def.Database, def.CredentialsEnvKey)
	if err != nil {
		return nil, err
	}

	e.security.ScreenParameters(ec, def.Name, params)
	args := bindArgs(def, params)

	queryCtx := ctx
	if e.queryTimeout > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, e.queryTimeout)
		defer cancel()
	}

	start := time.Now()
	result, err := conn.Query(queryCtx, def.SQL, args)
	elapsed := time.Since(start)
	if err != nil {
		return &execution{elapsed: elapsed}, err
	}

	rows := normalizeRows(result.Rows)

	if def.CacheTTLSeconds > 0 {
		ttl := time.Duration(def.CacheTTLSeconds) * time.Second
		if evicted := e.cache.Set(key, rows, result.Columns, ttl); evicted != "" {
			e.logger.Debug("Evicted oldest cache entry", zap.String("key", evicted))
		}
		e.metrics.SetCacheEntries(e.cache.Len())
	}

	return &execution{rows: rows, columns: result.Columns, elapsed: elapsed}, nil
}

// missingParameters lists required parameters absent from params, in
// declaration order. Presence of the key is enough; empty values count.
func missingParameters(def *models.QueryDefinition, params map[string]string) []string {
	var missing []string
	for _, p := range def.Parameters {
		if !p.Required {
			continue
		}
		if _, ok := params[p.Name]; !ok {
			missing = append(missing, p.Name)
		}
	}
	return missing
}

// bindArgs orders values by parameter declaration. Absent optional
// parameters bind as NULL. Values are passed as strings without coercion.
func bindArgs(def *models.QueryDefinition, params map[string]string) []any {
	args := make([]any, len(def.Parameters))
	for i, p := range def.Parameters {
		if v, ok := params[p.Name]; ok {
			args[i] = v
		}
	}
	return args
}

// normalizeRows converts date/time values to ISO-8601 strings.
func normalizeRows(rows []models.Row) []models.Row {
	for _, row := range rows {
		for col, val := range row {
			switch v := val.(type) {
			case time.Time:
				row[col] = v.Format(time.RFC3339Nano)
			case *time.Time:
				if v == nil {
					row[col] = nil
				} else {
					row[col] = v.Format(time.RFC3339Nano)
				}
			}
		}
	}
	return rows
}

// CacheEntries returns the number of cached results.
func (e *Executor) CacheEntries() int {
	return e.cache.Len()
}

// ClearCache removes cached results for one query name and returns the count.
func (e *Executor) ClearCache(queryName string) int {
	n := e.cache.Clear(queryName)
	e.metrics.SetCacheEntries(e.cache.Len())
	return n
}

// ClearAllCache empties the cache and returns the count removed.
func (e *Executor) ClearAllCache() int {
	n := e.cache.ClearAll()
	e.metrics.SetCacheEntries(0)
	return n
}
