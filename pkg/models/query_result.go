package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Error codes carried by failed query results.
const (
	ErrorCodeValidation = "VALIDATION_ERROR"
	ErrorCodeExecution  = "EXECUTION_ERROR"
)

// Interface tags identifying the calling front end.
const (
	InterfaceChat    = "chat"
	InterfaceMCP     = "mcp"
	InterfaceCLI     = "cli"
	InterfaceUnknown = "unknown"
)

// ExecutionContext identifies one engine call for logs, audit records and
// the result envelope.
type ExecutionContext struct {
	CorrelationID string `json:"correlation_id"`
	Interface     string `json:"interface"`
	UserID        string `json:"user_id,omitempty"`
}

// NewExecutionContext returns a context with a fresh correlation ID.
func NewExecutionContext(iface, userID string) ExecutionContext {
	if iface == "" {
		iface = InterfaceUnknown
	}
	return ExecutionContext{
		CorrelationID: uuid.NewString(),
		Interface:     iface,
		UserID:        userID,
	}
}

// String formats the context as "[cid] iface:user" for log lines.
func (c ExecutionContext) String() string {
	user := c.UserID
	if user == "" {
		user = "unknown"
	}
	return fmt.Sprintf("[%s] %s:%s", c.CorrelationID, c.Interface, user)
}

// Row is one result row keyed by column name.
type Row map[string]any

// OrderedRow serializes a row with its keys in result column order. Keys
// missing from Columns follow in sorted order.
type OrderedRow struct {
	Row     Row
	Columns []string
}

// OrderRows pairs every row with the column order. Nil rows stay nil.
func OrderRows(rows []Row, columns []string) []OrderedRow {
	if rows == nil {
		return nil
	}
	out := make([]OrderedRow, len(rows))
	for i, row := range rows {
		out[i] = OrderedRow{Row: row, Columns: columns}
	}
	return out
}

func (o OrderedRow) MarshalJSON() ([]byte, error) {
	keys := make([]string, 0, len(o.Row))
	seen := make(map[string]bool, len(o.Row))
	for _, col := range o.Columns {
		if _, ok := o.Row[col]; ok && !seen[col] {
			seen[col] = true
			keys = append(keys, col)
		}
	}
	if len(keys) < len(o.Row) {
		var rest []string
		for k := range o.Row {
			if !seen[k] {
				rest = append(rest, k)
			}
		}
		sort.Strings(rest)
		keys = append(keys, rest...)
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(o.Row[k])
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", k, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ResultMetadata describes how a result was produced.
type ResultMetadata struct {
	ExecutedAt           time.Time  `json:"executed_at"`
	FromCache            bool       `json:"from_cache"`
	CachedAt             *time.Time `json:"cached_at,omitempty"`
	RowCount             *int       `json:"row_count,omitempty"`
	ExecutionTimeSeconds *float64   `json:"execution_time_seconds,omitempty"`
}

// QueryResult is the uniform envelope returned to every front end.
// Data is nil when the query returned no rows or failed.
type QueryResult struct {
	Success       bool           `json:"success"`
	Data          []Row          `json:"data"`
	Error         string         `json:"error"`
	ErrorCode     string         `json:"error_code"`
	Metadata      ResultMetadata `json:"metadata"`
	CorrelationID string         `json:"correlation_id"`
	Columns       []string       `json:"-"` // column order for display, when known
}

// MarshalJSON writes rows in column order and reports an empty error and
// error code as null.
func (r QueryResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Success       bool           `json:"success"`
		Data          []OrderedRow   `json:"data"`
		Error         *string        `json:"error"`
		ErrorCode     *string        `json:"error_code"`
		Metadata      ResultMetadata `json:"metadata"`
		CorrelationID string         `json:"correlation_id"`
	}{
		Success:       r.Success,
		Data:          OrderRows(r.Data, r.Columns),
		Error:         nullable(r.Error),
		ErrorCode:     nullable(r.ErrorCode),
		Metadata:      r.Metadata,
		CorrelationID: r.CorrelationID,
	})
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// NewExecutedResult builds a success result for rows fetched from the database.
func NewExecutedResult(rows []Row, columns []string, elapsed time.Duration, correlationID string) *QueryResult {
	count := len(rows)
	seconds := elapsed.Seconds()
	if count == 0 {
		rows = nil
	}
	return &QueryResult{
		Success: true,
		Data:    rows,
		Columns: columns,
		Metadata: ResultMetadata{
			ExecutedAt:           time.Now().UTC(),
			RowCount:             &count,
			ExecutionTimeSeconds: &seconds,
		},
		CorrelationID: correlationID,
	}
}

// NewCachedResult builds a success result served from the result cache.
func NewCachedResult(rows []Row, columns []string, cachedAt time.Time, correlationID string) *QueryResult {
	if len(rows) == 0 {
		rows = nil
	}
	return &QueryResult{
		Success: true,
		Data:    rows,
		Columns: columns,
		Metadata: ResultMetadata{
			ExecutedAt: time.Now().UTC(),
			FromCache:  true,
			CachedAt:   &cachedAt,
		},
		CorrelationID: correlationID,
	}
}

// NewFailedResult builds a failure result with the given error code.
func NewFailedResult(message, code, correlationID string) *QueryResult {
	return &QueryResult{
		Success:   false,
		Error:     message,
		ErrorCode: code,
		Metadata: ResultMetadata{
			ExecutedAt: time.Now().UTC(),
		},
		CorrelationID: correlationID,
	}
}

// RowCount returns the number of rows carried by the result.
func (r *QueryResult) RowCount() int {
	return len(r.Data)
}
