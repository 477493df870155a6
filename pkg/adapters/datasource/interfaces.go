package datasource

import (
	"context"

	"github.com/ekaya-inc/ekaya-sqlbot/pkg/models"
)

// Dialect adapts operator-authored SQL and connection strings to one
// database/sql driver.
type Dialect interface {
	// Name is the registry key ("mssql", "postgres", ...).
	Name() string

	// DriverName is the database/sql driver to open.
	DriverName() string

	// Matches reports whether a connection string belongs to this dialect.
	Matches(connString string) bool

	// WithDatabase returns connString with the target database selected,
	// leaving an explicit selection already present untouched.
	WithDatabase(connString, database string) (string, error)

	// RewritePlaceholders converts positional '?' markers to the driver's form.
	RewritePlaceholders(sqlQuery string) string

	// BindArgs adapts positional values to what the driver expects.
	BindArgs(args []any) []any
}

// QueryExecutor runs a parameterized query on an established connection.
type QueryExecutor interface {
	// Query runs sqlQuery with '?' placeholders bound positionally to args.
	Query(ctx context.Context, sqlQuery string, args []any) (*QueryExecutionResult, error)
}

// ConnectionProvider hands out a live executor for a database.
type ConnectionProvider interface {
	GetConnection(ctx context.Context, database, credentialsEnvKey string) (QueryExecutor, error)
}

// QueryExecutionResult holds materialized rows in column order.
type QueryExecutionResult struct {
	Columns  []string     `json:"columns"`
	Rows     []models.Row `json:"rows"`
	RowCount int          `json:"row_count"`
}
