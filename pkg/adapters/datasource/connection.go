package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-sqlbot/pkg/models"
)

// Connection is one open database handle bound to a dialect.
type Connection struct {
	database string
	dialect  Dialect
	db       *sql.DB
}

// NewConnection wraps an already opened handle. Used by tools and tests that
// manage their own *sql.DB.
func NewConnection(database string, dialect Dialect, db *sql.DB) *Connection {
	return &Connection{database: database, dialect: dialect, db: db}
}

// Database returns the database name this connection serves.
func (c *Connection) Database() string { return c.database }

// Dialect returns the connection's dialect.
func (c *Connection) Dialect() Dialect { return c.dialect }

// DB exposes the underlying handle.
func (c *Connection) DB() *sql.DB { return c.db }

// probe runs the trivial liveness query.
func (c *Connection) probe(ctx context.Context) error {
	var one int
	return c.db.QueryRowContext(ctx, livenessProbeSQL).Scan(&one)
}

// Query rewrites placeholders for the dialect, binds args positionally and
// materializes all rows.
func (c *Connection) Query(ctx context.Context, sqlQuery string, args []any) (*QueryExecutionResult, error) {
	query := c.dialect.RewritePlaceholders(sqlQuery)

	rows, err := c.db.QueryContext(ctx, query, c.dialect.BindArgs(args)...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	return ScanRows(rows)
}

// ScanRows materializes a result set into column-keyed rows. Text returned
// as []byte is converted to string; binary column types keep their bytes.
func ScanRows(rows *sql.Rows) (*QueryExecutionResult, error) {
	columnNames, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to get column types: %w", err)
	}

	resultRows := make([]models.Row, 0)
	for rows.Next() {
		values := make([]any, len(columnNames))
		valuePtrs := make([]any, len(columnNames))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(models.Row, len(columnNames))
		for i, col := range columnNames {
			val := values[i]
			if b, ok := val.([]byte); ok && !isBinaryType(columnTypes[i].DatabaseTypeName()) {
				val = string(b)
			}
			row[col] = val
		}
		resultRows = append(resultRows, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return &QueryExecutionResult{
		Columns:  columnNames,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}, nil
}

func isBinaryType(typeName string) bool {
	upper := strings.ToUpper(typeName)
	switch {
	case strings.Contains(upper, "BINARY"),
		strings.Contains(upper, "BLOB"),
		upper == "BYTEA",
		upper == "IMAGE":
		return true
	}
	return false
}
