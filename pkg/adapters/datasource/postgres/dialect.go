// Package postgres adapts query definitions to PostgreSQL through the pgx
// database/sql driver.
package postgres

import (
	"fmt"
	"net/url"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver

	sqlutil "github.com/ekaya-inc/ekaya-sqlbot/pkg/sql"
)

const DriverName = "pgx"

// Dialect implements datasource.Dialect for PostgreSQL.
type Dialect struct{}

func (Dialect) Name() string       { return "postgres" }
func (Dialect) DriverName() string { return DriverName }

// Matches accepts postgres URLs and libpq key/value strings.
func (Dialect) Matches(connString string) bool {
	lower := strings.ToLower(strings.TrimSpace(connString))
	return strings.HasPrefix(lower, "postgres://") ||
		strings.HasPrefix(lower, "postgresql://") ||
		strings.HasPrefix(lower, "host=") ||
		strings.Contains(lower, " host=")
}

// WithDatabase sets the URL path or appends dbname= unless one is present.
func (Dialect) WithDatabase(connString, database string) (string, error) {
	trimmed := strings.TrimSpace(connString)
	lower := strings.ToLower(trimmed)

	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		u, err := url.Parse(trimmed)
		if err != nil {
			return "", fmt.Errorf("invalid postgres URL: %w", err)
		}
		if strings.Trim(u.Path, "/") == "" {
			u.Path = "/" + database
		}
		return u.String(), nil
	}

	if strings.Contains(lower, "dbname=") {
		return trimmed, nil
	}
	return trimmed + " dbname=" + database, nil
}

// RewritePlaceholders converts '?' markers to $1, $2, ...
func (Dialect) RewritePlaceholders(sqlQuery string) string {
	return sqlutil.RewritePlaceholders(sqlQuery, func(n int) string {
		return fmt.Sprintf("$%d", n)
	})
}

func (Dialect) BindArgs(args []any) []any { return args }
