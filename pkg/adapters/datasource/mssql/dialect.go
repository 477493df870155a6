// Package mssql adapts query definitions to Microsoft SQL Server through
// github.com/microsoft/go-mssqldb.
package mssql

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/microsoft/go-mssqldb" // registers the "sqlserver" driver

	sqlutil "github.com/ekaya-inc/ekaya-sqlbot/pkg/sql"
)

// DriverName is the go-mssqldb driver that accepts @pN named parameters.
const DriverName = "sqlserver"

// Dialect implements datasource.Dialect for SQL Server.
type Dialect struct{}

func (Dialect) Name() string       { return "mssql" }
func (Dialect) DriverName() string { return DriverName }

// Matches accepts sqlserver:// URLs and ADO-style strings with a Server or
// Data Source key.
func (Dialect) Matches(connString string) bool {
	lower := strings.ToLower(strings.TrimSpace(connString))
	if strings.HasPrefix(lower, "sqlserver://") {
		return true
	}
	return strings.Contains(lower, "server=") || strings.Contains(lower, "data source=")
}

// WithDatabase selects the database unless the string already names one.
func (Dialect) WithDatabase(connString, database string) (string, error) {
	trimmed := strings.TrimSpace(connString)

	if strings.HasPrefix(strings.ToLower(trimmed), "sqlserver://") {
		u, err := url.Parse(trimmed)
		if err != nil {
			return "", fmt.Errorf("invalid sqlserver URL: %w", err)
		}
		q := u.Query()
		if q.Get("database") == "" {
			q.Set("database", database)
			u.RawQuery = q.Encode()
		}
		return u.String(), nil
	}

	lower := strings.ToLower(trimmed)
	if strings.Contains(lower, "database=") || strings.Contains(lower, "initial catalog=") {
		return trimmed, nil
	}
	return strings.TrimRight(trimmed, "; ") + ";database=" + database, nil
}

// RewritePlaceholders converts '?' markers to @p1, @p2, ...
func (Dialect) RewritePlaceholders(sqlQuery string) string {
	return sqlutil.RewritePlaceholders(sqlQuery, func(n int) string {
		return fmt.Sprintf("@p%d", n)
	})
}

// BindArgs wraps each value as the matching named parameter.
func (Dialect) BindArgs(args []any) []any {
	named := make([]any, len(args))
	for i, arg := range args {
		named[i] = sql.Named(fmt.Sprintf("p%d", i+1), arg)
	}
	return named
}
