// Package sqlite adapts query definitions to SQLite files through the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const (
	DriverName = "sqlite"
	prefix     = "sqlite:"
)

// Dialect implements datasource.Dialect for SQLite. A connection string
// ending in "/" names a directory holding one <database>.db file per
// database; anything else is used as the file itself.
type Dialect struct{}

func (Dialect) Name() string       { return "sqlite" }
func (Dialect) DriverName() string { return DriverName }

func (Dialect) Matches(connString string) bool {
	lower := strings.ToLower(strings.TrimSpace(connString))
	switch {
	case strings.HasPrefix(lower, prefix), strings.HasPrefix(lower, "file:"):
		return true
	case lower == ":memory:":
		return true
	}
	path := lower
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return strings.HasSuffix(path, ".db") || strings.HasSuffix(path, ".sqlite")
}

func (Dialect) WithDatabase(connString, database string) (string, error) {
	dsn := strings.TrimSpace(connString)
	if strings.HasPrefix(strings.ToLower(dsn), prefix) {
		dsn = dsn[len(prefix):]
	}
	if strings.HasSuffix(dsn, "/") {
		return dsn + database + ".db", nil
	}
	return dsn, nil
}

// SQLite accepts '?' natively.
func (Dialect) RewritePlaceholders(sqlQuery string) string { return sqlQuery }

func (Dialect) BindArgs(args []any) []any { return args }
