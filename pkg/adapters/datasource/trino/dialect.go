// Package trino adapts query definitions to Trino clusters through
// github.com/trinodb/trino-go-client. The database name selects the catalog.
package trino

import (
	"fmt"
	"net/url"
	"strings"

	_ "github.com/trinodb/trino-go-client/trino" // registers the "trino" driver
)

const DriverName = "trino"

type Dialect struct{}

func (Dialect) Name() string       { return "trino" }
func (Dialect) DriverName() string { return DriverName }

// Matches accepts the client's http(s) DSN form.
func (Dialect) Matches(connString string) bool {
	lower := strings.ToLower(strings.TrimSpace(connString))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func (Dialect) WithDatabase(connString, database string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(connString))
	if err != nil {
		return "", fmt.Errorf("invalid trino DSN: %w", err)
	}
	q := u.Query()
	if q.Get("catalog") == "" {
		q.Set("catalog", database)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// The client binds '?' positionally.
func (Dialect) RewritePlaceholders(sqlQuery string) string { return sqlQuery }

func (Dialect) BindArgs(args []any) []any { return args }
