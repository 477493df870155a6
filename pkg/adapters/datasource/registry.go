package datasource

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ekaya-inc/ekaya-sqlbot/pkg/apperrors"
)

// DialectInfo describes a registered dialect.
type DialectInfo struct {
	Type        string `json:"type"`         // "mssql", "postgres", "sqlite", "trino"
	DisplayName string `json:"display_name"` // "Microsoft SQL Server"
	Description string `json:"description"`
}

// DialectRegistration pairs descriptive info with the dialect implementation.
type DialectRegistration struct {
	Info    DialectInfo
	Dialect Dialect
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]DialectRegistration)
)

// Register is called by each dialect's init() function.
// Thread-safe for concurrent init() calls.
func Register(reg DialectRegistration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Type] = reg
}

// RegisteredDialects returns info for all registered dialects, sorted by type.
func RegisteredDialects() []DialectInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]DialectInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Type < result[j].Type })
	return result
}

// GetDialect returns the dialect registered under name.
func GetDialect(name string) (Dialect, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if reg, ok := registry[name]; ok {
		return reg.Dialect, nil
	}
	return nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownDialect, name)
}

// DetectDialect picks the dialect whose Matches accepts connString, checking
// dialects in type order. Falls back to fallback when none match.
func DetectDialect(connString, fallback string) (Dialect, error) {
	registryMu.RLock()
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		if d := registry[t].Dialect; d.Matches(connString) {
			registryMu.RUnlock()
			return d, nil
		}
	}
	registryMu.RUnlock()

	return GetDialect(fallback)
}

// IsRegistered checks if a dialect type is available.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[name]
	return ok
}
