package models

// Health states reported by HealthStatus.Status.
const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
)

// HealthStatus is the process snapshot served by the health tool and the
// /health endpoint.
type HealthStatus struct {
	Status          string   `json:"status"`
	Version         string   `json:"version"`
	QueriesLoaded   int      `json:"queries_loaded"`
	CacheEntries    int      `json:"cache_entries"`
	OpenConnections int      `json:"open_connections"`
	Databases       []string `json:"databases"`
	AuditStore      string   `json:"audit_store,omitempty"`
	Problems        []string `json:"problems,omitempty"`
}
