// Package metrics exposes engine and front end counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sqlbot"

// Metrics owns a private registry so tests and multiple instances do not
// collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	executions        *prometheus.CounterVec
	sqlDuration       *prometheus.HistogramVec
	cacheEntries      prometheus.Gauge
	definitionsLoaded prometheus.Gauge
	toolCalls         *prometheus.CounterVec
	toolDuration      *prometheus.HistogramVec
	chatMessages      *prometheus.CounterVec
}

// New creates and registers every collector, plus the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "query_executions_total",
				Help:      "Query executions by query name and outcome",
			},
			[]string{"query", "outcome"},
		),
		sqlDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_sql_duration_seconds",
				Help:      "Time spent running SQL, excluding cache hits",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"query"},
		),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "result_cache_entries",
			Help:      "Entries currently held by the result cache",
		}),
		definitionsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "query_definitions_loaded",
			Help:      "Active query definitions",
		}),
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mcp_tool_calls_total",
				Help:      "MCP tool calls by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),
		toolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "mcp_tool_call_duration_seconds",
				Help:      "MCP tool call duration",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
		chatMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chat_messages_total",
				Help:      "Chat messages by handling result",
			},
			[]string{"result"},
		),
	}

	m.registry.MustRegister(
		m.executions,
		m.sqlDuration,
		m.cacheEntries,
		m.definitionsLoaded,
		m.toolCalls,
		m.toolDuration,
		m.chatMessages,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveExecution counts one execution. sqlDuration is recorded only when
// SQL actually ran.
func (m *Metrics) ObserveExecution(queryName, outcome string, sqlDuration time.Duration) {
	m.executions.WithLabelValues(queryName, outcome).Inc()
	if sqlDuration > 0 {
		m.sqlDuration.WithLabelValues(queryName).Observe(sqlDuration.Seconds())
	}
}

func (m *Metrics) SetCacheEntries(n int) {
	m.cacheEntries.Set(float64(n))
}

func (m *Metrics) SetDefinitionsLoaded(n int) {
	m.definitionsLoaded.Set(float64(n))
}

// ObserveToolCall counts one MCP tool call.
func (m *Metrics) ObserveToolCall(tool, outcome string, d time.Duration) {
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// ObserveChatMessage counts one handled chat message.
func (m *Metrics) ObserveChatMessage(result string) {
	m.chatMessages.WithLabelValues(result).Inc()
}
