package handlers

import (
	"net/http"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlbot/pkg/mcp"
	"github.com/ekaya-inc/ekaya-sqlbot/pkg/middleware"
)

// MCPHandler handles MCP protocol requests over HTTP.
type MCPHandler struct {
	httpServer *server.StreamableHTTPServer
	logger     *zap.Logger
}

// NewMCPHandler creates a new MCP handler from an MCP server.
func NewMCPHandler(mcpServer *mcp.Server, logger *zap.Logger) *MCPHandler {
	return &MCPHandler{
		httpServer: mcpServer.NewStreamableHTTPServer(),
		logger:     logger,
	}
}

// RegisterRoutes registers /mcp. Layers, outermost first: method check,
// authentication, JSON-RPC logging. authenticate may be nil.
func (h *MCPHandler) RegisterRoutes(mux *http.ServeMux, authenticate func(http.Handler) http.Handler) {
	var handler http.Handler = middleware.MCPRequestLogger(h.logger)(h.httpServer)
	if authenticate != nil {
		handler = authenticate(handler)
	}
	mux.Handle("/mcp", h.requirePOST(handler))
}

// requirePOST returns 405 Method Not Allowed for non-POST requests.
// The stateless streamable transport only accepts JSON-RPC over POST.
func (h *MCPHandler) requirePOST(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", "POST")
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RegisterMetricsRoute exposes a Prometheus handler at /metrics.
func RegisterMetricsRoute(mux *http.ServeMux, metrics http.Handler) {
	mux.Handle("/metrics", allowMethods(metrics, http.MethodGet))
}
