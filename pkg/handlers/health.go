package handlers

import (
	"net/http"
	"os"
	"runtime"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlbot/pkg/services"
)

// PingResponse contains service status and version information.
type PingResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Service   string `json:"service"`
	GoVersion string `json:"go_version"`
	Hostname  string `json:"hostname"`
}

// HealthHandler handles health check and ping endpoints.
type HealthHandler struct {
	version string
	status  services.StatusService
	logger  *zap.Logger
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(version string, status services.StatusService, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{version: version, status: status, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/health", allowMethods(http.HandlerFunc(h.Health), http.MethodGet, http.MethodHead))
	mux.Handle("/ping", allowMethods(http.HandlerFunc(h.Ping), http.MethodGet))
}

// Health handles GET /health requests. It always answers 200 so container
// liveness checks pass; a degraded process reports it in the body.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := h.status.Status(r.Context())
	if err := WriteJSON(w, http.StatusOK, status); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}

// Ping handles GET /ping requests.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "failed to get hostname")
		return
	}

	response := PingResponse{
		Status:    "ok",
		Version:   h.version,
		Service:   "ekaya-sqlbot",
		GoVersion: runtime.Version(),
		Hostname:  hostname,
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}
