package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-sqlbot/pkg/models"
)

type fakeStatus struct {
	status models.HealthStatus
}

func (f *fakeStatus) Status(context.Context) models.HealthStatus {
	return f.status
}

func newHealthMux(t *testing.T, status models.HealthStatus) *http.ServeMux {
	mux := http.NewServeMux()
	NewHealthHandler("1.2.3", &fakeStatus{status: status}, zaptest.NewLogger(t)).RegisterRoutes(mux)
	return mux
}

func TestHealth(t *testing.T) {
	mux := newHealthMux(t, models.HealthStatus{
		Status:        models.HealthDegraded,
		Version:       "1.2.3",
		QueriesLoaded: 0,
		Problems:      []string{"no query definitions loaded"},
	})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got models.HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, models.HealthDegraded, got.Status)
	assert.Equal(t, []string{"no query definitions loaded"}, got.Problems)
}

func TestHealth_RejectsPost(t *testing.T) {
	mux := newHealthMux(t, models.HealthStatus{Status: models.HealthOK})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPing(t *testing.T) {
	mux := newHealthMux(t, models.HealthStatus{Status: models.HealthOK})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got PingResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "ok", got.Status)
	assert.Equal(t, "1.2.3", got.Version)
	assert.Equal(t, "ekaya-sqlbot", got.Service)
	assert.Equal(t, runtime.Version(), got.GoVersion)
	assert.NotEmpty(t, got.Hostname)
}
