package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmedgrid/authz-server/internal/api"
	v1 "github.com/openmedgrid/authz-server/internal/api/v1"
	"github.com/openmedgrid/authz-server/internal/service/inmemory"
)

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	server := api.NewServer(v1.Dependencies{Repos: inmemory.NewStore()})

	req, err := http.NewRequest(http.MethodGet, "/health", nil)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var response map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, "healthy", response["status"])
}

func TestReadyEndpointWithoutProbe(t *testing.T) {
	t.Parallel()

	server := api.NewServer(v1.Dependencies{Repos: inmemory.NewStore()})

	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestReadyEndpointProbeFailing(t *testing.T) {
	t.Parallel()

	deps := v1.Dependencies{
		Repos: inmemory.NewStore(),
		Ready: func(context.Context) error { return errors.New("database unreachable") },
	}
	server := api.NewServer(deps)

	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestMiddlewaresApply(t *testing.T) {
	t.Parallel()

	var seen bool
	marker := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = true
			next.ServeHTTP(w, r)
		})
	}

	server := api.NewServer(v1.Dependencies{Repos: inmemory.NewStore()},
		api.WithMiddlewares(marker, api.LoggingMiddleware))

	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, seen)
}
