// Package v1 provides the REST API handlers for token introspection and
// entity administration.
package v1

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openmedgrid/authz-server/internal/cache"
	"github.com/openmedgrid/authz-server/internal/introspect"
	"github.com/openmedgrid/authz-server/internal/service"
	"github.com/openmedgrid/authz-server/internal/token"
	"github.com/openmedgrid/authz-server/pkg/logger"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// Dependencies carries everything the handlers need.
type Dependencies struct {
	Repos         service.Repositories
	Introspection *introspect.Service
	Tokens        *token.Util
	Eviction      *cache.EvictionCoordinator
	Sessions      *cache.SessionTracker

	// Ready reports whether the backing store is reachable. Used by the
	// readiness probe; nil means always ready.
	Ready func(ctx context.Context) error
}

// HealthRouter creates a router for health check endpoints
func HealthRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(deps))

	return r
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

func readyHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Ready != nil {
			if err := deps.Ready(r.Context()); err != nil {
				logger.Errorf("Readiness check failed: %v", err)
				writeError(w, "service not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}
