package v1

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openmedgrid/authz-server/internal/introspect"
	"github.com/openmedgrid/authz-server/pkg/logger"
)

// TokenRouter creates a router for the introspection and session endpoints.
// All routes require an authenticated caller application.
func TokenRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(RequireApplication(deps))
	r.Post("/inspect", inspectHandler(deps))
	r.Post("/session", startSessionHandler(deps))

	return r
}

// SessionRequest marks a fresh login for a user subject. The login frontend
// posts it after authenticating the user; without it the session clock never
// starts and token refresh is refused.
type SessionRequest struct {
	Subject string `json:"subject"`
}

func startSessionHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SessionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Subject == "" {
			writeError(w, "subject is required", http.StatusBadRequest)
			return
		}
		user, err := deps.Repos.FindUserBySubject(r.Context(), req.Subject)
		if err != nil {
			writeStoreError(w, err)
			return
		}

		// A fresh login clears everything cached for the user before the
		// session clock starts.
		deps.Eviction.Evict(user.Subject)
		deps.Sessions.StartSession(user.Subject)
		logger.Infof("Session started for user %s", user.Subject)
		w.WriteHeader(http.StatusNoContent)
	}
}

func inspectHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		app, ok := ApplicationFromContext(r.Context())
		if !ok {
			writeError(w, "caller is not an application", http.StatusUnauthorized)
			return
		}

		var req introspect.Request
		if !decodeBody(w, r, &req) {
			return
		}

		resp, err := deps.Introspection.Introspect(r.Context(), app, req)
		if err != nil {
			if errors.Is(err, introspect.ErrNoApplication) {
				writeError(w, "caller is not an application", http.StatusUnauthorized)
				return
			}
			logger.Errorf("Introspection failed: %v", err)
			writeError(w, "introspection failed", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, resp)
	}
}
