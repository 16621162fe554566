package v1

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/openmedgrid/authz-server/internal/model"
	"github.com/openmedgrid/authz-server/internal/token"
	"github.com/openmedgrid/authz-server/pkg/logger"
)

type contextKey string

const applicationKey contextKey = "application"

// ApplicationFromContext returns the authenticated caller application, if any.
func ApplicationFromContext(ctx context.Context) (*model.Application, bool) {
	app, ok := ctx.Value(applicationKey).(*model.Application)
	return app, ok
}

// RequireApplication authenticates the caller as a registered application. The
// bearer token must carry an application subject; the referenced application
// is resolved and injected into the request context.
func RequireApplication(deps Dependencies) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := token.FromAuthorizationHeader(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, "missing bearer token", http.StatusUnauthorized)
				return
			}

			claims, err := deps.Tokens.Parse(raw)
			if err != nil {
				writeError(w, "invalid token", http.StatusUnauthorized)
				return
			}

			subject, _ := claims["sub"].(string)
			if !token.IsApplicationSubject(subject) {
				writeError(w, "caller is not an application", http.StatusUnauthorized)
				return
			}

			appID, err := uuid.Parse(token.StripApplicationPrefix(subject))
			if err != nil {
				writeError(w, "caller is not an application", http.StatusUnauthorized)
				return
			}

			app, err := deps.Repos.FindApplicationByID(r.Context(), appID)
			if err != nil {
				logger.Errorf("Failed to resolve caller application %s: %v", appID, err)
				writeError(w, "unknown application", http.StatusUnauthorized)
				return
			}
			if !app.Enabled {
				writeError(w, "application is disabled", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), applicationKey, app)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
