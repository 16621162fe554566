package v1

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/openmedgrid/authz-server/internal/model"
	"github.com/openmedgrid/authz-server/internal/service"
	"github.com/openmedgrid/authz-server/pkg/logger"
)

// AdminRouter creates a router for entity administration. Mutations that can
// change a user's entitlements evict the affected cache entries before the
// response is written, so no later decision runs against stale merged rules.
func AdminRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Route("/roles", func(r chi.Router) {
		r.Get("/", listRoles(deps))
		r.Get("/{id}", getRole(deps))
		r.Post("/", saveRole(deps))
		r.Delete("/{id}", deleteRole(deps))
	})

	r.Route("/privileges", func(r chi.Router) {
		r.Get("/", listPrivileges(deps))
		r.Get("/{id}", getPrivilege(deps))
		r.Post("/", savePrivilege(deps))
		r.Delete("/{id}", deletePrivilege(deps))
	})

	r.Route("/accessrules", func(r chi.Router) {
		r.Get("/", listAccessRules(deps))
		r.Get("/{id}", getAccessRule(deps))
		r.Post("/", saveAccessRule(deps))
		r.Delete("/{id}", deleteAccessRule(deps))
	})

	r.Route("/applications", func(r chi.Router) {
		r.Get("/", listApplications(deps))
		r.Get("/{id}", getApplication(deps))
		r.Post("/", saveApplication(deps))
		r.Post("/{id}/token", mintApplicationToken(deps))
		r.Delete("/{id}", deleteApplication(deps))
	})

	r.Route("/connections", func(r chi.Router) {
		r.Get("/", listConnections(deps))
		r.Get("/{id}", getConnection(deps))
		r.Post("/", saveConnection(deps))
	})

	r.Route("/users", func(r chi.Router) {
		r.Get("/", listUsers(deps))
		r.Get("/{id}", getUser(deps))
		r.Post("/", saveUser(deps))
	})

	return r
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "invalid id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		writeError(w, "not found", http.StatusNotFound)
	case errors.Is(err, service.ErrDuplicate):
		writeError(w, "already exists", http.StatusConflict)
	default:
		logger.Errorf("Store operation failed: %v", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func evictSubjects(deps Dependencies, subjects []string) {
	for _, subject := range subjects {
		deps.Eviction.Evict(subject)
	}
}

// roleSubjects is resolved before a role mutation is applied, so the eviction
// set covers users the mutation detaches as well.
func roleSubjects(deps Dependencies, r *http.Request, id uuid.UUID) []string {
	subjects, err := deps.Repos.SubjectsWithRole(r.Context(), id)
	if err != nil {
		logger.Errorf("Failed to resolve subjects with role %s: %v", id, err)
		return nil
	}
	return subjects
}

func privilegeSubjects(deps Dependencies, r *http.Request, id uuid.UUID) []string {
	subjects, err := deps.Repos.SubjectsWithPrivilege(r.Context(), id)
	if err != nil {
		logger.Errorf("Failed to resolve subjects with privilege %s: %v", id, err)
		return nil
	}
	return subjects
}

// accessRuleSubjects collects subjects of every user granted a privilege that
// carries the rule.
func accessRuleSubjects(deps Dependencies, r *http.Request, id uuid.UUID) []string {
	privileges, err := deps.Repos.ListPrivileges(r.Context())
	if err != nil {
		logger.Errorf("Failed to list privileges for rule eviction: %v", err)
		return nil
	}
	seen := make(map[string]struct{})
	var subjects []string
	for _, p := range privileges {
		carries := false
		for _, rule := range p.AccessRules {
			if rule.UUID == id {
				carries = true
				break
			}
		}
		if !carries {
			continue
		}
		for _, subject := range privilegeSubjects(deps, r, p.UUID) {
			if _, dup := seen[subject]; dup {
				continue
			}
			seen[subject] = struct{}{}
			subjects = append(subjects, subject)
		}
	}
	return subjects
}

func listRoles(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roles, err := deps.Repos.ListRoles(r.Context())
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, roles)
	}
}

func getRole(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		role, err := deps.Repos.FindRoleByID(r.Context(), id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, role)
	}
}

func saveRole(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var role model.Role
		if !decodeBody(w, r, &role) {
			return
		}
		if role.UUID == uuid.Nil {
			role.UUID = uuid.New()
		}
		subjects := roleSubjects(deps, r, role.UUID)
		if err := deps.Repos.SaveRole(r.Context(), &role); err != nil {
			writeStoreError(w, err)
			return
		}
		evictSubjects(deps, subjects)
		evictSubjects(deps, roleSubjects(deps, r, role.UUID))
		writeJSON(w, http.StatusOK, &role)
	}
}

func deleteRole(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		subjects := roleSubjects(deps, r, id)
		if err := deps.Repos.DeleteRole(r.Context(), id); err != nil {
			writeStoreError(w, err)
			return
		}
		evictSubjects(deps, subjects)
		w.WriteHeader(http.StatusNoContent)
	}
}

func listPrivileges(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		privileges, err := deps.Repos.ListPrivileges(r.Context())
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, privileges)
	}
}

func getPrivilege(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		privilege, err := deps.Repos.FindPrivilegeByID(r.Context(), id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, privilege)
	}
}

func savePrivilege(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var privilege model.Privilege
		if !decodeBody(w, r, &privilege) {
			return
		}
		if privilege.UUID == uuid.Nil {
			privilege.UUID = uuid.New()
		}
		subjects := privilegeSubjects(deps, r, privilege.UUID)
		if err := deps.Repos.SavePrivilege(r.Context(), &privilege); err != nil {
			writeStoreError(w, err)
			return
		}
		evictSubjects(deps, subjects)
		writeJSON(w, http.StatusOK, &privilege)
	}
}

func deletePrivilege(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		subjects := privilegeSubjects(deps, r, id)
		if err := deps.Repos.DeletePrivilege(r.Context(), id); err != nil {
			writeStoreError(w, err)
			return
		}
		evictSubjects(deps, subjects)
		w.WriteHeader(http.StatusNoContent)
	}
}

func listAccessRules(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rules, err := deps.Repos.ListAccessRules(r.Context())
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rules)
	}
}

func getAccessRule(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		rule, err := deps.Repos.FindAccessRuleByID(r.Context(), id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rule)
	}
}

func saveAccessRule(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var rule model.AccessRule
		if !decodeBody(w, r, &rule) {
			return
		}
		if rule.UUID == uuid.Nil {
			rule.UUID = uuid.New()
		}
		if err := deps.Repos.SaveAccessRule(r.Context(), &rule); err != nil {
			writeStoreError(w, err)
			return
		}
		evictSubjects(deps, accessRuleSubjects(deps, r, rule.UUID))
		writeJSON(w, http.StatusOK, &rule)
	}
}

func deleteAccessRule(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		subjects := accessRuleSubjects(deps, r, id)
		if err := deps.Repos.DeleteAccessRule(r.Context(), id); err != nil {
			writeStoreError(w, err)
			return
		}
		evictSubjects(deps, subjects)
		w.WriteHeader(http.StatusNoContent)
	}
}

func listApplications(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apps, err := deps.Repos.ListApplications(r.Context())
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, apps)
	}
}

func getApplication(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		app, err := deps.Repos.FindApplicationByID(r.Context(), id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, app)
	}
}

func saveApplication(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var app model.Application
		if !decodeBody(w, r, &app) {
			return
		}
		if app.UUID == uuid.Nil {
			app.UUID = uuid.New()
		}
		if err := deps.Repos.SaveApplication(r.Context(), &app); err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, &app)
	}
}

func deleteApplication(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		if err := deps.Repos.DeleteApplication(r.Context(), id); err != nil {
			writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func mintApplicationToken(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		app, err := deps.Repos.FindApplicationByID(r.Context(), id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		signed, err := deps.Tokens.MintApplicationToken(app.UUID.String())
		if err != nil {
			logger.Errorf("Failed to mint token for application %s: %v", id, err)
			writeError(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"token": signed})
	}
}

func listConnections(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conns, err := deps.Repos.ListConnections(r.Context())
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, conns)
	}
}

func getConnection(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		conn, err := deps.Repos.FindConnectionByID(r.Context(), id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, conn)
	}
}

func saveConnection(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var conn model.Connection
		if !decodeBody(w, r, &conn) {
			return
		}
		if conn.UUID == uuid.Nil {
			conn.UUID = uuid.New()
		}
		if err := deps.Repos.SaveConnection(r.Context(), &conn); err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, &conn)
	}
}

func listUsers(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := deps.Repos.ListUsers(r.Context())
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, users)
	}
}

func getUser(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		user, err := deps.Repos.FindUserByID(r.Context(), id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}

func saveUser(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var user model.User
		if !decodeBody(w, r, &user) {
			return
		}
		if user.UUID == uuid.Nil {
			user.UUID = uuid.New()
		}
		if err := deps.Repos.SaveUser(r.Context(), &user); err != nil {
			writeStoreError(w, err)
			return
		}
		deps.Eviction.Evict(user.Subject)
		writeJSON(w, http.StatusOK, &user)
	}
}
