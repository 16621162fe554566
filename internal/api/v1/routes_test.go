package v1_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmedgrid/authz-server/internal/api"
	v1 "github.com/openmedgrid/authz-server/internal/api/v1"
	"github.com/openmedgrid/authz-server/internal/authz"
	"github.com/openmedgrid/authz-server/internal/cache"
	"github.com/openmedgrid/authz-server/internal/introspect"
	"github.com/openmedgrid/authz-server/internal/model"
	"github.com/openmedgrid/authz-server/internal/service/inmemory"
	"github.com/openmedgrid/authz-server/internal/token"
)

type fixture struct {
	server    http.Handler
	store     *inmemory.Store
	tokens    *token.Util
	ruleCache *cache.RuleCache
	sessions  *cache.SessionTracker
	app       *model.Application
	user      *model.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	tokens, err := token.New("api-test-secret-api-test-secret!!", false)
	require.NoError(t, err)

	store := inmemory.NewStore()
	ruleCache := cache.NewRuleCache(16)
	sessions := cache.NewSessionTracker(8 * time.Hour)
	eviction := cache.NewEvictionCoordinator(sessions, ruleCache)
	authorizer := authz.NewAuthorizer(ruleCache)
	introspection := introspect.NewService(tokens, store, authorizer, sessions, time.Hour)

	privilege := &model.Privilege{UUID: uuid.New(), Name: "query"}
	app := &model.Application{
		UUID:       uuid.New(),
		Name:       "data-portal",
		Enabled:    true,
		Privileges: []*model.Privilege{privilege},
	}
	privilege.ApplicationID = &app.UUID
	require.NoError(t, store.SavePrivilege(ctx, privilege))
	require.NoError(t, store.SaveApplication(ctx, app))

	role := &model.Role{UUID: uuid.New(), Name: "researcher", Privileges: []*model.Privilege{privilege}}
	require.NoError(t, store.SaveRole(ctx, role))

	user := &model.User{
		UUID:    uuid.New(),
		Subject: "auth0|tester",
		Active:  true,
		Roles:   []*model.Role{role},
	}
	require.NoError(t, store.SaveUser(ctx, user))

	deps := v1.Dependencies{
		Repos:         store,
		Introspection: introspection,
		Tokens:        tokens,
		Eviction:      eviction,
		Sessions:      sessions,
	}
	return &fixture{
		server:    api.NewServer(deps),
		store:     store,
		tokens:    tokens,
		ruleCache: ruleCache,
		sessions:  sessions,
		app:       app,
		user:      user,
	}
}

func (f *fixture) applicationToken(t *testing.T) string {
	t.Helper()
	signed, err := f.tokens.MintApplicationToken(f.app.UUID.String())
	require.NoError(t, err)
	return signed
}

func (f *fixture) userToken(t *testing.T) string {
	t.Helper()
	signed, err := f.tokens.Mint(uuid.NewString(), "authz-server", f.user.Subject, nil, time.Hour)
	require.NoError(t, err)
	return signed
}

func (f *fixture) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rr := httptest.NewRecorder()
	f.server.ServeHTTP(rr, req)
	return rr
}

func TestInspectRequiresBearerToken(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/token/inspect", "", introspect.Request{Token: "x"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestInspectRejectsUserTokenAsCaller(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/token/inspect", f.userToken(t), introspect.Request{Token: "x"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestInspectRejectsDisabledApplication(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.app.Enabled = false

	rr := f.do(t, http.MethodPost, "/token/inspect", f.applicationToken(t), introspect.Request{Token: "x"})
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestInspectHappyPath(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/token/inspect", f.applicationToken(t),
		introspect.Request{Token: f.userToken(t), Request: json.RawMessage(`{"query":{}}`)})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["active"])
	assert.Equal(t, f.user.Subject, resp["sub"])
}

func TestInspectInactiveForMissingToken(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/token/inspect", f.applicationToken(t), introspect.Request{})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["active"])
	assert.Equal(t, "Token not found", resp["message"])
}

func TestStartSessionRecordsLogin(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	// Stale cached state from before the login must not survive it.
	f.ruleCache.Put(f.user.Subject, f.app.UUID, nil)

	rr := f.do(t, http.MethodPost, "/token/session", f.applicationToken(t),
		v1.SessionRequest{Subject: f.user.Subject})
	require.Equal(t, http.StatusNoContent, rr.Code)

	_, cached := f.ruleCache.Get(f.user.Subject, f.app.UUID)
	assert.False(t, cached)
	assert.False(t, f.sessions.IsSessionExpired(f.user.Subject))
}

func TestStartSessionRejectsBadRequests(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/token/session", f.applicationToken(t), v1.SessionRequest{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodPost, "/token/session", f.applicationToken(t),
		v1.SessionRequest{Subject: "auth0|nobody"})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(t, http.MethodPost, "/token/session", "", v1.SessionRequest{Subject: f.user.Subject})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRoleCRUD(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	role := &model.Role{Name: "admin"}
	rr := f.do(t, http.MethodPost, "/admin/roles/", "", role)
	require.Equal(t, http.StatusOK, rr.Code)

	var saved model.Role
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &saved))
	assert.NotEqual(t, uuid.Nil, saved.UUID)
	assert.Equal(t, "admin", saved.Name)

	rr = f.do(t, http.MethodGet, "/admin/roles/"+saved.UUID.String(), "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(t, http.MethodDelete, "/admin/roles/"+saved.UUID.String(), "", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = f.do(t, http.MethodGet, "/admin/roles/"+saved.UUID.String(), "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRoleMutationEvictsAffectedSubjects(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	// Simulate a cached decision for the user.
	f.ruleCache.Put(f.user.Subject, f.app.UUID, nil)

	role := f.user.Roles[0]
	rr := f.do(t, http.MethodPost, "/admin/roles/", "", role)
	require.Equal(t, http.StatusOK, rr.Code)

	_, ok := f.ruleCache.Get(f.user.Subject, f.app.UUID)
	assert.False(t, ok)
}

func TestDeleteRoleEvictsAffectedSubjects(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.ruleCache.Put(f.user.Subject, f.app.UUID, nil)

	role := f.user.Roles[0]
	rr := f.do(t, http.MethodDelete, "/admin/roles/"+role.UUID.String(), "", nil)
	require.Equal(t, http.StatusNoContent, rr.Code)

	_, ok := f.ruleCache.Get(f.user.Subject, f.app.UUID)
	assert.False(t, ok)
}

func TestAccessRuleCRUD(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	value := "phs000001"
	rule := &model.AccessRule{Name: "study", Rule: "$.study", Type: model.RuleTypeAllEquals, Value: &value}
	rr := f.do(t, http.MethodPost, "/admin/accessrules/", "", rule)
	require.Equal(t, http.StatusOK, rr.Code)

	var saved model.AccessRule
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &saved))
	assert.NotEqual(t, uuid.Nil, saved.UUID)

	rr = f.do(t, http.MethodGet, "/admin/accessrules/", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var listed []*model.AccessRule
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &listed))
	assert.Len(t, listed, 1)
}

func TestMintApplicationTokenEndpoint(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/admin/applications/"+f.app.UUID.String()+"/token", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	claims, err := f.tokens.Parse(resp["token"])
	require.NoError(t, err)
	subject, err := claims.GetSubject()
	require.NoError(t, err)
	assert.Equal(t, token.ApplicationSubject(f.app.UUID.String()), subject)
}

func TestInvalidIDsRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/admin/roles/not-a-uuid", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodPost, "/admin/roles/", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
