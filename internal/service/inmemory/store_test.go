package inmemory_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmedgrid/authz-server/internal/model"
	"github.com/openmedgrid/authz-server/internal/service"
	"github.com/openmedgrid/authz-server/internal/service/inmemory"
)

func strPtr(s string) *string {
	return &s
}

func seedGraph(t *testing.T, store *inmemory.Store) (*model.User, *model.Role, *model.Privilege, *model.AccessRule, *model.Application) {
	t.Helper()
	ctx := context.Background()

	rule := model.NewAccessRule("study", "$.study", model.RuleTypeAllEquals, strPtr("phs000001"))
	require.NoError(t, store.SaveAccessRule(ctx, rule))

	app := &model.Application{UUID: uuid.New(), Name: "data-portal", Enabled: true}
	privilege := &model.Privilege{
		UUID:          uuid.New(),
		Name:          "query",
		ApplicationID: &app.UUID,
		AccessRules:   []*model.AccessRule{rule},
	}
	app.Privileges = []*model.Privilege{privilege}
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

	return user, role, privilege, rule, app
}

func TestFindBySubjectAndID(t *testing.T) {
	t.Parallel()
	store := inmemory.NewStore()
	ctx := context.Background()
	user, role, privilege, rule, app := seedGraph(t, store)

	got, err := store.FindUserBySubject(ctx, user.Subject)
	require.NoError(t, err)
	assert.Equal(t, user.UUID, got.UUID)

	_, err = store.FindUserBySubject(ctx, "auth0|stranger")
	assert.ErrorIs(t, err, service.ErrNotFound)

	gotRole, err := store.FindRoleByName(ctx, role.Name)
	require.NoError(t, err)
	assert.Equal(t, role.UUID, gotRole.UUID)

	gotPrivilege, err := store.FindPrivilegeByName(ctx, privilege.Name)
	require.NoError(t, err)
	assert.Equal(t, privilege.UUID, gotPrivilege.UUID)

	gotRule, err := store.FindAccessRuleByName(ctx, rule.Name)
	require.NoError(t, err)
	assert.Equal(t, rule.UUID, gotRule.UUID)

	gotApp, err := store.FindApplicationByName(ctx, app.Name)
	require.NoError(t, err)
	assert.Equal(t, app.UUID, gotApp.UUID)

	_, err = store.FindApplicationByID(ctx, uuid.New())
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestSubjectsWithRoleAndPrivilege(t *testing.T) {
	t.Parallel()
	store := inmemory.NewStore()
	ctx := context.Background()
	user, role, privilege, _, _ := seedGraph(t, store)

	subjects, err := store.SubjectsWithRole(ctx, role.UUID)
	require.NoError(t, err)
	assert.Equal(t, []string{user.Subject}, subjects)

	subjects, err = store.SubjectsWithPrivilege(ctx, privilege.UUID)
	require.NoError(t, err)
	assert.Equal(t, []string{user.Subject}, subjects)

	subjects, err = store.SubjectsWithRole(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, subjects)
}

func TestDeleteRoleDetachesUsers(t *testing.T) {
	t.Parallel()
	store := inmemory.NewStore()
	ctx := context.Background()
	user, role, _, _, _ := seedGraph(t, store)

	require.NoError(t, store.DeleteRole(ctx, role.UUID))

	got, err := store.FindUserBySubject(ctx, user.Subject)
	require.NoError(t, err)
	assert.Empty(t, got.Roles)

	assert.ErrorIs(t, store.DeleteRole(ctx, role.UUID), service.ErrNotFound)
}

func TestDeletePrivilegeDetachesRolesAndApplications(t *testing.T) {
	t.Parallel()
	store := inmemory.NewStore()
	ctx := context.Background()
	_, role, privilege, _, app := seedGraph(t, store)

	require.NoError(t, store.DeletePrivilege(ctx, privilege.UUID))

	gotRole, err := store.FindRoleByID(ctx, role.UUID)
	require.NoError(t, err)
	assert.Empty(t, gotRole.Privileges)

	gotApp, err := store.FindApplicationByID(ctx, app.UUID)
	require.NoError(t, err)
	assert.Empty(t, gotApp.Privileges)
}

func TestDeleteAccessRuleDetachesPrivileges(t *testing.T) {
	t.Parallel()
	store := inmemory.NewStore()
	ctx := context.Background()
	_, _, privilege, rule, _ := seedGraph(t, store)

	require.NoError(t, store.DeleteAccessRule(ctx, rule.UUID))

	gotPrivilege, err := store.FindPrivilegeByID(ctx, privilege.UUID)
	require.NoError(t, err)
	assert.Empty(t, gotPrivilege.AccessRules)
}

func TestListEntities(t *testing.T) {
	t.Parallel()
	store := inmemory.NewStore()
	ctx := context.Background()
	seedGraph(t, store)

	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)

	roles, err := store.ListRoles(ctx)
	require.NoError(t, err)
	assert.Len(t, roles, 1)

	privileges, err := store.ListPrivileges(ctx)
	require.NoError(t, err)
	assert.Len(t, privileges, 1)

	accessRules, err := store.ListAccessRules(ctx)
	require.NoError(t, err)
	assert.Len(t, accessRules, 1)

	apps, err := store.ListApplications(ctx)
	require.NoError(t, err)
	assert.Len(t, apps, 1)
}

func TestConnections(t *testing.T) {
	t.Parallel()
	store := inmemory.NewStore()
	ctx := context.Background()

	conn := &model.Connection{UUID: uuid.New(), Label: "Auth0", ID: "auth0"}
	require.NoError(t, store.SaveConnection(ctx, conn))

	got, err := store.FindConnectionByLabel(ctx, "Auth0")
	require.NoError(t, err)
	assert.Equal(t, conn.UUID, got.UUID)

	got, err = store.FindConnectionByID(ctx, conn.UUID)
	require.NoError(t, err)
	assert.Equal(t, "auth0", got.ID)

	_, err = store.FindConnectionByLabel(ctx, "IdP-B")
	assert.ErrorIs(t, err, service.ErrNotFound)

	conns, err := store.ListConnections(ctx)
	require.NoError(t, err)
	assert.Len(t, conns, 1)
}

func TestSaveAssignsUUID(t *testing.T) {
	t.Parallel()
	store := inmemory.NewStore()
	ctx := context.Background()

	user := &model.User{Subject: "auth0|fresh"}
	require.NoError(t, store.SaveUser(ctx, user))
	assert.NotEqual(t, uuid.Nil, user.UUID)
}
