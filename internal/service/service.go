// Package service defines the persistence capabilities the authorization core
// depends on. Storage is abstracted as narrow repository interfaces
// (lookup-by-id, lookup-by-name, save); no core algorithm depends on a
// specific schema beyond the entity shapes in the model package.
package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/openmedgrid/authz-server/internal/model"
)

var (
	// ErrNotFound is returned when an entity does not exist.
	ErrNotFound = errors.New("entity not found")
	// ErrDuplicate is returned when a unique constraint would be violated.
	ErrDuplicate = errors.New("entity already exists")
)

// UserRepository stores identity records. Users follow a soft lifecycle; they
// are never physically removed while referenced by audit logs.
type UserRepository interface {
	FindUserByID(ctx context.Context, id uuid.UUID) (*model.User, error)

	// FindUserBySubject resolves a user with their full role, privilege, and
	// access-rule graph, loaded inside a single read transaction so that a
	// decision never evaluates against a privilege graph that changed
	// mid-aggregation.
	FindUserBySubject(ctx context.Context, subject string) (*model.User, error)

	SaveUser(ctx context.Context, user *model.User) error
	ListUsers(ctx context.Context) ([]*model.User, error)
}

// RoleRepository stores named privilege groupings.
type RoleRepository interface {
	FindRoleByID(ctx context.Context, id uuid.UUID) (*model.Role, error)
	FindRoleByName(ctx context.Context, name string) (*model.Role, error)
	SaveRole(ctx context.Context, role *model.Role) error
	DeleteRole(ctx context.Context, id uuid.UUID) error
	ListRoles(ctx context.Context) ([]*model.Role, error)

	// SubjectsWithRole returns the subjects of all users holding the role,
	// so mutation call sites can evict every affected cache entry.
	SubjectsWithRole(ctx context.Context, id uuid.UUID) ([]string, error)
}

// PrivilegeRepository stores named capabilities.
type PrivilegeRepository interface {
	FindPrivilegeByID(ctx context.Context, id uuid.UUID) (*model.Privilege, error)
	FindPrivilegeByName(ctx context.Context, name string) (*model.Privilege, error)
	SavePrivilege(ctx context.Context, privilege *model.Privilege) error
	DeletePrivilege(ctx context.Context, id uuid.UUID) error
	ListPrivileges(ctx context.Context) ([]*model.Privilege, error)

	// SubjectsWithPrivilege returns the subjects of all users granted the
	// privilege through any role.
	SubjectsWithPrivilege(ctx context.Context, id uuid.UUID) ([]string, error)
}

// AccessRuleRepository stores policy nodes. Gates and sub-rules are persisted
// as UUID references into the same table.
type AccessRuleRepository interface {
	FindAccessRuleByID(ctx context.Context, id uuid.UUID) (*model.AccessRule, error)
	FindAccessRuleByName(ctx context.Context, name string) (*model.AccessRule, error)
	SaveAccessRule(ctx context.Context, rule *model.AccessRule) error
	DeleteAccessRule(ctx context.Context, id uuid.UUID) error
	ListAccessRules(ctx context.Context) ([]*model.AccessRule, error)
}

// ApplicationRepository stores registered client applications.
type ApplicationRepository interface {
	FindApplicationByID(ctx context.Context, id uuid.UUID) (*model.Application, error)
	FindApplicationByName(ctx context.Context, name string) (*model.Application, error)
	SaveApplication(ctx context.Context, app *model.Application) error
	DeleteApplication(ctx context.Context, id uuid.UUID) error
	ListApplications(ctx context.Context) ([]*model.Application, error)
}

// ConnectionRepository stores identity-provider bindings.
type ConnectionRepository interface {
	FindConnectionByID(ctx context.Context, id uuid.UUID) (*model.Connection, error)
	FindConnectionByLabel(ctx context.Context, label string) (*model.Connection, error)
	SaveConnection(ctx context.Context, conn *model.Connection) error
	ListConnections(ctx context.Context) ([]*model.Connection, error)
}

// Repositories bundles every repository the server wires together. A single
// backing store typically implements all of them.
type Repositories interface {
	UserRepository
	RoleRepository
	PrivilegeRepository
	AccessRuleRepository
	ApplicationRepository
	ConnectionRepository
}
