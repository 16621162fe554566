// Package inmemory provides a map-backed implementation of the repository
// interfaces for tests, local development, and the seed path.
package inmemory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/openmedgrid/authz-server/internal/model"
	"github.com/openmedgrid/authz-server/internal/service"
)

// Store is a concurrency-safe in-memory implementation of
// service.Repositories.
type Store struct {
	mu           sync.RWMutex
	users        map[uuid.UUID]*model.User
	roles        map[uuid.UUID]*model.Role
	privileges   map[uuid.UUID]*model.Privilege
	accessRules  map[uuid.UUID]*model.AccessRule
	applications map[uuid.UUID]*model.Application
	connections  map[uuid.UUID]*model.Connection
}

var _ service.Repositories = (*Store)(nil)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		users:        make(map[uuid.UUID]*model.User),
		roles:        make(map[uuid.UUID]*model.Role),
		privileges:   make(map[uuid.UUID]*model.Privilege),
		accessRules:  make(map[uuid.UUID]*model.AccessRule),
		applications: make(map[uuid.UUID]*model.Application),
		connections:  make(map[uuid.UUID]*model.Connection),
	}
}

// FindUserByID implements service.UserRepository.
func (s *Store) FindUserByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, service.ErrNotFound)
	}
	return u, nil
}

// FindUserBySubject implements service.UserRepository.
func (s *Store) FindUserBySubject(_ context.Context, subject string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Subject == subject {
			return u, nil
		}
	}
	return nil, fmt.Errorf("user with subject %q: %w", subject, service.ErrNotFound)
}

// SaveUser implements service.UserRepository.
func (s *Store) SaveUser(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.UUID == uuid.Nil {
		user.UUID = uuid.New()
	}
	s.users[user.UUID] = user
	return nil
}

// ListUsers implements service.UserRepository.
func (s *Store) ListUsers(_ context.Context) ([]*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]*model.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	return users, nil
}

// FindRoleByID implements service.RoleRepository.
func (s *Store) FindRoleByID(_ context.Context, id uuid.UUID) (*model.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[id]
	if !ok {
		return nil, fmt.Errorf("role %s: %w", id, service.ErrNotFound)
	}
	return r, nil
}

// FindRoleByName implements service.RoleRepository.
func (s *Store) FindRoleByName(_ context.Context, name string) (*model.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.roles {
		if r.Name == name {
			return r, nil
		}
	}
	return nil, fmt.Errorf("role %q: %w", name, service.ErrNotFound)
}

// SaveRole implements service.RoleRepository.
func (s *Store) SaveRole(_ context.Context, role *model.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if role.UUID == uuid.Nil {
		role.UUID = uuid.New()
	}
	s.roles[role.UUID] = role
	return nil
}

// DeleteRole implements service.RoleRepository.
func (s *Store) DeleteRole(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[id]; !ok {
		return fmt.Errorf("role %s: %w", id, service.ErrNotFound)
	}
	delete(s.roles, id)
	for _, u := range s.users {
		kept := u.Roles[:0]
		for _, r := range u.Roles {
			if r.UUID != id {
				kept = append(kept, r)
			}
		}
		u.Roles = kept
	}
	return nil
}

// ListRoles implements service.RoleRepository.
func (s *Store) ListRoles(_ context.Context) ([]*model.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	roles := make([]*model.Role, 0, len(s.roles))
	for _, r := range s.roles {
		roles = append(roles, r)
	}
	return roles, nil
}

// SubjectsWithRole implements service.RoleRepository.
func (s *Store) SubjectsWithRole(_ context.Context, id uuid.UUID) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subjects := []string{}
	for _, u := range s.users {
		for _, r := range u.Roles {
			if r.UUID == id {
				subjects = append(subjects, u.Subject)
				break
			}
		}
	}
	return subjects, nil
}

// FindPrivilegeByID implements service.PrivilegeRepository.
func (s *Store) FindPrivilegeByID(_ context.Context, id uuid.UUID) (*model.Privilege, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.privileges[id]
	if !ok {
		return nil, fmt.Errorf("privilege %s: %w", id, service.ErrNotFound)
	}
	return p, nil
}

// FindPrivilegeByName implements service.PrivilegeRepository.
func (s *Store) FindPrivilegeByName(_ context.Context, name string) (*model.Privilege, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.privileges {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("privilege %q: %w", name, service.ErrNotFound)
}

// SavePrivilege implements service.PrivilegeRepository.
func (s *Store) SavePrivilege(_ context.Context, privilege *model.Privilege) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if privilege.UUID == uuid.Nil {
		privilege.UUID = uuid.New()
	}
	s.privileges[privilege.UUID] = privilege
	return nil
}

// DeletePrivilege implements service.PrivilegeRepository.
func (s *Store) DeletePrivilege(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.privileges[id]; !ok {
		return fmt.Errorf("privilege %s: %w", id, service.ErrNotFound)
	}
	delete(s.privileges, id)
	for _, r := range s.roles {
		kept := r.Privileges[:0]
		for _, p := range r.Privileges {
			if p.UUID != id {
				kept = append(kept, p)
			}
		}
		r.Privileges = kept
	}
	for _, a := range s.applications {
		kept := a.Privileges[:0]
		for _, p := range a.Privileges {
			if p.UUID != id {
				kept = append(kept, p)
			}
		}
		a.Privileges = kept
	}
	return nil
}

// ListPrivileges implements service.PrivilegeRepository.
func (s *Store) ListPrivileges(_ context.Context) ([]*model.Privilege, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	privileges := make([]*model.Privilege, 0, len(s.privileges))
	for _, p := range s.privileges {
		privileges = append(privileges, p)
	}
	return privileges, nil
}

// SubjectsWithPrivilege implements service.PrivilegeRepository.
func (s *Store) SubjectsWithPrivilege(_ context.Context, id uuid.UUID) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subjects := []string{}
	for _, u := range s.users {
		for _, p := range u.TotalPrivileges() {
			if p.UUID == id {
				subjects = append(subjects, u.Subject)
				break
			}
		}
	}
	return subjects, nil
}

// FindAccessRuleByID implements service.AccessRuleRepository.
func (s *Store) FindAccessRuleByID(_ context.Context, id uuid.UUID) (*model.AccessRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.accessRules[id]
	if !ok {
		return nil, fmt.Errorf("access rule %s: %w", id, service.ErrNotFound)
	}
	return r, nil
}

// FindAccessRuleByName implements service.AccessRuleRepository.
func (s *Store) FindAccessRuleByName(_ context.Context, name string) (*model.AccessRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.accessRules {
		if r.Name == name {
			return r, nil
		}
	}
	return nil, fmt.Errorf("access rule %q: %w", name, service.ErrNotFound)
}

// SaveAccessRule implements service.AccessRuleRepository.
func (s *Store) SaveAccessRule(_ context.Context, rule *model.AccessRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rule.UUID == uuid.Nil {
		rule.UUID = uuid.New()
	}
	s.accessRules[rule.UUID] = rule
	return nil
}

// DeleteAccessRule implements service.AccessRuleRepository.
func (s *Store) DeleteAccessRule(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accessRules[id]; !ok {
		return fmt.Errorf("access rule %s: %w", id, service.ErrNotFound)
	}
	delete(s.accessRules, id)
	for _, p := range s.privileges {
		kept := p.AccessRules[:0]
		for _, r := range p.AccessRules {
			if r.UUID != id {
				kept = append(kept, r)
			}
		}
		p.AccessRules = kept
	}
	return nil
}

// ListAccessRules implements service.AccessRuleRepository.
func (s *Store) ListAccessRules(_ context.Context) ([]*model.AccessRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	accessRules := make([]*model.AccessRule, 0, len(s.accessRules))
	for _, r := range s.accessRules {
		accessRules = append(accessRules, r)
	}
	return accessRules, nil
}

// FindApplicationByID implements service.ApplicationRepository.
func (s *Store) FindApplicationByID(_ context.Context, id uuid.UUID) (*model.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.applications[id]
	if !ok {
		return nil, fmt.Errorf("application %s: %w", id, service.ErrNotFound)
	}
	return a, nil
}

// FindApplicationByName implements service.ApplicationRepository.
func (s *Store) FindApplicationByName(_ context.Context, name string) (*model.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.applications {
		if a.Name == name {
			return a, nil
		}
	}
	return nil, fmt.Errorf("application %q: %w", name, service.ErrNotFound)
}

// SaveApplication implements service.ApplicationRepository.
func (s *Store) SaveApplication(_ context.Context, app *model.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if app.UUID == uuid.Nil {
		app.UUID = uuid.New()
	}
	s.applications[app.UUID] = app
	return nil
}

// DeleteApplication implements service.ApplicationRepository.
func (s *Store) DeleteApplication(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.applications[id]; !ok {
		return fmt.Errorf("application %s: %w", id, service.ErrNotFound)
	}
	delete(s.applications, id)
	return nil
}

// ListApplications implements service.ApplicationRepository.
func (s *Store) ListApplications(_ context.Context) ([]*model.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	applications := make([]*model.Application, 0, len(s.applications))
	for _, a := range s.applications {
		applications = append(applications, a)
	}
	return applications, nil
}

// FindConnectionByID implements service.ConnectionRepository.
func (s *Store) FindConnectionByID(_ context.Context, id uuid.UUID) (*model.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.connections[id]
	if !ok {
		return nil, fmt.Errorf("connection %s: %w", id, service.ErrNotFound)
	}
	return c, nil
}

// FindConnectionByLabel implements service.ConnectionRepository.
func (s *Store) FindConnectionByLabel(_ context.Context, label string) (*model.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.connections {
		if c.Label == label {
			return c, nil
		}
	}
	return nil, fmt.Errorf("connection %q: %w", label, service.ErrNotFound)
}

// SaveConnection implements service.ConnectionRepository.
func (s *Store) SaveConnection(_ context.Context, conn *model.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conn.UUID == uuid.Nil {
		conn.UUID = uuid.New()
	}
	s.connections[conn.UUID] = conn
	return nil
}

// ListConnections implements service.ConnectionRepository.
func (s *Store) ListConnections(_ context.Context) ([]*model.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	connections := make([]*model.Connection, 0, len(s.connections))
	for _, c := range s.connections {
		connections = append(connections, c)
	}
	return connections, nil
}
