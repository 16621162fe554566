package model

import (
	"time"

	"github.com/google/uuid"
)

// Connection is an identity-provider binding. Users authenticate through
// exactly one connection; a connection marked Strict removes all implicit
// trust from the authorization path (absent privileges deny instead of grant).
type Connection struct {
	UUID      uuid.UUID `json:"uuid"`
	Label     string    `json:"label"`
	ID        string    `json:"id"`
	Subprefix string    `json:"subprefix,omitempty"`
	Strict    bool      `json:"strict"`
}

// Privilege is a named capability granting access to one application. A
// privilege with no access rules is an unconditional grant for its application.
type Privilege struct {
	UUID        uuid.UUID `json:"uuid"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`

	// ApplicationID scopes the privilege; nil means the privilege is global.
	ApplicationID *uuid.UUID `json:"applicationID,omitempty"`

	AccessRules []*AccessRule `json:"accessRules,omitempty"`

	// QueryTemplate and QueryScope are consumed by non-core layers and carried
	// opaquely here.
	QueryTemplate *string `json:"queryTemplate,omitempty"`
	QueryScope    *string `json:"queryScope,omitempty"`
}

// Role is a named grouping of privileges. Roles are assigned to users either
// by administrators or by automated entitlement sync.
type Role struct {
	UUID        uuid.UUID    `json:"uuid"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Privileges  []*Privilege `json:"privileges,omitempty"`
}

// Application is a registered client of the authorization server. An
// application with no privileges of its own is introspected without any rule
// evaluation.
type Application struct {
	UUID        uuid.UUID    `json:"uuid"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Enabled     bool         `json:"enabled"`
	URL         string       `json:"url,omitempty"`
	Privileges  []*Privilege `json:"privileges,omitempty"`
}

// HasPrivilege reports whether the application carries the given privilege.
func (a *Application) HasPrivilege(p *Privilege) bool {
	if a == nil || p == nil {
		return false
	}
	for _, ap := range a.Privileges {
		if ap.UUID == p.UUID {
			return true
		}
	}
	return false
}

// User is an identity record. The subject is the provider-qualified external
// id and is unique across the system. A user's effective privilege set is the
// union of the privileges of all their roles.
type User struct {
	UUID       uuid.UUID   `json:"uuid"`
	Subject    string      `json:"subject"`
	Email      string      `json:"email,omitempty"`
	Active     bool        `json:"active"`
	Connection *Connection `json:"connection,omitempty"`
	Roles      []*Role     `json:"roles,omitempty"`

	// LongTermToken is the single live long-term token for the user, nil when
	// none has been issued. A presented long-term token must equal this value
	// exactly.
	LongTermToken *string `json:"-"`

	AcceptedTermsAt *time.Time `json:"acceptedTermsAt,omitempty"`
}

// TotalPrivileges returns the union of privileges across all the user's roles.
func (u *User) TotalPrivileges() []*Privilege {
	if u == nil || u.Roles == nil {
		return nil
	}
	seen := make(map[uuid.UUID]struct{})
	var privileges []*Privilege
	for _, r := range u.Roles {
		for _, p := range r.Privileges {
			if _, ok := seen[p.UUID]; ok {
				continue
			}
			seen[p.UUID] = struct{}{}
			privileges = append(privileges, p)
		}
	}
	return privileges
}

// PrivilegesByApplication returns the user's privileges scoped to the given
// application. With a nil application the total privilege set is returned.
func (u *User) PrivilegesByApplication(app *Application) []*Privilege {
	if app == nil || app.UUID == uuid.Nil {
		return u.TotalPrivileges()
	}
	if u == nil || u.Roles == nil {
		return nil
	}
	var privileges []*Privilege
	for _, p := range u.TotalPrivileges() {
		if p.ApplicationID != nil && *p.ApplicationID == app.UUID {
			privileges = append(privileges, p)
		}
	}
	return privileges
}

// PrivilegeNamesByApplication returns the names of the user's privileges that
// the given application also carries. This is the "privileges" field of a
// successful introspection response.
func (u *User) PrivilegeNamesByApplication(app *Application) []string {
	names := []string{}
	if u == nil || app == nil {
		return names
	}
	for _, up := range u.TotalPrivileges() {
		if app.HasPrivilege(up) {
			names = append(names, up.Name)
		}
	}
	return names
}

// TotalPrivilegeNames returns the names of all privileges across the user's
// roles. This is the "roles" field of a successful introspection response.
func (u *User) TotalPrivilegeNames() []string {
	names := []string{}
	for _, p := range u.TotalPrivileges() {
		names = append(names, p.Name)
	}
	return names
}
