package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openmedgrid/authz-server/internal/model"
)

// graphLoader resolves entity graphs within one transaction. Access rules form
// an arena keyed by UUID: gates and sub-rules referencing the same rule share
// one node, and a placeholder is registered before recursion so reference
// cycles cannot loop the loader.
type graphLoader struct {
	tx          *sql.Tx
	accessRules map[uuid.UUID]*model.AccessRule
	privileges  map[uuid.UUID]*model.Privilege
	roles       map[uuid.UUID]*model.Role
	connections map[uuid.UUID]*model.Connection
}

func newGraphLoader(tx *sql.Tx) *graphLoader {
	return &graphLoader{
		tx:          tx,
		accessRules: make(map[uuid.UUID]*model.AccessRule),
		privileges:  make(map[uuid.UUID]*model.Privilege),
		roles:       make(map[uuid.UUID]*model.Role),
		connections: make(map[uuid.UUID]*model.Connection),
	}
}

func scanUUID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("malformed uuid %q: %w", raw, err)
	}
	return id, nil
}

func (l *graphLoader) accessRule(ctx context.Context, id uuid.UUID) (*model.AccessRule, error) {
	if r, ok := l.accessRules[id]; ok {
		return r, nil
	}

	row := l.tx.QueryRowContext(ctx, `
		SELECT uuid, name, description, rule, type, value,
		       check_map_key_only, check_map_node, evaluate_only_by_gates, gate_any_relation
		FROM access_rules WHERE uuid = $1`, id)

	r := &model.AccessRule{}
	var rawID string
	var value sql.NullString
	var ruleType int
	if err := row.Scan(&rawID, &r.Name, &r.Description, &r.Rule, &ruleType, &value,
		&r.CheckMapKeyOnly, &r.CheckMapNode, &r.EvaluateOnlyByGates, &r.GateAnyRelation); err != nil {
		return nil, fmt.Errorf("failed to load access rule %s: %w", id, err)
	}
	parsed, err := scanUUID(rawID)
	if err != nil {
		return nil, err
	}
	r.UUID = parsed
	r.Type = model.RuleType(ruleType)
	if value.Valid {
		v := value.String
		r.Value = &v
	}

	// Register before recursing into gates and sub-rules.
	l.accessRules[id] = r

	gates, err := l.linkedRules(ctx, "SELECT gate_uuid FROM access_rule_gates WHERE rule_uuid = $1", id)
	if err != nil {
		return nil, err
	}
	r.Gates = gates

	subRules, err := l.linkedRules(ctx, "SELECT sub_uuid FROM access_rule_subrules WHERE rule_uuid = $1", id)
	if err != nil {
		return nil, err
	}
	r.SubRules = subRules

	return r, nil
}

func (l *graphLoader) linkedRules(ctx context.Context, query string, id uuid.UUID) ([]*model.AccessRule, error) {
	rows, err := l.tx.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load linked rules of %s: %w", id, err)
	}
	defer rows.Close()

	var linkedIDs []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan linked rule id: %w", err)
		}
		linked, err := scanUUID(raw)
		if err != nil {
			return nil, err
		}
		linkedIDs = append(linkedIDs, linked)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate linked rules: %w", err)
	}

	var linked []*model.AccessRule
	for _, linkedID := range linkedIDs {
		r, err := l.accessRule(ctx, linkedID)
		if err != nil {
			return nil, err
		}
		linked = append(linked, r)
	}
	return linked, nil
}

func (l *graphLoader) privilege(ctx context.Context, id uuid.UUID) (*model.Privilege, error) {
	if p, ok := l.privileges[id]; ok {
		return p, nil
	}

	row := l.tx.QueryRowContext(ctx, `
		SELECT uuid, name, description, application_uuid, query_template, query_scope
		FROM privileges WHERE uuid = $1`, id)

	p := &model.Privilege{}
	var rawID string
	var appID, queryTemplate, queryScope sql.NullString
	if err := row.Scan(&rawID, &p.Name, &p.Description, &appID, &queryTemplate, &queryScope); err != nil {
		return nil, fmt.Errorf("failed to load privilege %s: %w", id, err)
	}
	parsed, err := scanUUID(rawID)
	if err != nil {
		return nil, err
	}
	p.UUID = parsed
	if appID.Valid {
		parsedApp, err := scanUUID(appID.String)
		if err != nil {
			return nil, err
		}
		p.ApplicationID = &parsedApp
	}
	if queryTemplate.Valid {
		v := queryTemplate.String
		p.QueryTemplate = &v
	}
	if queryScope.Valid {
		v := queryScope.String
		p.QueryScope = &v
	}
	l.privileges[id] = p

	ruleIDs, err := l.linkedIDs(ctx, "SELECT rule_uuid FROM privilege_access_rules WHERE privilege_uuid = $1", id)
	if err != nil {
		return nil, err
	}
	for _, ruleID := range ruleIDs {
		r, err := l.accessRule(ctx, ruleID)
		if err != nil {
			return nil, err
		}
		p.AccessRules = append(p.AccessRules, r)
	}
	return p, nil
}

func (l *graphLoader) role(ctx context.Context, id uuid.UUID) (*model.Role, error) {
	if r, ok := l.roles[id]; ok {
		return r, nil
	}

	row := l.tx.QueryRowContext(ctx, "SELECT uuid, name, description FROM roles WHERE uuid = $1", id)
	role := &model.Role{}
	var rawID string
	if err := row.Scan(&rawID, &role.Name, &role.Description); err != nil {
		return nil, fmt.Errorf("failed to load role %s: %w", id, err)
	}
	parsed, err := scanUUID(rawID)
	if err != nil {
		return nil, err
	}
	role.UUID = parsed
	l.roles[id] = role

	privilegeIDs, err := l.linkedIDs(ctx, "SELECT privilege_uuid FROM role_privileges WHERE role_uuid = $1", id)
	if err != nil {
		return nil, err
	}
	for _, privilegeID := range privilegeIDs {
		p, err := l.privilege(ctx, privilegeID)
		if err != nil {
			return nil, err
		}
		role.Privileges = append(role.Privileges, p)
	}
	return role, nil
}

func (l *graphLoader) connection(ctx context.Context, id uuid.UUID) (*model.Connection, error) {
	if c, ok := l.connections[id]; ok {
		return c, nil
	}

	row := l.tx.QueryRowContext(ctx,
		"SELECT uuid, label, id, subprefix, strict FROM connections WHERE uuid = $1", id)
	c := &model.Connection{}
	var rawID string
	if err := row.Scan(&rawID, &c.Label, &c.ID, &c.Subprefix, &c.Strict); err != nil {
		return nil, fmt.Errorf("failed to load connection %s: %w", id, err)
	}
	parsed, err := scanUUID(rawID)
	if err != nil {
		return nil, err
	}
	c.UUID = parsed
	l.connections[id] = c
	return c, nil
}

// user hydrates a user row and its full entitlement graph.
func (l *graphLoader) user(ctx context.Context, where string, arg any) (*model.User, error) {
	row := l.tx.QueryRowContext(ctx, `
		SELECT uuid, subject, email, active, connection_uuid, long_term_token, accepted_terms_at
		FROM users WHERE `+where, arg)

	u := &model.User{}
	var rawID string
	var connectionID, longTermToken sql.NullString
	var acceptedTermsAt sql.NullTime
	if err := row.Scan(&rawID, &u.Subject, &u.Email, &u.Active, &connectionID, &longTermToken, &acceptedTermsAt); err != nil {
		return nil, err
	}
	parsed, err := scanUUID(rawID)
	if err != nil {
		return nil, err
	}
	u.UUID = parsed
	if longTermToken.Valid {
		v := longTermToken.String
		u.LongTermToken = &v
	}
	if acceptedTermsAt.Valid {
		t := acceptedTermsAt.Time.UTC()
		u.AcceptedTermsAt = &t
	}
	if connectionID.Valid {
		parsedConn, err := scanUUID(connectionID.String)
		if err != nil {
			return nil, err
		}
		conn, err := l.connection(ctx, parsedConn)
		if err != nil {
			return nil, err
		}
		u.Connection = conn
	}

	roleIDs, err := l.linkedIDs(ctx, "SELECT role_uuid FROM user_roles WHERE user_uuid = $1", u.UUID)
	if err != nil {
		return nil, err
	}
	for _, roleID := range roleIDs {
		r, err := l.role(ctx, roleID)
		if err != nil {
			return nil, err
		}
		u.Roles = append(u.Roles, r)
	}
	return u, nil
}

func (l *graphLoader) linkedIDs(ctx context.Context, query string, id uuid.UUID) ([]uuid.UUID, error) {
	rows, err := l.tx.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query linked ids of %s: %w", id, err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan linked id: %w", err)
		}
		parsed, err := scanUUID(raw)
		if err != nil {
			return nil, err
		}
		ids = append(ids, parsed)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate linked ids: %w", err)
	}
	return ids, nil
}

// nullableTime adapts an optional timestamp for SQL parameters.
func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullableString adapts an optional string for SQL parameters.
func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
