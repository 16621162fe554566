package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/openmedgrid/authz-server/internal/model"
)

// FindPrivilegeByID resolves a privilege and its access-rule graph.
func (s *Store) FindPrivilegeByID(ctx context.Context, id uuid.UUID) (*model.Privilege, error) {
	var privilege *model.Privilege
	err := s.readTx(ctx, func(tx *sql.Tx) error {
		p, err := newGraphLoader(tx).privilege(ctx, id)
		if err != nil {
			return err
		}
		privilege = p
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	return privilege, nil
}

// FindPrivilegeByName resolves a privilege by its unique name.
func (s *Store) FindPrivilegeByName(ctx context.Context, name string) (*model.Privilege, error) {
	var privilege *model.Privilege
	err := s.readTx(ctx, func(tx *sql.Tx) error {
		var raw string
		if err := tx.QueryRowContext(ctx, "SELECT uuid FROM privileges WHERE name = $1", name).Scan(&raw); err != nil {
			return err
		}
		id, err := scanUUID(raw)
		if err != nil {
			return err
		}
		p, err := newGraphLoader(tx).privilege(ctx, id)
		if err != nil {
			return err
		}
		privilege = p
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	return privilege, nil
}

// SavePrivilege upserts the privilege row and replaces its access-rule
// assignments.
func (s *Store) SavePrivilege(ctx context.Context, privilege *model.Privilege) error {
	err := s.writeTx(ctx, func(tx *sql.Tx) error {
		var appID any
		if privilege.ApplicationID != nil {
			appID = *privilege.ApplicationID
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO privileges (uuid, name, description, application_uuid, query_template, query_scope)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (uuid) DO UPDATE SET
			    name = EXCLUDED.name,
			    description = EXCLUDED.description,
			    application_uuid = EXCLUDED.application_uuid,
			    query_template = EXCLUDED.query_template,
			    query_scope = EXCLUDED.query_scope`,
			privilege.UUID, privilege.Name, privilege.Description,
			appID, nullableString(privilege.QueryTemplate), nullableString(privilege.QueryScope))
		if err != nil {
			return fmt.Errorf("failed to save privilege %s: %w", privilege.UUID, err)
		}
		refs := make([]uuid.UUID, 0, len(privilege.AccessRules))
		for _, r := range privilege.AccessRules {
			refs = append(refs, r.UUID)
		}
		return replaceLinks(ctx, tx, "privilege_access_rules", "privilege_uuid", "rule_uuid", privilege.UUID, refs)
	})
	return mapError(err)
}

// DeletePrivilege removes a privilege; role and rule links cascade.
func (s *Store) DeletePrivilege(ctx context.Context, id uuid.UUID) error {
	err := s.writeTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM privileges WHERE uuid = $1", id)
		if err != nil {
			return fmt.Errorf("failed to delete privilege %s: %w", id, err)
		}
		return requireAffected(res)
	})
	return mapError(err)
}

// ListPrivileges returns every privilege with its access-rule graph.
func (s *Store) ListPrivileges(ctx context.Context) ([]*model.Privilege, error) {
	var privileges []*model.Privilege
	err := s.readTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, "SELECT uuid FROM privileges ORDER BY name")
		if err != nil {
			return fmt.Errorf("failed to list privileges: %w", err)
		}
		ids, err := collectIDs(rows)
		if err != nil {
			return err
		}
		loader := newGraphLoader(tx)
		for _, id := range ids {
			p, err := loader.privilege(ctx, id)
			if err != nil {
				return err
			}
			privileges = append(privileges, p)
		}
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	return privileges, nil
}

// SubjectsWithPrivilege returns the subjects of users granted the privilege
// through any role.
func (s *Store) SubjectsWithPrivilege(ctx context.Context, id uuid.UUID) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT u.subject FROM users u
		JOIN user_roles ur ON ur.user_uuid = u.uuid
		JOIN role_privileges rp ON rp.role_uuid = ur.role_uuid
		WHERE rp.privilege_uuid = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query subjects with privilege %s: %w", id, err)
	}
	return collectSubjects(rows)
}
