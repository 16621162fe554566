package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/openmedgrid/authz-server/internal/model"
)

// FindRoleByID resolves a role and its privilege graph.
func (s *Store) FindRoleByID(ctx context.Context, id uuid.UUID) (*model.Role, error) {
	var role *model.Role
	err := s.readTx(ctx, func(tx *sql.Tx) error {
		r, err := newGraphLoader(tx).role(ctx, id)
		if err != nil {
			return err
		}
		role = r
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	return role, nil
}

// FindRoleByName resolves a role by its unique name.
func (s *Store) FindRoleByName(ctx context.Context, name string) (*model.Role, error) {
	var role *model.Role
	err := s.readTx(ctx, func(tx *sql.Tx) error {
		var raw string
		if err := tx.QueryRowContext(ctx, "SELECT uuid FROM roles WHERE name = $1", name).Scan(&raw); err != nil {
			return err
		}
		id, err := scanUUID(raw)
		if err != nil {
			return err
		}
		r, err := newGraphLoader(tx).role(ctx, id)
		if err != nil {
			return err
		}
		role = r
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	return role, nil
}

// SaveRole upserts the role row and replaces its privilege assignments.
func (s *Store) SaveRole(ctx context.Context, role *model.Role) error {
	err := s.writeTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO roles (uuid, name, description)
			VALUES ($1, $2, $3)
			ON CONFLICT (uuid) DO UPDATE SET
			    name = EXCLUDED.name,
			    description = EXCLUDED.description`,
			role.UUID, role.Name, role.Description)
		if err != nil {
			return fmt.Errorf("failed to save role %s: %w", role.UUID, err)
		}
		refs := make([]uuid.UUID, 0, len(role.Privileges))
		for _, p := range role.Privileges {
			refs = append(refs, p.UUID)
		}
		return replaceLinks(ctx, tx, "role_privileges", "role_uuid", "privilege_uuid", role.UUID, refs)
	})
	return mapError(err)
}

// DeleteRole removes a role; membership rows cascade.
func (s *Store) DeleteRole(ctx context.Context, id uuid.UUID) error {
	err := s.writeTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM roles WHERE uuid = $1", id)
		if err != nil {
			return fmt.Errorf("failed to delete role %s: %w", id, err)
		}
		return requireAffected(res)
	})
	return mapError(err)
}

// ListRoles returns every role with its privilege graph.
func (s *Store) ListRoles(ctx context.Context) ([]*model.Role, error) {
	var roles []*model.Role
	err := s.readTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, "SELECT uuid FROM roles ORDER BY name")
		if err != nil {
			return fmt.Errorf("failed to list roles: %w", err)
		}
		ids, err := collectIDs(rows)
		if err != nil {
			return err
		}
		loader := newGraphLoader(tx)
		for _, id := range ids {
			r, err := loader.role(ctx, id)
			if err != nil {
				return err
			}
			roles = append(roles, r)
		}
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	return roles, nil
}

// SubjectsWithRole returns the subjects of users holding the role.
func (s *Store) SubjectsWithRole(ctx context.Context, id uuid.UUID) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.subject FROM users u
		JOIN user_roles ur ON ur.user_uuid = u.uuid
		WHERE ur.role_uuid = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query subjects with role %s: %w", id, err)
	}
	return collectSubjects(rows)
}

func collectSubjects(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var subjects []string
	for rows.Next() {
		var subject string
		if err := rows.Scan(&subject); err != nil {
			return nil, fmt.Errorf("failed to scan subject: %w", err)
		}
		subjects = append(subjects, subject)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subjects: %w", err)
	}
	return subjects, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
