package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/openmedgrid/authz-server/internal/model"
)

// FindUserByID resolves a user and their entitlement graph by primary key.
func (s *Store) FindUserByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	var user *model.User
	err := s.readTx(ctx, func(tx *sql.Tx) error {
		u, err := newGraphLoader(tx).user(ctx, "uuid = $1", id)
		if err != nil {
			return err
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	return user, nil
}

// FindUserBySubject resolves a user and their entitlement graph by token
// subject. The whole graph is read from one snapshot.
func (s *Store) FindUserBySubject(ctx context.Context, subject string) (*model.User, error) {
	var user *model.User
	err := s.readTx(ctx, func(tx *sql.Tx) error {
		u, err := newGraphLoader(tx).user(ctx, "subject = $1", subject)
		if err != nil {
			return err
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	return user, nil
}

// SaveUser upserts the user row and replaces its role assignments.
func (s *Store) SaveUser(ctx context.Context, user *model.User) error {
	err := s.writeTx(ctx, func(tx *sql.Tx) error {
		var connectionID any
		if user.Connection != nil {
			connectionID = user.Connection.UUID
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO users (uuid, subject, email, active, connection_uuid, long_term_token, accepted_terms_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (uuid) DO UPDATE SET
			    subject = EXCLUDED.subject,
			    email = EXCLUDED.email,
			    active = EXCLUDED.active,
			    connection_uuid = EXCLUDED.connection_uuid,
			    long_term_token = EXCLUDED.long_term_token,
			    accepted_terms_at = EXCLUDED.accepted_terms_at`,
			user.UUID, user.Subject, user.Email, user.Active,
			connectionID, nullableString(user.LongTermToken), nullableTime(user.AcceptedTermsAt))
		if err != nil {
			return fmt.Errorf("failed to save user %s: %w", user.UUID, err)
		}
		return replaceLinks(ctx, tx, "user_roles", "user_uuid", "role_uuid", user.UUID, roleIDs(user.Roles))
	})
	return mapError(err)
}

// ListUsers returns every user with their entitlement graph.
func (s *Store) ListUsers(ctx context.Context) ([]*model.User, error) {
	var users []*model.User
	err := s.readTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, "SELECT uuid FROM users ORDER BY subject")
		if err != nil {
			return fmt.Errorf("failed to list users: %w", err)
		}
		ids, err := collectIDs(rows)
		if err != nil {
			return err
		}
		loader := newGraphLoader(tx)
		for _, id := range ids {
			u, err := loader.user(ctx, "uuid = $1", id)
			if err != nil {
				return err
			}
			users = append(users, u)
		}
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	return users, nil
}

func roleIDs(roles []*model.Role) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(roles))
	for _, r := range roles {
		ids = append(ids, r.UUID)
	}
	return ids
}

// replaceLinks refreshes a join table to exactly the given set of references.
func replaceLinks(ctx context.Context, tx *sql.Tx, table, ownerCol, refCol string, owner uuid.UUID, refs []uuid.UUID) error {
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE %s = $1", table, ownerCol), owner); err != nil {
		return fmt.Errorf("failed to clear %s: %w", table, err)
	}
	for _, ref := range refs {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES ($1, $2) ON CONFLICT DO NOTHING", table, ownerCol, refCol),
			owner, ref); err != nil {
			return fmt.Errorf("failed to link %s: %w", table, err)
		}
	}
	return nil
}

func collectIDs(rows *sql.Rows) ([]uuid.UUID, error) {
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		id, err := scanUUID(raw)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ids: %w", err)
	}
	return ids, nil
}
