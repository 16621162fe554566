package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/openmedgrid/authz-server/internal/model"
)

// FindApplicationByID resolves an application and the privileges scoped to it.
func (s *Store) FindApplicationByID(ctx context.Context, id uuid.UUID) (*model.Application, error) {
	var app *model.Application
	err := s.readTx(ctx, func(tx *sql.Tx) error {
		a, err := loadApplication(ctx, tx, "uuid = $1", id)
		if err != nil {
			return err
		}
		app = a
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	return app, nil
}

// FindApplicationByName resolves an application by its unique name.
func (s *Store) FindApplicationByName(ctx context.Context, name string) (*model.Application, error) {
	var app *model.Application
	err := s.readTx(ctx, func(tx *sql.Tx) error {
		a, err := loadApplication(ctx, tx, "name = $1", name)
		if err != nil {
			return err
		}
		app = a
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	return app, nil
}

// SaveApplication upserts the application row. Privilege scoping lives on the
// privilege side and is written by SavePrivilege.
func (s *Store) SaveApplication(ctx context.Context, app *model.Application) error {
	err := s.writeTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO applications (uuid, name, description, enabled, url)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (uuid) DO UPDATE SET
			    name = EXCLUDED.name,
			    description = EXCLUDED.description,
			    enabled = EXCLUDED.enabled,
			    url = EXCLUDED.url`,
			app.UUID, app.Name, app.Description, app.Enabled, app.URL)
		if err != nil {
			return fmt.Errorf("failed to save application %s: %w", app.UUID, err)
		}
		return nil
	})
	return mapError(err)
}

// DeleteApplication removes an application; scoped privileges keep their rows
// with the application reference cleared.
func (s *Store) DeleteApplication(ctx context.Context, id uuid.UUID) error {
	err := s.writeTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM applications WHERE uuid = $1", id)
		if err != nil {
			return fmt.Errorf("failed to delete application %s: %w", id, err)
		}
		return requireAffected(res)
	})
	return mapError(err)
}

// ListApplications returns every application with its scoped privileges.
func (s *Store) ListApplications(ctx context.Context) ([]*model.Application, error) {
	var apps []*model.Application
	err := s.readTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, "SELECT uuid FROM applications ORDER BY name")
		if err != nil {
			return fmt.Errorf("failed to list applications: %w", err)
		}
		ids, err := collectIDs(rows)
		if err != nil {
			return err
		}
		for _, id := range ids {
			a, err := loadApplication(ctx, tx, "uuid = $1", id)
			if err != nil {
				return err
			}
			apps = append(apps, a)
		}
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	return apps, nil
}

func loadApplication(ctx context.Context, tx *sql.Tx, where string, arg any) (*model.Application, error) {
	row := tx.QueryRowContext(ctx,
		"SELECT uuid, name, description, enabled, url FROM applications WHERE "+where, arg)

	a := &model.Application{}
	var rawID string
	if err := row.Scan(&rawID, &a.Name, &a.Description, &a.Enabled, &a.URL); err != nil {
		return nil, err
	}
	id, err := scanUUID(rawID)
	if err != nil {
		return nil, err
	}
	a.UUID = id

	rows, err := tx.QueryContext(ctx,
		"SELECT uuid FROM privileges WHERE application_uuid = $1 ORDER BY name", a.UUID)
	if err != nil {
		return nil, fmt.Errorf("failed to load privileges of application %s: %w", a.UUID, err)
	}
	privilegeIDs, err := collectIDs(rows)
	if err != nil {
		return nil, err
	}
	loader := newGraphLoader(tx)
	for _, privilegeID := range privilegeIDs {
		p, err := loader.privilege(ctx, privilegeID)
		if err != nil {
			return nil, err
		}
		a.Privileges = append(a.Privileges, p)
	}
	return a, nil
}
