package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/openmedgrid/authz-server/internal/model"
)

// FindConnectionByID resolves an identity-provider binding.
func (s *Store) FindConnectionByID(ctx context.Context, id uuid.UUID) (*model.Connection, error) {
	var conn *model.Connection
	err := s.readTx(ctx, func(tx *sql.Tx) error {
		c, err := newGraphLoader(tx).connection(ctx, id)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	return conn, nil
}

// FindConnectionByLabel resolves a connection by its display label.
func (s *Store) FindConnectionByLabel(ctx context.Context, label string) (*model.Connection, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT uuid, label, id, subprefix, strict FROM connections WHERE label = $1", label)

	c := &model.Connection{}
	var rawID string
	if err := row.Scan(&rawID, &c.Label, &c.ID, &c.Subprefix, &c.Strict); err != nil {
		return nil, mapError(err)
	}
	id, err := scanUUID(rawID)
	if err != nil {
		return nil, err
	}
	c.UUID = id
	return c, nil
}

// SaveConnection upserts the connection row.
func (s *Store) SaveConnection(ctx context.Context, conn *model.Connection) error {
	err := s.writeTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO connections (uuid, label, id, subprefix, strict)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (uuid) DO UPDATE SET
			    label = EXCLUDED.label,
			    id = EXCLUDED.id,
			    subprefix = EXCLUDED.subprefix,
			    strict = EXCLUDED.strict`,
			conn.UUID, conn.Label, conn.ID, conn.Subprefix, conn.Strict)
		if err != nil {
			return fmt.Errorf("failed to save connection %s: %w", conn.UUID, err)
		}
		return nil
	})
	return mapError(err)
}

// ListConnections returns every connection.
func (s *Store) ListConnections(ctx context.Context) ([]*model.Connection, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT uuid, label, id, subprefix, strict FROM connections ORDER BY label")
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var conns []*model.Connection
	for rows.Next() {
		c := &model.Connection{}
		var rawID string
		if err := rows.Scan(&rawID, &c.Label, &c.ID, &c.Subprefix, &c.Strict); err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		id, err := scanUUID(rawID)
		if err != nil {
			return nil, err
		}
		c.UUID = id
		conns = append(conns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate connections: %w", err)
	}
	return conns, nil
}
