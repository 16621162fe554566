// Package db provides the PostgreSQL-backed implementation of the repository
// interfaces. The entity graph is stored relationally with gates and sub-rules
// as UUID reference tables; graph reads run inside a single read-only
// transaction so a decision never sees a half-applied privilege change.
package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/openmedgrid/authz-server/internal/service"
)

// Store implements service.Repositories on top of PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ service.Repositories = (*Store)(nil)

// NewStore creates a store over an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS connections (
    uuid UUID PRIMARY KEY,
    label TEXT NOT NULL,
    id TEXT NOT NULL UNIQUE,
    subprefix TEXT NOT NULL DEFAULT '',
    strict BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS applications (
    uuid UUID PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT '',
    enabled BOOLEAN NOT NULL DEFAULT TRUE,
    url TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS access_rules (
    uuid UUID PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT '',
    rule TEXT NOT NULL DEFAULT '',
    type INTEGER NOT NULL,
    value TEXT,
    check_map_key_only BOOLEAN NOT NULL DEFAULT FALSE,
    check_map_node BOOLEAN NOT NULL DEFAULT FALSE,
    evaluate_only_by_gates BOOLEAN NOT NULL DEFAULT FALSE,
    gate_any_relation BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS access_rule_gates (
    rule_uuid UUID NOT NULL REFERENCES access_rules(uuid) ON DELETE CASCADE,
    gate_uuid UUID NOT NULL REFERENCES access_rules(uuid) ON DELETE CASCADE,
    PRIMARY KEY (rule_uuid, gate_uuid)
);

CREATE TABLE IF NOT EXISTS access_rule_subrules (
    rule_uuid UUID NOT NULL REFERENCES access_rules(uuid) ON DELETE CASCADE,
    sub_uuid UUID NOT NULL REFERENCES access_rules(uuid) ON DELETE CASCADE,
    PRIMARY KEY (rule_uuid, sub_uuid)
);

CREATE TABLE IF NOT EXISTS privileges (
    uuid UUID PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT '',
    application_uuid UUID REFERENCES applications(uuid) ON DELETE SET NULL,
    query_template TEXT,
    query_scope TEXT
);

CREATE TABLE IF NOT EXISTS privilege_access_rules (
    privilege_uuid UUID NOT NULL REFERENCES privileges(uuid) ON DELETE CASCADE,
    rule_uuid UUID NOT NULL REFERENCES access_rules(uuid) ON DELETE CASCADE,
    PRIMARY KEY (privilege_uuid, rule_uuid)
);

CREATE TABLE IF NOT EXISTS roles (
    uuid UUID PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS role_privileges (
    role_uuid UUID NOT NULL REFERENCES roles(uuid) ON DELETE CASCADE,
    privilege_uuid UUID NOT NULL REFERENCES privileges(uuid) ON DELETE CASCADE,
    PRIMARY KEY (role_uuid, privilege_uuid)
);

CREATE TABLE IF NOT EXISTS users (
    uuid UUID PRIMARY KEY,
    subject TEXT NOT NULL UNIQUE,
    email TEXT NOT NULL DEFAULT '',
    active BOOLEAN NOT NULL DEFAULT TRUE,
    connection_uuid UUID REFERENCES connections(uuid),
    long_term_token TEXT,
    accepted_terms_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS user_roles (
    user_uuid UUID NOT NULL REFERENCES users(uuid) ON DELETE CASCADE,
    role_uuid UUID NOT NULL REFERENCES roles(uuid) ON DELETE CASCADE,
    PRIMARY KEY (user_uuid, role_uuid)
);
`

// EnsureSchema creates the tables if they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// readTx runs fn inside a single read-only repeatable-read transaction, so the
// whole role to privilege to access-rule fan-out is resolved from one
// snapshot.
func (s *Store) readTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// writeTx runs fn inside a read-write transaction.
func (s *Store) writeTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
