package db

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/openmedgrid/authz-server/internal/service"
)

const uniqueViolation = "23505"

// mapError translates driver errors onto the repository error vocabulary.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return service.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return service.ErrDuplicate
	}
	return err
}
