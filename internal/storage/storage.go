// Package storage holds the pgx repositories. Callers own transactions: any
// method taking a pgx.Tx runs inside the caller's transaction, everything else
// uses the pool directly.
package storage

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned by lookups that miss without touching the database.
// It satisfies IsNotFound like a pgx no-rows result does.
var ErrNotFound = pgx.ErrNoRows

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// IsConflict reports a unique or exclusion constraint violation.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" || pgErr.Code == "23P01"
}
