package store

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// ErrNotFound indicates the referenced row does not exist (an update or
// delete affected zero rows, or a lookup returned nothing where a row was
// required).
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a uniqueness or integrity violation, or an update
// that unexpectedly affected more than one row.
var ErrConflict = errors.New("conflict")

// assertOneRowAffected maps the affected-row count of an update/delete to
// the error taxonomy: zero rows is not-found, more than one is a conflict.
// Never silently ignored.
func assertOneRowAffected(op string, n int64) error {
	switch {
	case n == 1:
		return nil
	case n == 0:
		return fmt.Errorf("%s: expected 1 row affected, got 0: %w", op, ErrNotFound)
	default:
		return fmt.Errorf("%s: expected 1 row affected, got %d: %w", op, n, ErrConflict)
	}
}

// wrapExecError translates driver-level constraint violations into
// ErrConflict so callers never have to inspect sqlite error codes.
func wrapExecError(op string, err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%s: %v: %w", op, err, ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}
