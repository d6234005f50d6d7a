package repository

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// DBError carries the store operation that failed.
type DBError struct {
	Op  string
	Err error
}

func (e *DBError) Error() string {
	return fmt.Sprintf("database error in %s: %v", e.Op, e.Err)
}

func (e *DBError) Unwrap() error { return e.Err }

// WrapDBError wraps err with op, or returns nil.
func WrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &DBError{Op: op, Err: err}
}

const pgUndefinedTable = "42P01"

// isUndefinedTable reports whether err is PostgreSQL's undefined_table error.
func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUndefinedTable
}
