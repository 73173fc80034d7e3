package database

import (
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrPermissionDenied  = errors.New("permission denied by database")
	ErrConflict          = errors.New("record already exists")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidTransition = errors.New("order status transition not allowed")
)

// MySQL server error numbers that signal the account may not perform the statement.
const (
	errTableAccessDenied  = 1142
	errColumnAccessDenied = 1143
	errDBAccessDenied     = 1044
	errAccessDenied       = 1045
	errDuplicateEntry     = 1062
)

// mapError translates driver errors into the package sentinels, wrapping the original
// so callers can still log the server message.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case errTableAccessDenied, errColumnAccessDenied, errDBAccessDenied, errAccessDenied:
			return &wrappedError{sentinel: ErrPermissionDenied, cause: err}
		case errDuplicateEntry:
			return &wrappedError{sentinel: ErrConflict, cause: err}
		}
	}
	return err
}

type wrappedError struct {
	sentinel error
	cause    error
}

func (e *wrappedError) Error() string {
	return e.sentinel.Error() + ": " + e.cause.Error()
}

func (e *wrappedError) Is(target error) bool {
	return target == e.sentinel
}

func (e *wrappedError) Unwrap() error {
	return e.cause
}
