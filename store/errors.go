package store

import (
	"errors"
	"fmt"

	"github.com/goliatone/go-record-service/record"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Postgres SQLSTATE codes for integrity violations.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgNotNullViolation    = "23502"
	pgCheckViolation      = "23514"
)

// classify turns driver integrity errors into *record.IntegrityError and wraps
// everything else with the operation name.
func classify(op string, err error) error {
	if kind, ok := integrityKind(err); ok {
		return &record.IntegrityError{Op: op, Kind: kind, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func integrityKind(err error) (record.IntegrityKind, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pgUniqueViolation:
			return record.IntegrityUnique, true
		case pgForeignKeyViolation:
			return record.IntegrityForeignKey, true
		case pgNotNullViolation:
			return record.IntegrityNotNull, true
		case pgCheckViolation:
			return record.IntegrityCheck, true
		}
		return "", false
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) && liteErr.Code == sqlite3.ErrConstraint {
		switch liteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return record.IntegrityUnique, true
		case sqlite3.ErrConstraintForeignKey:
			return record.IntegrityForeignKey, true
		case sqlite3.ErrConstraintNotNull:
			return record.IntegrityNotNull, true
		case sqlite3.ErrConstraintCheck:
			return record.IntegrityCheck, true
		}
	}
	return "", false
}
