package record

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the target record or owner does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("conflict")
	// ErrInvalid is returned for rejected input, including dangling owner references.
	ErrInvalid = errors.New("invalid")
)

// IntegrityKind classifies a Store rejection.
type IntegrityKind string

const (
	IntegrityUnique     IntegrityKind = "unique"
	IntegrityForeignKey IntegrityKind = "foreign_key"
	IntegrityNotNull    IntegrityKind = "not_null"
	IntegrityCheck      IntegrityKind = "check"
)

// IntegrityError is a typed, recoverable Store rejection. It is never retried.
type IntegrityError struct {
	Op   string
	Kind IntegrityKind
	Err  error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: %s violation: %v", e.Op, e.Kind, e.Err)
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

// Is maps unique violations to ErrConflict and everything else to ErrInvalid.
func (e *IntegrityError) Is(target error) bool {
	switch target {
	case ErrConflict:
		return e.Kind == IntegrityUnique
	case ErrInvalid:
		return e.Kind != IntegrityUnique
	}
	return false
}

// ValidationError wraps field validation failures.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}
