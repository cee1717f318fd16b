package database

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by all store implementations.
var (
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrInvalidVector     = errors.New("invalid embedding vector")
	ErrInvalidValue      = errors.New("invalid value")
	ErrNotFound          = errors.New("not found")
	ErrUnknownIdentity   = errors.New("unknown identity")
	ErrInactiveIdentity  = errors.New("identity is not active")
	ErrDuplicateRef      = errors.New("external reference already in use")
)

// ValidationError reports bad caller input. It is never retried.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// TransientError wraps a failure of the backing store for a single operation.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError unless it is nil or already classified.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsValidation(err) || IsTransient(err) {
		return err
	}
	return &TransientError{Op: op, Err: err}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsTransient reports whether err is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// DimensionError builds the ValidationError returned for a vector of the wrong length.
func DimensionError(want, got int) error {
	return &ValidationError{Field: "vector", Err: fmt.Errorf("%w: want %d, got %d", ErrDimensionMismatch, want, got)}
}
