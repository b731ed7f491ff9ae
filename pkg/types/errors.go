package types

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated is returned when a session token is missing, unknown or expired
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden is returned when a decision or the editor gate denies an operation
	ErrForbidden = errors.New("forbidden")

	// ErrPolicyImmutable is returned when rules of a non-draft policy are changed
	ErrPolicyImmutable = errors.New("policy is immutable")

	// ErrNotFound is returned when a referenced record does not exist
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write conflicts with current state
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput is returned for malformed requests
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidVariant is returned when a string is not a known effect, status or subject type
	ErrInvalidVariant = errors.New("invalid variant")

	// ErrStorage matches any StorageError via errors.Is
	ErrStorage = errors.New("storage failure")
)

// StorageError wraps an underlying persistence failure
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrStorage) true for every StorageError
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// NewStorageError wraps err, or returns nil when err is nil
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
