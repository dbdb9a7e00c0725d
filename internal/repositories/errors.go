package repositories

import "fmt"

// StoreErrorCode enumerates repository error causes shared across stores.
type StoreErrorCode string

const (
	// StoreErrorUnknown represents an unspecified failure.
	StoreErrorUnknown StoreErrorCode = "store_unknown"
	// StoreErrorNotFound indicates the requested row does not exist.
	StoreErrorNotFound StoreErrorCode = "store_not_found"
	// StoreErrorConflict indicates a uniqueness or concurrency violation.
	StoreErrorConflict StoreErrorCode = "store_conflict"
	// StoreErrorUnavailable indicates the database could not be reached.
	StoreErrorUnavailable StoreErrorCode = "store_unavailable"
)

// StoreError wraps persistence failures with machine readable codes.
type StoreError struct {
	Op      string
	Code    StoreErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether the error describes a missing row.
func (e *StoreError) IsNotFound() bool { return e != nil && e.Code == StoreErrorNotFound }

// IsConflict reports whether the error describes a uniqueness or concurrency violation.
func (e *StoreError) IsConflict() bool { return e != nil && e.Code == StoreErrorConflict }

// IsUnavailable reports whether the database could not be reached.
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Code == StoreErrorUnavailable }

// NewStoreError constructs a typed store error.
func NewStoreError(op string, code StoreErrorCode, message string, err error) *StoreError {
	if message == "" {
		message = string(code)
	}
	return &StoreError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
