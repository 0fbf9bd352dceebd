package repositories

import "fmt"

// StoreErrorCode enumerates backend-neutral persistence failure causes.
type StoreErrorCode string

const (
	// StoreErrorNotFound indicates the requested document does not exist.
	StoreErrorNotFound StoreErrorCode = "store_not_found"
	// StoreErrorConflict indicates a create collided with an existing document.
	StoreErrorConflict StoreErrorCode = "store_conflict"
	// StoreErrorUnavailable indicates the backend could not serve the request.
	StoreErrorUnavailable StoreErrorCode = "store_unavailable"
)

// StoreError is the RepositoryError used by backends that do not surface gRPC statuses.
type StoreError struct {
	Op      string
	Code    StoreErrorCode
	Message string
	Err     error
}

var _ RepositoryError = (*StoreError)(nil)

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

// IsNotFound implements RepositoryError.
func (e *StoreError) IsNotFound() bool { return e != nil && e.Code == StoreErrorNotFound }

// IsConflict implements RepositoryError.
func (e *StoreError) IsConflict() bool { return e != nil && e.Code == StoreErrorConflict }

// IsUnavailable implements RepositoryError.
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Code == StoreErrorUnavailable }

// NewStoreError constructs a typed store error.
func NewStoreError(op string, code StoreErrorCode, message string, err error) *StoreError {
	if message == "" {
		message = string(code)
	}
	return &StoreError{Op: op, Code: code, Message: message, Err: err}
}

// NotFound builds a not-found error for the named collection and id.
func NotFound(op, collection, id string) *StoreError {
	return NewStoreError(op, StoreErrorNotFound, fmt.Sprintf("%s %q not found", collection, id), nil)
}

// Conflict builds a conflict error for the named collection and id.
func Conflict(op, collection, id string) *StoreError {
	return NewStoreError(op, StoreErrorConflict, fmt.Sprintf("%s %q already exists", collection, id), nil)
}
