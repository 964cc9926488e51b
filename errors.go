package ludari

import (
	"errors"
	"fmt"
)

var (
	// Configuration errors.
	ErrNoStorage = errors.New("ludari: no storage configured")
	ErrNoLogger  = errors.New("ludari: no logger configured")

	// Lifecycle errors.
	ErrNotInitialized = errors.New("ludari: manager not initialized")
	ErrDestroyed      = errors.New("ludari: manager destroyed")

	// Scheduling errors.
	ErrQueryNotSupported = errors.New("ludari: storage does not support query execution")
)

// ErrorCode classifies a StorageError.
type ErrorCode string

// Storage error codes.
const (
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeConflict         ErrorCode = "CONFLICT"
	CodeInvalidReference ErrorCode = "INVALID_REFERENCE"
	CodeNotSupported     ErrorCode = "NOT_SUPPORTED"
)

// StorageError is the typed error surfaced by storage implementations.
// Entity and ID are set for NOT_FOUND errors; Message carries the detail
// for the rest.
type StorageError struct {
	Code    ErrorCode
	Entity  string
	ID      string
	Message string
}

func (e *StorageError) Error() string {
	if e.Code == CodeNotFound && e.Entity != "" {
		return fmt.Sprintf("ludari: %s %q not found", e.Entity, e.ID)
	}
	return fmt.Sprintf("ludari: %s: %s", e.Code, e.Message)
}

// NewNotFound creates a NOT_FOUND storage error for the given entity and id.
func NewNotFound(entity, id string) *StorageError {
	return &StorageError{Code: CodeNotFound, Entity: entity, ID: id}
}

// NewConflict creates a CONFLICT storage error.
func NewConflict(message string) *StorageError {
	return &StorageError{Code: CodeConflict, Message: message}
}

// NewStorageError creates a storage error with an explicit code.
func NewStorageError(code ErrorCode, message string) *StorageError {
	return &StorageError{Code: code, Message: message}
}

// IsNotFound reports whether err is a NOT_FOUND storage error.
func IsNotFound(err error) bool {
	var se *StorageError
	return errors.As(err, &se) && se.Code == CodeNotFound
}

// IsConflict reports whether err is a CONFLICT storage error.
func IsConflict(err error) bool {
	var se *StorageError
	return errors.As(err, &se) && se.Code == CodeConflict
}
