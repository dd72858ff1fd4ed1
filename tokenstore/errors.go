package tokenstore

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrInvalidDriver = errors.New("invalid token store driver")
	ErrInvalidConfig = errors.New("invalid token store configuration")

	// ErrMissingEncryptionKey indicates a durable backend was configured
	// without an at-rest encryption key.
	ErrMissingEncryptionKey = errors.New("durable token store requires an encryption key")
)

// StorageError reports a backend failure. Missing keys are not storage
// errors; they are (nil, nil) results.
type StorageError struct {
	Op      string // operation: get, set, update, delete, list
	Backend string // driver name: memory, redis, sql
	Err     error  // underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("token store %s failed [%s]: %v", e.Op, e.Backend, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op, backend string, err error) *StorageError {
	return &StorageError{Op: op, Backend: backend, Err: err}
}
