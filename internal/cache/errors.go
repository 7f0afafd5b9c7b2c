package cache

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("resource not cached")
	ErrInvalidKey = errors.New("invalid cache key")
)

// StorageError represents a filesystem failure while locking, writing, reading or
// removing a stored resource.
type StorageError struct {
	Op   string // The operation that failed (e.g., "write", "rename")
	Path string // The file or directory involved
	Err  error  // Underlying error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s of '%s': %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
