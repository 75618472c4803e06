package storage

import (
	"errors"
	"fmt"

	"github.com/DukeRupert/eightd/internal/domain"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrNotFound is returned when a requested object doesn't exist.
	ErrNotFound = errors.New("object not found")

	// ErrKeyExists is returned when attempting to create an object at a key
	// that already exists (when overwrite is disabled).
	ErrKeyExists = errors.New("object already exists at this key")

	// ErrInvalidKey is returned when a storage key is invalid or contains
	// forbidden characters (e.g., path traversal attempts like "../").
	ErrInvalidKey = errors.New("invalid storage key")

	// ErrTooLarge is returned when an object exceeds the maximum allowed size.
	ErrTooLarge = errors.New("object exceeds maximum size")

	// ErrAccessDenied is returned when the storage provider denies access
	// to an object (insufficient permissions, ACL restrictions, etc.).
	ErrAccessDenied = errors.New("access denied")
)

// =============================================================================
// Structured Error Type
// =============================================================================

// StorageError wraps storage operation errors with additional context.
// It supports errors.Is() against the sentinel errors above.
type StorageError struct {
	// Op is the operation that failed (e.g., "Put", "Get", "List").
	Op string

	// Key is the storage key or prefix involved in the operation.
	Key string

	// Err is the underlying error that occurred.
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for use with errors.Is() and errors.As().
func (e *StorageError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Helper Functions
// =============================================================================

// IsNotFound returns true if the error indicates an object was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ToDomain converts a storage error into an application error with the
// matching code, so handlers can map it to an HTTP status.
func ToDomain(err error, op string) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return domain.Wrap(err, domain.ENOTFOUND, op, "archived file not found")
	case errors.Is(err, ErrInvalidKey):
		return domain.Wrap(err, domain.EINVALID, op, "invalid archive key")
	case errors.Is(err, ErrKeyExists):
		return domain.Wrap(err, domain.ECONFLICT, op, "archived file already exists")
	case errors.Is(err, ErrTooLarge):
		return domain.Wrap(err, domain.ETOOLARGE, op, "archived file is too large")
	default:
		return domain.Internal(err, op, "archive storage failed")
	}
}
