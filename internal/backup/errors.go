// Package backup snapshots the live weights of a model type before every
// training attempt. Snapshots are append-only: a name is never reused and an
// existing file is never overwritten.
package backup

import (
	"errors"
	"fmt"
)

// ErrorCode represents specific backup error types
type ErrorCode int

const (
	// ErrUnknown represents an unknown error
	ErrUnknown ErrorCode = iota
	// ErrConfig represents a configuration error
	ErrConfig
	// ErrIO represents an I/O error
	ErrIO
	// ErrNotFound represents a missing resource
	ErrNotFound
	// ErrCorruption represents data corruption
	ErrCorruption
	// ErrInsufficientSpace represents insufficient storage space
	ErrInsufficientSpace
	// ErrCanceled represents a canceled operation
	ErrCanceled
)

// Error represents a backup operation error
type Error struct {
	Code    ErrorCode // Error classification
	Message string    // Human-readable error message
	Err     error     // Original error if any
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new backup error
func NewError(code ErrorCode, message string, err error) error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsErrorCode checks if an error is a backup error with the specified code
func IsErrorCode(err error, code ErrorCode) bool {
	var backupErr *Error
	if err == nil {
		return false
	}
	if errors.As(err, &backupErr) {
		return backupErr.Code == code
	}
	return false
}

// IsNotFoundError checks if an error reports missing live weights
func IsNotFoundError(err error) bool {
	return IsErrorCode(err, ErrNotFound)
}

// IsInsufficientSpaceError checks if an error is an insufficient space error
func IsInsufficientSpaceError(err error) bool {
	return IsErrorCode(err, ErrInsufficientSpace)
}
