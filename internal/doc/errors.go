package doc

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the document API.
var (
	// ErrInvalidChanges indicates a missing or malformed change envelope.
	ErrInvalidChanges = errors.New("invalid changes object")

	// ErrNotSnapshot indicates a delta envelope where a full snapshot is required.
	ErrNotSnapshot = errors.New("changes are a delta, a full snapshot is required")

	// ErrNotObject indicates document data that is not a JSON object.
	ErrNotObject = errors.New("document root must be an object")

	// ErrReservedKey indicates a write to the key reserved for node state.
	ErrReservedKey = errors.New("key is reserved for node state")
)

// PathErrorCode categorizes navigation failures.
type PathErrorCode string

const (
	// ErrCodeNotFound indicates a path step that does not exist.
	ErrCodeNotFound PathErrorCode = "NOT_FOUND"

	// ErrCodeNotContainer indicates a step through a primitive value.
	ErrCodeNotContainer PathErrorCode = "NOT_CONTAINER"

	// ErrCodeKindMismatch indicates a field step on an array or an index step on an object.
	ErrCodeKindMismatch PathErrorCode = "KIND_MISMATCH"

	// ErrCodeOutOfRange indicates an array index outside the array.
	ErrCodeOutOfRange PathErrorCode = "OUT_OF_RANGE"

	// ErrCodeNotNode indicates an operation that needs an object or array.
	ErrCodeNotNode PathErrorCode = "NOT_NODE"
)

// PathError describes a failed operation on a document path.
type PathError struct {
	Op   string
	Path string
	Code PathErrorCode
	// Detail is a human-readable description.
	Detail string
}

// Error implements the error interface.
func (e *PathError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %q: %s: %s", e.Op, e.Path, e.Code, e.Detail)
	}
	return fmt.Sprintf("%s %q: %s", e.Op, e.Path, e.Code)
}

// IsPathError reports whether err is a PathError with the given code.
// Uses errors.As to handle wrapped errors.
func IsPathError(err error, code PathErrorCode) bool {
	var pe *PathError
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}
