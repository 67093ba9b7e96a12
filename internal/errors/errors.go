// Package errors provides the coded domain errors surfaced by the library cache.
//
// Usage:
//
//	// In the cache - return typed errors
//	if !field.IsManyValued() {
//	    return errors.Schemaf("%s is not a many-valued field", name)
//	}
//
//	// In callers - check with errors.Is
//	if errors.Is(err, errors.ErrNoSuchFormat) {
//	    fmt.Fprintln(os.Stderr, "format missing on disk")
//	}
//
//	// Or switch on the Code
//	var domainErr *errors.Error
//	if errors.As(err, &domainErr) {
//	    switch domainErr.Code {
//	    case errors.CodeQuery:
//	        // show the parse error to the user
//	    case errors.CodeConflict:
//	        // ask the user to close the file and retry
//	    }
//	}
package errors

import (
	"errors"
	"fmt"
)

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
	New    = errors.New
)

// Code represents a machine-readable error code.
type Code string

// Error codes used throughout the library.
const (
	CodeNotFound     Code = "NOT_FOUND"
	CodeNoSuchFormat Code = "NO_SUCH_FORMAT"
	CodeSchema       Code = "SCHEMA"
	CodeQuery        Code = "QUERY"
	CodeConflict     Code = "CONFLICT"
	CodeValidation   Code = "VALIDATION"
	CodeLock         Code = "LOCK"
	CodeInternal     Code = "INTERNAL"
)

// ExitCode maps an error code to a process exit status for the CLI.
func (c Code) ExitCode() int {
	switch c {
	case CodeNotFound, CodeNoSuchFormat:
		return 3
	case CodeQuery, CodeValidation, CodeSchema:
		return 2
	case CodeConflict:
		return 4
	default:
		return 1
	}
}

// Error is a domain error with a code, message, and optional details.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error  // unexported, for wrapping
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target matches this error.
// Matches if target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// WithDetails returns a new error with additional details.
func (e *Error) WithDetails(details any) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		cause:   e.cause,
	}
}

// WithCause wraps an underlying error.
func (e *Error) WithCause(err error) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		cause:   err,
	}
}

// Sentinel errors for use with errors.Is().
var (
	ErrNotFound     = &Error{Code: CodeNotFound, Message: "not found"}
	ErrNoSuchFormat = &Error{Code: CodeNoSuchFormat, Message: "no such format"}
	ErrSchema       = &Error{Code: CodeSchema, Message: "schema error"}
	ErrQuery        = &Error{Code: CodeQuery, Message: "invalid query"}
	ErrConflict     = &Error{Code: CodeConflict, Message: "conflict"}
	ErrValidation   = &Error{Code: CodeValidation, Message: "validation error"}
	ErrLockUpgrade  = &Error{Code: CodeLock, Message: "cannot acquire write lock while holding read lock"}
	ErrInternal     = &Error{Code: CodeInternal, Message: "internal error"}
)

// NotFound creates a not found error.
func NotFound(msg string) *Error {
	return &Error{Code: CodeNotFound, Message: msg}
}

// NotFoundf creates a not found error with formatted message.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// NoSuchFormatf creates a no such format error with formatted message.
func NoSuchFormatf(format string, args ...any) *Error {
	return &Error{Code: CodeNoSuchFormat, Message: fmt.Sprintf(format, args...)}
}

// Schemaf creates a schema error with formatted message.
func Schemaf(format string, args ...any) *Error {
	return &Error{Code: CodeSchema, Message: fmt.Sprintf(format, args...)}
}

// Query creates a query error.
func Query(msg string) *Error {
	return &Error{Code: CodeQuery, Message: msg}
}

// Queryf creates a query error with formatted message.
func Queryf(format string, args ...any) *Error {
	return &Error{Code: CodeQuery, Message: fmt.Sprintf(format, args...)}
}

// Conflictf creates a conflict error with formatted message.
func Conflictf(format string, args ...any) *Error {
	return &Error{Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

// Validation creates a validation error.
func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

// Validationf creates a validation error with formatted message.
func Validationf(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// ValidationWithDetails creates a validation error with details.
func ValidationWithDetails(msg string, details any) *Error {
	return &Error{Code: CodeValidation, Message: msg, Details: details}
}

// Internalf creates an internal error with formatted message.
func Internalf(format string, args ...any) *Error {
	return &Error{Code: CodeInternal, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an error with a code and message.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, cause: err}
}

// Wrapf wraps an error with a code and formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}
