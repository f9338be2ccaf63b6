// Package errors provides structured error types shared by the graph
// engine, the persistence backends, and the HTTP API.
//
// The local acyclicity guard and the remote store must reject the same
// mutations for the same reasons. Giving both sides one vocabulary of
// machine-readable codes keeps that boundary honest: a remote Conflict
// response decodes to the same code the local guard would have produced,
// so the reconcile layer treats them as one tagged result rather than an
// ad-hoc exception.
//
// # Error Codes
//
// Codes group into validation failures (terminal, never retried),
// transient failures (retried with backoff), and no-op outcomes:
//   - SELF_DEPENDENCY, DUPLICATE_EDGE, CYCLE_REJECTED: validation
//   - PERSISTENCE_FAILURE: transient I/O
//   - STALE_ENTITY: target gone locally; treated as a no-op
//   - INVALID_GRAPH: layout invoked on a cyclic snapshot
//
// # Usage
//
//	err := errors.New(errors.ErrCodeCycleRejected, "edge %s→%s closes a cycle", from, to)
//	if errors.Is(err, errors.ErrCodeCycleRejected) {
//	    // roll back the optimistic mutation
//	}
//
//	// Wrap transport failures
//	err := errors.Wrap(errors.ErrCodePersistence, cause, "create dependency %s→%s", from, to)
package errors

import (
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Validation failures. Terminal for the attempt; never retried.
	ErrCodeSelfDependency Code = "SELF_DEPENDENCY"
	ErrCodeDuplicateEdge  Code = "DUPLICATE_EDGE"
	ErrCodeCycleRejected  Code = "CYCLE_REJECTED"
	ErrCodeInvalidInput   Code = "INVALID_INPUT"

	// Resource errors.
	ErrCodeNotFound    Code = "NOT_FOUND"
	ErrCodeStaleEntity Code = "STALE_ENTITY"

	// Layout errors.
	ErrCodeInvalidGraph Code = "INVALID_GRAPH"

	// Transport errors.
	ErrCodePersistence Code = "PERSISTENCE_FAILURE"
	ErrCodeTimeout     Code = "TIMEOUT"

	// Internal errors.
	ErrCodeInternal Code = "INTERNAL_ERROR"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether err carries the given error code.
// It unwraps the error chain looking for an *Error with a matching code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsValidation reports whether the error is a validation rejection
// (self dependency, duplicate edge, or cycle). Validation rejections are
// terminal: they trigger rollback, never a retry.
func IsValidation(err error) bool {
	switch GetCode(err) {
	case ErrCodeSelfDependency, ErrCodeDuplicateEdge, ErrCodeCycleRejected, ErrCodeInvalidInput:
		return true
	}
	return false
}

// IsTransient reports whether the error is worth retrying with backoff.
func IsTransient(err error) bool {
	switch GetCode(err) {
	case ErrCodePersistence, ErrCodeTimeout:
		return true
	}
	return false
}
