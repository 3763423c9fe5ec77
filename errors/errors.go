// Package errors provides domain-specific error types and error handling utilities
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a specific error type
type ErrorCode int

const (
	// Common error codes
	ErrUnknown ErrorCode = iota
	ErrInvalidInput
	ErrSyntax
	ErrTimeout
	ErrCancelled

	// Configuration error codes
	ErrConfig
	ErrInstallValidation

	// Topology error codes
	ErrUnknownNode

	// Host error codes
	ErrHostUnreachable
	ErrHostTimeout

	// Process error codes
	ErrProcessStart
	ErrProcessStop

	// Invocation error codes
	ErrConcurrentInvocation
	ErrPlugin
)

// Error represents a domain-specific error with context
type Error struct {
	// Code identifies the error type
	Code ErrorCode

	// Message provides human-readable error details
	Message string

	// Op describes the operation that failed
	Op string

	// Cause is the underlying error that triggered this one
	Cause error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		switch {
		case e.Op != "" && e.Message != "":
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Cause)
		case e.Op != "":
			return fmt.Sprintf("%s: %v", e.Op, e.Cause)
		default:
			return fmt.Sprintf("%s: %v", e.Message, e.Cause)
		}
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap implements the errors.Unwrap interface
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements the errors.Is interface
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error
func New(code ErrorCode, message string) error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new Error with a formatted message
func Newf(code ErrorCode, format string, args ...interface{}) error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, code ErrorCode, message string) error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// WithOp adds an operation name to the error
func WithOp(err error, op string) error {
	if err == nil {
		return nil
	}

	e, ok := err.(*Error)
	if !ok {
		return &Error{
			Code:  ErrUnknown,
			Op:    op,
			Cause: err,
		}
	}

	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Op:      op,
		Cause:   e.Cause,
	}
}

// GetCode returns the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrUnknown
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrUnknown
}

// IsTimeout returns true if the error is a timeout error
func IsTimeout(err error) bool {
	code := GetCode(err)
	return code == ErrTimeout || code == ErrHostTimeout
}

// IsUnreachable returns true if the error means the host could not be contacted
func IsUnreachable(err error) bool {
	code := GetCode(err)
	return code == ErrHostUnreachable || code == ErrHostTimeout
}

// IsFatal returns true if the error invalidates the whole invocation rather
// than a single host or node
func IsFatal(err error) bool {
	switch GetCode(err) {
	case ErrConfig, ErrSyntax, ErrUnknownNode, ErrInstallValidation, ErrConcurrentInvocation:
		return true
	}
	return false
}

// IsRetryable returns true if the error can be retried
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	code := GetCode(err)
	return code == ErrTimeout ||
		code == ErrHostTimeout ||
		code == ErrHostUnreachable
}
