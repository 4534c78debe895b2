package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// InvalidParameter indicates bad caller input
	InvalidParameter ErrorCode = "INVALID_PARAMETER"
	// Unauthorized indicates a missing or invalid bearer credential
	Unauthorized ErrorCode = "UNAUTHORIZED"
	// NotFound indicates a referenced id does not exist
	NotFound ErrorCode = "NOT_FOUND"
	// MethodNotFound indicates an unknown operation name
	MethodNotFound ErrorCode = "METHOD_NOT_FOUND"
	// TransientUnavailable indicates the backing store is unreachable or timed out
	TransientUnavailable ErrorCode = "TRANSIENT_UNAVAILABLE"
	// RateLimited indicates the caller exceeded its request budget
	RateLimited ErrorCode = "RATE_LIMITED"
	// InvalidFilter indicates the store rejected a filter expression
	InvalidFilter ErrorCode = "INVALID_FILTER"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// Retryable reports whether a caller may safely retry after this code.
func (c ErrorCode) Retryable() bool {
	return c == TransientUnavailable || c == RateLimited
}

// PeripheralError represents a failure with a stable code and a caller-safe message
type PeripheralError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Field   string      `json:"field,omitempty"`
	Details interface{} `json:"details,omitempty"`
	cause   error       // Underlying error (not exported to JSON)
}

// New creates a new PeripheralError
func New(code ErrorCode, message string, cause error) *PeripheralError {
	return &PeripheralError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Error implements the error interface
func (e *PeripheralError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *PeripheralError) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *PeripheralError) WithDetails(details interface{}) *PeripheralError {
	e.Details = details
	return e
}

// NewInvalidParameterError reports a validation failure on a single field.
func NewInvalidParameterError(field, reason string) *PeripheralError {
	msg := fmt.Sprintf("invalid parameter %q", field)
	if reason != "" {
		msg += ": " + reason
	}
	return &PeripheralError{Code: InvalidParameter, Message: msg, Field: field}
}

// NewUnauthorizedError is deliberately uniform: it never says which check failed.
func NewUnauthorizedError() *PeripheralError {
	return &PeripheralError{Code: Unauthorized, Message: "missing or invalid bearer token"}
}

// NewNotFoundError reports a missing resource of the given kind.
func NewNotFoundError(kind, id string) *PeripheralError {
	return &PeripheralError{
		Code:    NotFound,
		Message: fmt.Sprintf("%s %s not found", kind, id),
	}
}

// NewMethodNotFoundError reports an operation name missing from the catalogue.
func NewMethodNotFoundError(name string) *PeripheralError {
	return &PeripheralError{
		Code:    MethodNotFound,
		Message: fmt.Sprintf("method not found: %s", name),
	}
}

// NewTransientError wraps a connectivity failure with the backing store.
func NewTransientError(op string, cause error) *PeripheralError {
	return &PeripheralError{
		Code:    TransientUnavailable,
		Message: "backing store unavailable during " + op,
		cause:   cause,
	}
}

// NewRateLimitedError reports an exhausted request budget.
func NewRateLimitedError(retryAfterSeconds int) *PeripheralError {
	return (&PeripheralError{
		Code:    RateLimited,
		Message: "rate limit exceeded",
	}).WithDetails(map[string]int{"retryAfter": retryAfterSeconds})
}

// NewInvalidFilterError reports a filter the store refused.
func NewInvalidFilterError(message string, cause error) *PeripheralError {
	return &PeripheralError{Code: InvalidFilter, Message: message, cause: cause}
}

// NewInternalError wraps an unexpected failure.
func NewInternalError(message string, cause error) *PeripheralError {
	return &PeripheralError{Code: InternalError, Message: message, cause: cause}
}

// As extracts a *PeripheralError from an error chain.
func As(err error) (*PeripheralError, bool) {
	var pe *PeripheralError
	if stderrors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// CodeOf returns the code of err, or InternalError for anything outside the taxonomy.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if pe, ok := As(err); ok {
		return pe.Code
	}
	return InternalError
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}
