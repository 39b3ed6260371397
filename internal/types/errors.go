package types

import (
	"errors"
	"fmt"
)

// ErrorCode is a typed string categorizing relay errors. Components compare
// codes, not error strings, when deciding whether a failure is retryable.
type ErrorCode string

const (
	// ErrCodeAckFailed means the interaction deferral did not reach the
	// platform in time. The event is abandoned; no relay is attempted.
	ErrCodeAckFailed ErrorCode = "ack_failed"

	// ErrCodeUnknownCommand means the normalizer could not map the command
	// name via the registry. Rejected before relay.
	ErrCodeUnknownCommand ErrorCode = "unknown_command"

	// ErrCodeTransport is a network-level delivery failure (connection
	// refused, timeout, DNS). Retryable.
	ErrCodeTransport ErrorCode = "transport_error"

	// ErrCodeEngineUnavailable means the circuit breaker is open and calls
	// to the Engine are being short-circuited. Not retried within a delivery.
	ErrCodeEngineUnavailable ErrorCode = "engine_unavailable"

	// ErrCodeConfigMissing and ErrCodeConfigInvalid surface startup
	// configuration failures. Both are fatal.
	ErrCodeConfigMissing ErrorCode = "config_missing"
	ErrCodeConfigInvalid ErrorCode = "config_invalid"

	// ErrCodeGatewayClosed means the platform socket closed and the session
	// could not be resumed or re-established.
	ErrCodeGatewayClosed ErrorCode = "gateway_closed"

	// ErrCodeInternalUnexpected is the fallback for errors that fit no other
	// category. Deliveries abort immediately on it.
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
)

// AppError is the structured error type used across package boundaries.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates an AppError with the given code, message, and optional
// underlying cause (nil is acceptable).
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// CodeOf extracts the ErrorCode from err if it is (or wraps) an AppError.
// Any other error maps to ErrCodeInternalUnexpected.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternalUnexpected
}
