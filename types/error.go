package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the runtime.
type ErrorCode string

// Transport error codes
const (
	ErrConnectionFailed       ErrorCode = "CONNECTION_FAILED"
	ErrHeartbeatFailed        ErrorCode = "HEARTBEAT_FAILED"
	ErrCoordinatorUnreachable ErrorCode = "COORDINATOR_UNREACHABLE"
	ErrTimeout                ErrorCode = "TIMEOUT"
)

// Execution error codes
const (
	ErrSubmissionFailed   ErrorCode = "SUBMISSION_FAILED"
	ErrExecutionNotFound  ErrorCode = "EXECUTION_NOT_FOUND"
	ErrExecutionFailed    ErrorCode = "EXECUTION_FAILED"
	ErrCancellationDenied ErrorCode = "CANCELLATION_DENIED"
	ErrUnitNotFound       ErrorCode = "UNIT_NOT_FOUND"
	ErrWaitTimeout        ErrorCode = "WAIT_TIMEOUT"
)

// Runtime error codes
const (
	ErrInvalidConfig      ErrorCode = "INVALID_CONFIG"
	ErrNodeStopped        ErrorCode = "NODE_STOPPED"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Target     string    `json:"target,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithTarget sets the dispatch target the error relates to.
func (e *Error) WithTarget(target string) *Error {
	e.Target = target
	return e
}

// NewTransportError builds the retryable error used for coordinator
// reachability failures. Timeouts go through here too: the connection state
// machine makes no distinction between them and other transport faults.
func NewTransportError(message string, cause error) *Error {
	return NewError(ErrCoordinatorUnreachable, message).
		WithCause(cause).
		WithRetryable(true)
}

// NewSubmissionError builds the non-retryable error surfaced to callers when
// dispatching an execution fails.
func NewSubmissionError(target string, cause error) *Error {
	return NewError(ErrSubmissionFailed, "execution submission failed").
		WithTarget(target).
		WithCause(cause)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code anywhere in its
// chain.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
