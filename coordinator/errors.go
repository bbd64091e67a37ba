package coordinator

import "errors"

// Transport errors. These are always recoverable: callers fold them into
// their own state machines instead of treating them as terminal.
var (
	// ErrCoordinatorUnavailable indicates the coordinator could not be reached
	// or answered with a server-side failure.
	ErrCoordinatorUnavailable = errors.New("coordinator: unavailable")
	// ErrUnauthorized indicates the coordinator rejected the node's token.
	ErrUnauthorized = errors.New("coordinator: unauthorized")
	// ErrInvalidResponse indicates the coordinator answered with a body this
	// client cannot interpret.
	ErrInvalidResponse = errors.New("coordinator: invalid response")
)

// Operation errors.
var (
	// ErrRegistrationRejected indicates the coordinator refused to register
	// this node.
	ErrRegistrationRejected = errors.New("coordinator: registration rejected")
	// ErrExecutionNotFound indicates the coordinator does not know the
	// execution id.
	ErrExecutionNotFound = errors.New("coordinator: execution not found")
	// ErrCancellationRejected indicates the coordinator declined to cancel,
	// typically because the execution already reached a terminal status.
	ErrCancellationRejected = errors.New("coordinator: cancellation rejected")
)

// Stream errors.
var (
	// ErrStreamClosed indicates the status stream was closed by the caller.
	ErrStreamClosed = errors.New("coordinator: stream closed")
)
