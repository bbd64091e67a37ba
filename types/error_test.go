package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrCoordinatorUnreachable, "coordinator unreachable").
		WithCause(root).
		WithHTTPStatus(503).
		WithRetryable(true).
		WithTarget("worker.summarize")

	if GetErrorCode(err) != ErrCoordinatorUnreachable {
		t.Fatalf("expected code %s, got %s", ErrCoordinatorUnreachable, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestError_WrappedDetection(t *testing.T) {
	t.Parallel()

	inner := NewTransportError("register failed", errors.New("dial tcp: refused"))
	wrapped := fmt.Errorf("start: %w", inner)

	if !IsRetryable(wrapped) {
		t.Fatalf("retryable flag must survive wrapping")
	}
	if !IsErrorCode(wrapped, ErrCoordinatorUnreachable) {
		t.Fatalf("code must survive wrapping, got %s", GetErrorCode(wrapped))
	}
}

func TestError_SubmissionBuilder(t *testing.T) {
	t.Parallel()

	err := NewSubmissionError("worker.extract", errors.New("502"))

	if GetErrorCode(err) != ErrSubmissionFailed {
		t.Fatalf("unexpected code %s", GetErrorCode(err))
	}
	if IsRetryable(err) {
		t.Fatalf("submission failures are surfaced, not retried silently")
	}
	if err.Target != "worker.extract" {
		t.Fatalf("target not carried: %+v", err)
	}
}
