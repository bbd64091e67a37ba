package types

import (
	"testing"
	"time"
)

func TestExecutionStatusIsTerminal(t *testing.T) {
	t.Parallel()

	terminal := []ExecutionStatus{StatusSucceeded, StatusFailed, StatusCancelled, StatusTimeout}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}

	for _, s := range []ExecutionStatus{StatusQueued, StatusRunning} {
		if s.IsTerminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}

func TestExecutionRecordClone(t *testing.T) {
	t.Parallel()

	rec := &ExecutionRecord{
		ExecutionID: "e1",
		Target:      "worker.summarize",
		InputData:   map[string]any{"x": 1},
		Status:      StatusQueued,
		SubmittedAt: time.Now(),
	}

	cp := rec.Clone()
	cp.InputData["x"] = 99
	cp.Status = StatusRunning

	if rec.InputData["x"] != 1 {
		t.Fatalf("clone shares InputData with original")
	}
	if rec.Status != StatusQueued {
		t.Fatalf("clone shares status with original")
	}
}

func TestNewWorkflowEvent(t *testing.T) {
	t.Parallel()

	parent := NewRootContext("parent")
	child := parent.Child("child")

	ev := NewWorkflowEvent(child, "node-1", StatusRunning)

	if ev.ExecutionID != child.ExecutionID ||
		ev.WorkflowID != child.WorkflowID ||
		ev.RunID != child.RunID ||
		ev.UnitName != "child" ||
		ev.AgentNodeID != "node-1" ||
		ev.Status != StatusRunning ||
		ev.ParentExecutionID != parent.ExecutionID ||
		ev.ParentWorkflowID != parent.WorkflowID {
		t.Fatalf("event fields mismatch: %+v", ev)
	}
	if ev.Timestamp.IsZero() {
		t.Fatalf("event timestamp not set")
	}
}
