package node

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/agentnode/internal/metrics"
	"github.com/BaSui01/agentnode/internal/telemetry"
	"github.com/BaSui01/agentnode/types"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// WorkflowTracker wraps unit-of-work invocations so that each runs under a
// correctly derived ExecutionContext and the coordinator receives lifecycle
// events from which it reconstructs the workflow DAG.
//
// The ambient context rides on context.Context: a nested Execute sees the
// caller's ExecutionContext and derives a child from it, so invocations
// compose into a tree without explicit parameter threading. Because the
// callee's context value is scoped to the callee, the caller's ambient
// context is restored the moment the unit returns, on every path.
type WorkflowTracker struct {
	nodeID    string
	events    *EventDispatcher
	collector *metrics.Collector
	tracer    trace.Tracer
	logger    *zap.Logger
}

// NewWorkflowTracker creates a tracker that attributes executions to nodeID.
func NewWorkflowTracker(nodeID string, events *EventDispatcher, logger *zap.Logger) *WorkflowTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkflowTracker{
		nodeID: nodeID,
		events: events,
		tracer: telemetry.Tracer(),
		logger: logger.With(zap.String("component", "workflow_tracker")),
	}
}

// SetCollector attaches metrics.
func (t *WorkflowTracker) SetCollector(c *metrics.Collector) {
	t.collector = c
}

// Execute runs fn as the tracked unit unitName.
//
// The ambient execution context in ctx decides the shape of the call tree:
// absent, a fresh root context (new workflow) is created; present, a child
// is derived so the invocation joins the caller's workflow. A "running"
// event is emitted before fn starts and a "succeeded" or "failed" event
// after it returns; all events are best-effort and never affect the call.
//
// Errors from fn are returned unchanged after the failed event is emitted.
// Because fn is awaited before Execute returns, every event of every nested
// Execute call is emitted before this invocation's own completion event.
func (t *WorkflowTracker) Execute(ctx context.Context, unitName string, fn HandlerFunc, input map[string]any) (result any, err error) {
	var ec *types.ExecutionContext
	if parent, ok := types.ExecutionContextFrom(ctx); ok {
		ec = parent.Child(unitName)
	} else {
		ec = types.NewRootContext(unitName)
	}

	ctx, span := t.tracer.Start(ctx, "unit."+unitName, trace.WithAttributes(
		attribute.String("workflow.execution_id", ec.ExecutionID),
		attribute.String("workflow.id", ec.WorkflowID),
		attribute.String("workflow.parent_execution_id", ec.ParentExecutionID),
	))
	defer span.End()

	start := time.Now()
	t.emit(ec, types.StatusRunning, input, nil, "")

	defer func() {
		if r := recover(); r != nil {
			// The unit blew up instead of returning an error. Report the
			// failure, then let the panic continue to the caller.
			t.finish(span, ec, unitName, start, fmt.Sprintf("panic: %v", r))
			panic(r)
		}
	}()

	result, err = fn(types.WithExecutionContext(ctx, ec), input)
	if err != nil {
		t.finish(span, ec, unitName, start, err.Error())
		return nil, err
	}

	t.observe(unitName, string(types.StatusSucceeded), time.Since(start))
	span.SetStatus(codes.Ok, "")
	t.emit(ec, types.StatusSucceeded, nil, result, "")
	return result, nil
}

// Call names one unit invocation for a parallel fan-out.
type Call struct {
	Unit  string
	Fn    HandlerFunc
	Input map[string]any
}

// ExecuteParallel runs the calls concurrently as siblings: each derives its
// child context from the same ambient parent in ctx. The first error cancels
// the group's context and is returned; results are indexed like calls.
//
// The group is awaited before ExecuteParallel returns, so when a tracked
// parent fans out through it, every child's completion event precedes the
// parent's.
func (t *WorkflowTracker) ExecuteParallel(ctx context.Context, calls ...Call) ([]any, error) {
	results := make([]any, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			res, err := t.Execute(gctx, call.Unit, call.Fn, call.Input)
			if err != nil {
				return fmt.Errorf("%s: %w", call.Unit, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// finish records a failed execution on the span, metrics, and event stream.
func (t *WorkflowTracker) finish(span trace.Span, ec *types.ExecutionContext, unitName string, start time.Time, errMsg string) {
	t.observe(unitName, string(types.StatusFailed), time.Since(start))
	span.SetStatus(codes.Error, errMsg)
	t.emit(ec, types.StatusFailed, nil, nil, errMsg)
}

func (t *WorkflowTracker) emit(ec *types.ExecutionContext, status types.ExecutionStatus, input map[string]any, result any, errMsg string) {
	if t.events == nil {
		return
	}
	ev := types.NewWorkflowEvent(ec, t.nodeID, status)
	ev.InputData = input
	ev.Result = result
	ev.Error = errMsg
	t.events.Emit(ev)
}

func (t *WorkflowTracker) observe(unit, status string, duration time.Duration) {
	if t.collector != nil {
		t.collector.RecordUnitExecution(unit, status, duration)
	}
}
