package types

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// Correlation headers carried on cross-node invocations. A coordinator (or a
// peer node) that dispatches work to this node sets them on the request; the
// receiving node rebuilds the ExecutionContext from them so the remote call
// chain continues as one workflow.
const (
	HeaderExecutionID       = "X-Execution-ID"
	HeaderWorkflowID        = "X-Workflow-ID"
	HeaderRunID             = "X-Run-ID"
	HeaderParentExecutionID = "X-Parent-Execution-ID"
	HeaderParentWorkflowID  = "X-Parent-Workflow-ID"
	HeaderSessionID         = "X-Session-ID"
	HeaderActorID           = "X-Actor-ID"
)

// ExecutionContext identifies one unit-of-work invocation and its position in
// the workflow call tree. Values are immutable by convention: derivation
// allocates a new context instead of mutating the parent.
type ExecutionContext struct {
	ExecutionID       string `json:"execution_id"`
	WorkflowID        string `json:"workflow_id"`
	RunID             string `json:"run_id,omitempty"`
	UnitName          string `json:"unit_name,omitempty"`
	ParentExecutionID string `json:"parent_execution_id,omitempty"`
	ParentWorkflowID  string `json:"parent_workflow_id,omitempty"`
	SessionID         string `json:"session_id,omitempty"`
	ActorID           string `json:"actor_id,omitempty"`
}

// ContextOption customizes a root context at creation time.
type ContextOption func(*ExecutionContext)

// WithRunID seeds the run ID instead of defaulting it to the workflow ID.
func WithRunID(runID string) ContextOption {
	return func(ec *ExecutionContext) { ec.RunID = runID }
}

// WithSessionID sets the session correlation field.
func WithSessionID(sessionID string) ContextOption {
	return func(ec *ExecutionContext) { ec.SessionID = sessionID }
}

// WithActorID sets the actor correlation field.
func WithActorID(actorID string) ContextOption {
	return func(ec *ExecutionContext) { ec.ActorID = actorID }
}

// NewRootContext creates the context for the first execution of a workflow.
// A root context has no parent; run_id defaults to the workflow ID so a bare
// chain still groups under one id.
func NewRootContext(unitName string, opts ...ContextOption) *ExecutionContext {
	ec := &ExecutionContext{
		ExecutionID: uuid.NewString(),
		WorkflowID:  uuid.NewString(),
		UnitName:    unitName,
	}
	for _, opt := range opts {
		opt(ec)
	}
	if ec.RunID == "" {
		ec.RunID = ec.WorkflowID
	}
	return ec
}

// Child derives the context for a nested invocation. The whole chain shares
// one workflow_id; only execution_id is freshly generated.
func (ec *ExecutionContext) Child(unitName string) *ExecutionContext {
	return &ExecutionContext{
		ExecutionID:       uuid.NewString(),
		WorkflowID:        ec.WorkflowID,
		RunID:             ec.RunID,
		UnitName:          unitName,
		ParentExecutionID: ec.ExecutionID,
		ParentWorkflowID:  ec.WorkflowID,
		SessionID:         ec.SessionID,
		ActorID:           ec.ActorID,
	}
}

// IsRoot reports whether the context sits at the top of its call tree.
func (ec *ExecutionContext) IsRoot() bool {
	return ec.ParentExecutionID == ""
}

// Clone returns a copy callers may hold without aliasing the original.
func (ec *ExecutionContext) Clone() *ExecutionContext {
	cp := *ec
	return &cp
}

// ContextFromHeaders rebuilds an ExecutionContext from inbound correlation
// headers. Returns false when no X-Execution-ID is present, in which case the
// invocation starts a fresh workflow.
func ContextFromHeaders(h http.Header) (*ExecutionContext, bool) {
	executionID := h.Get(HeaderExecutionID)
	if executionID == "" {
		return nil, false
	}
	ec := &ExecutionContext{
		ExecutionID:       executionID,
		WorkflowID:        h.Get(HeaderWorkflowID),
		RunID:             h.Get(HeaderRunID),
		ParentExecutionID: h.Get(HeaderParentExecutionID),
		ParentWorkflowID:  h.Get(HeaderParentWorkflowID),
		SessionID:         h.Get(HeaderSessionID),
		ActorID:           h.Get(HeaderActorID),
	}
	if ec.WorkflowID == "" {
		ec.WorkflowID = uuid.NewString()
	}
	if ec.RunID == "" {
		ec.RunID = ec.WorkflowID
	}
	return ec, true
}

// ApplyHeaders writes the correlation headers for an outbound dispatch so the
// remote side continues this chain.
func (ec *ExecutionContext) ApplyHeaders(h http.Header) {
	h.Set(HeaderExecutionID, ec.ExecutionID)
	h.Set(HeaderWorkflowID, ec.WorkflowID)
	if ec.RunID != "" {
		h.Set(HeaderRunID, ec.RunID)
	}
	if ec.ParentExecutionID != "" {
		h.Set(HeaderParentExecutionID, ec.ParentExecutionID)
	}
	if ec.ParentWorkflowID != "" {
		h.Set(HeaderParentWorkflowID, ec.ParentWorkflowID)
	}
	if ec.SessionID != "" {
		h.Set(HeaderSessionID, ec.SessionID)
	}
	if ec.ActorID != "" {
		h.Set(HeaderActorID, ec.ActorID)
	}
}

// contextKey is used for storing values in context.Context.
type contextKey string

const keyExecutionContext contextKey = "execution_context"

// WithExecutionContext installs the ambient execution context. The tracker
// scopes installs per call, so concurrent call stacks never share a slot.
func WithExecutionContext(ctx context.Context, ec *ExecutionContext) context.Context {
	return context.WithValue(ctx, keyExecutionContext, ec)
}

// ExecutionContextFrom extracts the ambient execution context.
func ExecutionContextFrom(ctx context.Context) (*ExecutionContext, bool) {
	v, ok := ctx.Value(keyExecutionContext).(*ExecutionContext)
	return v, ok && v != nil
}
