package types

import "time"

// ConnectionState describes the node's liveness relationship with the
// coordinator. Owned exclusively by the connection manager.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateDegraded     ConnectionState = "degraded"
)

// ExecutionStatus is the lifecycle status of an asynchronous execution.
// Timeout is a distinct terminal status reported by the coordinator; the
// connection manager, by contrast, folds its own timeouts into plain
// connection failure.
type ExecutionStatus string

const (
	StatusQueued    ExecutionStatus = "queued"
	StatusRunning   ExecutionStatus = "running"
	StatusSucceeded ExecutionStatus = "succeeded"
	StatusFailed    ExecutionStatus = "failed"
	StatusCancelled ExecutionStatus = "cancelled"
	StatusTimeout   ExecutionStatus = "timeout"
)

// IsTerminal reports whether the status ends the execution's lifecycle.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	default:
		return false
	}
}

// Priority orders outbound executions for dispatch bookkeeping.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// ExecutionRecord is the local view of one outbound asynchronous execution.
// InputData is cleared the moment the record reaches a terminal status:
// inputs are often large and are never read again after completion, while
// Result and Error stay until cleanup evicts the record.
type ExecutionRecord struct {
	ExecutionID string          `json:"execution_id"`
	Target      string          `json:"target"`
	InputData   map[string]any  `json:"input_data,omitempty"`
	Status      ExecutionStatus `json:"status"`
	Result      any             `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	Priority    Priority        `json:"priority,omitempty"`
	Webhook     string          `json:"webhook,omitempty"`
	SubmittedAt time.Time       `json:"submitted_at"`
	StartedAt   time.Time       `json:"started_at,omitempty"`
	CompletedAt time.Time       `json:"completed_at,omitempty"`
}

// Clone returns a shallow copy with its own InputData map, safe to hand to
// callers while the manager keeps mutating the original.
func (r *ExecutionRecord) Clone() *ExecutionRecord {
	cp := *r
	if r.InputData != nil {
		cp.InputData = make(map[string]any, len(r.InputData))
		for k, v := range r.InputData {
			cp.InputData[k] = v
		}
	}
	return &cp
}

// WorkflowEvent is the lifecycle notification payload sent to the coordinator
// so the workflow DAG can be reconstructed centrally. Delivery is
// best-effort; the payload must therefore be self-contained.
type WorkflowEvent struct {
	ExecutionID       string          `json:"execution_id"`
	WorkflowID        string          `json:"workflow_id"`
	RunID             string          `json:"run_id,omitempty"`
	UnitName          string          `json:"unit_name"`
	AgentNodeID       string          `json:"agent_node_id,omitempty"`
	Status            ExecutionStatus `json:"status"`
	ParentExecutionID string          `json:"parent_execution_id,omitempty"`
	ParentWorkflowID  string          `json:"parent_workflow_id,omitempty"`
	InputData         map[string]any  `json:"input_data,omitempty"`
	Result            any             `json:"result,omitempty"`
	Error             string          `json:"error,omitempty"`
	Timestamp         time.Time       `json:"timestamp"`
}

// NewWorkflowEvent builds the event for one lifecycle transition of the given
// execution context.
func NewWorkflowEvent(ec *ExecutionContext, nodeID string, status ExecutionStatus) *WorkflowEvent {
	return &WorkflowEvent{
		ExecutionID:       ec.ExecutionID,
		WorkflowID:        ec.WorkflowID,
		RunID:             ec.RunID,
		UnitName:          ec.UnitName,
		AgentNodeID:       nodeID,
		Status:            status,
		ParentExecutionID: ec.ParentExecutionID,
		ParentWorkflowID:  ec.ParentWorkflowID,
		Timestamp:         time.Now().UTC(),
	}
}
