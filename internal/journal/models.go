package journal

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/agentnode/types"
)

// ============================================================
// 执行流水模型
// ============================================================

// ExecutionRow 异步执行的持久化记录
// 一行对应一次通过协调器派发的执行，终态写入后 input_json 清空
type ExecutionRow struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	ExecutionID string `gorm:"size:64;not null;uniqueIndex:idx_exec_execution_id" json:"execution_id"` // 全局执行 ID
	WorkflowID  string `gorm:"size:64;index:idx_exec_workflow" json:"workflow_id"`                     // 所属工作流
	Target      string `gorm:"size:200;not null" json:"target"`                                        // 目标单元（如 node.unit）
	Priority    string `gorm:"size:16;default:normal" json:"priority"`                                 // 调度优先级
	Status      string `gorm:"size:16;not null;index:idx_exec_status" json:"status"`                   // 当前状态
	InputJSON   string `gorm:"type:text" json:"input_json"`                                            // 输入负载（终态后清空）
	ResultJSON  string `gorm:"type:text" json:"result_json"`                                           // 执行结果
	Error       string `gorm:"type:text" json:"error"`                                                 // 失败原因
	Webhook     string `gorm:"size:500" json:"webhook"`                                                // 完成回调地址

	SubmittedAt time.Time  `json:"submitted_at"`           // 提交时间
	StartedAt   *time.Time `json:"started_at,omitempty"`   // 开始执行时间
	CompletedAt *time.Time `json:"completed_at,omitempty"` // 终态时间

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ExecutionRow) TableName() string {
	return "an_executions"
}

// NewExecutionRow 由执行记录构造流水行
// workflowID 来自提交时的执行上下文，记录本身不携带
func NewExecutionRow(rec *types.ExecutionRecord, workflowID string) (*ExecutionRow, error) {
	row := &ExecutionRow{
		ExecutionID: rec.ExecutionID,
		WorkflowID:  workflowID,
		Target:      rec.Target,
		Priority:    string(rec.Priority),
		Status:      string(rec.Status),
		Error:       rec.Error,
		Webhook:     rec.Webhook,
		SubmittedAt: rec.SubmittedAt,
	}

	if !rec.StartedAt.IsZero() {
		t := rec.StartedAt
		row.StartedAt = &t
	}
	if !rec.CompletedAt.IsZero() {
		t := rec.CompletedAt
		row.CompletedAt = &t
	}

	if len(rec.InputData) > 0 {
		data, err := json.Marshal(rec.InputData)
		if err != nil {
			return nil, fmt.Errorf("marshal input data: %w", err)
		}
		row.InputJSON = string(data)
	}

	if rec.Result != nil {
		data, err := json.Marshal(rec.Result)
		if err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}
		row.ResultJSON = string(data)
	}

	return row, nil
}

// Record 将流水行还原为执行记录
func (r *ExecutionRow) Record() (*types.ExecutionRecord, error) {
	rec := &types.ExecutionRecord{
		ExecutionID: r.ExecutionID,
		Target:      r.Target,
		Priority:    types.Priority(r.Priority),
		Status:      types.ExecutionStatus(r.Status),
		Error:       r.Error,
		Webhook:     r.Webhook,
		SubmittedAt: r.SubmittedAt,
	}

	if r.StartedAt != nil {
		rec.StartedAt = *r.StartedAt
	}
	if r.CompletedAt != nil {
		rec.CompletedAt = *r.CompletedAt
	}

	if r.InputJSON != "" {
		if err := json.Unmarshal([]byte(r.InputJSON), &rec.InputData); err != nil {
			return nil, fmt.Errorf("unmarshal input data: %w", err)
		}
	}
	if r.ResultJSON != "" {
		if err := json.Unmarshal([]byte(r.ResultJSON), &rec.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}

	return rec, nil
}

// ============================================================
// 事件流水模型
// ============================================================

// WorkflowEventRow 工作流生命周期事件的持久化记录
type WorkflowEventRow struct {
	ID                uint   `gorm:"primaryKey" json:"id"`
	ExecutionID       string `gorm:"size:64;not null;index:idx_event_execution" json:"execution_id"` // 事件所属执行
	WorkflowID        string `gorm:"size:64;not null;index:idx_event_workflow" json:"workflow_id"`   // 事件所属工作流
	RunID             string `gorm:"size:64" json:"run_id"`                                          // 运行 ID
	UnitName          string `gorm:"size:200" json:"unit_name"`                                      // 执行单元名
	AgentNodeID       string `gorm:"size:64" json:"agent_node_id"`                                   // 产生事件的节点
	Status            string `gorm:"size:16;not null" json:"status"`                                 // 生命周期状态
	ParentExecutionID string `gorm:"size:64" json:"parent_execution_id"`                             // 父执行 ID（根执行为空）
	ParentWorkflowID  string `gorm:"size:64" json:"parent_workflow_id"`                              // 父工作流 ID
	PayloadJSON       string `gorm:"type:text" json:"payload_json"`                                  // 输入/结果/错误负载

	CreatedAt time.Time `json:"created_at"`
}

func (WorkflowEventRow) TableName() string {
	return "an_workflow_events"
}

// eventPayload 事件的可变负载部分
type eventPayload struct {
	InputData map[string]any `json:"input_data,omitempty"`
	Result    any            `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// NewWorkflowEventRow 由生命周期事件构造流水行
func NewWorkflowEventRow(ev *types.WorkflowEvent) (*WorkflowEventRow, error) {
	row := &WorkflowEventRow{
		ExecutionID:       ev.ExecutionID,
		WorkflowID:        ev.WorkflowID,
		RunID:             ev.RunID,
		UnitName:          ev.UnitName,
		AgentNodeID:       ev.AgentNodeID,
		Status:            string(ev.Status),
		ParentExecutionID: ev.ParentExecutionID,
		ParentWorkflowID:  ev.ParentWorkflowID,
		CreatedAt:         ev.Timestamp,
	}

	payload := eventPayload{
		InputData: ev.InputData,
		Result:    ev.Result,
		Error:     ev.Error,
	}
	if payload.InputData != nil || payload.Result != nil || payload.Error != "" {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal event payload: %w", err)
		}
		row.PayloadJSON = string(data)
	}

	return row, nil
}

// Event 将流水行还原为生命周期事件
func (r *WorkflowEventRow) Event() (*types.WorkflowEvent, error) {
	ev := &types.WorkflowEvent{
		ExecutionID:       r.ExecutionID,
		WorkflowID:        r.WorkflowID,
		RunID:             r.RunID,
		UnitName:          r.UnitName,
		AgentNodeID:       r.AgentNodeID,
		Status:            types.ExecutionStatus(r.Status),
		ParentExecutionID: r.ParentExecutionID,
		ParentWorkflowID:  r.ParentWorkflowID,
		Timestamp:         r.CreatedAt,
	}

	if r.PayloadJSON != "" {
		var payload eventPayload
		if err := json.Unmarshal([]byte(r.PayloadJSON), &payload); err != nil {
			return nil, fmt.Errorf("unmarshal event payload: %w", err)
		}
		ev.InputData = payload.InputData
		ev.Result = payload.Result
		ev.Error = payload.Error
	}

	return ev, nil
}
