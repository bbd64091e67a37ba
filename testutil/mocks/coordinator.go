// MockCoordinator 的协调器客户端测试模拟实现。
//
// 支持错误注入、手动推进执行状态与调用记录。
package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/BaSui01/agentnode/coordinator"
	"github.com/BaSui01/agentnode/types"
)

// --- MockCoordinator 结构 ---

// MockCoordinator 是 coordinator.Client 的模拟实现。
//
// 提交的执行停留在 queued 状态，由测试通过 Apply 手动推进，
// 轮询循环随后像面对真实协调器一样观察到状态变化。
type MockCoordinator struct {
	mu sync.Mutex

	// 行为配置
	resolvedConfig map[string]any
	registerErr    error
	heartbeatErr   error
	submitErr      error
	pollErr        error
	cancelErr      error
	notifyErr      error

	// 执行状态
	seq     int
	updates map[string]*coordinator.StatusUpdate

	// 调用记录
	registrations []*coordinator.RegisterRequest
	heartbeats    []*coordinator.HeartbeatRequest
	submits       []*coordinator.SubmitRequest
	events        []types.WorkflowEvent
	polls         int
}

var _ coordinator.Client = (*MockCoordinator)(nil)

// --- 构造函数和 Builder 方法 ---

// NewMockCoordinator 创建新的 MockCoordinator
func NewMockCoordinator() *MockCoordinator {
	return &MockCoordinator{
		updates: make(map[string]*coordinator.StatusUpdate),
	}
}

// WithResolvedConfig 设置注册响应携带的下发配置
func (m *MockCoordinator) WithResolvedConfig(cfg map[string]any) *MockCoordinator {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolvedConfig = cfg
	return m
}

// WithRegisterError 设置注册调用返回错误
func (m *MockCoordinator) WithRegisterError(err error) *MockCoordinator {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registerErr = err
	return m
}

// WithHeartbeatError 设置心跳调用返回错误
func (m *MockCoordinator) WithHeartbeatError(err error) *MockCoordinator {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeatErr = err
	return m
}

// WithSubmitError 设置提交调用返回错误
func (m *MockCoordinator) WithSubmitError(err error) *MockCoordinator {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitErr = err
	return m
}

// WithPollError 设置轮询调用返回错误
func (m *MockCoordinator) WithPollError(err error) *MockCoordinator {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pollErr = err
	return m
}

// WithCancelError 设置取消调用返回错误
func (m *MockCoordinator) WithCancelError(err error) *MockCoordinator {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelErr = err
	return m
}

// WithNotifyError 设置事件上报调用返回错误
func (m *MockCoordinator) WithNotifyError(err error) *MockCoordinator {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifyErr = err
	return m
}

// --- coordinator.Client 实现 ---

// Register 记录注册请求并返回成功响应
func (m *MockCoordinator) Register(ctx context.Context, req *coordinator.RegisterRequest) (*coordinator.RegisterResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.registrations = append(m.registrations, req)
	if m.registerErr != nil {
		return nil, m.registerErr
	}
	return &coordinator.RegisterResponse{
		OK:             true,
		NodeID:         req.NodeID,
		ResolvedConfig: m.resolvedConfig,
	}, nil
}

// Heartbeat 记录心跳请求
func (m *MockCoordinator) Heartbeat(ctx context.Context, req *coordinator.HeartbeatRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.heartbeats = append(m.heartbeats, req)
	return m.heartbeatErr
}

// SubmitExecution 分配执行 ID 并以 queued 状态登记
func (m *MockCoordinator) SubmitExecution(ctx context.Context, req *coordinator.SubmitRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.submits = append(m.submits, req)
	if m.submitErr != nil {
		return "", m.submitErr
	}

	m.seq++
	id := fmt.Sprintf("exec-%d", m.seq)
	m.updates[id] = &coordinator.StatusUpdate{ExecutionID: id, Status: types.StatusQueued}
	return id, nil
}

// PollStatus 返回单个执行的当前状态
func (m *MockCoordinator) PollStatus(ctx context.Context, executionID string) (*coordinator.StatusUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.polls++
	if m.pollErr != nil {
		return nil, m.pollErr
	}
	update, ok := m.updates[executionID]
	if !ok {
		return nil, fmt.Errorf("%w: execution %s", coordinator.ErrExecutionNotFound, executionID)
	}
	return update, nil
}

// BatchPoll 返回已知执行的当前状态，未知 ID 静默跳过
func (m *MockCoordinator) BatchPoll(ctx context.Context, executionIDs []string) (map[string]*coordinator.StatusUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.polls++
	if m.pollErr != nil {
		return nil, m.pollErr
	}
	out := make(map[string]*coordinator.StatusUpdate, len(executionIDs))
	for _, id := range executionIDs {
		if update, ok := m.updates[id]; ok {
			out[id] = update
		}
	}
	return out, nil
}

// Cancel 将未终态的执行置为 cancelled
func (m *MockCoordinator) Cancel(ctx context.Context, executionID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancelErr != nil {
		return m.cancelErr
	}
	update, ok := m.updates[executionID]
	if !ok {
		return fmt.Errorf("%w: execution %s", coordinator.ErrExecutionNotFound, executionID)
	}
	if update.Status.IsTerminal() {
		return fmt.Errorf("%w: execution %s already terminal", coordinator.ErrCancellationRejected, executionID)
	}
	m.updates[executionID] = &coordinator.StatusUpdate{
		ExecutionID: executionID,
		Status:      types.StatusCancelled,
		Error:       reason,
	}
	return nil
}

// NotifyWorkflowEvent 记录上报的工作流事件
func (m *MockCoordinator) NotifyWorkflowEvent(ctx context.Context, event *types.WorkflowEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if event != nil {
		m.events = append(m.events, *event)
	}
	return m.notifyErr
}

// --- 测试驱动方法 ---

// Apply 覆盖一个执行的状态，模拟远端执行推进
func (m *MockCoordinator) Apply(update *coordinator.StatusUpdate) {
	if update == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates[update.ExecutionID] = update
}

// Update 返回一个执行的当前状态
func (m *MockCoordinator) Update(executionID string) (*coordinator.StatusUpdate, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	update, ok := m.updates[executionID]
	return update, ok
}

// Registrations 返回记录的注册请求
func (m *MockCoordinator) Registrations() []*coordinator.RegisterRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*coordinator.RegisterRequest(nil), m.registrations...)
}

// Heartbeats 返回记录的心跳请求
func (m *MockCoordinator) Heartbeats() []*coordinator.HeartbeatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*coordinator.HeartbeatRequest(nil), m.heartbeats...)
}

// Submits 返回记录的提交请求
func (m *MockCoordinator) Submits() []*coordinator.SubmitRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*coordinator.SubmitRequest(nil), m.submits...)
}

// Events 返回记录的工作流事件
func (m *MockCoordinator) Events() []types.WorkflowEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.WorkflowEvent(nil), m.events...)
}

// Polls 返回轮询调用次数
func (m *MockCoordinator) Polls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.polls
}
