package node

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/BaSui01/agentnode/coordinator"
	"github.com/BaSui01/agentnode/types"
)

// scriptedClient implements coordinator.Client with per-method hooks keyed
// by attempt number, so tests can script coordinator behavior attempt by
// attempt. Unset hooks succeed. All methods are safe for concurrent use.
type scriptedClient struct {
	registerFn  func(attempt int, req *coordinator.RegisterRequest) (*coordinator.RegisterResponse, error)
	heartbeatFn func(attempt int, req *coordinator.HeartbeatRequest) error
	submitFn    func(attempt int, req *coordinator.SubmitRequest) (string, error)
	pollFn      func(attempt int, executionID string) (*coordinator.StatusUpdate, error)
	batchFn     func(attempt int, ids []string) (map[string]*coordinator.StatusUpdate, error)
	cancelFn    func(attempt int, executionID, reason string) error
	notifyFn    func(attempt int, ev *types.WorkflowEvent) error

	registers  atomic.Int64
	heartbeats atomic.Int64
	submits    atomic.Int64
	polls      atomic.Int64
	batches    atomic.Int64
	cancels    atomic.Int64
	notifies   atomic.Int64

	mu     sync.Mutex
	events []*types.WorkflowEvent
}

var _ coordinator.Client = (*scriptedClient)(nil)

func (c *scriptedClient) Register(_ context.Context, req *coordinator.RegisterRequest) (*coordinator.RegisterResponse, error) {
	attempt := int(c.registers.Add(1))
	if c.registerFn != nil {
		return c.registerFn(attempt, req)
	}
	return &coordinator.RegisterResponse{OK: true, NodeID: req.NodeID}, nil
}

func (c *scriptedClient) Heartbeat(_ context.Context, req *coordinator.HeartbeatRequest) error {
	attempt := int(c.heartbeats.Add(1))
	if c.heartbeatFn != nil {
		return c.heartbeatFn(attempt, req)
	}
	return nil
}

func (c *scriptedClient) SubmitExecution(_ context.Context, req *coordinator.SubmitRequest) (string, error) {
	attempt := int(c.submits.Add(1))
	if c.submitFn != nil {
		return c.submitFn(attempt, req)
	}
	return fmt.Sprintf("exec-%d", attempt), nil
}

func (c *scriptedClient) PollStatus(_ context.Context, executionID string) (*coordinator.StatusUpdate, error) {
	attempt := int(c.polls.Add(1))
	if c.pollFn != nil {
		return c.pollFn(attempt, executionID)
	}
	return &coordinator.StatusUpdate{ExecutionID: executionID, Status: types.StatusQueued}, nil
}

func (c *scriptedClient) BatchPoll(_ context.Context, ids []string) (map[string]*coordinator.StatusUpdate, error) {
	attempt := int(c.batches.Add(1))
	if c.batchFn != nil {
		return c.batchFn(attempt, ids)
	}
	updates := make(map[string]*coordinator.StatusUpdate, len(ids))
	for _, id := range ids {
		updates[id] = &coordinator.StatusUpdate{ExecutionID: id, Status: types.StatusQueued}
	}
	return updates, nil
}

func (c *scriptedClient) Cancel(_ context.Context, executionID, reason string) error {
	attempt := int(c.cancels.Add(1))
	if c.cancelFn != nil {
		return c.cancelFn(attempt, executionID, reason)
	}
	return nil
}

func (c *scriptedClient) NotifyWorkflowEvent(_ context.Context, ev *types.WorkflowEvent) error {
	attempt := int(c.notifies.Add(1))
	if c.notifyFn != nil {
		if err := c.notifyFn(attempt, ev); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	return nil
}

// Events returns the delivered workflow events in delivery order.
func (c *scriptedClient) Events() []*types.WorkflowEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*types.WorkflowEvent, len(c.events))
	copy(out, c.events)
	return out
}

// EventSummaries returns "unit:status" pairs in delivery order, for compact
// ordering assertions.
func (c *scriptedClient) EventSummaries() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.UnitName+":"+string(ev.Status))
	}
	return out
}
