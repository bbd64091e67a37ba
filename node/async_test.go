package node

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BaSui01/agentnode/config"
	"github.com/BaSui01/agentnode/coordinator"
	"github.com/BaSui01/agentnode/internal/cache"
	"github.com/BaSui01/agentnode/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestAsync(client coordinator.Client, cfg config.AsyncConfig) *AsyncExecutionManager {
	return NewAsyncExecutionManager(client, cfg, zap.NewNop())
}

func succeededUpdate(id string, result any) *coordinator.StatusUpdate {
	return &coordinator.StatusUpdate{ExecutionID: id, Status: types.StatusSucceeded, Result: result}
}

func TestAsyncSubmitTracksQueued(t *testing.T) {
	client := &scriptedClient{}
	m := newTestAsync(client, config.AsyncConfig{})

	id, err := m.Submit(context.Background(), "node.unit", map[string]any{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, "exec-1", id)

	rec, ok := m.Status(id)
	require.True(t, ok)
	assert.Equal(t, types.StatusQueued, rec.Status)
	assert.Equal(t, "node.unit", rec.Target)
	assert.Equal(t, map[string]any{"x": 1}, rec.InputData)
	assert.Equal(t, types.PriorityNormal, rec.Priority)
	assert.False(t, rec.SubmittedAt.IsZero())

	metrics := m.Metrics()
	assert.Equal(t, int64(1), metrics.Submitted)
	assert.Equal(t, 1, metrics.Active)
}

func TestAsyncSubmitOptions(t *testing.T) {
	var captured *coordinator.SubmitRequest
	client := &scriptedClient{
		submitFn: func(_ int, req *coordinator.SubmitRequest) (string, error) {
			captured = req
			return "exec-1", nil
		},
	}
	m := newTestAsync(client, config.AsyncConfig{})

	_, err := m.Submit(context.Background(), "node.unit", nil,
		WithPriority(types.PriorityHigh),
		WithWebhook("http://callback.local/done"),
	)
	require.NoError(t, err)

	require.NotNil(t, captured)
	assert.Equal(t, types.PriorityHigh, captured.Priority)
	assert.Equal(t, "http://callback.local/done", captured.Webhook)

	rec, _ := m.Status("exec-1")
	assert.Equal(t, types.PriorityHigh, rec.Priority)
	assert.Equal(t, "http://callback.local/done", rec.Webhook)
}

func TestAsyncSubmitPropagatesExecutionContext(t *testing.T) {
	var captured *coordinator.SubmitRequest
	client := &scriptedClient{
		submitFn: func(_ int, req *coordinator.SubmitRequest) (string, error) {
			captured = req
			return "exec-1", nil
		},
	}
	m := newTestAsync(client, config.AsyncConfig{})

	ec := types.NewRootContext("caller")
	ctx := types.WithExecutionContext(context.Background(), ec)

	_, err := m.Submit(ctx, "node.unit", nil)
	require.NoError(t, err)

	require.NotNil(t, captured)
	assert.Same(t, ec, captured.Context, "ambient execution context rides along with the submission")
}

func TestAsyncSubmitFailureSurfaces(t *testing.T) {
	client := &scriptedClient{
		submitFn: func(int, *coordinator.SubmitRequest) (string, error) {
			return "", errors.New("dispatch refused")
		},
	}
	m := newTestAsync(client, config.AsyncConfig{})

	_, err := m.Submit(context.Background(), "node.unit", nil)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrSubmissionFailed))

	assert.Zero(t, m.Metrics().Submitted, "a failed dispatch is never tracked")
}

func TestAsyncPollLoopAppliesTerminal(t *testing.T) {
	client := &scriptedClient{
		batchFn: func(_ int, ids []string) (map[string]*coordinator.StatusUpdate, error) {
			updates := make(map[string]*coordinator.StatusUpdate, len(ids))
			for _, id := range ids {
				updates[id] = succeededUpdate(id, map[string]any{"y": 2})
			}
			return updates, nil
		},
	}
	m := newTestAsync(client, config.AsyncConfig{PollInterval: 10 * time.Millisecond})
	defer m.Stop()

	id, err := m.Submit(context.Background(), "node.unit", map[string]any{"x": 1})
	require.NoError(t, err)
	m.Start()

	require.Eventually(t, func() bool {
		rec, ok := m.Status(id)
		return ok && rec.Status.IsTerminal()
	}, 3*time.Second, 5*time.Millisecond)

	rec, _ := m.Status(id)
	assert.Equal(t, types.StatusSucceeded, rec.Status)
	assert.Equal(t, map[string]any{"y": 2}, rec.Result)
	assert.Empty(t, rec.InputData, "inputs are dropped at terminal transition")
	assert.False(t, rec.CompletedAt.IsZero())

	metrics := m.Metrics()
	assert.Equal(t, int64(1), metrics.Succeeded)
	assert.Zero(t, metrics.Active)
}

func TestAsyncPollFailuresAreSilent(t *testing.T) {
	client := &scriptedClient{
		batchFn: func(int, []string) (map[string]*coordinator.StatusUpdate, error) {
			return nil, errors.New("coordinator flaking")
		},
	}
	m := newTestAsync(client, config.AsyncConfig{PollInterval: 10 * time.Millisecond})
	defer m.Stop()

	id, err := m.Submit(context.Background(), "node.unit", nil)
	require.NoError(t, err)
	m.Start()

	require.Eventually(t, func() bool {
		return client.batches.Load() >= 3
	}, 3*time.Second, 5*time.Millisecond)

	rec, ok := m.Status(id)
	require.True(t, ok)
	assert.Equal(t, types.StatusQueued, rec.Status, "poll failures never change a record")
}

func TestAsyncRunningTransition(t *testing.T) {
	client := &scriptedClient{}
	m := newTestAsync(client, config.AsyncConfig{})

	id, err := m.Submit(context.Background(), "node.unit", nil)
	require.NoError(t, err)

	m.HandleStreamUpdate(&coordinator.StatusUpdate{ExecutionID: id, Status: types.StatusRunning})
	rec, _ := m.Status(id)
	require.Equal(t, types.StatusRunning, rec.Status)
	require.False(t, rec.StartedAt.IsZero())
	started := rec.StartedAt

	// A repeated running report is a no-op.
	m.HandleStreamUpdate(&coordinator.StatusUpdate{ExecutionID: id, Status: types.StatusRunning})
	rec, _ = m.Status(id)
	assert.Equal(t, started, rec.StartedAt)
}

func TestAsyncTerminalIsSticky(t *testing.T) {
	client := &scriptedClient{}
	m := newTestAsync(client, config.AsyncConfig{})

	id, err := m.Submit(context.Background(), "node.unit", nil)
	require.NoError(t, err)

	m.HandleStreamUpdate(succeededUpdate(id, "first"))
	m.HandleStreamUpdate(&coordinator.StatusUpdate{ExecutionID: id, Status: types.StatusFailed, Error: "late"})

	rec, _ := m.Status(id)
	assert.Equal(t, types.StatusSucceeded, rec.Status)
	assert.Equal(t, "first", rec.Result)

	metrics := m.Metrics()
	assert.Equal(t, int64(1), metrics.Succeeded)
	assert.Zero(t, metrics.Failed)
}

func TestAsyncUnknownUpdateIgnored(t *testing.T) {
	m := newTestAsync(&scriptedClient{}, config.AsyncConfig{})

	assert.NotPanics(t, func() {
		m.HandleStreamUpdate(succeededUpdate("ghost", nil))
		m.HandleStreamUpdate(nil)
	})
	_, ok := m.Status("ghost")
	assert.False(t, ok)
}

func TestAsyncWaitForResult(t *testing.T) {
	client := &scriptedClient{}
	m := newTestAsync(client, config.AsyncConfig{})

	id, err := m.Submit(context.Background(), "node.unit", nil)
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		m.HandleStreamUpdate(succeededUpdate(id, "done"))
	}()

	rec, err := m.WaitForResult(context.Background(), id, time.Second)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSucceeded, rec.Status)
	assert.Equal(t, "done", rec.Result)
}

func TestAsyncWaitForResultAlreadyTerminal(t *testing.T) {
	client := &scriptedClient{}
	m := newTestAsync(client, config.AsyncConfig{})

	id, err := m.Submit(context.Background(), "node.unit", nil)
	require.NoError(t, err)
	m.HandleStreamUpdate(succeededUpdate(id, "done"))

	rec, err := m.WaitForResult(context.Background(), id, time.Second)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSucceeded, rec.Status)
}

func TestAsyncWaitForResultTimeout(t *testing.T) {
	client := &scriptedClient{}
	m := newTestAsync(client, config.AsyncConfig{})

	id, err := m.Submit(context.Background(), "node.unit", nil)
	require.NoError(t, err)

	_, err = m.WaitForResult(context.Background(), id, 30*time.Millisecond)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrWaitTimeout))

	// Abandoning the wait is local: no cancellation went out and the record
	// is still being tracked.
	assert.Zero(t, client.cancels.Load())
	rec, ok := m.Status(id)
	require.True(t, ok)
	assert.Equal(t, types.StatusQueued, rec.Status)
}

func TestAsyncWaitForResultUntracked(t *testing.T) {
	m := newTestAsync(&scriptedClient{}, config.AsyncConfig{})

	_, err := m.WaitForResult(context.Background(), "ghost", 10*time.Millisecond)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrExecutionNotFound))
}

func TestAsyncCancel(t *testing.T) {
	client := &scriptedClient{}
	m := newTestAsync(client, config.AsyncConfig{})

	id, err := m.Submit(context.Background(), "node.unit", nil)
	require.NoError(t, err)

	require.NoError(t, m.Cancel(context.Background(), id, "user requested"))
	assert.Equal(t, int64(1), client.cancels.Load())

	rec, _ := m.Status(id)
	assert.Equal(t, types.StatusCancelled, rec.Status)
	assert.Equal(t, "user requested", rec.Error)
	assert.Equal(t, int64(1), m.Metrics().Cancelled)

	// Waiters were woken by the cancellation.
	waited, err := m.WaitForResult(context.Background(), id, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCancelled, waited.Status)
}

func TestAsyncCancelRejected(t *testing.T) {
	client := &scriptedClient{
		cancelFn: func(int, string, string) error {
			return coordinator.ErrCancellationRejected
		},
	}
	m := newTestAsync(client, config.AsyncConfig{})

	id, err := m.Submit(context.Background(), "node.unit", nil)
	require.NoError(t, err)

	err = m.Cancel(context.Background(), id, "too late")
	assert.ErrorIs(t, err, coordinator.ErrCancellationRejected)

	rec, _ := m.Status(id)
	assert.Equal(t, types.StatusQueued, rec.Status, "a rejected cancellation changes nothing")
}

func TestAsyncPollOnce(t *testing.T) {
	client := &scriptedClient{
		pollFn: func(_ int, id string) (*coordinator.StatusUpdate, error) {
			return succeededUpdate(id, "polled"), nil
		},
	}
	m := newTestAsync(client, config.AsyncConfig{})

	id, err := m.Submit(context.Background(), "node.unit", nil)
	require.NoError(t, err)

	rec, err := m.PollOnce(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSucceeded, rec.Status)
	assert.Equal(t, "polled", rec.Result)
}

func TestAsyncPollOnceError(t *testing.T) {
	client := &scriptedClient{
		pollFn: func(int, string) (*coordinator.StatusUpdate, error) {
			return nil, errors.New("unreachable")
		},
	}
	m := newTestAsync(client, config.AsyncConfig{})

	id, err := m.Submit(context.Background(), "node.unit", nil)
	require.NoError(t, err)

	_, err = m.PollOnce(context.Background(), id)
	require.Error(t, err)

	rec, _ := m.Status(id)
	assert.Equal(t, types.StatusQueued, rec.Status)
}

func TestAsyncCleanupRetention(t *testing.T) {
	client := &scriptedClient{}
	m := newTestAsync(client, config.AsyncConfig{MaxExecutionAge: time.Minute})

	base := time.Now()
	m.now = func() time.Time { return base }

	first, err := m.Submit(context.Background(), "node.unit", nil)
	require.NoError(t, err)
	second, err := m.Submit(context.Background(), "node.unit", nil)
	require.NoError(t, err)

	m.HandleStreamUpdate(succeededUpdate(first, nil))

	// Inside the retention window nothing is removed.
	assert.Zero(t, m.CleanupCompleted())

	m.now = func() time.Time { return base.Add(2 * time.Minute) }
	assert.Equal(t, 1, m.CleanupCompleted())

	_, ok := m.Status(first)
	assert.False(t, ok)
	_, ok = m.Status(second)
	assert.True(t, ok, "open executions are exempt from retention")
}

func TestAsyncCleanupCapacityEvictsOldest(t *testing.T) {
	client := &scriptedClient{}
	m := newTestAsync(client, config.AsyncConfig{MaxTracked: 2})

	first, err := m.Submit(context.Background(), "node.unit", nil)
	require.NoError(t, err)

	waitErr := make(chan error, 1)
	go func() {
		_, err := m.WaitForResult(context.Background(), first, 5*time.Second)
		waitErr <- err
	}()
	time.Sleep(10 * time.Millisecond) // let the waiter park

	_, err = m.Submit(context.Background(), "node.unit", nil)
	require.NoError(t, err)
	third, err := m.Submit(context.Background(), "node.unit", nil)
	require.NoError(t, err)

	// Capacity pressure evicted the oldest record even though it was open.
	_, ok := m.Status(first)
	assert.False(t, ok)
	_, ok = m.Status(third)
	assert.True(t, ok)

	select {
	case err := <-waitErr:
		require.Error(t, err)
		assert.True(t, types.IsErrorCode(err, types.ErrExecutionNotFound))
	case <-time.After(2 * time.Second):
		t.Fatal("eviction did not wake the waiter")
	}
}

func TestAsyncResultFallsBackToCache(t *testing.T) {
	client := &scriptedClient{}
	m := newTestAsync(client, config.AsyncConfig{MaxExecutionAge: time.Minute})
	m.SetCache(cache.NewMemoryCache(8, time.Minute))

	base := time.Now()
	m.now = func() time.Time { return base }

	id, err := m.Submit(context.Background(), "node.unit", nil)
	require.NoError(t, err)
	m.HandleStreamUpdate(succeededUpdate(id, map[string]any{"y": 2}))

	result, ok := m.Result(context.Background(), id)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"y": 2}, result)

	// Drop the record; the cached copy still answers.
	m.now = func() time.Time { return base.Add(2 * time.Minute) }
	require.Equal(t, 1, m.CleanupCompleted())
	_, tracked := m.Status(id)
	require.False(t, tracked)

	result, ok = m.Result(context.Background(), id)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"y": 2}, result)

	_, ok = m.Result(context.Background(), "ghost")
	assert.False(t, ok)
}

func TestAsyncSeed(t *testing.T) {
	m := newTestAsync(&scriptedClient{}, config.AsyncConfig{})

	adopted := m.seed([]*types.ExecutionRecord{
		{ExecutionID: "open-1", Target: "node.unit", Status: types.StatusRunning},
		{ExecutionID: "done-1", Target: "node.unit", Status: types.StatusSucceeded},
		nil,
		{ExecutionID: "open-1", Target: "node.unit", Status: types.StatusQueued},
	})
	assert.Equal(t, 1, adopted)

	rec, ok := m.Status("open-1")
	require.True(t, ok)
	assert.Equal(t, types.StatusRunning, rec.Status)
	assert.Equal(t, []string{"open-1"}, m.pendingIDs())

	// Seeded executions resolve like any other.
	m.HandleStreamUpdate(succeededUpdate("open-1", "late result"))
	rec, _ = m.Status("open-1")
	assert.Equal(t, types.StatusSucceeded, rec.Status)
}

func TestAsyncRestoreWithoutJournal(t *testing.T) {
	m := newTestAsync(&scriptedClient{}, config.AsyncConfig{})

	adopted, err := m.Restore(context.Background())
	require.NoError(t, err)
	assert.Zero(t, adopted)
}

func TestAsyncStopRefusesSubmit(t *testing.T) {
	m := newTestAsync(&scriptedClient{}, config.AsyncConfig{})
	m.Start()
	m.Stop()

	_, err := m.Submit(context.Background(), "node.unit", nil)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrNodeStopped))

	assert.NotPanics(t, m.Stop)
}

func TestAsyncMetricsCounters(t *testing.T) {
	client := &scriptedClient{}
	m := newTestAsync(client, config.AsyncConfig{})

	ids := make([]string, 0, 3)
	for range 3 {
		id, err := m.Submit(context.Background(), "node.unit", nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	m.HandleStreamUpdate(succeededUpdate(ids[0], nil))
	m.HandleStreamUpdate(&coordinator.StatusUpdate{ExecutionID: ids[1], Status: types.StatusFailed, Error: "boom"})

	metrics := m.Metrics()
	assert.Equal(t, int64(3), metrics.Submitted)
	assert.Equal(t, 1, metrics.Active)
	assert.Equal(t, int64(1), metrics.Succeeded)
	assert.Equal(t, int64(1), metrics.Failed)
	assert.Zero(t, metrics.Cancelled)
	assert.Zero(t, metrics.TimedOut)
}
