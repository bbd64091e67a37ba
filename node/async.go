package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/agentnode/config"
	"github.com/BaSui01/agentnode/coordinator"
	"github.com/BaSui01/agentnode/internal/cache"
	"github.com/BaSui01/agentnode/internal/journal"
	"github.com/BaSui01/agentnode/internal/metrics"
	"github.com/BaSui01/agentnode/types"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Bounds journal and cache writes triggered by status transitions.
const sideEffectTimeout = 5 * time.Second

// AsyncExecutionManager is the client side of dispatching work to remote
// units: it submits executions to the coordinator, polls their status in the
// background, and keeps a memory-bounded table of their outcomes.
//
// Poll failures are silent and recoverable — a record's status only changes
// when the coordinator explicitly reports one. Submission is the exception:
// its transport failures surface to the caller, who must know whether
// dispatch happened.
type AsyncExecutionManager struct {
	client    coordinator.Client
	cache     cache.ResultCache
	journal   *journal.Journal
	collector *metrics.Collector
	config    config.AsyncConfig
	logger    *zap.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	sem     *semaphore.Weighted

	mu         sync.RWMutex
	executions map[string]*types.ExecutionRecord
	doneChans  map[string]chan struct{}
	order      []string // submission order, oldest first
	submitted  int64
	terminals  map[types.ExecutionStatus]int64

	started bool
	stopped bool
	done    chan struct{}
	wg      sync.WaitGroup

	now func() time.Time
}

// NewAsyncExecutionManager creates a manager using the given coordinator
// client. Zero config fields fall back to the package defaults.
func NewAsyncExecutionManager(client coordinator.Client, cfg config.AsyncConfig, logger *zap.Logger) *AsyncExecutionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := config.DefaultAsyncConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxConcurrentPolls <= 0 {
		cfg.MaxConcurrentPolls = def.MaxConcurrentPolls
	}
	if cfg.BatchPollSize <= 0 {
		cfg.BatchPollSize = def.BatchPollSize
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.MaxExecutionAge <= 0 {
		cfg.MaxExecutionAge = def.MaxExecutionAge
	}
	if cfg.MaxTracked <= 0 {
		cfg.MaxTracked = def.MaxTracked
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	return &AsyncExecutionManager{
		client:     client,
		config:     cfg,
		logger:     logger.With(zap.String("component", "async_manager")),
		baseCtx:    baseCtx,
		cancel:     cancel,
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrentPolls)),
		executions: make(map[string]*types.ExecutionRecord),
		doneChans:  make(map[string]chan struct{}),
		terminals:  make(map[types.ExecutionStatus]int64),
		done:       make(chan struct{}),
		now:        time.Now,
	}
}

// SetCache attaches the bounded result cache terminal results are copied to.
func (m *AsyncExecutionManager) SetCache(c cache.ResultCache) {
	m.cache = c
}

// SetJournal makes submissions and status transitions persist best-effort.
func (m *AsyncExecutionManager) SetJournal(j *journal.Journal) {
	m.journal = j
}

// SetCollector attaches metrics.
func (m *AsyncExecutionManager) SetCollector(c *metrics.Collector) {
	m.collector = c
}

// Start launches the background polling and cleanup loops. Idempotent.
func (m *AsyncExecutionManager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.stopped {
		return
	}
	m.started = true
	m.wg.Add(2)
	go m.pollLoop()
	go m.cleanupLoop()
}

// Stop halts the loops and cancels in-flight polls. Idempotent. Tracked
// records stay readable afterwards; only new submissions are refused.
func (m *AsyncExecutionManager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	close(m.done)
	m.cancel()
	m.wg.Wait()
}

// SubmitOption customizes one submission.
type SubmitOption func(*submitOptions)

type submitOptions struct {
	priority types.Priority
	webhook  string
	timeout  time.Duration
}

// WithPriority sets the dispatch priority. Default is PriorityNormal.
func WithPriority(p types.Priority) SubmitOption {
	return func(o *submitOptions) { o.priority = p }
}

// WithWebhook asks the coordinator to call the URL on completion.
func WithWebhook(url string) SubmitOption {
	return func(o *submitOptions) { o.webhook = url }
}

// WithSubmitTimeout bounds the submission round-trip.
func WithSubmitTimeout(d time.Duration) SubmitOption {
	return func(o *submitOptions) { o.timeout = d }
}

// Submit dispatches work to the remote unit named by target ("node.unit")
// and starts tracking it as queued. The ambient execution context in ctx, if
// any, is propagated so the remote invocation joins the caller's workflow.
//
// A dispatch failure is returned to the caller — submission is the one
// operation that is not best-effort.
func (m *AsyncExecutionManager) Submit(ctx context.Context, target string, input map[string]any, opts ...SubmitOption) (string, error) {
	if m.isStopped() {
		return "", types.NewError(types.ErrNodeStopped, "async execution manager is stopped")
	}
	if target == "" {
		return "", types.NewError(types.ErrSubmissionFailed, "empty target")
	}

	o := submitOptions{priority: types.PriorityNormal}
	for _, opt := range opts {
		opt(&o)
	}
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	req := &coordinator.SubmitRequest{
		Target:    target,
		InputData: input,
		Priority:  o.priority,
		Webhook:   o.webhook,
	}
	var workflowID string
	if ec, ok := types.ExecutionContextFrom(ctx); ok {
		req.Context = ec
		workflowID = ec.WorkflowID
	}

	executionID, err := m.client.SubmitExecution(ctx, req)
	if err != nil {
		return "", types.NewSubmissionError(target, err)
	}

	rec := &types.ExecutionRecord{
		ExecutionID: executionID,
		Target:      target,
		InputData:   input,
		Status:      types.StatusQueued,
		Priority:    o.priority,
		Webhook:     o.webhook,
		SubmittedAt: m.now(),
	}
	journalCopy := rec.Clone()

	m.mu.Lock()
	m.executions[executionID] = rec
	m.doneChans[executionID] = make(chan struct{})
	m.order = append(m.order, executionID)
	m.submitted++
	over := len(m.executions) > m.config.MaxTracked
	active := m.activeLocked()
	m.mu.Unlock()

	if m.collector != nil {
		m.collector.RecordAsyncSubmitted(string(o.priority))
		m.collector.SetAsyncActive(active)
	}
	m.journalSubmission(journalCopy, workflowID)
	if over {
		m.CleanupCompleted()
	}

	m.logger.Debug("execution submitted",
		zap.String("execution_id", executionID),
		zap.String("target", target),
		zap.String("priority", string(o.priority)),
	)
	return executionID, nil
}

// Status returns a copy of the locally tracked record. It never performs a
// network call: between polls the answer is simply the last known state.
func (m *AsyncExecutionManager) Status(executionID string) (*types.ExecutionRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.executions[executionID]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Result returns the result of a terminal execution, falling back to the
// result cache for executions whose record has already been cleaned up.
func (m *AsyncExecutionManager) Result(ctx context.Context, executionID string) (any, bool) {
	m.mu.RLock()
	rec, ok := m.executions[executionID]
	if ok && rec.Status.IsTerminal() {
		result := rec.Result
		m.mu.RUnlock()
		return result, true
	}
	m.mu.RUnlock()

	if m.cache == nil {
		return nil, false
	}
	result, err := m.cache.Get(ctx, executionID)
	if err != nil {
		if !cache.IsCacheMiss(err) {
			m.logger.Warn("result cache read failed", zap.String("execution_id", executionID), zap.Error(err))
		}
		if m.collector != nil {
			m.collector.RecordCacheMiss("result")
		}
		return nil, false
	}
	if m.collector != nil {
		m.collector.RecordCacheHit("result")
	}
	return result, true
}

// WaitForResult blocks until the execution reaches a terminal status, the
// timeout elapses, or ctx is cancelled. It watches local state only — the
// background polling is what actually learns the outcome — and abandoning
// the wait does not cancel the remote execution.
func (m *AsyncExecutionManager) WaitForResult(ctx context.Context, executionID string, timeout time.Duration) (*types.ExecutionRecord, error) {
	m.mu.RLock()
	rec, ok := m.executions[executionID]
	var (
		snapshot *types.ExecutionRecord
		ch       chan struct{}
	)
	if ok {
		if rec.Status.IsTerminal() {
			snapshot = rec.Clone()
		} else {
			ch = m.doneChans[executionID]
		}
	}
	m.mu.RUnlock()

	if !ok {
		return nil, types.NewError(types.ErrExecutionNotFound, fmt.Sprintf("execution %s is not tracked", executionID))
	}
	if snapshot != nil {
		return snapshot, nil
	}
	if ch == nil {
		return nil, types.NewError(types.ErrExecutionNotFound, fmt.Sprintf("execution %s was evicted", executionID))
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case <-ch:
		if rec, ok := m.Status(executionID); ok {
			return rec, nil
		}
		return nil, types.NewError(types.ErrExecutionNotFound, fmt.Sprintf("execution %s was evicted", executionID))
	case <-ctx.Done():
		return nil, types.NewError(types.ErrWaitTimeout,
			fmt.Sprintf("timed out waiting for execution %s", executionID)).WithCause(ctx.Err())
	}
}

// Cancel requests cancellation from the coordinator and, if accepted, marks
// the local record cancelled. Transport failures and rejections propagate.
func (m *AsyncExecutionManager) Cancel(ctx context.Context, executionID, reason string) error {
	if err := m.client.Cancel(ctx, executionID, reason); err != nil {
		return err
	}
	m.applyUpdate(&coordinator.StatusUpdate{
		ExecutionID: executionID,
		Status:      types.StatusCancelled,
		Error:       reason,
	})
	return nil
}

// PollOnce polls one execution immediately instead of waiting for the batch
// cycle, and returns the record as updated by the response.
func (m *AsyncExecutionManager) PollOnce(ctx context.Context, executionID string) (*types.ExecutionRecord, error) {
	update, err := m.client.PollStatus(ctx, executionID)
	if err != nil {
		return nil, err
	}
	m.applyUpdate(update)

	rec, ok := m.Status(executionID)
	if !ok {
		return nil, types.NewError(types.ErrExecutionNotFound, fmt.Sprintf("execution %s is not tracked", executionID))
	}
	return rec, nil
}

// HandleStreamUpdate applies one pushed status update. Wired as the status
// stream's handler; polling remains the source of truth, the stream only
// shortens the latency.
func (m *AsyncExecutionManager) HandleStreamUpdate(update *coordinator.StatusUpdate) {
	m.applyUpdate(update)
}

// Restore seeds the execution table from the journal's open executions so a
// restarted node resumes polling work it had in flight. Call before Start.
func (m *AsyncExecutionManager) Restore(ctx context.Context) (int, error) {
	if m.journal == nil {
		return 0, nil
	}
	recs, err := m.journal.OpenExecutions(ctx)
	if err != nil {
		return 0, err
	}
	adopted := m.seed(recs)
	if adopted > 0 {
		m.logger.Info("restored open executions from journal", zap.Int("count", adopted))
	}
	return adopted, nil
}

// seed adopts records not yet tracked, preserving their order.
func (m *AsyncExecutionManager) seed(recs []*types.ExecutionRecord) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	adopted := 0
	for _, rec := range recs {
		if rec == nil || rec.ExecutionID == "" || rec.Status.IsTerminal() {
			continue
		}
		if _, exists := m.executions[rec.ExecutionID]; exists {
			continue
		}
		cp := rec.Clone()
		m.executions[cp.ExecutionID] = cp
		m.doneChans[cp.ExecutionID] = make(chan struct{})
		m.order = append(m.order, cp.ExecutionID)
		adopted++
	}
	return adopted
}

// CleanupCompleted bounds the execution table: terminal records older than
// the retention window are dropped, and if the table still exceeds
// max_tracked the oldest records are evicted regardless of status. Evicting
// a non-terminal record wakes its waiters, who then see it as untracked.
// Returns the number of records removed.
func (m *AsyncExecutionManager) CleanupCompleted() int {
	cutoff := m.now().Add(-m.config.MaxExecutionAge)

	m.mu.Lock()
	removed := 0

	// Pass 1: expired terminal records.
	kept := m.order[:0]
	for _, id := range m.order {
		rec := m.executions[id]
		if rec == nil {
			continue
		}
		if rec.Status.IsTerminal() && !rec.CompletedAt.IsZero() && rec.CompletedAt.Before(cutoff) {
			delete(m.executions, id)
			delete(m.doneChans, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept

	// Pass 2: capacity bound, oldest first.
	for len(m.executions) > m.config.MaxTracked && len(m.order) > 0 {
		id := m.order[0]
		m.order = m.order[1:]
		delete(m.executions, id)
		if ch, ok := m.doneChans[id]; ok {
			close(ch)
			delete(m.doneChans, id)
		}
		removed++
	}

	active := m.activeLocked()
	m.mu.Unlock()

	if m.collector != nil {
		m.collector.SetAsyncActive(active)
	}
	if removed > 0 {
		m.logger.Debug("cleaned up executions", zap.Int("removed", removed))
	}
	return removed
}

// AsyncMetrics is the manager's counter snapshot.
type AsyncMetrics struct {
	Submitted int64 `json:"submitted"`
	Active    int   `json:"active"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
	TimedOut  int64 `json:"timed_out"`
}

// Metrics returns submission and terminal-status counters.
func (m *AsyncExecutionManager) Metrics() AsyncMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return AsyncMetrics{
		Submitted: m.submitted,
		Active:    m.activeLocked(),
		Succeeded: m.terminals[types.StatusSucceeded],
		Failed:    m.terminals[types.StatusFailed],
		Cancelled: m.terminals[types.StatusCancelled],
		TimedOut:  m.terminals[types.StatusTimeout],
	}
}

// applyUpdate folds one coordinator status report into the local record.
// This is the only place a record reaches a terminal status: set
// status/result/error, stamp completed_at, drop the input payload, copy the
// result to the cache, wake waiters, and bump counters. Terminal statuses
// are sticky — later reports for the same execution are ignored.
func (m *AsyncExecutionManager) applyUpdate(update *coordinator.StatusUpdate) {
	if update == nil || update.ExecutionID == "" {
		return
	}

	m.mu.Lock()
	rec, ok := m.executions[update.ExecutionID]
	if !ok || rec.Status.IsTerminal() {
		m.mu.Unlock()
		return
	}

	switch {
	case update.Status == types.StatusRunning:
		if rec.Status != types.StatusQueued {
			m.mu.Unlock()
			return
		}
		rec.Status = types.StatusRunning
		rec.StartedAt = m.now()
		m.mu.Unlock()
		m.journalRunning(update.ExecutionID)

	case update.Status.IsTerminal():
		rec.Status = update.Status
		rec.Result = update.Result
		rec.Error = update.Error
		rec.CompletedAt = m.now()
		rec.InputData = nil // inputs are never read after completion
		m.terminals[update.Status]++
		if ch, chOK := m.doneChans[update.ExecutionID]; chOK {
			close(ch)
			delete(m.doneChans, update.ExecutionID)
		}
		snapshot := rec.Clone()
		active := m.activeLocked()
		m.mu.Unlock()

		if m.collector != nil {
			m.collector.RecordAsyncTerminal(string(snapshot.Status))
			m.collector.SetAsyncActive(active)
		}
		m.cacheResult(snapshot)
		m.journalTerminal(snapshot)
		m.logger.Debug("execution reached terminal status",
			zap.String("execution_id", snapshot.ExecutionID),
			zap.String("status", string(snapshot.Status)),
		)

	default:
		// Still queued, or a status string this version doesn't know.
		m.mu.Unlock()
	}
}

func (m *AsyncExecutionManager) pollLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.pollPending(m.baseCtx)
		case <-m.done:
			return
		}
	}
}

func (m *AsyncExecutionManager) cleanupLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.CleanupCompleted()
		case <-m.done:
			return
		}
	}
}

// pollPending batch-polls every non-terminal execution, chunked by
// batch_poll_size with at most max_concurrent_polls batches in flight.
func (m *AsyncExecutionManager) pollPending(ctx context.Context) {
	ids := m.pendingIDs()
	if len(ids) == 0 {
		return
	}

	size := m.config.BatchPollSize
	var wg sync.WaitGroup
	for start := 0; start < len(ids); start += size {
		chunk := ids[start:min(start+size, len(ids))]

		if err := m.sem.Acquire(ctx, 1); err != nil {
			break // shutting down
		}
		wg.Add(1)
		go func(chunk []string) {
			defer wg.Done()
			defer m.sem.Release(1)
			m.pollBatch(ctx, chunk)
		}(chunk)
	}
	wg.Wait()
}

// pollBatch performs one batch poll. A failure leaves every record exactly
// as it was: only an explicit status report changes state.
func (m *AsyncExecutionManager) pollBatch(ctx context.Context, ids []string) {
	updates, err := m.client.BatchPoll(ctx, ids)
	if err != nil {
		m.observePoll("failure")
		m.logger.Warn("batch poll failed", zap.Int("executions", len(ids)), zap.Error(err))
		return
	}
	m.observePoll("success")
	for _, update := range updates {
		m.applyUpdate(update)
	}
}

func (m *AsyncExecutionManager) pendingIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.order))
	for _, id := range m.order {
		if rec := m.executions[id]; rec != nil && !rec.Status.IsTerminal() {
			ids = append(ids, id)
		}
	}
	return ids
}

// activeLocked counts non-terminal records. Callers hold m.mu.
func (m *AsyncExecutionManager) activeLocked() int {
	active := 0
	for _, rec := range m.executions {
		if !rec.Status.IsTerminal() {
			active++
		}
	}
	return active
}

func (m *AsyncExecutionManager) isStopped() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stopped
}

func (m *AsyncExecutionManager) cacheResult(rec *types.ExecutionRecord) {
	if m.cache == nil || rec.Result == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	if err := m.cache.Set(ctx, rec.ExecutionID, rec.Result); err != nil {
		m.logger.Warn("result cache write failed", zap.String("execution_id", rec.ExecutionID), zap.Error(err))
	}
}

func (m *AsyncExecutionManager) journalSubmission(rec *types.ExecutionRecord, workflowID string) {
	if m.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	if err := m.journal.RecordSubmission(ctx, rec, workflowID); err != nil {
		m.logger.Warn("journal submission write failed", zap.String("execution_id", rec.ExecutionID), zap.Error(err))
	}
}

func (m *AsyncExecutionManager) journalRunning(executionID string) {
	if m.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	if err := m.journal.MarkRunning(ctx, executionID); err != nil {
		m.logger.Warn("journal running update failed", zap.String("execution_id", executionID), zap.Error(err))
	}
}

func (m *AsyncExecutionManager) journalTerminal(rec *types.ExecutionRecord) {
	if m.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	if err := m.journal.RecordTerminal(ctx, rec); err != nil {
		m.logger.Warn("journal terminal write failed", zap.String("execution_id", rec.ExecutionID), zap.Error(err))
	}
}

func (m *AsyncExecutionManager) observePoll(result string) {
	if m.collector != nil {
		m.collector.RecordPollCycle(result)
	}
}
