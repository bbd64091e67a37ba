package node

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/agentnode/coordinator"
	"github.com/BaSui01/agentnode/internal/journal"
	"github.com/BaSui01/agentnode/internal/metrics"
	"github.com/BaSui01/agentnode/internal/pool"
	"github.com/BaSui01/agentnode/types"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DispatcherConfig configures the workflow event dispatcher.
type DispatcherConfig struct {
	// QueueSize bounds the pending event queue. When full, new events are
	// dropped and counted instead of blocking the call path.
	QueueSize int `json:"queue_size"`

	// SendTimeout bounds one delivery attempt to the coordinator.
	SendTimeout time.Duration `json:"send_timeout"`

	// RateLimit caps deliveries per second. Zero means unlimited.
	RateLimit float64 `json:"rate_limit"`

	// RateBurst is the limiter's burst size when RateLimit is set.
	RateBurst int `json:"rate_burst"`
}

// DefaultDispatcherConfig returns dispatcher defaults sized for
// control-plane event volume.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		QueueSize:   256,
		SendTimeout: 5 * time.Second,
	}
}

// EventDispatcher delivers workflow lifecycle events to the coordinator.
// Delivery is fire-and-forget: a failure is logged and counted, never
// surfaced to the code that produced the event, and emission never blocks.
//
// Events drain through a single sender, so events enqueued by one call chain
// are delivered in emit order: a child's completion event, emitted before the
// parent returns, reaches the coordinator before the parent's.
type EventDispatcher struct {
	client    coordinator.Client
	journal   *journal.Journal
	collector *metrics.Collector
	pool      *pool.WorkerPool
	limiter   *rate.Limiter
	timeout   time.Duration
	logger    *zap.Logger
}

// NewEventDispatcher creates a dispatcher sending through the given client.
func NewEventDispatcher(client coordinator.Client, config DispatcherConfig, logger *zap.Logger) *EventDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultDispatcherConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = def.QueueSize
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = def.SendTimeout
	}

	d := &EventDispatcher{
		client:  client,
		timeout: config.SendTimeout,
		logger:  logger.With(zap.String("component", "event_dispatcher")),
	}
	if config.RateLimit > 0 {
		burst := config.RateBurst
		if burst <= 0 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}
	// One worker: the emit-order delivery guarantee depends on a single
	// sender draining the queue.
	d.pool = pool.NewWorkerPool(pool.WorkerPoolConfig{
		MaxWorkers: 1,
		QueueSize:  config.QueueSize,
		PanicHandler: func(r any) {
			d.logger.Error("event send panicked", zap.Any("panic", r))
		},
	})
	return d
}

// SetJournal makes the dispatcher persist each event before sending it.
// Journal writes are best-effort like the sends themselves.
func (d *EventDispatcher) SetJournal(j *journal.Journal) {
	d.journal = j
}

// SetCollector attaches metrics.
func (d *EventDispatcher) SetCollector(c *metrics.Collector) {
	d.collector = c
}

// Emit queues one event for delivery and returns immediately. A saturated
// queue drops the event: losing a notification is acceptable, stalling the
// unit of work that produced it is not.
func (d *EventDispatcher) Emit(ev *types.WorkflowEvent) {
	if ev == nil {
		return
	}

	err := d.pool.Submit(context.Background(), func(ctx context.Context) error {
		d.send(ev)
		return nil
	})
	if err != nil {
		d.observe("dropped")
		if errors.Is(err, pool.ErrPoolFull) {
			d.logger.Warn("event queue full, dropping workflow event",
				zap.String("execution_id", ev.ExecutionID),
				zap.String("status", string(ev.Status)),
			)
		}
		return
	}
	d.observeDepth()
}

// Close stops intake and drains queued events. Idempotent.
func (d *EventDispatcher) Close() {
	d.pool.Close()
	d.observeDepth()
}

// Stats returns the underlying queue counters.
func (d *EventDispatcher) Stats() pool.WorkerPoolStats {
	return d.pool.Stats()
}

func (d *EventDispatcher) send(ev *types.WorkflowEvent) {
	defer d.observeDepth()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			d.observe("dropped")
			return
		}
	}

	if d.journal != nil {
		if err := d.journal.AppendEvent(ctx, ev); err != nil {
			d.logger.Warn("journal append failed", zap.String("execution_id", ev.ExecutionID), zap.Error(err))
		}
	}

	if err := d.client.NotifyWorkflowEvent(ctx, ev); err != nil {
		d.observe("failed")
		d.logger.Warn("workflow event delivery failed",
			zap.String("execution_id", ev.ExecutionID),
			zap.String("unit", ev.UnitName),
			zap.String("status", string(ev.Status)),
			zap.Error(err),
		)
		return
	}
	d.observe("sent")
}

func (d *EventDispatcher) observe(result string) {
	if d.collector != nil {
		d.collector.RecordEvent(result)
	}
}

func (d *EventDispatcher) observeDepth() {
	if d.collector != nil {
		d.collector.SetEventQueueDepth(d.pool.Stats().Queued)
	}
}
