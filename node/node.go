package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/BaSui01/agentnode/config"
	"github.com/BaSui01/agentnode/coordinator"
	"github.com/BaSui01/agentnode/internal/cache"
	"github.com/BaSui01/agentnode/internal/journal"
	"github.com/BaSui01/agentnode/internal/metrics"
	"github.com/BaSui01/agentnode/internal/server"
	"github.com/BaSui01/agentnode/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// How often terminal journal rows past their retention are purged.
const journalPurgeInterval = 10 * time.Minute

// Node assembles the runtime: the unit registry, the HTTP surface other
// nodes call, the coordinator connection with its health loop, workflow
// tracking, and the async execution manager.
type Node struct {
	id      string
	version string
	config  *config.Config
	logger  *zap.Logger

	registry   *Registry
	client     coordinator.Client
	cache      cache.ResultCache
	journal    *journal.Journal
	collector  *metrics.Collector
	events     *EventDispatcher
	tracker    *WorkflowTracker
	async      *AsyncExecutionManager
	connection *ConnectionManager
	server     *server.Manager
	stream     *coordinator.StatusStream

	middleware  []func(http.Handler) http.Handler
	extraRoutes map[string]http.Handler

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu      sync.Mutex
	started bool
	stopped bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// Option customizes Node construction.
type Option func(*Node)

// WithClient replaces the coordinator client. Primarily for tests.
func WithClient(c coordinator.Client) Option {
	return func(n *Node) { n.client = c }
}

// WithCollector attaches a metrics collector to every component. The caller
// owns collector lifetime: collectors register on the default Prometheus
// registry, so create exactly one per process.
func WithCollector(c *metrics.Collector) Option {
	return func(n *Node) { n.collector = c }
}

// WithVersion sets the version string reported to the coordinator at
// registration. Defaults to "dev".
func WithVersion(v string) Option {
	return func(n *Node) { n.version = v }
}

// New builds a Node from configuration. Nothing runs until Start.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Node, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	n := &Node{
		version:  "dev",
		config:   cfg,
		logger:   logger,
		registry: NewRegistry(),
		done:     make(chan struct{}),
	}
	n.baseCtx, n.baseCancel = context.WithCancel(context.Background())

	n.id = cfg.Node.ID
	if n.id == "" {
		n.id = uuid.NewString()
	}

	for _, opt := range opts {
		opt(n)
	}

	if n.client == nil {
		n.client = coordinator.NewHTTPClient(n.clientConfig(), logger)
	}

	resultCache, err := cache.New(cache.Config{
		Backend:    cache.Backend(cfg.Cache.Backend),
		MaxEntries: cfg.Cache.MaxEntries,
		TTL:        cfg.Cache.TTL,
		Redis: cache.RedisConfig{
			Addr:         cfg.Cache.Redis.Addr,
			Password:     cfg.Cache.Redis.Password,
			DB:           cfg.Cache.Redis.DB,
			PoolSize:     cfg.Cache.Redis.PoolSize,
			MinIdleConns: cfg.Cache.Redis.MinIdleConns,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create result cache: %w", err)
	}
	n.cache = resultCache

	if cfg.Journal.Enabled {
		j, err := journal.Open(journalConfig(cfg.Journal), logger)
		if err != nil {
			_ = resultCache.Close()
			return nil, fmt.Errorf("open execution journal: %w", err)
		}
		n.journal = j
	}

	n.events = NewEventDispatcher(n.client, DefaultDispatcherConfig(), logger)
	n.events.SetJournal(n.journal)

	n.tracker = NewWorkflowTracker(n.id, n.events, logger)

	n.async = NewAsyncExecutionManager(n.client, cfg.Async, logger)
	n.async.SetCache(n.cache)
	n.async.SetJournal(n.journal)

	n.connection = NewConnectionManager(n.client, ConnectionConfig{
		NodeID:              n.id,
		NodeName:            cfg.Node.Name,
		AdvertiseURL:        cfg.Node.AdvertiseURL,
		Version:             n.version,
		Capabilities:        n.registry.Names,
		ActiveExecutions:    func() int { return n.async.Metrics().Active },
		RetryInterval:       cfg.Connection.RetryInterval,
		HealthCheckInterval: cfg.Connection.HealthCheckInterval,
		ConnectionTimeout:   cfg.Connection.ConnectionTimeout,
	}, logger)

	n.server = server.NewManager(n.routes(), server.Config{
		Addr:            cfg.Node.ListenAddr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		MaxHeaderBytes:  cfg.Server.MaxHeaderBytes,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)

	if cfg.Coordinator.StreamEnabled {
		n.stream = coordinator.NewStatusStream(
			n.clientConfig(), coordinator.DefaultStreamConfig(), n.async.HandleStreamUpdate, logger)
	}

	if n.collector != nil {
		n.events.SetCollector(n.collector)
		n.tracker.SetCollector(n.collector)
		n.async.SetCollector(n.collector)
		n.connection.SetCollector(n.collector)
		if n.journal != nil {
			n.journal.SetCollector(n.collector)
		}
	}

	return n, nil
}

func (n *Node) clientConfig() *coordinator.ClientConfig {
	cc := coordinator.DefaultClientConfig()
	cc.BaseURL = n.config.Coordinator.URL
	cc.Token = n.config.Coordinator.Token
	cc.InsecureSkipVerify = n.config.Coordinator.InsecureSkipVerify
	if n.config.Coordinator.RequestTimeout > 0 {
		cc.RequestTimeout = n.config.Coordinator.RequestTimeout
	}
	return cc
}

// journalConfig maps node configuration onto the journal package's own,
// falling back to its pool defaults where the node config leaves zeros.
func journalConfig(cfg config.JournalConfig) journal.Config {
	jc := journal.Config{
		Enabled:   true,
		Driver:    cfg.Driver,
		DSN:       cfg.DSN,
		Retention: cfg.Retention,
		Pool:      journal.DefaultPoolConfig(),
	}
	if cfg.MaxIdleConns > 0 {
		jc.Pool.MaxIdleConns = cfg.MaxIdleConns
	}
	if cfg.MaxOpenConns > 0 {
		jc.Pool.MaxOpenConns = cfg.MaxOpenConns
	}
	if cfg.ConnMaxLifetime > 0 {
		jc.Pool.ConnMaxLifetime = cfg.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime > 0 {
		jc.Pool.ConnMaxIdleTime = cfg.ConnMaxIdleTime
	}
	return jc
}

// Start brings the node online: the HTTP server first so the advertised URL
// is reachable before registration, then journal restore and the async
// loops, then the coordinator connection, and finally the optional status
// stream. The returned error covers local startup only — a failed initial
// registration is not an error, the node keeps reconnecting in background.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return types.NewError(types.ErrNodeStopped, "node is stopped")
	}
	if n.started {
		n.mu.Unlock()
		return nil
	}
	n.started = true
	n.mu.Unlock()

	if err := n.server.Start(); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}
	if n.config.Node.AdvertiseURL == "" {
		n.connection.SetAdvertiseURL("http://" + n.server.BoundAddr())
	}

	if _, err := n.async.Restore(ctx); err != nil {
		n.logger.Warn("journal restore failed", zap.Error(err))
	}
	n.async.Start()

	if connected := n.connection.Start(ctx); !connected {
		n.logger.Warn("initial registration failed, retrying in background")
	}

	if n.stream != nil {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.stream.Run(n.baseCtx); err != nil && !errors.Is(err, context.Canceled) {
				n.logger.Warn("status stream stopped", zap.Error(err))
			}
		}()
	}

	if n.journal != nil && n.config.Journal.Retention > 0 {
		n.wg.Add(1)
		go n.purgeLoop()
	}

	n.logger.Info("node started",
		zap.String("node_id", n.id),
		zap.String("listen_addr", n.server.BoundAddr()),
		zap.Bool("connected", n.connection.IsConnected()),
	)
	return nil
}

// Stop takes the node offline in reverse order of Start. Idempotent, and
// safe on a node that never started.
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return nil
	}
	n.stopped = true
	started := n.started
	n.mu.Unlock()

	close(n.done)
	n.baseCancel()
	if n.stream != nil {
		_ = n.stream.Close()
	}
	n.wg.Wait()

	n.connection.Stop()
	n.async.Stop()
	n.events.Close()

	var firstErr error
	if started {
		if err := n.server.Shutdown(ctx); err != nil {
			firstErr = fmt.Errorf("shutdown http server: %w", err)
		}
	}
	if n.journal != nil {
		if err := n.journal.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close journal: %w", err)
		}
	}
	if err := n.cache.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close result cache: %w", err)
	}

	n.logger.Info("node stopped", zap.String("node_id", n.id))
	return firstErr
}

// purgeLoop trims journal rows whose retention has lapsed.
func (n *Node) purgeLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(journalPurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-n.config.Journal.Retention)
			ctx, cancel := context.WithTimeout(n.baseCtx, sideEffectTimeout)
			removed, err := n.journal.PurgeBefore(ctx, cutoff)
			cancel()
			if err != nil {
				n.logger.Warn("journal purge failed", zap.Error(err))
			} else if removed > 0 {
				n.logger.Debug("journal rows purged", zap.Int64("rows", removed))
			}
		case <-n.done:
			return
		}
	}
}

// ID returns the node identity presented to the coordinator.
func (n *Node) ID() string { return n.id }

// Addr returns the bound listen address, empty before Start.
func (n *Node) Addr() string { return n.server.BoundAddr() }

// Register binds a handler to a unit name, exposing it for dispatch.
func (n *Node) Register(name string, fn HandlerFunc) error {
	return n.registry.Register(name, fn)
}

// MustRegister is Register but panics on error. For init-time wiring.
func (n *Node) MustRegister(name string, fn HandlerFunc) {
	n.registry.MustRegister(name, fn)
}

// Execute runs a locally registered unit under workflow tracking: the unit
// joins the caller's workflow when ctx carries an execution context, or
// starts a new one otherwise.
func (n *Node) Execute(ctx context.Context, unitName string, input map[string]any) (any, error) {
	fn, ok := n.registry.Resolve(unitName)
	if !ok {
		return nil, types.NewError(types.ErrUnitNotFound,
			fmt.Sprintf("unit %q is not registered on this node", unitName))
	}
	return n.tracker.Execute(ctx, unitName, fn, input)
}

// Submit dispatches work to a unit on another node via the coordinator.
func (n *Node) Submit(ctx context.Context, target string, input map[string]any, opts ...SubmitOption) (string, error) {
	return n.async.Submit(ctx, target, input, opts...)
}

// Tracker exposes the workflow tracker, e.g. for ExecuteParallel.
func (n *Node) Tracker() *WorkflowTracker { return n.tracker }

// Async exposes the async execution manager for status, waiting and
// cancellation.
func (n *Node) Async() *AsyncExecutionManager { return n.async }

// Connection exposes the connection manager.
func (n *Node) Connection() *ConnectionManager { return n.connection }

// State reports the coordinator connection state.
func (n *Node) State() types.ConnectionState { return n.connection.State() }

// IsConnected reports whether the node currently holds a healthy
// registration with the coordinator.
func (n *Node) IsConnected() bool { return n.connection.IsConnected() }
