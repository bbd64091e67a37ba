package node

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/agentnode/coordinator"
	"github.com/BaSui01/agentnode/internal/metrics"
	"github.com/BaSui01/agentnode/types"

	"go.uber.org/zap"
)

// Status string the node reports about itself in heartbeats.
const heartbeatStatusHealthy = "healthy"

// ConnectionConfig configures the connection manager.
type ConnectionConfig struct {
	// NodeID identifies this node to the coordinator.
	NodeID string

	// NodeName is the human-readable name sent at registration.
	NodeName string

	// AdvertiseURL is the base URL the coordinator uses to reach this node.
	AdvertiseURL string

	// Version is reported at registration.
	Version string

	// Capabilities supplies the unit names announced at registration.
	// Evaluated per attempt so late registrations are picked up on reconnect.
	Capabilities func() []string

	// ActiveExecutions, when set, is reported with each heartbeat.
	ActiveExecutions func() int

	// RetryInterval is the sleep between reconnection attempts. Default 10s.
	RetryInterval time.Duration

	// HealthCheckInterval is the sleep between heartbeats. Default 30s.
	// Registration may return a heartbeat_interval override that replaces it.
	HealthCheckInterval time.Duration

	// ConnectionTimeout bounds one register or heartbeat round-trip.
	// Default 10s.
	ConnectionTimeout time.Duration

	// OnConnected runs after every successful registration. Panics are
	// caught and logged, never propagated.
	OnConnected func()

	// OnDisconnected runs when the connection is lost: a failed initial
	// attempt or a failed heartbeat. Reconnection attempts that fail do not
	// re-fire it. Panics are caught and logged.
	OnDisconnected func()
}

// ConnectionManager owns the node's single authoritative belief about
// whether it can reach, and be reached by, the coordinator — and keeps
// retrying until it can.
//
// All state lives under one mutex; the reconnection and health-check loops
// run as goroutines coordinated through a done channel. Transport errors and
// timeouts never escape this component: both fold into the same degraded
// transition.
type ConnectionManager struct {
	client    coordinator.Client
	config    ConnectionConfig
	collector *metrics.Collector
	logger    *zap.Logger

	baseCtx context.Context
	cancel  context.CancelFunc

	mu                sync.Mutex
	state             types.ConnectionState
	lastSuccess       time.Time
	heartbeatInterval time.Duration
	reconnectCancel   chan struct{}
	healthActive      bool
	started           bool
	stopped           bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewConnectionManager creates a manager in the disconnected state.
// Call Start to begin connecting.
func NewConnectionManager(client coordinator.Client, config ConnectionConfig, logger *zap.Logger) *ConnectionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = 10 * time.Second
	}
	if config.HealthCheckInterval <= 0 {
		config.HealthCheckInterval = 30 * time.Second
	}
	if config.ConnectionTimeout <= 0 {
		config.ConnectionTimeout = 10 * time.Second
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	return &ConnectionManager{
		client:            client,
		config:            config,
		logger:            logger.With(zap.String("component", "connection_manager")),
		baseCtx:           baseCtx,
		cancel:            cancel,
		state:             types.StateDisconnected,
		heartbeatInterval: config.HealthCheckInterval,
		done:              make(chan struct{}),
	}
}

// SetCollector attaches metrics.
func (m *ConnectionManager) SetCollector(c *metrics.Collector) {
	m.collector = c
}

// SetAdvertiseURL updates the callback URL sent at registration. Set before
// Start when the listen address is only known after the server binds.
func (m *ConnectionManager) SetAdvertiseURL(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.AdvertiseURL = url
}

// Start performs the initial registration attempt and launches the
// background loop that keeps the node connected. Returns whether the initial
// attempt succeeded; on failure the reconnection loop keeps trying until
// Stop. Transport errors never propagate out of Start.
func (m *ConnectionManager) Start(ctx context.Context) bool {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return false
	}
	if m.started {
		connected := m.state == types.StateConnected
		m.mu.Unlock()
		m.logger.Warn("connection manager already started")
		return connected
	}
	m.started = true
	m.transitionLocked(types.StateConnecting)
	m.mu.Unlock()

	if m.connectOnce(ctx) {
		m.startHealthLoop()
		return true
	}
	m.runCallback("on_disconnected", m.config.OnDisconnected)
	m.startReconnectLoop()
	return false
}

// Stop shuts the manager down: both background loops observe it within one
// interval and in-flight requests are cancelled. Idempotent, and safe even
// if Start was never called.
func (m *ConnectionManager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	close(m.done)
	m.transitionLocked(types.StateDisconnected)
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	m.logger.Info("connection manager stopped")
}

// ForceReconnect is a no-op returning true when already connected.
// Otherwise it cancels any in-flight reconnection loop and performs one
// immediate attempt, starting the health-check loop on success. On failure
// the reconnection loop is restarted so the node keeps trying.
func (m *ConnectionManager) ForceReconnect(ctx context.Context) bool {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return false
	}
	if m.state == types.StateConnected {
		m.mu.Unlock()
		return true
	}
	if m.reconnectCancel != nil {
		close(m.reconnectCancel)
		m.reconnectCancel = nil
	}
	m.transitionLocked(types.StateReconnecting)
	m.mu.Unlock()

	if m.connectOnce(ctx) {
		m.startHealthLoop()
		return true
	}
	m.startReconnectLoop()
	return false
}

// State returns the current connection state.
func (m *ConnectionManager) State() types.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the node is currently registered.
func (m *ConnectionManager) IsConnected() bool {
	return m.State() == types.StateConnected
}

// IsDegraded reports whether the last attempt or heartbeat failed.
func (m *ConnectionManager) IsDegraded() bool {
	return m.State() == types.StateDegraded
}

// LastSuccessfulConnection returns when the coordinator last acknowledged
// this node (registration or heartbeat). Zero if never.
func (m *ConnectionManager) LastSuccessfulConnection() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSuccess
}

// connectOnce performs one registration round-trip and folds the outcome
// into the state machine. Success transitions to connected, applies a
// heartbeat_interval override from the resolved config, and runs
// OnConnected. Failure transitions to degraded; the caller decides whether
// that counts as losing the connection (OnDisconnected) or just one more
// failed retry.
func (m *ConnectionManager) connectOnce(ctx context.Context) bool {
	m.mu.Lock()
	req := &coordinator.RegisterRequest{
		NodeID:  m.config.NodeID,
		Name:    m.config.NodeName,
		BaseURL: m.config.AdvertiseURL,
		Version: m.config.Version,
	}
	timeout := m.config.ConnectionTimeout
	m.mu.Unlock()
	if m.config.Capabilities != nil {
		req.Capabilities = m.config.Capabilities()
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := m.client.Register(attemptCtx, req)
	if err != nil {
		m.observeAttempt("failure")
		m.logger.Warn("registration failed", zap.String("node_id", req.NodeID), zap.Error(err))
		m.mu.Lock()
		if !m.stopped {
			m.transitionLocked(types.StateDegraded)
		}
		m.mu.Unlock()
		return false
	}

	m.observeAttempt("success")
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return false
	}
	if m.state == types.StateConnected {
		// A concurrent attempt already won; don't double-fire OnConnected.
		m.lastSuccess = time.Now()
		m.mu.Unlock()
		return true
	}
	m.transitionLocked(types.StateConnected)
	m.lastSuccess = time.Now()
	if interval, ok := resp.HeartbeatInterval(); ok && interval != m.heartbeatInterval {
		m.logger.Info("applying heartbeat interval from coordinator",
			zap.Duration("interval", interval),
		)
		m.heartbeatInterval = interval
	}
	m.mu.Unlock()

	m.logger.Info("registered with coordinator", zap.String("node_id", req.NodeID))
	m.runCallback("on_connected", m.config.OnConnected)
	return true
}

// heartbeatOnce sends one heartbeat. A transport error and an explicit
// negative answer are the same input to the state machine: both return false.
func (m *ConnectionManager) heartbeatOnce() bool {
	m.mu.Lock()
	req := &coordinator.HeartbeatRequest{
		NodeID: m.config.NodeID,
		Status: heartbeatStatusHealthy,
	}
	timeout := m.config.ConnectionTimeout
	m.mu.Unlock()
	if m.config.ActiveExecutions != nil {
		req.ActiveExecutions = m.config.ActiveExecutions()
	}

	ctx, cancel := context.WithTimeout(m.baseCtx, timeout)
	defer cancel()

	if err := m.client.Heartbeat(ctx, req); err != nil {
		m.observeHeartbeat("failure")
		m.logger.Warn("heartbeat failed", zap.Error(err))
		return false
	}

	m.observeHeartbeat("success")
	m.mu.Lock()
	m.lastSuccess = time.Now()
	m.mu.Unlock()
	return true
}

// startReconnectLoop launches the reconnection loop unless one is already
// running or the manager is stopped.
func (m *ConnectionManager) startReconnectLoop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped || m.reconnectCancel != nil {
		return
	}
	cancelCh := make(chan struct{})
	m.reconnectCancel = cancelCh
	m.wg.Add(1)
	go m.reconnectLoop(cancelCh)
}

// reconnectLoop retries registration every RetryInterval until it succeeds,
// the manager stops, or ForceReconnect takes over. A failed attempt is never
// fatal: the loop parks in degraded and sleeps again.
func (m *ConnectionManager) reconnectLoop(cancelCh chan struct{}) {
	defer func() {
		m.mu.Lock()
		if m.reconnectCancel == cancelCh {
			m.reconnectCancel = nil
		}
		m.mu.Unlock()
		m.wg.Done()
	}()

	for {
		select {
		case <-time.After(m.retryInterval()):
		case <-m.done:
			return
		case <-cancelCh:
			return
		}

		if m.IsConnected() {
			// ForceReconnect won the race.
			return
		}

		m.mu.Lock()
		if m.stopped {
			m.mu.Unlock()
			return
		}
		m.transitionLocked(types.StateReconnecting)
		m.mu.Unlock()

		if m.connectOnce(m.baseCtx) {
			m.startHealthLoop()
			return
		}
	}
}

// startHealthLoop launches the heartbeat loop unless one is already running
// or the manager is stopped.
func (m *ConnectionManager) startHealthLoop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped || m.healthActive {
		return
	}
	m.healthActive = true
	m.wg.Add(1)
	go m.healthLoop()
}

// healthLoop heartbeats every health-check interval while connected. One
// failed heartbeat degrades the connection, fires OnDisconnected, and hands
// off to the reconnection loop.
func (m *ConnectionManager) healthLoop() {
	defer func() {
		m.mu.Lock()
		m.healthActive = false
		m.mu.Unlock()
		m.wg.Done()
	}()

	for {
		select {
		case <-time.After(m.healthInterval()):
		case <-m.done:
			return
		}

		if !m.IsConnected() {
			return
		}

		if m.heartbeatOnce() {
			continue
		}

		m.mu.Lock()
		if m.stopped {
			m.mu.Unlock()
			return
		}
		m.transitionLocked(types.StateDegraded)
		m.mu.Unlock()

		m.runCallback("on_disconnected", m.config.OnDisconnected)
		m.startReconnectLoop()
		return
	}
}

func (m *ConnectionManager) retryInterval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config.RetryInterval
}

func (m *ConnectionManager) healthInterval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heartbeatInterval
}

// transitionLocked mutates the state and records the transition. Callers
// hold m.mu.
func (m *ConnectionManager) transitionLocked(to types.ConnectionState) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	if m.collector != nil {
		m.collector.RecordConnectionTransition(string(from), string(to))
	}
	m.logger.Debug("connection state changed",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
}

// runCallback isolates an observer callback: a panic inside it is logged and
// never reaches the state machine.
func (m *ConnectionManager) runCallback(name string, fn func()) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("connection callback panicked",
				zap.String("callback", name),
				zap.Any("panic", r),
			)
		}
	}()
	fn()
}

func (m *ConnectionManager) observeAttempt(result string) {
	if m.collector != nil {
		m.collector.RecordConnectAttempt(result)
	}
}

func (m *ConnectionManager) observeHeartbeat(result string) {
	if m.collector != nil {
		m.collector.RecordHeartbeat(result)
	}
}
