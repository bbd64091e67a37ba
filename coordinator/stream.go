package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// streamPath is the coordinator's websocket endpoint for status pushes.
const streamPath = "/api/v1/executions/stream"

// UpdateHandler consumes one status update pushed by the coordinator.
type UpdateHandler func(*StatusUpdate)

// StreamConfig configures the status stream behavior.
type StreamConfig struct {
	PingInterval      time.Duration // Interval between liveness pings (default 30s, 0 disables)
	ReconnectDelay    time.Duration // Base delay for exponential backoff (default 1s)
	MaxBackoff        time.Duration // Maximum backoff duration (default 30s)
	BackoffMultiplier float64       // Backoff multiplier (default 2.0)
	MaxReconnects     int           // Consecutive dial failures before giving up (default 0 = retry forever)
}

// DefaultStreamConfig returns a StreamConfig with sensible defaults.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		PingInterval:      30 * time.Second,
		ReconnectDelay:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		MaxReconnects:     0,
	}
}

// StatusStream subscribes to the coordinator's execution-status feed over
// websocket and hands each update to a handler, cutting the latency of pure
// polling. The stream is an accelerator only: polling remains the source of
// truth, so a dropped connection costs latency, never correctness. Dropped
// connections are redialed with exponential backoff.
type StatusStream struct {
	url     string
	token   string
	handler UpdateHandler
	config  StreamConfig
	logger  *zap.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closed    bool
	done      chan struct{}
}

// NewStatusStream creates a status stream against the coordinator described
// by the client configuration. Zero-value stream config fields fall back to
// their defaults so callers can set only what they care about.
func NewStatusStream(clientCfg *ClientConfig, streamCfg StreamConfig, handler UpdateHandler, logger *zap.Logger) *StatusStream {
	if clientCfg == nil {
		clientCfg = DefaultClientConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if streamCfg.ReconnectDelay == 0 {
		streamCfg.ReconnectDelay = time.Second
	}
	if streamCfg.MaxBackoff == 0 {
		streamCfg.MaxBackoff = 30 * time.Second
	}
	if streamCfg.BackoffMultiplier == 0 {
		streamCfg.BackoffMultiplier = 2.0
	}

	return &StatusStream{
		url:     wsBaseURL(clientCfg.BaseURL) + streamPath,
		token:   clientCfg.Token,
		handler: handler,
		config:  streamCfg,
		logger:  logger.With(zap.String("component", "status_stream")),
		done:    make(chan struct{}),
	}
}

// IsConnected returns true while the stream has an active connection.
func (s *StatusStream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected && !s.closed
}

// Run dials the coordinator and consumes status updates until the context is
// cancelled or Close is called. Dial failures and dropped connections are
// retried with exponential backoff; with MaxReconnects > 0, Run gives up
// after that many consecutive dial failures. Run may be called at most once.
func (s *StatusStream) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	s.mu.Unlock()

	failures := 0
	delay := s.config.ReconnectDelay
	first := true

	for {
		if !first {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.done:
				return nil
			case <-time.After(delay):
			}
		}
		first = false

		conn, err := s.dial(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.done:
				return nil
			default:
			}

			failures++
			if s.config.MaxReconnects > 0 && failures >= s.config.MaxReconnects {
				return fmt.Errorf("max reconnect attempts (%d) reached: %w", s.config.MaxReconnects, err)
			}
			s.logger.Warn("status stream dial failed",
				zap.Int("failures", failures),
				zap.Duration("next_delay", delay),
				zap.Error(err))
			delay = nextBackoff(delay, s.config.BackoffMultiplier, s.config.MaxBackoff)
			continue
		}

		if !s.install(conn) {
			// Closed while dialing
			return nil
		}
		failures = 0
		delay = s.config.ReconnectDelay
		s.logger.Info("status stream connected", zap.String("url", s.url))

		readErr := s.readLoop(ctx, conn)
		s.uninstall()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		default:
		}
		s.logger.Warn("status stream disconnected", zap.Error(readErr))
	}
}

// Close shuts the stream down and makes Run return. Idempotent.
func (s *StatusStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	conn := s.conn
	s.conn = nil
	s.connected = false
	s.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "closing")
	}
	return nil
}

// dial opens one websocket connection, presenting the bearer token.
func (s *StatusStream) dial(ctx context.Context) (*websocket.Conn, error) {
	header := make(http.Header)
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}

	conn, _, err := websocket.Dial(ctx, s.url, &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("stream dial: %w", err)
	}
	return conn, nil
}

// install records the active connection. Returns false when the stream was
// closed while the dial was in flight; the connection is then discarded.
func (s *StatusStream) install(conn *websocket.Conn) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "closing")
		return false
	}
	s.conn = conn
	s.connected = true
	s.mu.Unlock()
	return true
}

func (s *StatusStream) uninstall() {
	s.mu.Lock()
	s.conn = nil
	s.connected = false
	s.mu.Unlock()
}

// readLoop consumes frames from one connection until it fails. Malformed
// frames are logged and skipped; a bad frame must not cost the connection.
func (s *StatusStream) readLoop(ctx context.Context, conn *websocket.Conn) error {
	if s.config.PingInterval > 0 {
		pingCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go s.pingLoop(pingCtx, conn)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var update StatusUpdate
		if err := json.Unmarshal(data, &update); err != nil {
			s.logger.Warn("discarding malformed stream frame", zap.Error(err))
			continue
		}
		if update.ExecutionID == "" {
			continue
		}
		s.deliver(&update)
	}
}

// pingLoop sends periodic liveness pings. A failed ping closes the
// connection, which makes the read loop fail over to a redial.
func (s *StatusStream) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				s.logger.Warn("status stream ping failed", zap.Error(err))
				_ = conn.Close(websocket.StatusGoingAway, "ping timeout")
				return
			}
		}
	}
}

// deliver hands one update to the handler. A panicking handler loses that
// update, never the stream.
func (s *StatusStream) deliver(update *StatusUpdate) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("status handler panicked",
				zap.String("execution_id", update.ExecutionID),
				zap.Any("panic", r))
		}
	}()
	s.handler(update)
}

// nextBackoff grows the delay by the multiplier, capped at max.
func nextBackoff(delay time.Duration, multiplier float64, max time.Duration) time.Duration {
	next := time.Duration(float64(delay) * multiplier)
	if next > max {
		next = max
	}
	return next
}

// wsBaseURL converts the coordinator's http(s) base URL to its websocket
// equivalent.
func wsBaseURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://")
	default:
		return baseURL
	}
}
