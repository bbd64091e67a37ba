// Package coordinator implements the node's typed view of the coordinator
// service: one HTTP client used by the connection manager, the workflow
// tracker and the async execution manager, plus an optional websocket status
// stream that cuts polling latency.
package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentnode/internal/pool"
	"github.com/BaSui01/agentnode/internal/tlsutil"
	"github.com/BaSui01/agentnode/types"
)

// Client defines the request/response operations the coordinator exposes to a
// node. Registration and heartbeat are single-attempt: the connection manager
// owns their retry cadence. Polling and cancellation retry transient failures
// according to the client configuration.
type Client interface {
	// Register announces this node to the coordinator. The response may carry
	// coordinator-resolved configuration, e.g. a heartbeat interval override.
	Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error)
	// Heartbeat reports node liveness. Used by the health-check loop.
	Heartbeat(ctx context.Context, req *HeartbeatRequest) error
	// SubmitExecution dispatches a unit of work to another node via the
	// coordinator and returns the assigned execution id. Submission is not
	// best-effort: transport failures are returned to the caller.
	SubmitExecution(ctx context.Context, req *SubmitRequest) (string, error)
	// PollStatus retrieves the current status of one execution.
	PollStatus(ctx context.Context, executionID string) (*StatusUpdate, error)
	// BatchPoll retrieves the status of many executions in one round trip.
	// The result maps execution id to its update; ids unknown to the
	// coordinator are simply absent.
	BatchPoll(ctx context.Context, executionIDs []string) (map[string]*StatusUpdate, error)
	// Cancel requests cancellation of a remote execution.
	Cancel(ctx context.Context, executionID, reason string) error
	// NotifyWorkflowEvent delivers one lifecycle event. Single-attempt: the
	// event dispatcher is the best-effort layer around it.
	NotifyWorkflowEvent(ctx context.Context, event *types.WorkflowEvent) error
}

// ClientConfig holds configuration for the coordinator client.
type ClientConfig struct {
	// BaseURL is the coordinator's base URL, e.g. "http://localhost:8080".
	BaseURL string
	// Token is the bearer token presented on every request. Empty disables
	// the Authorization header.
	Token string
	// RequestTimeout is the per-request HTTP timeout.
	RequestTimeout time.Duration
	// RetryCount is the number of retries for retryable requests.
	RetryCount int
	// RetryDelay is the delay between retries.
	RetryDelay time.Duration
	// InsecureSkipVerify disables TLS certificate verification. Development
	// only.
	InsecureSkipVerify bool
	// Headers are additional headers to include in every request.
	Headers map[string]string
}

// DefaultClientConfig returns a ClientConfig with sensible defaults.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:        "http://localhost:8080",
		RequestTimeout: 30 * time.Second,
		RetryCount:     3,
		RetryDelay:     1 * time.Second,
		Headers:        make(map[string]string),
	}
}

// HTTPClient is the default implementation of Client over HTTP/JSON.
type HTTPClient struct {
	config     *ClientConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPClient creates a coordinator client with the given configuration.
// A nil config uses DefaultClientConfig; a nil logger discards output.
func NewHTTPClient(config *ClientConfig, logger *zap.Logger) *HTTPClient {
	if config == nil {
		config = DefaultClientConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := tlsutil.SecureTransport()
	if config.InsecureSkipVerify {
		transport.TLSClientConfig.InsecureSkipVerify = true
	}

	return &HTTPClient{
		config: config,
		httpClient: &http.Client{
			Timeout:   config.RequestTimeout,
			Transport: transport,
		},
		logger: logger.With(zap.String("component", "coordinator_client")),
	}
}

// RegisterRequest announces a node's address and capability metadata.
type RegisterRequest struct {
	NodeID       string   `json:"node_id"`
	Name         string   `json:"name,omitempty"`
	BaseURL      string   `json:"base_url"`
	Capabilities []string `json:"capabilities,omitempty"`
	Version      string   `json:"version,omitempty"`
}

// RegisterResponse is the coordinator's answer to a registration attempt.
type RegisterResponse struct {
	OK             bool           `json:"ok"`
	NodeID         string         `json:"node_id,omitempty"`
	ResolvedConfig map[string]any `json:"resolved_config,omitempty"`
}

// HeartbeatInterval extracts the coordinator-assigned heartbeat interval from
// the resolved configuration, when present. Numeric values are seconds;
// string values parse as Go durations.
func (r *RegisterResponse) HeartbeatInterval() (time.Duration, bool) {
	if r == nil || r.ResolvedConfig == nil {
		return 0, false
	}
	v, ok := r.ResolvedConfig["heartbeat_interval"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		if n <= 0 {
			return 0, false
		}
		return time.Duration(n * float64(time.Second)), true
	case string:
		d, err := time.ParseDuration(n)
		if err != nil || d <= 0 {
			return 0, false
		}
		return d, true
	default:
		return 0, false
	}
}

// HeartbeatRequest reports node liveness and current load.
type HeartbeatRequest struct {
	NodeID           string `json:"node_id"`
	Status           string `json:"status"`
	ActiveExecutions int    `json:"active_executions,omitempty"`
}

// SubmitRequest dispatches a unit of work through the coordinator. Context is
// not serialized into the body: it travels as correlation headers so that
// intermediaries can route on them.
type SubmitRequest struct {
	Target    string                  `json:"target"`
	InputData map[string]any          `json:"input_data,omitempty"`
	Priority  types.Priority          `json:"priority,omitempty"`
	Webhook   string                  `json:"webhook,omitempty"`
	Context   *types.ExecutionContext `json:"-"`
}

// submitResponse carries the coordinator-assigned execution id.
type submitResponse struct {
	ExecutionID string `json:"execution_id"`
	Status      string `json:"status,omitempty"`
}

// StatusUpdate is the coordinator's view of one execution, as returned by
// polling and pushed over the status stream.
type StatusUpdate struct {
	ExecutionID string                `json:"execution_id"`
	Status      types.ExecutionStatus `json:"status"`
	Result      any                   `json:"result,omitempty"`
	Error       string                `json:"error,omitempty"`
}

type batchPollRequest struct {
	ExecutionIDs []string `json:"execution_ids"`
}

type batchPollResponse struct {
	Executions map[string]*StatusUpdate `json:"executions"`
}

type cancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

type cancelResponse struct {
	OK bool `json:"ok"`
}

// Register announces this node to the coordinator.
func (c *HTTPClient) Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	if req == nil || req.NodeID == "" {
		return nil, fmt.Errorf("%w: missing node_id", ErrRegistrationRejected)
	}

	status, body, err := c.doJSON(ctx, http.MethodPost, "/api/v1/nodes/register", req, nil, 0)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK, http.StatusCreated:
		// Registered, parse resolved config
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("%w: status %d, body: %s", ErrRegistrationRejected, status, string(body))
	default:
		return nil, errorFromStatus(status, body)
	}

	var resp RegisterResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if !resp.OK {
		return nil, fmt.Errorf("%w: coordinator answered ok=false", ErrRegistrationRejected)
	}
	return &resp, nil
}

// Heartbeat reports node liveness.
func (c *HTTPClient) Heartbeat(ctx context.Context, req *HeartbeatRequest) error {
	if req == nil || req.NodeID == "" {
		return fmt.Errorf("%w: missing node_id", ErrInvalidResponse)
	}

	path := fmt.Sprintf("/api/v1/nodes/%s/heartbeat", req.NodeID)
	status, body, err := c.doJSON(ctx, http.MethodPost, path, req, nil, 0)
	if err != nil {
		return err
	}

	switch status {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		// Coordinator forgot this node, e.g. after its own restart. The
		// connection manager re-registers on this signal.
		return fmt.Errorf("%w: node %s not registered", ErrRegistrationRejected, req.NodeID)
	default:
		return errorFromStatus(status, body)
	}
}

// SubmitExecution dispatches a unit of work and returns the assigned
// execution id. Never retried: a timed-out submission may still have been
// accepted, and resubmitting would dispatch the work twice.
func (c *HTTPClient) SubmitExecution(ctx context.Context, req *SubmitRequest) (string, error) {
	if req == nil || req.Target == "" {
		return "", fmt.Errorf("%w: missing target", ErrInvalidResponse)
	}

	var extra http.Header
	if req.Context != nil {
		extra = make(http.Header)
		req.Context.ApplyHeaders(extra)
	}

	status, body, err := c.doJSON(ctx, http.MethodPost, "/api/v1/executions", req, extra, 0)
	if err != nil {
		return "", err
	}

	switch status {
	case http.StatusOK, http.StatusAccepted:
		// Accepted, parse execution id
	default:
		return "", errorFromStatus(status, body)
	}

	var resp submitResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if resp.ExecutionID == "" {
		return "", fmt.Errorf("%w: missing execution_id in response", ErrInvalidResponse)
	}
	return resp.ExecutionID, nil
}

// PollStatus retrieves the current status of one execution.
func (c *HTTPClient) PollStatus(ctx context.Context, executionID string) (*StatusUpdate, error) {
	if executionID == "" {
		return nil, fmt.Errorf("%w: empty execution_id", ErrExecutionNotFound)
	}

	path := fmt.Sprintf("/api/v1/executions/%s", executionID)
	status, body, err := c.doJSON(ctx, http.MethodGet, path, nil, nil, c.config.RetryCount)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK:
		// Parse update
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: execution %s", ErrExecutionNotFound, executionID)
	default:
		return nil, errorFromStatus(status, body)
	}

	var update StatusUpdate
	if err := json.Unmarshal(body, &update); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if update.ExecutionID == "" {
		update.ExecutionID = executionID
	}
	return &update, nil
}

// BatchPoll retrieves the status of many executions in one round trip.
func (c *HTTPClient) BatchPoll(ctx context.Context, executionIDs []string) (map[string]*StatusUpdate, error) {
	if len(executionIDs) == 0 {
		return map[string]*StatusUpdate{}, nil
	}

	req := batchPollRequest{ExecutionIDs: executionIDs}
	status, body, err := c.doJSON(ctx, http.MethodPost, "/api/v1/executions/poll", req, nil, c.config.RetryCount)
	if err != nil {
		return nil, err
	}

	if status != http.StatusOK {
		return nil, errorFromStatus(status, body)
	}

	var resp batchPollResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if resp.Executions == nil {
		resp.Executions = map[string]*StatusUpdate{}
	}
	for id, update := range resp.Executions {
		if update != nil && update.ExecutionID == "" {
			update.ExecutionID = id
		}
	}
	return resp.Executions, nil
}

// Cancel requests cancellation of a remote execution.
func (c *HTTPClient) Cancel(ctx context.Context, executionID, reason string) error {
	if executionID == "" {
		return fmt.Errorf("%w: empty execution_id", ErrExecutionNotFound)
	}

	path := fmt.Sprintf("/api/v1/executions/%s/cancel", executionID)
	req := cancelRequest{Reason: reason}
	status, body, err := c.doJSON(ctx, http.MethodPost, path, req, nil, c.config.RetryCount)
	if err != nil {
		return err
	}

	switch status {
	case http.StatusOK, http.StatusAccepted:
		// Parse acceptance
	case http.StatusNotFound:
		return fmt.Errorf("%w: execution %s", ErrExecutionNotFound, executionID)
	case http.StatusConflict:
		return fmt.Errorf("%w: execution %s already terminal", ErrCancellationRejected, executionID)
	default:
		return errorFromStatus(status, body)
	}

	var resp cancelResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if !resp.OK {
		return fmt.Errorf("%w: execution %s", ErrCancellationRejected, executionID)
	}
	return nil
}

// NotifyWorkflowEvent delivers one lifecycle event to the coordinator.
func (c *HTTPClient) NotifyWorkflowEvent(ctx context.Context, event *types.WorkflowEvent) error {
	if event == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidResponse)
	}

	status, body, err := c.doJSON(ctx, http.MethodPost, "/api/v1/workflow/events", event, nil, 0)
	if err != nil {
		return err
	}

	switch status {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent:
		return nil
	default:
		return errorFromStatus(status, body)
	}
}

// doJSON executes one JSON request against the coordinator, retrying network
// failures and 5xx answers up to retries times. The http.Request is rebuilt
// for every attempt: a request body reader is consumed by the first send and
// must never be reused.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, extra http.Header, retries int) (int, []byte, error) {
	if c.config.BaseURL == "" {
		return 0, nil, fmt.Errorf("%w: empty base url", ErrCoordinatorUnavailable)
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to serialize request: %w", err)
		}
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + path

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying coordinator request",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("attempt", attempt))
			select {
			case <-ctx.Done():
				return 0, nil, ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
		}

		status, respBody, err := c.doOnce(ctx, method, url, payload, extra)
		if err != nil {
			lastErr = err
			continue
		}
		if status >= 500 {
			lastErr = fmt.Errorf("%w: status %d, body: %s", ErrCoordinatorUnavailable, status, string(respBody))
			continue
		}
		return status, respBody, nil
	}
	return 0, nil, lastErr
}

// doOnce performs a single HTTP exchange and drains the response through a
// pooled buffer.
func (c *HTTPClient) doOnce(ctx context.Context, method, url string, payload []byte, extra http.Header) (int, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}
	for k, vs := range extra {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrCoordinatorUnavailable, err)
	}
	defer resp.Body.Close()

	buf := pool.ByteBufferPool.Get()
	defer pool.ByteBufferPool.Put(buf)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}

	// Copy out: the buffer returns to the pool when this call returns.
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return resp.StatusCode, out, nil
}

// errorFromStatus maps failure statuses shared by every endpoint.
func errorFromStatus(status int, body []byte) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrUnauthorized, status)
	default:
		return fmt.Errorf("%w: status %d, body: %s", ErrCoordinatorUnavailable, status, string(body))
	}
}

// Ensure HTTPClient implements the Client interface.
var _ Client = (*HTTPClient)(nil)
