package coordinator

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentnode/types"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// newTestClient builds a client against the given test server with fast
// retries.
func newTestClient(srv *httptest.Server) *HTTPClient {
	cfg := DefaultClientConfig()
	cfg.BaseURL = srv.URL
	cfg.Token = "test-token"
	cfg.RetryCount = 2
	cfg.RetryDelay = 10 * time.Millisecond
	return NewHTTPClient(cfg, zap.NewNop())
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, body any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(body))
}

// ---------------------------------------------------------------------------
// Tests: configuration and construction
// ---------------------------------------------------------------------------

func TestDefaultClientConfig(t *testing.T) {
	cfg := DefaultClientConfig()
	assert.Equal(t, "http://localhost:8080", cfg.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 3, cfg.RetryCount)
	assert.Equal(t, time.Second, cfg.RetryDelay)
	assert.False(t, cfg.InsecureSkipVerify)
	assert.NotNil(t, cfg.Headers)
}

func TestNewHTTPClient_NilArguments(t *testing.T) {
	c := NewHTTPClient(nil, nil)
	require.NotNil(t, c)
	assert.Equal(t, DefaultClientConfig().BaseURL, c.config.BaseURL)
	assert.NotNil(t, c.httpClient)
	assert.NotNil(t, c.logger)
}

func TestNewHTTPClient_InsecureSkipVerify(t *testing.T) {
	cfg := DefaultClientConfig()
	cfg.InsecureSkipVerify = true
	c := NewHTTPClient(cfg, zap.NewNop())

	transport, ok := c.httpClient.Transport.(*http.Transport)
	require.True(t, ok)
	assert.True(t, transport.TLSClientConfig.InsecureSkipVerify)
}

// ---------------------------------------------------------------------------
// Tests: Register
// ---------------------------------------------------------------------------

func TestRegister_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/nodes/register", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req RegisterRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "node-1", req.NodeID)
		assert.Equal(t, "http://localhost:8001", req.BaseURL)
		assert.Equal(t, []string{"node.unit"}, req.Capabilities)

		writeJSON(t, w, http.StatusOK, map[string]any{
			"ok":      true,
			"node_id": "node-1",
			"resolved_config": map[string]any{
				"heartbeat_interval": 5,
			},
		})
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(srv)
	resp, err := c.Register(context.Background(), &RegisterRequest{
		NodeID:       "node-1",
		BaseURL:      "http://localhost:8001",
		Capabilities: []string{"node.unit"},
	})
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.Equal(t, "node-1", resp.NodeID)

	interval, ok := resp.HeartbeatInterval()
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, interval)
}

func TestRegister_RejectedByBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{"ok": false})
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(srv)
	_, err := c.Register(context.Background(), &RegisterRequest{NodeID: "node-1", BaseURL: "http://x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRegistrationRejected)
}

func TestRegister_RejectedByStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "duplicate node id", http.StatusConflict)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(srv)
	_, err := c.Register(context.Background(), &RegisterRequest{NodeID: "node-1", BaseURL: "http://x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRegistrationRejected)
	assert.Contains(t, err.Error(), "duplicate node id")
}

func TestRegister_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(srv)
	_, err := c.Register(context.Background(), &RegisterRequest{NodeID: "node-1", BaseURL: "http://x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestRegister_MissingNodeID(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(srv)
	_, err := c.Register(context.Background(), &RegisterRequest{BaseURL: "http://x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRegistrationRejected)
	assert.Equal(t, int32(0), calls.Load())
}

func TestRegisterResponse_HeartbeatInterval(t *testing.T) {
	tests := []struct {
		name     string
		resp     *RegisterResponse
		want     time.Duration
		wantOK   bool
	}{
		{"nil response", nil, 0, false},
		{"no resolved config", &RegisterResponse{OK: true}, 0, false},
		{"missing key", &RegisterResponse{ResolvedConfig: map[string]any{"other": 1}}, 0, false},
		{"numeric seconds", &RegisterResponse{ResolvedConfig: map[string]any{"heartbeat_interval": float64(45)}}, 45 * time.Second, true},
		{"fractional seconds", &RegisterResponse{ResolvedConfig: map[string]any{"heartbeat_interval": 0.5}}, 500 * time.Millisecond, true},
		{"duration string", &RegisterResponse{ResolvedConfig: map[string]any{"heartbeat_interval": "90s"}}, 90 * time.Second, true},
		{"garbage string", &RegisterResponse{ResolvedConfig: map[string]any{"heartbeat_interval": "soon"}}, 0, false},
		{"negative", &RegisterResponse{ResolvedConfig: map[string]any{"heartbeat_interval": float64(-1)}}, 0, false},
		{"wrong type", &RegisterResponse{ResolvedConfig: map[string]any{"heartbeat_interval": true}}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.resp.HeartbeatInterval()
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

// ---------------------------------------------------------------------------
// Tests: Heartbeat
// ---------------------------------------------------------------------------

func TestHeartbeat_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/nodes/node-1/heartbeat", r.URL.Path)

		var req HeartbeatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "node-1", req.NodeID)
		assert.Equal(t, "connected", req.Status)
		assert.Equal(t, 3, req.ActiveExecutions)

		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(srv)
	err := c.Heartbeat(context.Background(), &HeartbeatRequest{
		NodeID:           "node-1",
		Status:           "connected",
		ActiveExecutions: 3,
	})
	require.NoError(t, err)
}

func TestHeartbeat_NodeForgotten(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(srv)
	err := c.Heartbeat(context.Background(), &HeartbeatRequest{NodeID: "node-1", Status: "connected"})
	require.Error(t, err)
	// Re-register signal, distinct from a plain outage.
	assert.ErrorIs(t, err, ErrRegistrationRejected)
}

func TestHeartbeat_SingleAttempt(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(srv)
	err := c.Heartbeat(context.Background(), &HeartbeatRequest{NodeID: "node-1", Status: "connected"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCoordinatorUnavailable)
	// The connection manager owns heartbeat cadence; the client must not
	// stack its own retries on top.
	assert.Equal(t, int32(1), calls.Load())
}

// ---------------------------------------------------------------------------
// Tests: SubmitExecution
// ---------------------------------------------------------------------------

func TestSubmitExecution_Success(t *testing.T) {
	parent := types.NewRootContext("parent.unit")
	child := parent.Child("node.unit")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/executions", r.URL.Path)

		// Correlation travels as headers, not body.
		assert.Equal(t, child.ExecutionID, r.Header.Get(types.HeaderExecutionID))
		assert.Equal(t, child.WorkflowID, r.Header.Get(types.HeaderWorkflowID))
		assert.Equal(t, parent.ExecutionID, r.Header.Get(types.HeaderParentExecutionID))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req map[string]any
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "node.unit", req["target"])
		assert.Equal(t, map[string]any{"x": float64(1)}, req["input_data"])
		assert.Equal(t, "high", req["priority"])
		assert.NotContains(t, req, "Context")

		writeJSON(t, w, http.StatusAccepted, map[string]any{"execution_id": "exec-1"})
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(srv)
	id, err := c.SubmitExecution(context.Background(), &SubmitRequest{
		Target:    "node.unit",
		InputData: map[string]any{"x": 1},
		Priority:  types.PriorityHigh,
		Context:   child,
	})
	require.NoError(t, err)
	assert.Equal(t, "exec-1", id)
}

func TestSubmitExecution_MissingExecutionID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusAccepted, map[string]any{})
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(srv)
	_, err := c.SubmitExecution(context.Background(), &SubmitRequest{Target: "node.unit"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestSubmitExecution_NoRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(srv)
	_, err := c.SubmitExecution(context.Background(), &SubmitRequest{Target: "node.unit"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCoordinatorUnavailable)
	// A timed-out submission may still have been accepted; resubmitting would
	// dispatch the work twice.
	assert.Equal(t, int32(1), calls.Load())
}

func TestSubmitExecution_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse all connections

	c := newTestClient(srv)
	_, err := c.SubmitExecution(context.Background(), &SubmitRequest{Target: "node.unit"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCoordinatorUnavailable)
}

func TestSubmitExecution_MissingTarget(t *testing.T) {
	c := NewHTTPClient(nil, nil)
	_, err := c.SubmitExecution(context.Background(), &SubmitRequest{})
	require.Error(t, err)
}

// ---------------------------------------------------------------------------
// Tests: PollStatus
// ---------------------------------------------------------------------------

func TestPollStatus_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/executions/exec-9", r.URL.Path)
		writeJSON(t, w, http.StatusOK, map[string]any{
			"execution_id": "exec-9",
			"status":       "succeeded",
			"result":       map[string]any{"y": 2},
		})
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(srv)
	update, err := c.PollStatus(context.Background(), "exec-9")
	require.NoError(t, err)
	assert.Equal(t, "exec-9", update.ExecutionID)
	assert.Equal(t, types.StatusSucceeded, update.Status)
	assert.Equal(t, map[string]any{"y": float64(2)}, update.Result)
	assert.Empty(t, update.Error)
}

func TestPollStatus_FillsExecutionID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{"status": "running"})
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(srv)
	update, err := c.PollStatus(context.Background(), "exec-7")
	require.NoError(t, err)
	assert.Equal(t, "exec-7", update.ExecutionID)
	assert.Equal(t, types.StatusRunning, update.Status)
}

func TestPollStatus_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(srv)
	_, err := c.PollStatus(context.Background(), "exec-gone")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExecutionNotFound)
	assert.Contains(t, err.Error(), "exec-gone")
}

func TestPollStatus_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeJSON(t, w, http.StatusOK, map[string]any{"execution_id": "exec-1", "status": "running"})
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(srv)
	update, err := c.PollStatus(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusRunning, update.Status)
	assert.Equal(t, int32(2), calls.Load())
}

func TestPollStatus_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(srv)
	_, err := c.PollStatus(context.Background(), "exec-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCoordinatorUnavailable)
	// RetryCount=2 means one initial attempt plus two retries.
	assert.Equal(t, int32(3), calls.Load())
}

func TestPollStatus_ContextCancelledDuringRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	cfg := DefaultClientConfig()
	cfg.BaseURL = srv.URL
	cfg.RetryCount = 5
	cfg.RetryDelay = 50 * time.Millisecond
	c := NewHTTPClient(cfg, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	t.Cleanup(cancel)

	_, err := c.PollStatus(ctx, "exec-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// ---------------------------------------------------------------------------
// Tests: BatchPoll
// ---------------------------------------------------------------------------

func TestBatchPoll_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/executions/poll", r.URL.Path)

		var req batchPollRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"a", "b"}, req.ExecutionIDs)

		writeJSON(t, w, http.StatusOK, map[string]any{
			"executions": map[string]any{
				"a": map[string]any{"status": "running"},
				"b": map[string]any{"execution_id": "b", "status": "failed", "error": "boom"},
			},
		})
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(srv)
	updates, err := c.BatchPoll(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, updates, 2)

	// Map key fills a missing execution_id.
	assert.Equal(t, "a", updates["a"].ExecutionID)
	assert.Equal(t, types.StatusRunning, updates["a"].Status)
	assert.Equal(t, types.StatusFailed, updates["b"].Status)
	assert.Equal(t, "boom", updates["b"].Error)
}

func TestBatchPoll_EmptyIDs(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(srv)
	updates, err := c.BatchPoll(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, updates)
	assert.Equal(t, int32(0), calls.Load())
}

func TestBatchPoll_MissingExecutionsField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{})
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(srv)
	updates, err := c.BatchPoll(context.Background(), []string{"a"})
	require.NoError(t, err)
	require.NotNil(t, updates)
	assert.Empty(t, updates)
}

// ---------------------------------------------------------------------------
// Tests: Cancel
// ---------------------------------------------------------------------------

func TestCancel_Accepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/executions/exec-1/cancel", r.URL.Path)

		var req cancelRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "user requested", req.Reason)

		writeJSON(t, w, http.StatusOK, map[string]any{"ok": true})
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(srv)
	require.NoError(t, c.Cancel(context.Background(), "exec-1", "user requested"))
}

func TestCancel_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{"ok": false})
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(srv)
	err := c.Cancel(context.Background(), "exec-1", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancellationRejected)
}

func TestCancel_AlreadyTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(srv)
	err := c.Cancel(context.Background(), "exec-1", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancellationRejected)
}

func TestCancel_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(srv)
	err := c.Cancel(context.Background(), "exec-1", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExecutionNotFound)
}

// ---------------------------------------------------------------------------
// Tests: NotifyWorkflowEvent
// ---------------------------------------------------------------------------

func TestNotifyWorkflowEvent_Success(t *testing.T) {
	ec := types.NewRootContext("ingest.run")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/workflow/events", r.URL.Path)

		var event types.WorkflowEvent
		require.NoError(t, json.NewDecoder(r.Body).Decode(&event))
		assert.Equal(t, ec.ExecutionID, event.ExecutionID)
		assert.Equal(t, ec.WorkflowID, event.WorkflowID)
		assert.Equal(t, "ingest.run", event.UnitName)
		assert.Equal(t, types.StatusRunning, event.Status)

		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(srv)
	err := c.NotifyWorkflowEvent(context.Background(), types.NewWorkflowEvent(ec, "node-1", types.StatusRunning))
	require.NoError(t, err)
}

func TestNotifyWorkflowEvent_SingleAttempt(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(srv)
	ec := types.NewRootContext("ingest.run")
	err := c.NotifyWorkflowEvent(context.Background(), types.NewWorkflowEvent(ec, "node-1", types.StatusSucceeded))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCoordinatorUnavailable)
	// Best-effort delivery lives in the event dispatcher, not here.
	assert.Equal(t, int32(1), calls.Load())
}

// ---------------------------------------------------------------------------
// Tests: request plumbing
// ---------------------------------------------------------------------------

// Retried POSTs must carry a full body on every attempt: a request reader is
// consumed by the first send, so the request has to be rebuilt.
func TestRetry_RebuildsRequestBody(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		mu.Lock()
		bodies = append(bodies, string(body))
		n := len(bodies)
		mu.Unlock()

		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeJSON(t, w, http.StatusOK, map[string]any{"ok": true})
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(srv)
	require.NoError(t, c.Cancel(context.Background(), "exec-1", "shutdown"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 2)
	assert.NotEmpty(t, bodies[0])
	assert.Equal(t, bodies[0], bodies[1])
}

func TestClient_CustomHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "cluster-7", r.Header.Get("X-Cluster"))
		writeJSON(t, w, http.StatusOK, map[string]any{"execution_id": "e", "status": "running"})
	}))
	t.Cleanup(srv.Close)

	cfg := DefaultClientConfig()
	cfg.BaseURL = srv.URL
	cfg.Headers["X-Cluster"] = "cluster-7"
	c := NewHTTPClient(cfg, zap.NewNop())

	_, err := c.PollStatus(context.Background(), "e")
	require.NoError(t, err)
}

func TestClient_EmptyBaseURL(t *testing.T) {
	cfg := DefaultClientConfig()
	cfg.BaseURL = ""
	c := NewHTTPClient(cfg, zap.NewNop())

	_, err := c.PollStatus(context.Background(), "exec-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCoordinatorUnavailable)
	assert.Contains(t, err.Error(), "empty base url")
}

func TestClient_TrimsTrailingSlash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/executions/e", r.URL.Path)
		writeJSON(t, w, http.StatusOK, map[string]any{"execution_id": "e", "status": "queued"})
	}))
	t.Cleanup(srv.Close)

	cfg := DefaultClientConfig()
	cfg.BaseURL = srv.URL + "/"
	c := NewHTTPClient(cfg, zap.NewNop())

	_, err := c.PollStatus(context.Background(), "e")
	require.NoError(t, err)
}

func TestErrorFromStatus(t *testing.T) {
	assert.ErrorIs(t, errorFromStatus(http.StatusUnauthorized, nil), ErrUnauthorized)
	assert.ErrorIs(t, errorFromStatus(http.StatusForbidden, nil), ErrUnauthorized)

	err := errorFromStatus(http.StatusTeapot, []byte("short and stout"))
	assert.ErrorIs(t, err, ErrCoordinatorUnavailable)
	assert.Contains(t, err.Error(), "short and stout")
}
