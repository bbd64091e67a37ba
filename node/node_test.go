package node

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/agentnode/config"
	"github.com/BaSui01/agentnode/coordinator"
	"github.com/BaSui01/agentnode/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNodeLifecycle(t *testing.T) {
	client := &scriptedClient{}
	n := newTestNode(t, client)
	n.MustRegister("echo", echoHandler)

	require.NoError(t, n.Start(context.Background()))
	require.NotEmpty(t, n.Addr())
	assert.True(t, n.IsConnected())
	assert.Equal(t, types.StateConnected, n.State())
	assert.Equal(t, int64(1), client.registers.Load())

	// The HTTP surface is live on the bound port.
	resp, err := http.Get("http://" + n.Addr() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "healthy")

	require.NoError(t, n.Stop(context.Background()))
	assert.NoError(t, n.Stop(context.Background()), "stop is idempotent")
}

func TestNodeStartIdempotent(t *testing.T) {
	n := newTestNode(t, nil)

	require.NoError(t, n.Start(context.Background()))
	assert.NoError(t, n.Start(context.Background()))
}

func TestNodeStartAfterStop(t *testing.T) {
	n := newTestNode(t, nil)

	require.NoError(t, n.Stop(context.Background()))

	err := n.Start(context.Background())
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrNodeStopped))
}

func TestNodeAdvertiseURLDefaultsToBoundAddr(t *testing.T) {
	var captured atomic.Pointer[coordinator.RegisterRequest]
	client := &scriptedClient{
		registerFn: func(_ int, req *coordinator.RegisterRequest) (*coordinator.RegisterResponse, error) {
			captured.Store(req)
			return &coordinator.RegisterResponse{OK: true, NodeID: req.NodeID}, nil
		},
	}

	cfg := config.DefaultConfig()
	cfg.Node.ID = "node-1"
	cfg.Node.ListenAddr = "127.0.0.1:0"
	cfg.Node.AdvertiseURL = ""
	cfg.Journal.Enabled = false
	cfg.Connection.RetryInterval = time.Hour
	cfg.Connection.HealthCheckInterval = time.Hour

	n, err := New(cfg, zap.NewNop(), WithClient(client), WithVersion("2.0.0"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Stop(context.Background()) })
	n.MustRegister("echo", echoHandler)

	require.NoError(t, n.Start(context.Background()))

	req := captured.Load()
	require.NotNil(t, req)
	assert.Equal(t, "node-1", req.NodeID)
	assert.Equal(t, "http://"+n.Addr(), req.BaseURL,
		"an unset advertise URL falls back to the bound listen address")
	assert.Equal(t, "2.0.0", req.Version)
	assert.Equal(t, []string{"echo"}, req.Capabilities)
}

func TestNodeIdentity(t *testing.T) {
	t.Run("configured id is used", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Node.ID = "node-42"
		cfg.Node.ListenAddr = "127.0.0.1:0"
		cfg.Journal.Enabled = false

		n, err := New(cfg, zap.NewNop(), WithClient(&scriptedClient{}))
		require.NoError(t, err)
		t.Cleanup(func() { _ = n.Stop(context.Background()) })
		assert.Equal(t, "node-42", n.ID())
	})

	t.Run("missing id is generated", func(t *testing.T) {
		n := newTestNode(t, nil)
		assert.NotEmpty(t, n.ID())
	})
}

func TestNodeExecuteUnknownUnit(t *testing.T) {
	n := newTestNode(t, nil)

	_, err := n.Execute(context.Background(), "nope", nil)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrUnitNotFound))
}

func TestNodeSubmitPassthrough(t *testing.T) {
	n := newTestNode(t, nil)

	id, err := n.Submit(context.Background(), "peer.unit", map[string]any{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, "exec-1", id)

	rec, ok := n.Async().Status(id)
	require.True(t, ok)
	assert.Equal(t, types.StatusQueued, rec.Status)
}

func TestNodeRestoresJournaledExecutions(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Node.ListenAddr = "127.0.0.1:0"
	cfg.Connection.RetryInterval = time.Hour
	cfg.Connection.HealthCheckInterval = time.Hour
	cfg.Journal.Enabled = true
	cfg.Journal.DSN = fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())

	n, err := New(cfg, zap.NewNop(), WithClient(&scriptedClient{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Stop(context.Background()) })

	// An execution journaled before a crash is adopted on the next start.
	rec := &types.ExecutionRecord{
		ExecutionID: "exec-open",
		Target:      "peer.unit",
		Status:      types.StatusQueued,
		Priority:    types.PriorityNormal,
		SubmittedAt: time.Now().UTC(),
	}
	require.NoError(t, n.journal.RecordSubmission(context.Background(), rec, "wf-1"))

	require.NoError(t, n.Start(context.Background()))

	adopted, ok := n.Async().Status("exec-open")
	require.True(t, ok, "journaled open execution is tracked again after restart")
	assert.Equal(t, types.StatusQueued, adopted.Status)
	assert.Equal(t, "peer.unit", adopted.Target)
}
