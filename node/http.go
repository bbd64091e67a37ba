package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/BaSui01/agentnode/coordinator"
	"github.com/BaSui01/agentnode/types"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Request body cap for unit invocations.
const maxRequestBody = 1 << 20 // 1 MiB

// WithMiddleware wraps the node's HTTP surface, outermost first. Use it to
// add request logging, authentication or rate limiting around the built-in
// routes.
func WithMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(n *Node) { n.middleware = append(n.middleware, mw...) }
}

// WithRoute mounts an extra handler on the node's HTTP server. The pattern
// uses net/http mux syntax, e.g. "GET /admin/config".
func WithRoute(pattern string, handler http.Handler) Option {
	return func(n *Node) {
		if n.extraRoutes == nil {
			n.extraRoutes = make(map[string]http.Handler)
		}
		n.extraRoutes[pattern] = handler
	}
}

// Response is the envelope every JSON endpoint replies with.
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo is the wire form of an error.
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// UnitResult is the payload returned by a successful unit invocation.
type UnitResult struct {
	Unit   string `json:"unit"`
	Result any    `json:"result"`
}

// ExecutionResult is the payload returned by the result endpoint.
type ExecutionResult struct {
	ExecutionID string `json:"execution_id"`
	Result      any    `json:"result"`
}

// WriteJSON writes v as JSON with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteSuccess writes a success envelope around data.
func WriteSuccess(w http.ResponseWriter, r *http.Request, data any) {
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
		RequestID: r.Header.Get("X-Request-ID"),
	})
}

// WriteError writes an error envelope. A *types.Error carries its own code,
// retryability and optionally an HTTP status; anything else maps to 500.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	code := types.ErrInternalError
	message := "internal error"
	retryable := false
	status := http.StatusInternalServerError

	var te *types.Error
	if errors.As(err, &te) {
		code = te.Code
		message = te.Message
		retryable = te.Retryable
		if te.HTTPStatus != 0 {
			status = te.HTTPStatus
		} else {
			status = httpStatusFor(te.Code)
		}
	} else if err != nil {
		message = err.Error()
	}

	WriteJSON(w, status, Response{
		Success:   false,
		Error:     &ErrorInfo{Code: string(code), Message: message, Retryable: retryable},
		Timestamp: time.Now().UTC(),
		RequestID: r.Header.Get("X-Request-ID"),
	})
}

// WriteErrorMessage writes an error envelope with an explicit status and
// code, for validation failures that never become a *types.Error.
func WriteErrorMessage(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	WriteJSON(w, status, Response{
		Success:   false,
		Error:     &ErrorInfo{Code: code, Message: message},
		Timestamp: time.Now().UTC(),
		RequestID: r.Header.Get("X-Request-ID"),
	})
}

func httpStatusFor(code types.ErrorCode) int {
	switch code {
	case types.ErrUnitNotFound, types.ErrExecutionNotFound:
		return http.StatusNotFound
	case types.ErrInvalidConfig:
		return http.StatusBadRequest
	case types.ErrWaitTimeout, types.ErrTimeout:
		return http.StatusGatewayTimeout
	case types.ErrCoordinatorUnreachable, types.ErrServiceUnavailable, types.ErrNodeStopped:
		return http.StatusServiceUnavailable
	case types.ErrSubmissionFailed:
		return http.StatusBadGateway
	case types.ErrCancellationDenied:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// nodeHandlers serves the node's HTTP routes.
type nodeHandlers struct {
	node   *Node
	logger *zap.Logger
}

// routes assembles the HTTP surface: unit invocation, execution queries,
// health probes and Prometheus metrics, plus any caller-mounted extras.
func (n *Node) routes() http.Handler {
	h := &nodeHandlers{node: n, logger: n.logger.With(zap.String("component", "http"))}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /units/{name}", h.handleExecuteUnit)
	mux.HandleFunc("GET /status", h.handleStatus)
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /readyz", h.handleReadyz)
	mux.HandleFunc("GET /executions/{id}", h.handleExecutionStatus)
	mux.HandleFunc("GET /executions/{id}/result", h.handleExecutionResult)
	mux.HandleFunc("POST /executions/{id}/cancel", h.handleCancelExecution)
	mux.HandleFunc("GET /workflows/{id}/events", h.handleWorkflowEvents)
	mux.Handle("GET /metrics", promhttp.Handler())
	for pattern, handler := range n.extraRoutes {
		mux.Handle(pattern, handler)
	}

	root := h.withMetrics(h.withRecovery(mux))
	for i := len(n.middleware) - 1; i >= 0; i-- {
		root = n.middleware[i](root)
	}
	return root
}

// handleExecuteUnit invokes a locally registered unit. When the request
// carries execution context headers the invocation joins the caller's
// workflow as a child; otherwise it starts a workflow of its own.
func (h *nodeHandlers) handleExecuteUnit(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	input, err := decodeInput(w, r)
	if err != nil {
		WriteErrorMessage(w, r, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
		return
	}

	ctx := r.Context()
	if parent, ok := types.ContextFromHeaders(r.Header); ok {
		ctx = types.WithExecutionContext(ctx, parent)
	}

	result, err := h.node.Execute(ctx, name, input)
	if err != nil {
		h.logger.Warn("unit invocation failed", zap.String("unit", name), zap.Error(err))
		WriteError(w, r, err)
		return
	}
	WriteSuccess(w, r, UnitResult{Unit: name, Result: result})
}

// NodeStatus describes the node to callers of the status endpoint.
type NodeStatus struct {
	NodeID        string                `json:"node_id"`
	Name          string                `json:"name,omitempty"`
	Version       string                `json:"version"`
	State         types.ConnectionState `json:"connection_state"`
	LastConnected *time.Time            `json:"last_successful_connection,omitempty"`
	Units         []string              `json:"units"`
	Executions    AsyncMetrics          `json:"executions"`
}

func (h *nodeHandlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := NodeStatus{
		NodeID:     h.node.id,
		Name:       h.node.config.Node.Name,
		Version:    h.node.version,
		State:      h.node.connection.State(),
		Units:      h.node.registry.Names(),
		Executions: h.node.async.Metrics(),
	}
	if last := h.node.connection.LastSuccessfulConnection(); !last.IsZero() {
		st.LastConnected = &last
	}
	WriteSuccess(w, r, st)
}

// handleHealthz is the liveness probe: the process is up, nothing more.
func (h *nodeHandlers) handleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":     "healthy",
		"connection": h.node.connection.State(),
		"timestamp":  time.Now().UTC(),
	})
}

// handleReadyz is the readiness probe: registered with the coordinator and,
// when persistence is enabled, able to reach the journal.
func (h *nodeHandlers) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	ready := true

	if h.node.connection.IsConnected() {
		checks["coordinator"] = "pass"
	} else {
		checks["coordinator"] = "fail"
		ready = false
	}
	if h.node.journal != nil {
		if err := h.node.journal.Ping(ctx); err != nil {
			checks["journal"] = "fail"
			ready = false
		} else {
			checks["journal"] = "pass"
		}
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not_ready"
	}
	WriteJSON(w, status, map[string]any{
		"status":    state,
		"checks":    checks,
		"timestamp": time.Now().UTC(),
	})
}

func (h *nodeHandlers) handleExecutionStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, ok := h.node.async.Status(id)
	if !ok {
		WriteError(w, r, types.NewError(types.ErrExecutionNotFound,
			fmt.Sprintf("execution %s is not tracked", id)))
		return
	}
	WriteSuccess(w, r, rec)
}

func (h *nodeHandlers) handleExecutionResult(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	result, ok := h.node.async.Result(r.Context(), id)
	if !ok {
		WriteError(w, r, types.NewError(types.ErrExecutionNotFound,
			fmt.Sprintf("no result for execution %s", id)))
		return
	}
	WriteSuccess(w, r, ExecutionResult{ExecutionID: id, Result: result})
}

func (h *nodeHandlers) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		WriteErrorMessage(w, r, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
		return
	}

	err := h.node.async.Cancel(r.Context(), id, req.Reason)
	switch {
	case err == nil:
	case errors.Is(err, coordinator.ErrExecutionNotFound):
		WriteError(w, r, types.NewError(types.ErrExecutionNotFound,
			fmt.Sprintf("execution %s not found", id)).WithCause(err))
		return
	case errors.Is(err, coordinator.ErrCancellationRejected):
		WriteError(w, r, types.NewError(types.ErrCancellationDenied,
			fmt.Sprintf("execution %s cannot be cancelled", id)).WithCause(err))
		return
	default:
		WriteError(w, r, types.NewTransportError("cancellation request failed", err))
		return
	}

	if rec, ok := h.node.async.Status(id); ok {
		WriteSuccess(w, r, rec)
		return
	}
	WriteSuccess(w, r, map[string]string{"execution_id": id, "status": string(types.StatusCancelled)})
}

func (h *nodeHandlers) handleWorkflowEvents(w http.ResponseWriter, r *http.Request) {
	if h.node.journal == nil {
		WriteError(w, r, types.NewError(types.ErrServiceUnavailable, "journal is disabled"))
		return
	}

	workflowID := r.PathValue("id")
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			WriteErrorMessage(w, r, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		limit = min(v, 1000)
	}

	events, err := h.node.journal.Events(r.Context(), workflowID, limit)
	if err != nil {
		WriteError(w, r, types.NewError(types.ErrInternalError, "journal query failed").WithCause(err))
		return
	}
	WriteSuccess(w, r, map[string]any{"workflow_id": workflowID, "events": events})
}

// decodeInput reads an optional JSON object body. An empty body means an
// empty input map.
func decodeInput(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	var input map[string]any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&input); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	if input == nil {
		input = map[string]any{}
	}
	return input, nil
}

// withRecovery converts handler panics into 500 responses. A unit that
// panics has already had its failure event emitted by the tracker before the
// panic reaches this layer.
func (h *nodeHandlers) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("http handler panicked",
					zap.Any("panic", rec),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
				)
				WriteError(w, r, types.NewError(types.ErrInternalError, "internal error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// withMetrics records request counts, latency and sizes per route pattern.
func (h *nodeHandlers) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.node.collector == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		reqSize := r.ContentLength
		if reqSize < 0 {
			reqSize = 0
		}
		h.node.collector.RecordHTTPRequest(r.Method, route, rec.status, time.Since(start), reqSize, int64(rec.bytes))
	})
}

// statusRecorder captures the status code and bytes written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}
