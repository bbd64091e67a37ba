// config 包的 HTTP 配置管理 API。
//
// 提供配置查询、更新、热重载触发与变更历史查询能力。
package config

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// apiResponse is the envelope for all config API responses.
type apiResponse struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     *apiError `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// apiError carries a machine-readable code plus a human message.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// updateFieldRequest is the body of PUT /api/v1/config.
type updateFieldRequest struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// ConfigAPIHandler serves the configuration management endpoints.
type ConfigAPIHandler struct {
	manager *HotReloadManager
	logger  *zap.Logger
}

// NewConfigAPIHandler creates a config API handler backed by the given
// hot-reload manager.
func NewConfigAPIHandler(manager *HotReloadManager, logger *zap.Logger) *ConfigAPIHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConfigAPIHandler{
		manager: manager,
		logger:  logger,
	}
}

// RegisterRoutes mounts the config endpoints on the given mux:
//
//	GET  /api/v1/config          当前配置（脱敏）
//	PUT  /api/v1/config          更新单个字段
//	POST /api/v1/config/reload   从文件重新加载
//	GET  /api/v1/config/fields   可热重载字段列表
//	GET  /api/v1/config/changes  变更日志
func (h *ConfigAPIHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/config", h.handleConfig)
	mux.HandleFunc("/api/v1/config/reload", h.handleReload)
	mux.HandleFunc("/api/v1/config/fields", h.handleFields)
	mux.HandleFunc("/api/v1/config/changes", h.handleChanges)
}

func (h *ConfigAPIHandler) handleConfig(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
	case http.MethodGet:
		h.handleGetConfig(w, r)
	case http.MethodPut:
		h.handleUpdateConfig(w, r)
	default:
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (h *ConfigAPIHandler) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	h.writeSuccess(w, http.StatusOK, map[string]any{
		"config":  h.manager.SanitizedConfig(),
		"version": h.manager.GetCurrentVersion(),
	})
}

func (h *ConfigAPIHandler) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req updateFieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body: "+err.Error())
		return
	}
	if req.Path == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "path is required")
		return
	}

	err := h.manager.UpdateField(req.Path, req.Value)
	if err != nil {
		// JSON 里的时长通常写成 "30s" 这样的字符串，解析后重试一次
		if s, ok := req.Value.(string); ok {
			if d, perr := time.ParseDuration(s); perr == nil {
				err = h.manager.UpdateField(req.Path, d)
			}
		}
	}
	if err != nil {
		h.logger.Warn("config field update rejected",
			zap.String("path", req.Path),
			zap.Error(err))
		h.writeError(w, http.StatusBadRequest, "update_failed", err.Error())
		return
	}

	requiresRestart := !IsHotReloadable(req.Path)
	h.writeSuccess(w, http.StatusOK, map[string]any{
		"message":          "field updated",
		"path":             req.Path,
		"requires_restart": requiresRestart,
	})
}

func (h *ConfigAPIHandler) handleReload(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	if err := h.manager.ReloadFromFile(); err != nil {
		h.writeError(w, http.StatusInternalServerError, "reload_failed", err.Error())
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]any{
		"message": "configuration reloaded",
		"version": h.manager.GetCurrentVersion(),
	})
}

func (h *ConfigAPIHandler) handleFields(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet:
	default:
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]any{
		"fields": GetHotReloadableFields(),
	})
}

func (h *ConfigAPIHandler) handleChanges(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet:
	default:
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}

	changes := h.manager.GetChangeLog(limit)
	h.writeSuccess(w, http.StatusOK, map[string]any{
		"changes": changes,
		"count":   len(changes),
	})
}

func (h *ConfigAPIHandler) writeSuccess(w http.ResponseWriter, status int, data any) {
	writeAPIJSON(w, status, apiResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
	}, h.logger)
}

func (h *ConfigAPIHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	writeAPIJSON(w, status, apiResponse{
		Success:   false,
		Error:     &apiError{Code: code, Message: message},
		Timestamp: time.Now(),
	}, h.logger)
}

// writeAPIJSON marshals first and writes after, so an encoding failure
// can still produce a clean 500 instead of a half-written body.
func writeAPIJSON(w http.ResponseWriter, status int, v any, logger *zap.Logger) {
	data, err := json.Marshal(v)
	if err != nil {
		if logger != nil {
			logger.Error("failed to marshal API response", zap.Error(err))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"error":{"code":"internal","message":"failed to encode response"}}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
}

// --- 认证与请求日志中间件 ---

// ConfigAPIMiddleware wraps the config API with API-key auth and
// request logging.
type ConfigAPIMiddleware struct {
	apiKey string
	logger *zap.Logger
}

// NewConfigAPIMiddleware creates middleware. An empty apiKey disables
// authentication (all requests pass).
func NewConfigAPIMiddleware(apiKey string, logger *zap.Logger) *ConfigAPIMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConfigAPIMiddleware{
		apiKey: apiKey,
		logger: logger,
	}
}

// RequireAuth rejects requests whose X-API-Key header does not match.
// CORS preflight (OPTIONS) is always allowed through.
func (m *ConfigAPIMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if m.apiKey != "" && r.Header.Get("X-API-Key") != m.apiKey {
			m.logger.Warn("config API auth failed",
				zap.String("remote", r.RemoteAddr),
				zap.String("path", r.URL.Path))
			writeAPIJSON(w, http.StatusUnauthorized, apiResponse{
				Success:   false,
				Error:     &apiError{Code: "unauthorized", Message: "invalid or missing API key"},
				Timestamp: time.Now(),
			}, m.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// LogRequests logs each request with its final status code.
func (m *ConfigAPIMiddleware) LogRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		m.logger.Info("config API request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.status),
			zap.Duration("duration", time.Since(start)))
	})
}

// responseWriter captures the status code written by a handler.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}
