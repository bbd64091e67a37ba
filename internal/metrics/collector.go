// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 连接指标
	connectionState       prometheus.Gauge
	connectionTransitions *prometheus.CounterVec
	connectAttempts       *prometheus.CounterVec
	heartbeats            *prometheus.CounterVec

	// 本地执行指标
	unitExecutionsTotal   *prometheus.CounterVec
	unitExecutionDuration *prometheus.HistogramVec

	// 异步派发指标
	asyncSubmittedTotal *prometheus.CounterVec
	asyncTerminalTotal  *prometheus.CounterVec
	asyncActive         prometheus.Gauge
	pollCycles          *prometheus.CounterVec

	// 事件指标
	eventsTotal     *prometheus.CounterVec
	eventQueueDepth prometheus.Gauge

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 流水账（journal）指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
	dbQueryDuration   *prometheus.HistogramVec

	logger *zap.Logger
	mu     sync.RWMutex
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 连接指标
	c.connectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Coordinator connection state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 degraded)",
		},
	)

	c.connectionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_transitions_total",
			Help:      "Total number of connection state transitions",
		},
		[]string{"from_state", "to_state"},
	)

	c.connectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Total number of coordinator registration attempts",
		},
		[]string{"result"},
	)

	c.heartbeats = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Total number of heartbeat probes",
		},
		[]string{"result"},
	)

	// 本地执行指标
	c.unitExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unit_executions_total",
			Help:      "Total number of tracked unit executions",
		},
		[]string{"unit", "status"},
	)

	c.unitExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "unit_execution_duration_seconds",
			Help:      "Tracked unit execution duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"unit"},
	)

	// 异步派发指标
	c.asyncSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "async_submitted_total",
			Help:      "Total number of submitted asynchronous executions",
		},
		[]string{"priority"},
	)

	c.asyncTerminalTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "async_terminal_total",
			Help:      "Total number of asynchronous executions by terminal status",
		},
		[]string{"status"},
	)

	c.asyncActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "async_active",
			Help:      "Number of tracked asynchronous executions not yet terminal",
		},
	)

	c.pollCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Total number of status poll cycles",
		},
		[]string{"result"},
	)

	// 事件指标
	c.eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_events_total",
			Help:      "Total number of workflow lifecycle events by delivery result",
		},
		[]string{"result"},
	)

	c.eventQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_queue_depth",
			Help:      "Current depth of the workflow event dispatch queue",
		},
	)

	// 缓存指标
	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// 流水账指标
	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"database", "operation"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🔌 连接指标记录
// =============================================================================

// RecordConnectionTransition 记录连接状态转换并更新状态 Gauge
func (c *Collector) RecordConnectionTransition(fromState, toState string) {
	c.connectionTransitions.WithLabelValues(fromState, toState).Inc()
	c.connectionState.Set(float64(stateCode(toState)))
}

// RecordConnectAttempt 记录注册尝试结果（success/failure）
func (c *Collector) RecordConnectAttempt(result string) {
	c.connectAttempts.WithLabelValues(result).Inc()
}

// RecordHeartbeat 记录心跳结果（success/failure）
func (c *Collector) RecordHeartbeat(result string) {
	c.heartbeats.WithLabelValues(result).Inc()
}

// =============================================================================
// 🧩 本地执行指标记录
// =============================================================================

// RecordUnitExecution 记录一次被跟踪的单元执行
func (c *Collector) RecordUnitExecution(unit, status string, duration time.Duration) {
	c.unitExecutionsTotal.WithLabelValues(unit, status).Inc()
	c.unitExecutionDuration.WithLabelValues(unit).Observe(duration.Seconds())
}

// =============================================================================
// 📤 异步派发指标记录
// =============================================================================

// RecordAsyncSubmitted 记录异步执行提交
func (c *Collector) RecordAsyncSubmitted(priority string) {
	c.asyncSubmittedTotal.WithLabelValues(priority).Inc()
}

// RecordAsyncTerminal 记录异步执行到达终态
func (c *Collector) RecordAsyncTerminal(status string) {
	c.asyncTerminalTotal.WithLabelValues(status).Inc()
}

// SetAsyncActive 设置当前未终态执行数量
func (c *Collector) SetAsyncActive(n int) {
	c.asyncActive.Set(float64(n))
}

// RecordPollCycle 记录一次轮询结果（success/error）
func (c *Collector) RecordPollCycle(result string) {
	c.pollCycles.WithLabelValues(result).Inc()
}

// =============================================================================
// 📣 事件指标记录
// =============================================================================

// RecordEvent 记录事件投递结果（sent/failed/dropped）
func (c *Collector) RecordEvent(result string) {
	c.eventsTotal.WithLabelValues(result).Inc()
}

// SetEventQueueDepth 设置事件派发队列深度
func (c *Collector) SetEventQueueDepth(depth int) {
	c.eventQueueDepth.Set(float64(depth))
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// =============================================================================
// 🗄️ 流水账指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordDBQuery 记录数据库查询
func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	c.dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// stateCode 将连接状态映射为数值
func stateCode(state string) int {
	switch state {
	case "disconnected":
		return 0
	case "connecting":
		return 1
	case "connected":
		return 2
	case "reconnecting":
		return 3
	case "degraded":
		return 4
	default:
		return -1
	}
}
