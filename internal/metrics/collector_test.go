package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.httpRequestDuration)
	assert.NotNil(t, collector.connectionState)
	assert.NotNil(t, collector.connectionTransitions)
	assert.NotNil(t, collector.asyncSubmittedTotal)
	assert.NotNil(t, collector.eventsTotal)
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	// 记录请求
	collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond, 1024, 2048)

	// 验证指标
	count := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.Greater(t, count, 0)

	// 再记录一次相同的请求
	collector.RecordHTTPRequest("GET", "/test", 200, 50*time.Millisecond, 512, 1024)

	// 验证计数增加
	newCount := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.GreaterOrEqual(t, newCount, count)
}

func TestCollector_RecordConnectionTransition(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	// 记录状态转换
	collector.RecordConnectionTransition("disconnected", "connecting")
	collector.RecordConnectionTransition("connecting", "connected")

	// 验证转换计数
	count := testutil.CollectAndCount(collector.connectionTransitions)
	assert.Greater(t, count, 0)

	// 验证状态 Gauge 反映最新状态
	assert.Equal(t, float64(2), testutil.ToFloat64(collector.connectionState))

	collector.RecordConnectionTransition("connected", "degraded")
	assert.Equal(t, float64(4), testutil.ToFloat64(collector.connectionState))
}

func TestCollector_RecordConnectAttemptAndHeartbeat(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordConnectAttempt("success")
	collector.RecordConnectAttempt("failure")
	collector.RecordHeartbeat("success")

	attempts := testutil.CollectAndCount(collector.connectAttempts)
	assert.Greater(t, attempts, 0)

	heartbeats := testutil.CollectAndCount(collector.heartbeats)
	assert.Greater(t, heartbeats, 0)
}

func TestCollector_RecordUnitExecution(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	// 记录单元执行
	collector.RecordUnitExecution(
		"research-agent",
		"succeeded",
		1*time.Second,
	)

	// 验证指标
	count := testutil.CollectAndCount(collector.unitExecutionsTotal)
	assert.Greater(t, count, 0)
}

func TestCollector_RecordAsyncLifecycle(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	// 记录提交、轮询与终态
	collector.RecordAsyncSubmitted("normal")
	collector.SetAsyncActive(1)
	collector.RecordPollCycle("success")
	collector.RecordAsyncTerminal("succeeded")
	collector.SetAsyncActive(0)

	submitted := testutil.CollectAndCount(collector.asyncSubmittedTotal)
	assert.Greater(t, submitted, 0)

	terminal := testutil.CollectAndCount(collector.asyncTerminalTotal)
	assert.Greater(t, terminal, 0)

	polls := testutil.CollectAndCount(collector.pollCycles)
	assert.Greater(t, polls, 0)

	assert.Equal(t, float64(0), testutil.ToFloat64(collector.asyncActive))
}

func TestCollector_RecordEvent(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordEvent("sent")
	collector.RecordEvent("dropped")
	collector.SetEventQueueDepth(3)

	count := testutil.CollectAndCount(collector.eventsTotal)
	assert.Greater(t, count, 0)

	assert.Equal(t, float64(3), testutil.ToFloat64(collector.eventQueueDepth))
}

func TestCollector_RecordCacheOperation(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	// 记录缓存命中
	collector.RecordCacheHit("redis")

	// 记录缓存未命中
	collector.RecordCacheMiss("redis")

	// 验证指标
	hitCount := testutil.CollectAndCount(collector.cacheHits)
	assert.Greater(t, hitCount, 0)

	missCount := testutil.CollectAndCount(collector.cacheMisses)
	assert.Greater(t, missCount, 0)
}

func TestCollector_RecordDatabaseQuery(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	// 记录数据库查询
	collector.RecordDBQuery("sqlite", "INSERT", 20*time.Millisecond)

	// 验证指标
	count := testutil.CollectAndCount(collector.dbQueryDuration)
	assert.Greater(t, count, 0)
}

func TestCollector_UpdateConnectionPool(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	// 更新连接池状态
	collector.RecordDBConnections("sqlite", 10, 5)

	// 验证指标
	openCount := testutil.CollectAndCount(collector.dbConnectionsOpen)
	assert.Greater(t, openCount, 0)

	idleCount := testutil.CollectAndCount(collector.dbConnectionsIdle)
	assert.Greater(t, idleCount, 0)
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	// 并发记录多个指标
	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(id int) {
			collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond, 1024, 2048)
			collector.RecordUnitExecution("research-agent", "succeeded", 500*time.Millisecond)
			collector.RecordEvent("sent")
			collector.RecordCacheHit("redis")
			done <- true
		}(i)
	}

	// 等待所有 goroutine 完成
	for i := 0; i < 10; i++ {
		<-done
	}

	// 验证指标被正确记录
	httpCount := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.Greater(t, httpCount, 0)

	execCount := testutil.CollectAndCount(collector.unitExecutionsTotal)
	assert.Greater(t, execCount, 0)

	cacheCount := testutil.CollectAndCount(collector.cacheHits)
	assert.Greater(t, cacheCount, 0)
}

func TestCollector_MetricsRegistration(t *testing.T) {
	logger := zap.NewNop()

	// 创建自定义 registry
	registry := prometheus.NewRegistry()

	// 创建 collector（会自动注册到默认 registry）
	collector := NewCollector(nextTestNamespace(), logger)

	// 手动注册到自定义 registry
	registry.MustRegister(collector.httpRequestsTotal)
	registry.MustRegister(collector.httpRequestDuration)

	// 记录一些数据
	collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond, 0, 0)

	// 验证可以从自定义 registry 收集指标
	count := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.Greater(t, count, 0)
}

func TestStateCode(t *testing.T) {
	assert.Equal(t, 0, stateCode("disconnected"))
	assert.Equal(t, 1, stateCode("connecting"))
	assert.Equal(t, 2, stateCode("connected"))
	assert.Equal(t, 3, stateCode("reconnecting"))
	assert.Equal(t, 4, stateCode("degraded"))
	assert.Equal(t, -1, stateCode("bogus"))
}
