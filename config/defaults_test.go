// 默认配置测试。
package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	// 节点默认值
	assert.Empty(t, cfg.Node.ID)
	assert.Equal(t, "agentnode", cfg.Node.Name)
	assert.Equal(t, ":8001", cfg.Node.ListenAddr)
	assert.Equal(t, "http://localhost:8001", cfg.Node.AdvertiseURL)

	// 协调器默认值
	assert.Equal(t, "http://localhost:8080", cfg.Coordinator.URL)
	assert.Empty(t, cfg.Coordinator.Token)
	assert.Equal(t, 30*time.Second, cfg.Coordinator.RequestTimeout)
	assert.False(t, cfg.Coordinator.InsecureSkipVerify)

	// 连接状态机默认值
	assert.Equal(t, 10*time.Second, cfg.Connection.RetryInterval)
	assert.Equal(t, 30*time.Second, cfg.Connection.HealthCheckInterval)
	assert.Equal(t, 10*time.Second, cfg.Connection.ConnectionTimeout)

	// 异步执行默认值
	assert.Equal(t, 2*time.Second, cfg.Async.PollInterval)
	assert.Equal(t, 10, cfg.Async.MaxConcurrentPolls)
	assert.Equal(t, 50, cfg.Async.BatchPollSize)
	assert.Equal(t, 30*time.Second, cfg.Async.CleanupInterval)
	assert.Equal(t, 2*time.Minute, cfg.Async.MaxExecutionAge)
	assert.Equal(t, 1000, cfg.Async.MaxTracked)

	// 缓存默认值
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 1000, cfg.Cache.MaxEntries)
	assert.Equal(t, 2*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "localhost:6379", cfg.Cache.Redis.Addr)
	assert.Equal(t, 0, cfg.Cache.Redis.DB)
	assert.Equal(t, 10, cfg.Cache.Redis.PoolSize)
	assert.Equal(t, 2, cfg.Cache.Redis.MinIdleConns)

	// 流水账默认值
	assert.True(t, cfg.Journal.Enabled)
	assert.Equal(t, "sqlite", cfg.Journal.Driver)
	assert.Equal(t, "file:agentnode.db?cache=shared", cfg.Journal.DSN)
	assert.Equal(t, 7*24*time.Hour, cfg.Journal.Retention)
	assert.Equal(t, 100, cfg.Journal.MaxOpenConns)
	assert.Equal(t, 10, cfg.Journal.MaxIdleConns)

	// 服务器默认值
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 1<<20, cfg.Server.MaxHeaderBytes)
	assert.Equal(t, 100, cfg.Server.RateLimitRPS)
	assert.Equal(t, 200, cfg.Server.RateLimitBurst)

	// 遥测默认值
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "localhost:4317", cfg.Telemetry.OTLPEndpoint)
	assert.Equal(t, "agentnode", cfg.Telemetry.ServiceName)
	assert.Equal(t, 0.1, cfg.Telemetry.SampleRate)

	// 日志默认值
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, []string{"stdout"}, cfg.Log.OutputPaths)
	assert.True(t, cfg.Log.EnableCaller)
	assert.False(t, cfg.Log.EnableStacktrace)
}

func TestDefaultConfig_PassesValidation(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestDefaultConfig_FreshInstances(t *testing.T) {
	a := DefaultConfig()
	b := DefaultConfig()

	a.Node.Name = "mutated"
	a.Log.OutputPaths[0] = "stderr"

	assert.Equal(t, "agentnode", b.Node.Name)
	assert.Equal(t, []string{"stdout"}, b.Log.OutputPaths)
}
