// =============================================================================
// 📦 AgentNode 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Node:        DefaultNodeConfig(),
		Coordinator: DefaultCoordinatorConfig(),
		Connection:  DefaultConnectionConfig(),
		Async:       DefaultAsyncConfig(),
		Cache:       DefaultCacheConfig(),
		Journal:     DefaultJournalConfig(),
		Server:      DefaultServerConfig(),
		Telemetry:   DefaultTelemetryConfig(),
		Log:         DefaultLogConfig(),
	}
}

// DefaultNodeConfig 返回默认节点配置
func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		ID:           "",
		Name:         "agentnode",
		ListenAddr:   ":8001",
		AdvertiseURL: "http://localhost:8001",
	}
}

// DefaultCoordinatorConfig 返回默认协调器客户端配置
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		URL:                "http://localhost:8080",
		Token:              "",
		RequestTimeout:     30 * time.Second,
		InsecureSkipVerify: false,
		StreamEnabled:      false,
	}
}

// DefaultConnectionConfig 返回默认连接状态机配置
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		RetryInterval:       10 * time.Second,
		HealthCheckInterval: 30 * time.Second,
		ConnectionTimeout:   10 * time.Second,
	}
}

// DefaultAsyncConfig 返回默认异步执行配置
// 保留期与清理周期偏激进，优先保证内存有界
func DefaultAsyncConfig() AsyncConfig {
	return AsyncConfig{
		PollInterval:       2 * time.Second,
		MaxConcurrentPolls: 10,
		BatchPollSize:      50,
		CleanupInterval:    30 * time.Second,
		MaxExecutionAge:    2 * time.Minute,
		MaxTracked:         1000,
	}
}

// DefaultCacheConfig 返回默认结果缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Backend:    "memory",
		MaxEntries: 1000,
		TTL:        2 * time.Minute,
		Redis:      DefaultRedisConfig(),
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultJournalConfig 返回默认流水账配置（纯 Go SQLite 单文件）
func DefaultJournalConfig() JournalConfig {
	return JournalConfig{
		Enabled:         true,
		Driver:          "sqlite",
		DSN:             "file:agentnode.db?cache=shared",
		Retention:       7 * 24 * time.Hour,
		MaxOpenConns:    100,
		MaxIdleConns:    10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		MaxHeaderBytes:  1 << 20, // 1 MB
		RateLimitRPS:    100,
		RateLimitBurst:  200,
		JWTSecret:       "",
		AdminAPIKey:     "",
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "agentnode",
		SampleRate:   0.1,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}
