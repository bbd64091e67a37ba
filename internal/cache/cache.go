// Package cache provides the bounded result cache for completed executions.
// This package is internal and should not be imported by external projects.
package cache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 💾 执行结果缓存
// =============================================================================

// ResultCache 按 execution_id 缓存终态执行结果。
// 无论流量多大，缓存永远有界：内存实现按条目数淘汰最旧条目，
// Redis 实现依赖 TTL 过期。
type ResultCache interface {
	// Get 返回缓存的结果；未命中返回 ErrCacheMiss。
	Get(ctx context.Context, executionID string) (any, error)

	// Set 写入结果；必要时先淘汰最旧/过期条目。
	Set(ctx context.Context, executionID string, result any) error

	// Delete 删除指定条目。
	Delete(ctx context.Context, executionID string) error

	// Len 返回当前条目数（Redis 实现为前缀键计数，仅用于观测）。
	Len(ctx context.Context) (int, error)

	// Close 释放资源，幂等。
	Close() error
}

// Backend 缓存后端类型
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendRedis  Backend = "redis"
)

// Config 结果缓存配置
type Config struct {
	// 后端类型：memory 或 redis
	Backend Backend `yaml:"backend" json:"backend"`

	// 最大条目数（memory 后端）
	MaxEntries int `yaml:"max_entries" json:"max_entries"`

	// 条目存活时间，0 表示不过期（memory 后端；redis 后端 0 时取 1 小时）
	TTL time.Duration `yaml:"ttl" json:"ttl"`

	// Redis 连接配置（backend=redis 时生效）
	Redis RedisConfig `yaml:"redis" json:"redis"`
}

// RedisConfig Redis 后端连接配置
type RedisConfig struct {
	Addr         string `yaml:"addr" json:"addr"`
	Password     string `yaml:"password" json:"password"`
	DB           int    `yaml:"db" json:"db"`
	KeyPrefix    string `yaml:"key_prefix" json:"key_prefix"`
	MaxRetries   int    `yaml:"max_retries" json:"max_retries"`
	PoolSize     int    `yaml:"pool_size" json:"pool_size"`
	MinIdleConns int    `yaml:"min_idle_conns" json:"min_idle_conns"`
}

// DefaultConfig 返回默认结果缓存配置
func DefaultConfig() Config {
	return Config{
		Backend:    BackendMemory,
		MaxEntries: 1000,
		TTL:        2 * time.Minute,
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			KeyPrefix:    "agentnode:result:",
			MaxRetries:   3,
			PoolSize:     10,
			MinIdleConns: 2,
		},
	}
}

// New 根据配置构建结果缓存。
func New(config Config, logger *zap.Logger) (ResultCache, error) {
	switch config.Backend {
	case BackendMemory, "":
		return NewMemoryCache(config.MaxEntries, config.TTL), nil
	case BackendRedis:
		return NewRedisCache(config, logger)
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", config.Backend)
	}
}

// ErrCacheMiss 缓存未命中错误
var ErrCacheMiss = fmt.Errorf("cache miss")

// ErrCacheClosed 缓存已关闭错误
var ErrCacheClosed = fmt.Errorf("cache is closed")

// IsCacheMiss 判断是否为缓存未命中错误
func IsCacheMiss(err error) bool {
	return err == ErrCacheMiss
}
