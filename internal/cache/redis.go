package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// =============================================================================
// 💾 Redis 结果缓存
// =============================================================================

// RedisCache 将执行结果以 JSON 形式写入 Redis，按 TTL 过期保持有界。
// 多节点共享同一协调器时可用它跨进程复用结果。
type RedisCache struct {
	redis  *redis.Client
	config Config
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

// NewRedisCache 创建 Redis 结果缓存并验证连通性。
func NewRedisCache(config Config, logger *zap.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Redis.Addr,
		Password:     config.Redis.Password,
		DB:           config.Redis.DB,
		MaxRetries:   config.Redis.MaxRetries,
		PoolSize:     config.Redis.PoolSize,
		MinIdleConns: config.Redis.MinIdleConns,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	c := &RedisCache{
		redis:  client,
		config: config,
		logger: logger.With(zap.String("component", "result_cache")),
	}

	c.logger.Info("redis result cache initialized",
		zap.String("addr", config.Redis.Addr),
		zap.Duration("ttl", c.ttl()),
	)

	return c, nil
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Get 获取缓存的执行结果
func (c *RedisCache) Get(ctx context.Context, executionID string) (any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, ErrCacheClosed
	}

	val, err := c.redis.Get(ctx, c.key(executionID)).Result()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	if err != nil {
		c.logger.Error("cache get failed", zap.String("execution_id", executionID), zap.Error(err))
		return nil, fmt.Errorf("cache get failed: %w", err)
	}

	var result any
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached result: %w", err)
	}
	return result, nil
}

// Set 写入执行结果，TTL 到期后由 Redis 自动淘汰
func (c *RedisCache) Set(ctx context.Context, executionID string, result any) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrCacheClosed
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := c.redis.Set(ctx, c.key(executionID), string(data), c.ttl()).Err(); err != nil {
		c.logger.Error("cache set failed", zap.String("execution_id", executionID), zap.Error(err))
		return fmt.Errorf("cache set failed: %w", err)
	}
	return nil
}

// Delete 删除缓存条目
func (c *RedisCache) Delete(ctx context.Context, executionID string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrCacheClosed
	}

	if err := c.redis.Del(ctx, c.key(executionID)).Err(); err != nil {
		c.logger.Error("cache delete failed", zap.String("execution_id", executionID), zap.Error(err))
		return fmt.Errorf("cache delete failed: %w", err)
	}
	return nil
}

// Len 返回带前缀的键数量，仅用于观测
func (c *RedisCache) Len(ctx context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return 0, ErrCacheClosed
	}

	keys, err := c.redis.Keys(ctx, c.config.Redis.KeyPrefix+"*").Result()
	if err != nil {
		return 0, fmt.Errorf("cache len failed: %w", err)
	}
	return len(keys), nil
}

// Ping 检查 Redis 连接
func (c *RedisCache) Ping(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrCacheClosed
	}
	return c.redis.Ping(ctx).Err()
}

// Close 关闭缓存，幂等
func (c *RedisCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.logger.Info("closing redis result cache")
	return c.redis.Close()
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func (c *RedisCache) key(executionID string) string {
	return c.config.Redis.KeyPrefix + executionID
}

func (c *RedisCache) ttl() time.Duration {
	if c.config.TTL > 0 {
		return c.config.TTL
	}
	return time.Hour
}

var _ ResultCache = (*RedisCache)(nil)
