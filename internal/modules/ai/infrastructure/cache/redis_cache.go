package cache

import (
	"context"
	"time"

	"InsightLink/internal/modules/ai/domain/repository"
	"InsightLink/pkg/redis"
)

// RedisContextCache 使用 Redis 保存装箱结果，失效走 SCAN 模式匹配
type RedisContextCache struct {
	kv *redis.KV
}

var _ repository.ContextCache = (*RedisContextCache)(nil)

func NewRedisContextCache(kv *redis.KV) *RedisContextCache {
	return &RedisContextCache{kv: kv}
}

func (c *RedisContextCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, found, err := c.kv.Get(ctx, key)
	if err != nil || !found {
		return nil, false, err
	}
	return []byte(v), true, nil
}

func (c *RedisContextCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.kv.Set(ctx, key, value, ttl)
}

func (c *RedisContextCache) DeleteByPattern(ctx context.Context, pattern string) (int64, error) {
	return c.kv.DelByPattern(ctx, pattern, 500)
}
