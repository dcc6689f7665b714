package repository

import (
	"context"
	"time"
)

// ContextCache 上下文缓存 KV。缓存只是派生数据，任何错误调用方都应降级为直接计算。
type ContextCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// DeleteByPattern glob 风格模式，返回删除条数
	DeleteByPattern(ctx context.Context, pattern string) (int64, error)
}
