package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KV 对 go-redis 客户端的薄封装，显式注入，不做进程级单例
type KV struct {
	client *redis.Client
}

func NewKV(c *redis.Client) *KV {
	return &KV{client: c}
}

// Client 获取原始 Redis 客户端（高级用法）
func (k *KV) Client() *redis.Client {
	if k == nil {
		return nil
	}
	return k.client
}

// IsConnected 检查 Redis 是否已连接
func (k *KV) IsConnected() bool {
	return k != nil && k.client != nil
}

// checkClient 检查客户端是否可用
func (k *KV) checkClient() error {
	if !k.IsConnected() {
		return fmt.Errorf("Redis 未连接")
	}
	return nil
}

// Close 关闭 Redis 连接
func (k *KV) Close() error {
	if !k.IsConnected() {
		return nil
	}
	return k.client.Close()
}

// Ping 探活
func (k *KV) Ping(ctx context.Context) error {
	if err := k.checkClient(); err != nil {
		return err
	}
	return k.client.Ping(ctx).Err()
}

// Get 获取字符串值，key 不存在时 found=false
func (k *KV) Get(ctx context.Context, key string) (string, bool, error) {
	if err := k.checkClient(); err != nil {
		return "", false, err
	}
	v, err := k.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Set 设置字符串值
func (k *KV) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if err := k.checkClient(); err != nil {
		return err
	}
	return k.client.Set(ctx, key, value, expiration).Err()
}

// Del 删除 key
func (k *KV) Del(ctx context.Context, keys ...string) (int64, error) {
	if err := k.checkClient(); err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	return k.client.Del(ctx, keys...).Result()
}

// DelByPattern 用 SCAN 游标按 glob 模式批量删除，避免 KEYS 阻塞
func (k *KV) DelByPattern(ctx context.Context, pattern string, batch int64) (int64, error) {
	if err := k.checkClient(); err != nil {
		return 0, err
	}
	if batch <= 0 {
		batch = 200
	}
	var (
		cursor  uint64
		removed int64
	)
	for {
		keys, next, err := k.client.Scan(ctx, cursor, pattern, batch).Result()
		if err != nil {
			return removed, err
		}
		if len(keys) > 0 {
			n, err := k.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, err
			}
			removed += n
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

// Lock 获取分布式锁
func (k *KV) Lock(ctx context.Context, key string, expiration time.Duration) (bool, error) {
	if err := k.checkClient(); err != nil {
		return false, err
	}
	return k.client.SetNX(ctx, key, "1", expiration).Result()
}

// Unlock 释放分布式锁
func (k *KV) Unlock(ctx context.Context, key string) error {
	_, err := k.Del(ctx, key)
	return err
}
