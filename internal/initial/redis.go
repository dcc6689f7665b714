package initial

import (
	"context"
	"fmt"
	"time"

	"InsightLink/internal/config"
	"InsightLink/pkg/redis"
	"InsightLink/pkg/zlog"

	goredis "github.com/redis/go-redis/v9"
)

// NewRedisKV 未启用或未配置主机时返回 nil，调用方退回内存实现
func NewRedisKV(ctx context.Context, conf *config.Config) (*redis.KV, error) {
	rc := conf.RedisConfig
	if !rc.Enabled || rc.Host == "" {
		zlog.Info("Redis 未配置，跳过初始化")
		return nil, nil
	}
	port := rc.Port
	if port == 0 {
		port = 6379
	}
	addr := fmt.Sprintf("%s:%d", rc.Host, port)
	zlog.Info(fmt.Sprintf("Redis connecting: %s", addr))

	client := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		Password:     rc.Password,
		DB:           rc.DB,
		PoolSize:     rc.PoolSize,
		MinIdleConns: rc.MinIdleConns,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis 连接失败: %w", err)
	}
	zlog.Info("Redis 连接成功")
	return redis.NewKV(client), nil
}
