package cache

import (
	"context"
	"testing"
	"time"

	"InsightLink/internal/modules/ai/domain/repository"
	"InsightLink/pkg/redis"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]repository.ContextCache {
	mr := miniredis.RunT(t)
	c := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = c.Close() })
	return map[string]repository.ContextCache{
		"memory": NewMemoryContextCache(),
		"redis":  NewRedisContextCache(redis.NewKV(c)),
	}
}

func TestContextCacheContract(t *testing.T) {
	for name, cc := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, found, err := cc.Get(ctx, "ictx:v1:ds:sales:aaa")
			require.NoError(t, err)
			assert.False(t, found)

			require.NoError(t, cc.Set(ctx, "ictx:v1:ds:sales:aaa", []byte("one"), time.Minute))
			require.NoError(t, cc.Set(ctx, "ictx:v1:ds:sales:bbb", []byte("two"), time.Minute))
			require.NoError(t, cc.Set(ctx, "ictx:v1:ds:hr:ccc", []byte("three"), time.Minute))

			v, found, err := cc.Get(ctx, "ictx:v1:ds:sales:aaa")
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, "one", string(v))

			n, err := cc.DeleteByPattern(ctx, "ictx:v1:ds:sales:*")
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)

			_, found, _ = cc.Get(ctx, "ictx:v1:ds:sales:bbb")
			assert.False(t, found)
			_, found, _ = cc.Get(ctx, "ictx:v1:ds:hr:ccc")
			assert.True(t, found)

			n, err = cc.DeleteByPattern(ctx, "ictx:v1:*")
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)
		})
	}
}

func TestMemoryCacheTTL(t *testing.T) {
	c := NewMemoryContextCache()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	_, found, _ := c.Get(ctx, "k")
	assert.True(t, found)

	now = now.Add(time.Minute)
	_, found, _ = c.Get(ctx, "k")
	assert.False(t, found)
}

func TestMemoryCacheBadPattern(t *testing.T) {
	_, err := NewMemoryContextCache().DeleteByPattern(context.Background(), "[")
	assert.Error(t, err)
}
