package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKV(t *testing.T) (*KV, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = c.Close() })
	return NewKV(c), mr
}

func TestGetSetMissing(t *testing.T) {
	kv, _ := newTestKV(t)
	ctx := context.Background()

	_, found, err := kv.Get(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, kv.Set(ctx, "k", "v", time.Minute))
	v, found, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", v)
}

func TestDelByPattern(t *testing.T) {
	kv, mr := newTestKV(t)
	ctx := context.Background()
	for _, k := range []string{"ictx:v1:ds:a:1", "ictx:v1:ds:a:2", "ictx:v1:ds:b:1", "other"} {
		require.NoError(t, mr.Set(k, "x"))
	}

	n, err := kv.DelByPattern(ctx, "ictx:v1:ds:a:*", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.True(t, mr.Exists("ictx:v1:ds:b:1"))
	assert.True(t, mr.Exists("other"))
}

func TestLock(t *testing.T) {
	kv, _ := newTestKV(t)
	ctx := context.Background()

	ok, err := kv.Lock(ctx, "lock", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = kv.Lock(ctx, "lock", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Unlock(ctx, "lock"))
	ok, err = kv.Lock(ctx, "lock", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNilKV(t *testing.T) {
	var kv *KV
	assert.False(t, kv.IsConnected())
	_, _, err := kv.Get(context.Background(), "k")
	assert.Error(t, err)
	assert.NoError(t, kv.Close())
}
