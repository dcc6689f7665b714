package cache

import (
	"context"
	"path"
	"sync"
	"time"

	"InsightLink/internal/modules/ai/domain/repository"
)

type memoryEntry struct {
	value    []byte
	expireAt time.Time
}

// MemoryContextCache 进程内 TTL 缓存，多实例部署时应换成 Redis
type MemoryContextCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

var _ repository.ContextCache = (*MemoryContextCache)(nil)

func NewMemoryContextCache() *MemoryContextCache {
	return &MemoryContextCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryContextCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.expireAt.IsZero() && !c.now().Before(e.expireAt) {
		c.mu.Lock()
		// 重新确认，避免删掉并发写入的新值
		if cur, ok := c.entries[key]; ok && cur.expireAt.Equal(e.expireAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (c *MemoryContextCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expireAt = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return nil
}

// DeleteByPattern 与 Redis 的 glob 语义一致（*、?、[...]）
func (c *MemoryContextCache) DeleteByPattern(ctx context.Context, pattern string) (int64, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for k := range c.entries {
		// path.Match 的 * 不跨越 '/'，缓存 key 中没有 '/'
		if ok, _ := path.Match(pattern, k); ok {
			delete(c.entries, k)
			n++
		}
	}
	return n, nil
}
