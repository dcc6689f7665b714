package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"InsightLink/internal/modules/ai/domain/contextitem"
	"InsightLink/internal/modules/ai/domain/event"
	"InsightLink/internal/modules/ai/domain/repository"
	"InsightLink/pkg/zlog"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// 缓存 key 布局：ictx:v1:ds:<数据源>:<指纹>，ictx:v1:session:<会话>:last
const (
	CacheKeyPrefix = "ictx:v1:"
	noneMarker     = "none"
)

// ContextQuery 一次上下文请求
type ContextQuery struct {
	Query          string
	SessionID      string
	DataSourceID   string
	Permission     contextitem.PermissionSet
	SessionContext *contextitem.SessionContext
	MaxTokens      int
	ReservedTokens int
}

// ContextResult 装箱结果及来源
type ContextResult struct {
	*contextitem.OptimizedContext
	CacheHit bool `json:"cacheHit"`
	Degraded bool `json:"degraded"`
}

// ContextManager 检索 + 装箱 + 缓存
type ContextManager interface {
	GetContextForQuery(ctx context.Context, q ContextQuery) (*ContextResult, error)
	// GetContextForFollowUp 重新检索后与上一轮条目按 key 合并（新条目优先），再整体装箱
	GetContextForFollowUp(ctx context.Context, q ContextQuery, previous *contextitem.OptimizedContext, history []string) (*ContextResult, error)
	// Simplify SQL 生成失败重试时使用更小的上下文
	Simplify(prev *contextitem.OptimizedContext) *contextitem.OptimizedContext
	Invalidate(ctx context.Context, pattern string) (int64, error)
	InvalidateForChange(ctx context.Context, ev event.SemanticChanged) error
	RememberTurn(ctx context.Context, sessionID string, oc *contextitem.OptimizedContext)
	LastTurn(ctx context.Context, sessionID string) (*contextitem.OptimizedContext, bool)
}

type ManagerOptions struct {
	MaxTokens        int
	ReservedTokens   int
	CacheTTL         time.Duration
	LastTurnTTL      time.Duration
	OverallTimeout   time.Duration
	RetryBudgetRatio float64
}

type contextManagerImpl struct {
	retriever ContextRetriever
	optimizer ContextOptimizer
	cache     repository.ContextCache
	opts      ManagerOptions
	flight    singleflight.Group

	// 每次失效递增；失效期间仍在计算的结果不回写缓存
	genMu sync.RWMutex
	gen   uint64
}

// NewContextManager cache 为空时始终直接计算
func NewContextManager(retriever ContextRetriever, optimizer ContextOptimizer, cache repository.ContextCache, opts ManagerOptions) ContextManager {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4000
	}
	if opts.ReservedTokens < 0 {
		opts.ReservedTokens = 0
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.LastTurnTTL <= 0 {
		opts.LastTurnTTL = time.Hour
	}
	if opts.OverallTimeout <= 0 {
		opts.OverallTimeout = 5 * time.Second
	}
	if opts.RetryBudgetRatio <= 0 || opts.RetryBudgetRatio >= 1 {
		opts.RetryBudgetRatio = 0.5
	}
	return &contextManagerImpl{retriever: retriever, optimizer: optimizer, cache: cache, opts: opts}
}

// NormalizeQuery 小写、合并空白、去掉句末标点
func NormalizeQuery(q string) string {
	q = strings.ToLower(strings.Join(strings.Fields(q), " "))
	return strings.TrimRight(q, "?？!！.。 ")
}

func orNone(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return noneMarker
	}
	return s
}

// CacheKey 由规范化问题、会话、数据源、权限指纹、会话提示、预算共同决定
func CacheKey(normalizedQuery, sessionID, dataSourceID, fingerprint, sessionHint string, maxTokens, reserved int) string {
	h := sha256.New()
	for _, part := range []string{
		normalizedQuery, orNone(sessionID), orNone(dataSourceID), fingerprint, sessionHint,
		strconv.Itoa(maxTokens), strconv.Itoa(reserved),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return CacheKeyPrefix + "ds:" + orNone(dataSourceID) + ":" + hex.EncodeToString(h.Sum(nil))
}

func DataSourcePattern(dataSourceID string) string {
	return CacheKeyPrefix + "ds:" + orNone(dataSourceID) + ":*"
}

func lastTurnKey(sessionID string) string {
	return CacheKeyPrefix + "session:" + sessionID + ":last"
}

func (m *contextManagerImpl) budget(q ContextQuery) (int, int) {
	maxTokens, reserved := q.MaxTokens, q.ReservedTokens
	if maxTokens <= 0 {
		maxTokens = m.opts.MaxTokens
	}
	if reserved <= 0 {
		reserved = m.opts.ReservedTokens
	}
	return maxTokens, reserved
}

func (m *contextManagerImpl) GetContextForQuery(ctx context.Context, q ContextQuery) (*ContextResult, error) {
	normalized := NormalizeQuery(q.Query)
	if normalized == "" {
		return nil, ErrEmptyInput
	}
	maxTokens, reserved := m.budget(q)
	key := CacheKey(normalized, q.SessionID, q.DataSourceID, q.Permission.Fingerprint, q.SessionContext.Hint(), maxTokens, reserved)

	if oc, ok := m.readCache(ctx, key); ok {
		return &ContextResult{OptimizedContext: oc, CacheHit: true}, nil
	}

	// 相同 key 的并发未命中只计算一次；计算不跟随单个调用方取消，但受整体超时约束
	ch := m.flight.DoChan(key, func() (interface{}, error) {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.OverallTimeout)
		defer cancel()
		gen := m.generation()
		res, err := m.compute(cctx, q, q.Query, maxTokens, reserved)
		if err != nil {
			return nil, err
		}
		if !res.Degraded {
			m.writeCacheAt(cctx, gen, key, res.OptimizedContext, m.opts.CacheTTL)
		}
		return res, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		res := r.Val.(*ContextResult)
		// 共享结果不能被调用方改写
		cp := *res
		return &cp, nil
	}
}

func (m *contextManagerImpl) compute(ctx context.Context, q ContextQuery, retrievalText string, maxTokens, reserved int) (*ContextResult, error) {
	rr, err := m.retriever.Retrieve(ctx, RetrievalRequest{
		QueryText:      retrievalText,
		DataSourceID:   q.DataSourceID,
		SessionContext: q.SessionContext,
		Permission:     q.Permission,
	})
	if err != nil {
		return nil, err
	}
	oc := m.optimizer.Optimize(rr.Items, reserved, maxTokens)
	degraded := rr.Degraded() || ctx.Err() != nil
	return &ContextResult{OptimizedContext: oc, Degraded: degraded}, nil
}

func (m *contextManagerImpl) GetContextForFollowUp(ctx context.Context, q ContextQuery, previous *contextitem.OptimizedContext, history []string) (*ContextResult, error) {
	if NormalizeQuery(q.Query) == "" {
		return nil, ErrEmptyInput
	}
	maxTokens, reserved := m.budget(q)

	retrievalText := q.Query
	if n := len(history); n > 0 {
		if last := strings.TrimSpace(history[n-1]); last != "" && last != strings.TrimSpace(q.Query) {
			retrievalText = q.Query + "\n" + last
		}
	}

	cctx, cancel := context.WithTimeout(ctx, m.opts.OverallTimeout)
	defer cancel()
	rr, err := m.retriever.Retrieve(cctx, RetrievalRequest{
		QueryText:      retrievalText,
		DataSourceID:   q.DataSourceID,
		SessionContext: q.SessionContext,
		Permission:     q.Permission,
	})
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var prevItems []contextitem.ContextItem
	if previous != nil {
		prevItems = previous.Items
	}
	merged := MergeItems(prevItems, rr.Items)
	// 上一轮条目也要重新过一遍权限，防止授权收回后继续可见
	visible := merged[:0]
	for _, it := range merged {
		if q.Permission.Allows(it) {
			visible = append(visible, it)
		}
	}
	oc := m.optimizer.Optimize(visible, reserved, maxTokens)
	return &ContextResult{OptimizedContext: oc, Degraded: rr.Degraded()}, nil
}

// MergeItems 按 namespace+key 合并，新条目覆盖旧条目且保留旧条目的位置；
// 上一轮以摘要装箱的条目按摘要保留
func MergeItems(previous, fresh []contextitem.ContextItem) []contextitem.ContextItem {
	out := make([]contextitem.ContextItem, 0, len(previous)+len(fresh))
	pos := make(map[string]int, len(previous)+len(fresh))
	for _, it := range previous {
		if i, ok := pos[it.UID()]; ok {
			out[i] = it
			continue
		}
		pos[it.UID()] = len(out)
		out = append(out, it)
	}
	for _, it := range fresh {
		if i, ok := pos[it.UID()]; ok {
			out[i] = it
			continue
		}
		pos[it.UID()] = len(out)
		out = append(out, it)
	}
	return out
}

func (m *contextManagerImpl) Simplify(prev *contextitem.OptimizedContext) *contextitem.OptimizedContext {
	return m.optimizer.Simplify(prev, m.opts.RetryBudgetRatio)
}

func (m *contextManagerImpl) Invalidate(ctx context.Context, pattern string) (int64, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return 0, fmt.Errorf("invalidate pattern is empty")
	}
	if !strings.HasPrefix(pattern, CacheKeyPrefix) {
		pattern = CacheKeyPrefix + pattern
	}
	m.genMu.Lock()
	defer m.genMu.Unlock()
	m.gen++
	if m.cache == nil {
		return 0, nil
	}
	n, err := m.cache.DeleteByPattern(ctx, pattern)
	if err != nil {
		zlog.Warn("context cache invalidate failed", zap.String("pattern", pattern), zap.Error(err))
		return 0, err
	}
	zlog.Info("context cache invalidated", zap.String("pattern", pattern), zap.Int64("removed", n))
	return n, nil
}

// InvalidateForChange 绑定数据源的变更只清该数据源（换绑时连同旧数据源）；会话延续上下文一律清空
func (m *contextManagerImpl) InvalidateForChange(ctx context.Context, ev event.SemanticChanged) error {
	patterns := []string{CacheKeyPrefix + "*"}
	if ev.DataSourceID != "" {
		patterns = []string{DataSourcePattern(ev.DataSourceID), DataSourcePattern(""), CacheKeyPrefix + "session:*"}
		if prev := ev.PreviousDataSourceID; prev != "" && prev != ev.DataSourceID {
			patterns = append(patterns, DataSourcePattern(prev))
		}
	}
	var errs []error
	for _, p := range patterns {
		if _, err := m.Invalidate(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *contextManagerImpl) RememberTurn(ctx context.Context, sessionID string, oc *contextitem.OptimizedContext) {
	if sessionID == "" || oc == nil {
		return
	}
	m.writeCache(ctx, lastTurnKey(sessionID), oc, m.opts.LastTurnTTL)
}

func (m *contextManagerImpl) LastTurn(ctx context.Context, sessionID string) (*contextitem.OptimizedContext, bool) {
	if sessionID == "" {
		return nil, false
	}
	return m.readCache(ctx, lastTurnKey(sessionID))
}

func (m *contextManagerImpl) readCache(ctx context.Context, key string) (*contextitem.OptimizedContext, bool) {
	if m.cache == nil {
		return nil, false
	}
	raw, found, err := m.cache.Get(ctx, key)
	if err != nil {
		zlog.Warn("context cache unavailable, bypassing", zap.Error(err))
		return nil, false
	}
	if !found {
		return nil, false
	}
	var oc contextitem.OptimizedContext
	if err := json.Unmarshal(raw, &oc); err != nil {
		zlog.Warn("context cache entry corrupted, ignoring", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &oc, true
}

func (m *contextManagerImpl) generation() uint64 {
	m.genMu.RLock()
	defer m.genMu.RUnlock()
	return m.gen
}

// writeCacheAt 计算开始后发生过失效则丢弃结果
func (m *contextManagerImpl) writeCacheAt(ctx context.Context, gen uint64, key string, oc *contextitem.OptimizedContext, ttl time.Duration) {
	m.genMu.RLock()
	defer m.genMu.RUnlock()
	if m.gen != gen {
		zlog.Debug("context invalidated during compute, result not cached", zap.String("key", key))
		return
	}
	m.writeCache(ctx, key, oc, ttl)
}

func (m *contextManagerImpl) writeCache(ctx context.Context, key string, oc *contextitem.OptimizedContext, ttl time.Duration) {
	if m.cache == nil {
		return
	}
	raw, err := json.Marshal(oc)
	if err != nil {
		return
	}
	if err := m.cache.Set(ctx, key, raw, ttl); err != nil {
		zlog.Warn("context cache unavailable, result not cached", zap.Error(err))
	}
}
