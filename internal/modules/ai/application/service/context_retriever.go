package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"InsightLink/internal/modules/ai/domain/contextitem"
	"InsightLink/internal/modules/ai/domain/embedding"
	"InsightLink/pkg/zlog"

	"go.uber.org/zap"
)

// TokenCounter 与下游模型一致的 token 计数
type TokenCounter interface {
	Count(text string) int
}

// RetrievalRequest 一次上下文检索
type RetrievalRequest struct {
	QueryText      string
	DataSourceID   string
	SessionContext *contextitem.SessionContext
	Permission     contextitem.PermissionSet
	TopK           int
}

// NamespaceOutcome 单个命名空间的检索情况，只记录数量
type NamespaceOutcome struct {
	Hits     int  `json:"hits"`
	Denied   int  `json:"denied"`
	Failed   bool `json:"failed,omitempty"`
	TimedOut bool `json:"timedOut,omitempty"`
}

type RetrievalResult struct {
	Items    []contextitem.ContextItem
	Outcomes map[contextitem.Namespace]NamespaceOutcome
}

// Degraded 有命名空间失败或超时
func (r *RetrievalResult) Degraded() bool {
	for _, o := range r.Outcomes {
		if o.Failed || o.TimedOut {
			return true
		}
	}
	return false
}

// ContextRetriever 多命名空间并发检索，结果未排序
type ContextRetriever interface {
	Retrieve(ctx context.Context, req RetrievalRequest) (*RetrievalResult, error)
}

type RetrieverOptions struct {
	Namespaces       []contextitem.Namespace
	TopK             int
	NamespaceTimeout time.Duration
}

type contextRetrieverImpl struct {
	store   EmbeddingStore
	counter TokenCounter
	opts    RetrieverOptions
}

func NewContextRetriever(store EmbeddingStore, counter TokenCounter, opts RetrieverOptions) ContextRetriever {
	if len(opts.Namespaces) == 0 {
		opts.Namespaces = contextitem.RetrievalNamespaces
	}
	if opts.TopK <= 0 {
		opts.TopK = 8
	}
	if opts.NamespaceTimeout <= 0 {
		opts.NamespaceTimeout = 2 * time.Second
	}
	return &contextRetrieverImpl{store: store, counter: counter, opts: opts}
}

type nsResult struct {
	ns   contextitem.Namespace
	hits []embedding.SearchHit
	err  error
}

func (r *contextRetrieverImpl) Retrieve(ctx context.Context, req RetrievalRequest) (*RetrievalResult, error) {
	query := strings.TrimSpace(req.QueryText)
	if query == "" {
		return nil, ErrEmptyInput
	}
	topK := req.TopK
	if topK <= 0 {
		topK = r.opts.TopK
	}
	if hint := req.SessionContext.Hint(); hint != "" {
		query = query + "\n" + hint
	}

	result := &RetrievalResult{
		Items:    []contextitem.ContextItem{},
		Outcomes: make(map[contextitem.Namespace]NamespaceOutcome, len(r.opts.Namespaces)),
	}

	// 查询向量只算一次，各命名空间复用
	embedCtx, cancel := context.WithTimeout(ctx, r.opts.NamespaceTimeout)
	vec, err := r.store.Generate(embedCtx, query)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		zlog.Warn("context retrieval embedding failed, returning empty context", zap.Error(err))
		for _, ns := range r.opts.Namespaces {
			result.Outcomes[ns] = NamespaceOutcome{Failed: true}
		}
		return result, nil
	}

	ch := make(chan nsResult, len(r.opts.Namespaces))
	for _, ns := range r.opts.Namespaces {
		go func(ns contextitem.Namespace) {
			nctx, cancel := context.WithTimeout(ctx, r.opts.NamespaceTimeout)
			defer cancel()
			hits, err := r.store.SearchByVector(nctx, vec, string(ns), topK)
			if err == nil && nctx.Err() != nil {
				err = nctx.Err()
			}
			ch <- nsResult{ns: ns, hits: hits, err: err}
		}(ns)
	}

	byNs := make(map[contextitem.Namespace]nsResult, len(r.opts.Namespaces))
collect:
	for len(byNs) < len(r.opts.Namespaces) {
		select {
		case res := <-ch:
			byNs[res.ns] = res
		case <-ctx.Done():
			// 整体超时：已返回的命名空间照常使用
			break collect
		}
	}

	for _, ns := range r.opts.Namespaces {
		res, ok := byNs[ns]
		if !ok {
			result.Outcomes[ns] = NamespaceOutcome{TimedOut: true}
			continue
		}
		if res.err != nil {
			out := NamespaceOutcome{Failed: true}
			if errors.Is(res.err, context.DeadlineExceeded) {
				out = NamespaceOutcome{TimedOut: true}
			}
			result.Outcomes[ns] = out
			zlog.Warn("context namespace degraded", zap.String("namespace", string(ns)), zap.Error(res.err))
			continue
		}
		out := NamespaceOutcome{}
		for _, h := range res.hits {
			item := r.toItem(ns, h)
			if !inScope(item, req.DataSourceID) {
				continue
			}
			if !req.Permission.Allows(item) {
				out.Denied++
				continue
			}
			out.Hits++
			result.Items = append(result.Items, item)
		}
		result.Outcomes[ns] = out
	}

	zlog.Info("context retrieval done",
		zap.Int("items", len(result.Items)),
		zap.Any("outcomes", result.Outcomes),
		zap.String("data_source_id", req.DataSourceID))
	return result, nil
}

// inScope 绑定了数据源的条目只在该数据源下可用
func inScope(it contextitem.ContextItem, dataSourceID string) bool {
	bound := it.Metadata[contextitem.MetaDataSourceID]
	return bound == "" || dataSourceID == "" || bound == dataSourceID
}

func (r *contextRetrieverImpl) toItem(ns contextitem.Namespace, h embedding.SearchHit) contextitem.ContextItem {
	meta := make(map[string]string, len(h.Metadata))
	for k, v := range h.Metadata {
		if k == contextitem.MetaSummary {
			continue
		}
		meta[k] = v
	}
	item := contextitem.ContextItem{
		Namespace:      ns,
		Key:            h.Key,
		Text:           h.Text,
		RelevanceScore: clamp01(h.Score),
		PriorityTier:   contextitem.TierFor(ns, h.Metadata),
		TokenCount:     r.counter.Count(h.Text),
		Metadata:       meta,
	}
	if s := strings.TrimSpace(h.Metadata[contextitem.MetaSummary]); s != "" {
		item.Summary = s
		item.SummaryTokenCount = r.counter.Count(s)
	}
	return item
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
