package discovery

import (
	"context"
	"sort"
	"strings"

	aiservice "InsightLink/internal/modules/ai/application/service"
	"InsightLink/internal/modules/ai/domain/contextitem"
	"InsightLink/internal/modules/conversation/domain/entity"
	"InsightLink/pkg/zlog"

	"go.uber.org/zap"
)

const defaultTopK = 3

// EmbeddingDiscoverer 在 datasource 命名空间里做相似度检索，检索不到时列出全部可见数据源
type EmbeddingDiscoverer struct {
	registry    *Registry
	store       aiservice.EmbeddingStore
	permissions aiservice.PermissionProvider
	topK        int
}

func NewEmbeddingDiscoverer(registry *Registry, store aiservice.EmbeddingStore, permissions aiservice.PermissionProvider, topK int) *EmbeddingDiscoverer {
	if topK <= 0 {
		topK = defaultTopK
	}
	return &EmbeddingDiscoverer{registry: registry, store: store, permissions: permissions, topK: topK}
}

func (d *EmbeddingDiscoverer) Discover(ctx context.Context, userID, queryText string) ([]entity.Candidate, error) {
	perm, err := d.permissions.PermissionFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	visible := func(id string) (string, bool) {
		src, ok := d.registry.Get(id)
		if !ok {
			return "", false
		}
		item := contextitem.ContextItem{
			Namespace: contextitem.NamespaceDataSource,
			Key:       src.ID,
			Metadata:  map[string]string{contextitem.MetaDomain: src.Domain},
		}
		return src.Name, perm.Allows(item)
	}

	var out []entity.Candidate
	if strings.TrimSpace(queryText) != "" && d.store != nil {
		hits, err := d.store.Search(ctx, queryText, string(contextitem.NamespaceDataSource), d.topK)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			zlog.Warn("data source search failed, listing all", zap.Error(err))
		}
		for _, h := range hits {
			name, ok := visible(h.Key)
			if !ok {
				continue
			}
			out = append(out, entity.Candidate{DataSourceID: h.Key, Name: name, MatchScore: h.Score})
		}
	}
	if len(out) > 0 {
		sort.SliceStable(out, func(i, j int) bool { return out[i].MatchScore > out[j].MatchScore })
		return out, nil
	}

	for _, src := range d.registry.All() {
		if name, ok := visible(src.ID); ok {
			out = append(out, entity.Candidate{DataSourceID: src.ID, Name: name})
		}
	}
	return out, nil
}
