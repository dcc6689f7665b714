package repository

import (
	"context"

	"InsightLink/internal/modules/ai/domain/contextitem"
	"InsightLink/internal/modules/semantic/domain/entity"
)

// CatalogRepository 业务元数据持久化，所有对象按 item_key 唯一
type CatalogRepository interface {
	UpsertMetric(ctx context.Context, m *entity.BusinessMetric) error
	UpsertGlossary(ctx context.Context, g *entity.GlossaryTerm) error
	UpsertRule(ctx context.Context, r *entity.BusinessRule) error
	UpsertExample(ctx context.Context, e *entity.QueryExample) error

	// Delete 返回是否真的删除了记录
	Delete(ctx context.Context, ns contextitem.Namespace, key string) (bool, error)
	// DataSourceOf 返回指标/示例绑定的数据源（未绑定时为空）及记录是否存在
	DataSourceOf(ctx context.Context, ns contextitem.Namespace, key string) (string, bool, error)

	ListMetrics(ctx context.Context) ([]entity.BusinessMetric, error)
	ListGlossary(ctx context.Context) ([]entity.GlossaryTerm, error)
	ListRules(ctx context.Context) ([]entity.BusinessRule, error)
	ListExamples(ctx context.Context) ([]entity.QueryExample, error)
}
