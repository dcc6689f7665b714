package persistence

import (
	"context"
	"fmt"

	"InsightLink/internal/modules/ai/domain/contextitem"
	"InsightLink/internal/modules/semantic/domain/entity"
	"InsightLink/internal/modules/semantic/domain/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type catalogRepositoryImpl struct {
	db *gorm.DB
}

func NewCatalogRepository(db *gorm.DB) repository.CatalogRepository {
	return &catalogRepositoryImpl{db: db}
}

// upsertByKey 按 item_key 覆盖写，id 和 created_at 保持不变
func upsertByKey(ctx context.Context, db *gorm.DB, row interface{}, columns ...string) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "item_key"}},
		DoUpdates: clause.AssignmentColumns(append(columns, "updated_at")),
	}).Create(row).Error
}

func (r *catalogRepositoryImpl) UpsertMetric(ctx context.Context, m *entity.BusinessMetric) error {
	return upsertByKey(ctx, r.db, m, "name", "description", "aggregation", "base_table", "dimensions", "certified", "domain", "data_source_id")
}

func (r *catalogRepositoryImpl) UpsertGlossary(ctx context.Context, g *entity.GlossaryTerm) error {
	return upsertByKey(ctx, r.db, g, "term", "definition", "synonyms", "domain")
}

func (r *catalogRepositoryImpl) UpsertRule(ctx context.Context, rule *entity.BusinessRule) error {
	return upsertByKey(ctx, r.db, rule, "title", "body", "domain")
}

func (r *catalogRepositoryImpl) UpsertExample(ctx context.Context, e *entity.QueryExample) error {
	return upsertByKey(ctx, r.db, e, "question", "sql_text", "data_source_id", "domain")
}

func modelFor(ns contextitem.Namespace) (interface{}, error) {
	switch ns {
	case contextitem.NamespaceMetric:
		return &entity.BusinessMetric{}, nil
	case contextitem.NamespaceGlossary:
		return &entity.GlossaryTerm{}, nil
	case contextitem.NamespaceRule:
		return &entity.BusinessRule{}, nil
	case contextitem.NamespaceExample:
		return &entity.QueryExample{}, nil
	}
	return nil, fmt.Errorf("unsupported catalog namespace %q", ns)
}

func (r *catalogRepositoryImpl) Delete(ctx context.Context, ns contextitem.Namespace, key string) (bool, error) {
	model, err := modelFor(ns)
	if err != nil {
		return false, err
	}
	res := r.db.WithContext(ctx).Where("item_key = ?", key).Delete(model)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *catalogRepositoryImpl) DataSourceOf(ctx context.Context, ns contextitem.Namespace, key string) (string, bool, error) {
	// 术语和规则不绑定数据源
	if ns != contextitem.NamespaceMetric && ns != contextitem.NamespaceExample {
		return "", false, nil
	}
	model, err := modelFor(ns)
	if err != nil {
		return "", false, err
	}
	var ids []string
	err = r.db.WithContext(ctx).Model(model).
		Where("item_key = ?", key).
		Limit(1).
		Pluck("data_source_id", &ids).Error
	if err != nil || len(ids) == 0 {
		return "", false, err
	}
	return ids[0], true, nil
}

func (r *catalogRepositoryImpl) ListMetrics(ctx context.Context) ([]entity.BusinessMetric, error) {
	var out []entity.BusinessMetric
	err := r.db.WithContext(ctx).Order("item_key ASC").Find(&out).Error
	return out, err
}

func (r *catalogRepositoryImpl) ListGlossary(ctx context.Context) ([]entity.GlossaryTerm, error) {
	var out []entity.GlossaryTerm
	err := r.db.WithContext(ctx).Order("item_key ASC").Find(&out).Error
	return out, err
}

func (r *catalogRepositoryImpl) ListRules(ctx context.Context) ([]entity.BusinessRule, error) {
	var out []entity.BusinessRule
	err := r.db.WithContext(ctx).Order("item_key ASC").Find(&out).Error
	return out, err
}

func (r *catalogRepositoryImpl) ListExamples(ctx context.Context) ([]entity.QueryExample, error) {
	var out []entity.QueryExample
	err := r.db.WithContext(ctx).Order("item_key ASC").Find(&out).Error
	return out, err
}
