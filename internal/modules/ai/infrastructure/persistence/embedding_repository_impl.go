package persistence

import (
	"context"
	"strings"

	"InsightLink/internal/modules/ai/domain/embedding"
	"InsightLink/internal/modules/ai/domain/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type embeddingRepositoryImpl struct {
	db *gorm.DB
}

func NewEmbeddingRepository(db *gorm.DB) repository.EmbeddingRepository {
	return &embeddingRepositoryImpl{db: db}
}

func (r *embeddingRepositoryImpl) Upsert(ctx context.Context, rec *embedding.AIEmbeddingRecord) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "namespace"}, {Name: "item_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"vector_id", "source_text", "metadata_json", "model_version", "dimension", "updated_at"}),
	}).Create(rec).Error
}

func (r *embeddingRepositoryImpl) Get(ctx context.Context, namespace, key string) (*embedding.AIEmbeddingRecord, error) {
	namespace = strings.TrimSpace(namespace)
	key = strings.TrimSpace(key)
	if namespace == "" || key == "" {
		return nil, nil
	}
	var rec embedding.AIEmbeddingRecord
	err := r.db.WithContext(ctx).
		Where("namespace = ? AND item_key = ?", namespace, key).
		Take(&rec).Error
	if err == nil {
		return &rec, nil
	}
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	return nil, err
}

func (r *embeddingRepositoryImpl) Delete(ctx context.Context, namespace, key string) error {
	return r.db.WithContext(ctx).
		Where("namespace = ? AND item_key = ?", namespace, key).
		Delete(&embedding.AIEmbeddingRecord{}).Error
}

func (r *embeddingRepositoryImpl) ListStale(ctx context.Context, activeVersion string, afterID int64, limit int) ([]embedding.AIEmbeddingRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	q := r.db.WithContext(ctx).Where("id > ?", afterID)
	if activeVersion != "" {
		q = q.Where("model_version <> ?", activeVersion)
	}
	var out []embedding.AIEmbeddingRecord
	err := q.Order("id ASC").Limit(limit).Find(&out).Error
	return out, err
}

func (r *embeddingRepositoryImpl) CountByNamespace(ctx context.Context) (map[string]int64, error) {
	type row struct {
		Namespace string
		Cnt       int64
	}
	var rows []row
	err := r.db.WithContext(ctx).Model(&embedding.AIEmbeddingRecord{}).
		Select("namespace, COUNT(*) AS cnt").
		Group("namespace").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Namespace] = r.Cnt
	}
	return out, nil
}
