package repository

import (
	"context"

	"InsightLink/internal/modules/ai/domain/embedding"
)

// EmbeddingRepository 向量元数据（原文、模型版本、维度）的持久化
type EmbeddingRepository interface {
	// Upsert 按 (namespace, item_key) 覆盖写
	Upsert(ctx context.Context, rec *embedding.AIEmbeddingRecord) error
	Get(ctx context.Context, namespace, key string) (*embedding.AIEmbeddingRecord, error)
	Delete(ctx context.Context, namespace, key string) error
	// ListStale 返回模型版本与 activeVersion 不一致的记录，activeVersion 为空时返回全部
	ListStale(ctx context.Context, activeVersion string, afterID int64, limit int) ([]embedding.AIEmbeddingRecord, error)
	CountByNamespace(ctx context.Context) (map[string]int64, error)
}
