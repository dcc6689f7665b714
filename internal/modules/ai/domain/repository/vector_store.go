package repository

import "context"

// VectorStore 向量库能力抽象。
//
// application / domain 只依赖本接口，基础设施层提供 Milvus 与内存两种实现。
// 所有写入与检索都必须带 Namespace，不同命名空间互不可见。

// VectorUpsertItem 向量写入的标准字段
type VectorUpsertItem struct {
	ID        string
	Namespace string
	Key       string
	Vector    []float32
	Content   string
	Metadata  map[string]string
}

type VectorSearchHit struct {
	ID        string
	Namespace string
	Key       string
	Score     float32
	Content   string
	Metadata  map[string]string
}

// VectorStore 向量数据库接口（Upsert/Delete/Search）
type VectorStore interface {
	// Upsert 同 ID 覆盖写
	Upsert(ctx context.Context, items []VectorUpsertItem) error
	DeleteByIDs(ctx context.Context, ids []string) error
	// Search 命名空间内余弦相似度检索，命名空间为空时返回空切片
	Search(ctx context.Context, namespace string, vector []float32, topK int) ([]VectorSearchHit, error)
}
