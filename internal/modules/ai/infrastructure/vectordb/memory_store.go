package vectordb

import (
	"context"
	"fmt"
	"math"
	"sync"

	"InsightLink/internal/modules/ai/domain/repository"
)

// MemoryStore 进程内向量库，未启用 Milvus 时使用，也用于测试
type MemoryStore struct {
	mu      sync.RWMutex
	dim     int
	records map[string]repository.VectorUpsertItem
}

var _ repository.VectorStore = (*MemoryStore)(nil)

func NewMemoryStore(dim int) *MemoryStore {
	return &MemoryStore{dim: dim, records: make(map[string]repository.VectorUpsertItem)}
}

func (s *MemoryStore) Upsert(ctx context.Context, items []repository.VectorUpsertItem) error {
	for _, it := range items {
		if it.ID == "" {
			return fmt.Errorf("upsert item missing ID")
		}
		if s.dim > 0 && len(it.Vector) != s.dim {
			return fmt.Errorf("vector dim mismatch for id=%s, got=%d want=%d", it.ID, len(it.Vector), s.dim)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		cp := it
		cp.Vector = append([]float32(nil), it.Vector...)
		cp.Metadata = cloneMeta(it.Metadata)
		s.records[it.ID] = cp
	}
	return nil
}

func (s *MemoryStore) DeleteByIDs(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.records, id)
	}
	return nil
}

func (s *MemoryStore) Search(ctx context.Context, namespace string, vector []float32, topK int) ([]repository.VectorSearchHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.dim > 0 && len(vector) != s.dim {
		return nil, fmt.Errorf("vector dim mismatch, got=%d want=%d", len(vector), s.dim)
	}
	if topK <= 0 {
		topK = 5
	}

	s.mu.RLock()
	hits := make([]repository.VectorSearchHit, 0)
	for _, r := range s.records {
		if r.Namespace != namespace {
			continue
		}
		hits = append(hits, repository.VectorSearchHit{
			ID:        r.ID,
			Namespace: r.Namespace,
			Key:       r.Key,
			Score:     float32(Cosine(vector, r.Vector)),
			Content:   r.Content,
			Metadata:  cloneMeta(r.Metadata),
		})
	}
	s.mu.RUnlock()

	SortHits(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Len 当前记录数
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Cosine 余弦相似度，任一向量为零向量时返回 0
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	// 浮点误差可能略超出 [-1,1]
	return math.Max(-1, math.Min(1, sim))
}

func cloneMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
