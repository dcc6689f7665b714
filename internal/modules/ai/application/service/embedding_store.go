package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"InsightLink/internal/modules/ai/domain/embedding"
	"InsightLink/internal/modules/ai/domain/repository"
	"InsightLink/internal/modules/ai/infrastructure/vectordb"
	"InsightLink/pkg/zlog"

	einoEmbedding "github.com/cloudwego/eino/components/embedding"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrEmptyInput 空白文本不允许生成向量
	ErrEmptyInput        = errors.New("embedding input is empty")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// EmbeddingStore 文本向量的生成、按命名空间存储与相似度检索
type EmbeddingStore interface {
	// Generate 同一模型版本下同一文本总是得到同一向量
	Generate(ctx context.Context, text string) ([]float32, error)
	// Store 同一 (namespace, key) 覆盖写
	Store(ctx context.Context, namespace, key, text string, vector []float32, metadata map[string]string) error
	// Search 结果按分数降序，同分按 key 升序；命名空间为空返回空切片
	Search(ctx context.Context, queryText, namespace string, topK int) ([]embedding.SearchHit, error)
	SearchByVector(ctx context.Context, vector []float32, namespace string, topK int) ([]embedding.SearchHit, error)
	Delete(ctx context.Context, namespace, key string) error
	// Reembed 重新生成模型版本过期的向量，all=true 时全部重建
	Reembed(ctx context.Context, all bool) (int, error)
	ModelVersion() string
	Dimension() int
}

type EmbeddingStoreOptions struct {
	ModelVersion string
	Dimension    int
	Timeout      time.Duration
	Concurrency  int
}

type embeddingStoreImpl struct {
	embedder einoEmbedding.Embedder
	vectors  repository.VectorStore
	records  repository.EmbeddingRepository
	opts     EmbeddingStoreOptions
}

// NewEmbeddingStore records 可以为空（纯内存模式不落库）
func NewEmbeddingStore(embedder einoEmbedding.Embedder, vectors repository.VectorStore, records repository.EmbeddingRepository, opts EmbeddingStoreOptions) EmbeddingStore {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &embeddingStoreImpl{embedder: embedder, vectors: vectors, records: records, opts: opts}
}

func (s *embeddingStoreImpl) ModelVersion() string { return s.opts.ModelVersion }
func (s *embeddingStoreImpl) Dimension() int       { return s.opts.Dimension }

func (s *embeddingStoreImpl) Generate(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	vecs, err := s.embedder.EmbedStrings(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed text: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for 1 input", len(vecs))
	}
	if s.opts.Dimension > 0 && len(vecs[0]) != s.opts.Dimension {
		return nil, fmt.Errorf("%w: got=%d want=%d", ErrDimensionMismatch, len(vecs[0]), s.opts.Dimension)
	}
	out := make([]float32, len(vecs[0]))
	for i, v := range vecs[0] {
		out[i] = float32(v)
	}
	return out, nil
}

func vectorID(namespace, key string) string {
	return namespace + "/" + key
}

func (s *embeddingStoreImpl) Store(ctx context.Context, namespace, key, text string, vector []float32, metadata map[string]string) error {
	namespace = strings.TrimSpace(namespace)
	key = strings.TrimSpace(key)
	if namespace == "" || key == "" {
		return fmt.Errorf("namespace and key are required")
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyInput
	}
	if s.opts.Dimension > 0 && len(vector) != s.opts.Dimension {
		return fmt.Errorf("%w: got=%d want=%d", ErrDimensionMismatch, len(vector), s.opts.Dimension)
	}

	if err := s.vectors.Upsert(ctx, []repository.VectorUpsertItem{{
		ID:        vectorID(namespace, key),
		Namespace: namespace,
		Key:       key,
		Vector:    vector,
		Content:   text,
		Metadata:  metadata,
	}}); err != nil {
		return fmt.Errorf("upsert vector %s/%s: %w", namespace, key, err)
	}

	if s.records == nil {
		return nil
	}
	metaJSON := "{}"
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return err
		}
		metaJSON = string(b)
	}
	return s.records.Upsert(ctx, &embedding.AIEmbeddingRecord{
		Namespace:    namespace,
		ItemKey:      key,
		VectorId:     vectorID(namespace, key),
		SourceText:   text,
		MetadataJson: metaJSON,
		ModelVersion: s.opts.ModelVersion,
		Dimension:    len(vector),
	})
}

func (s *embeddingStoreImpl) Search(ctx context.Context, queryText, namespace string, topK int) ([]embedding.SearchHit, error) {
	vec, err := s.Generate(ctx, queryText)
	if err != nil {
		return nil, err
	}
	return s.SearchByVector(ctx, vec, namespace, topK)
}

func (s *embeddingStoreImpl) SearchByVector(ctx context.Context, vector []float32, namespace string, topK int) ([]embedding.SearchHit, error) {
	hits, err := s.vectors.Search(ctx, namespace, vector, topK)
	if err != nil {
		return nil, err
	}
	vectordb.SortHits(hits)
	out := make([]embedding.SearchHit, 0, len(hits))
	for _, h := range hits {
		out = append(out, embedding.SearchHit{
			Key:      h.Key,
			Text:     h.Content,
			Score:    float64(h.Score),
			Metadata: h.Metadata,
		})
	}
	return out, nil
}

func (s *embeddingStoreImpl) Delete(ctx context.Context, namespace, key string) error {
	if err := s.vectors.DeleteByIDs(ctx, []string{vectorID(namespace, key)}); err != nil {
		return err
	}
	if s.records == nil {
		return nil
	}
	return s.records.Delete(ctx, namespace, key)
}

func (s *embeddingStoreImpl) Reembed(ctx context.Context, all bool) (int, error) {
	if s.records == nil {
		return 0, fmt.Errorf("reembed requires persisted embedding records")
	}
	version := s.opts.ModelVersion
	if all {
		version = ""
	}

	var (
		afterID int64
		total   int
	)
	for {
		batch, err := s.records.ListStale(ctx, version, afterID, 100)
		if err != nil {
			return total, err
		}
		if len(batch) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.opts.Concurrency)
		for i := range batch {
			rec := batch[i]
			g.Go(func() error {
				return s.reembedOne(gctx, rec)
			})
		}
		if err := g.Wait(); err != nil {
			return total, err
		}
		total += len(batch)
		afterID = batch[len(batch)-1].Id
	}

	zlog.Info("embedding reembed done", zap.Int("count", total), zap.String("model_version", s.opts.ModelVersion))
	return total, nil
}

func (s *embeddingStoreImpl) reembedOne(ctx context.Context, rec embedding.AIEmbeddingRecord) error {
	vec, err := s.Generate(ctx, rec.SourceText)
	if err != nil {
		return fmt.Errorf("reembed %s/%s: %w", rec.Namespace, rec.ItemKey, err)
	}
	meta := map[string]string{}
	if rec.MetadataJson != "" {
		if err := json.Unmarshal([]byte(rec.MetadataJson), &meta); err != nil {
			zlog.Warn("embedding metadata corrupted, reset", zap.String("namespace", rec.Namespace), zap.String("key", rec.ItemKey))
			meta = map[string]string{}
		}
	}
	return s.Store(ctx, rec.Namespace, rec.ItemKey, rec.SourceText, vec, meta)
}
