package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"InsightLink/internal/modules/ai/domain/repository"

	mclient "github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// Milvus 集合字段
const (
	FieldID        = "id"
	FieldVector    = "vector"
	FieldNamespace = "namespace"
	FieldKey       = "item_key"
	FieldContent   = "content"
	FieldMetadata  = "metadata"

	MaxContentLen = 8192
)

// MilvusStore 是 repository.VectorStore 的 Milvus 实现
type MilvusStore struct {
	cli         mclient.Client
	collection  string
	metricType  entity.MetricType
	vectorDim   int
	searchParam entity.SearchParam
}

var _ repository.VectorStore = (*MilvusStore)(nil)

func NewMilvusStore(cli mclient.Client, collection string, vectorDim int, metricType entity.MetricType) (*MilvusStore, error) {
	if cli == nil {
		return nil, errors.New("milvus client is nil")
	}
	if strings.TrimSpace(collection) == "" {
		return nil, errors.New("collection is empty")
	}
	if vectorDim <= 0 {
		return nil, fmt.Errorf("invalid vectorDim: %d", vectorDim)
	}
	if metricType == "" {
		metricType = entity.COSINE
	}
	sp, err := entity.NewIndexAUTOINDEXSearchParam(1)
	if err != nil {
		return nil, err
	}
	return &MilvusStore{cli: cli, collection: collection, metricType: metricType, vectorDim: vectorDim, searchParam: sp}, nil
}

func (s *MilvusStore) Upsert(ctx context.Context, items []repository.VectorUpsertItem) error {
	if len(items) == 0 {
		return nil
	}
	ids := make([]string, 0, len(items))
	vectors := make([][]float32, 0, len(items))
	namespaces := make([]string, 0, len(items))
	keys := make([]string, 0, len(items))
	contents := make([]string, 0, len(items))
	metas := make([][]byte, 0, len(items))

	for _, it := range items {
		if it.ID == "" {
			return errors.New("upsert item missing ID")
		}
		if len(it.Vector) != s.vectorDim {
			return fmt.Errorf("vector dim mismatch for id=%s, got=%d want=%d", it.ID, len(it.Vector), s.vectorDim)
		}
		meta, err := encodeMetadata(it.Metadata)
		if err != nil {
			return err
		}
		ids = append(ids, it.ID)
		vectors = append(vectors, it.Vector)
		namespaces = append(namespaces, it.Namespace)
		keys = append(keys, it.Key)
		contents = append(contents, clipContent(it.Content))
		metas = append(metas, meta)
	}

	_, err := s.cli.Upsert(
		ctx,
		s.collection,
		"",
		entity.NewColumnVarChar(FieldID, ids),
		entity.NewColumnFloatVector(FieldVector, s.vectorDim, vectors),
		entity.NewColumnVarChar(FieldNamespace, namespaces),
		entity.NewColumnVarChar(FieldKey, keys),
		entity.NewColumnVarChar(FieldContent, contents),
		entity.NewColumnJSONBytes(FieldMetadata, metas),
	)
	return err
}

func (s *MilvusStore) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.cli.Delete(ctx, s.collection, "", idInExpr(ids))
}

func (s *MilvusStore) Search(ctx context.Context, namespace string, vector []float32, topK int) ([]repository.VectorSearchHit, error) {
	if len(vector) != s.vectorDim {
		return nil, fmt.Errorf("vector dim mismatch, got=%d want=%d", len(vector), s.vectorDim)
	}
	if topK <= 0 {
		topK = 5
	}
	res, err := s.cli.Search(
		ctx,
		s.collection,
		[]string{},
		namespaceExpr(namespace),
		[]string{FieldNamespace, FieldKey, FieldContent, FieldMetadata},
		[]entity.Vector{entity.FloatVector(vector)},
		FieldVector,
		s.metricType,
		topK,
		s.searchParam,
	)
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return []repository.VectorSearchHit{}, nil
	}
	hits, err := parseSearchResult(res[0])
	if err != nil {
		return nil, err
	}
	SortHits(hits)
	return hits, nil
}

func parseSearchResult(sr mclient.SearchResult) ([]repository.VectorSearchHit, error) {
	if sr.Err != nil {
		return nil, sr.Err
	}
	hits := make([]repository.VectorSearchHit, 0, sr.ResultCount)

	nsCol := columnByName(sr.Fields, FieldNamespace)
	keyCol := columnByName(sr.Fields, FieldKey)
	contentCol := columnByName(sr.Fields, FieldContent)
	metaCol := columnByName(sr.Fields, FieldMetadata)

	for i := 0; i < sr.ResultCount; i++ {
		h := repository.VectorSearchHit{}
		if sr.IDs != nil {
			h.ID, _ = sr.IDs.GetAsString(i)
		}
		if i < len(sr.Scores) {
			h.Score = sr.Scores[i]
		}
		if nsCol != nil {
			h.Namespace, _ = nsCol.GetAsString(i)
		}
		if keyCol != nil {
			h.Key, _ = keyCol.GetAsString(i)
		}
		if contentCol != nil {
			h.Content, _ = contentCol.GetAsString(i)
		}
		if metaCol != nil {
			v, _ := metaCol.Get(i)
			if bs, ok := v.([]byte); ok {
				h.Metadata = decodeMetadata(bs)
			}
		}
		hits = append(hits, h)
	}
	return hits, nil
}

func columnByName(cols mclient.ResultSet, name string) entity.Column {
	for _, c := range cols {
		if c != nil && c.Name() == name {
			return c
		}
	}
	return nil
}

func namespaceExpr(namespace string) string {
	return fmt.Sprintf(`%s == "%s"`, FieldNamespace, escapeExprString(namespace))
}

func idInExpr(ids []string) string {
	quoted := make([]string, 0, len(ids))
	for _, id := range ids {
		quoted = append(quoted, `"`+escapeExprString(id)+`"`)
	}
	return fmt.Sprintf("%s in [%s]", FieldID, strings.Join(quoted, ","))
}

func escapeExprString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

func clipContent(s string) string {
	if len(s) <= MaxContentLen {
		return s
	}
	// 按字节截断时回退到完整的 UTF-8 字符边界
	cut := MaxContentLen
	for cut > 0 && (s[cut]&0xC0) == 0x80 {
		cut--
	}
	return s[:cut]
}

func encodeMetadata(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func decodeMetadata(bs []byte) map[string]string {
	if len(bs) == 0 {
		return nil
	}
	out := map[string]string{}
	if err := json.Unmarshal(bs, &out); err != nil {
		return nil
	}
	return out
}

// SortHits 分数降序，同分按 key 字典序，保证结果稳定
func SortHits(hits []repository.VectorSearchHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Key < hits[j].Key
	})
}
