package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	aiService "InsightLink/internal/modules/ai/application/service"
	"InsightLink/internal/modules/ai/domain/contextitem"
	"InsightLink/internal/modules/ai/domain/event"
	"InsightLink/internal/modules/ai/infrastructure/cache"
	aiEmbedding "InsightLink/internal/modules/ai/infrastructure/embedding"
	"InsightLink/internal/modules/ai/infrastructure/vectordb"
	"InsightLink/internal/modules/semantic/application/dto/request"
	"InsightLink/internal/modules/semantic/application/service"
	"InsightLink/internal/modules/semantic/domain/entity"
	"InsightLink/internal/modules/semantic/infrastructure/notify"
	"InsightLink/internal/modules/semantic/infrastructure/persistence"
	"InsightLink/pkg/xerr"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []event.SemanticChanged
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, ev event.SemanticChanged) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

// firstSentence 截取第一句作为摘要
type firstSentence struct{}

func (firstSentence) Summarize(_ context.Context, text string) (string, error) {
	if i := strings.Index(text, ". "); i > 0 && i+1 < len(text) {
		return text[:i+1], nil
	}
	return "", nil
}

type fixture struct {
	svc      service.CatalogService
	store    aiService.EmbeddingStore
	notifier *recordingNotifier
}

func newStore() aiService.EmbeddingStore {
	return aiService.NewEmbeddingStore(aiEmbedding.NewHashingEmbedder(64), vectordb.NewMemoryStore(64), nil,
		aiService.EmbeddingStoreOptions{ModelVersion: "hashing-64", Dimension: 64})
}

func newCatalog(t *testing.T, store aiService.EmbeddingStore, n service.ChangeNotifier) service.CatalogService {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&entity.BusinessMetric{}, &entity.GlossaryTerm{}, &entity.BusinessRule{}, &entity.QueryExample{}))
	return service.NewCatalogService(persistence.NewCatalogRepository(db), store, firstSentence{}, n)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newStore()
	n := &recordingNotifier{}
	return &fixture{svc: newCatalog(t, store, n), store: store, notifier: n}
}

func revenueMetric() request.MetricRequest {
	return request.MetricRequest{
		Key:          "Revenue",
		Name:         "Revenue",
		Description:  "Total order amount. Refunds are excluded.",
		Aggregation:  "SUM(amount)",
		BaseTable:    "orders",
		Dimensions:   []string{"region", " ", "month"},
		Certified:    true,
		Domain:       "sales",
		DataSourceID: "sales_dw",
	}
}

func TestUpsertMetricIndexesAndNotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.UpsertMetric(ctx, revenueMetric())
	require.NoError(t, err)
	assert.Equal(t, "metric", res.Kind)
	assert.Equal(t, "revenue", res.Key)
	assert.True(t, res.HasSummary)
	assert.Equal(t, "hashing-64", res.ModelVersion)

	hits, err := f.store.Search(ctx, "revenue", "metric", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	meta := hits[0].Metadata
	assert.Equal(t, "true", meta[contextitem.MetaCertified])
	assert.Equal(t, "SUM(amount)", meta[contextitem.MetaAggregation])
	assert.Equal(t, "orders", meta[contextitem.MetaBaseTable])
	assert.Equal(t, "region,month", meta[contextitem.MetaDimensions])
	assert.Equal(t, "sales_dw", meta[contextitem.MetaDataSourceID])
	assert.NotEmpty(t, meta[contextitem.MetaSummary])

	require.Len(t, f.notifier.events, 1)
	ev := f.notifier.events[0]
	assert.Equal(t, "metric", ev.Kind)
	assert.Equal(t, "revenue", ev.Key)
	assert.Equal(t, "sales_dw", ev.DataSourceID)
	assert.Equal(t, event.ActionUpsert, ev.Action)
	assert.NotEmpty(t, ev.EventID)

	list, err := f.svc.List(ctx, contextitem.NamespaceMetric)
	require.NoError(t, err)
	metrics := list.([]entity.BusinessMetric)
	require.Len(t, metrics, 1)
	assert.Equal(t, []string{"region", "month"}, metrics[0].Dimensions)
}

func TestUpsertRebindCarriesPreviousDataSource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.UpsertMetric(ctx, revenueMetric())
	require.NoError(t, err)
	moved := revenueMetric()
	moved.DataSourceID = "finance_dw"
	_, err = f.svc.UpsertMetric(ctx, moved)
	require.NoError(t, err)

	require.Len(t, f.notifier.events, 2)
	assert.Empty(t, f.notifier.events[0].PreviousDataSourceID)
	assert.Equal(t, "finance_dw", f.notifier.events[1].DataSourceID)
	assert.Equal(t, "sales_dw", f.notifier.events[1].PreviousDataSourceID)

	// 从未绑定改为绑定：原先所有数据源都能看到，按全局变更处理
	_, err = f.svc.UpsertExample(ctx, request.ExampleRequest{Key: "ex1", Question: "revenue by month", SQL: "SELECT 1"})
	require.NoError(t, err)
	_, err = f.svc.UpsertExample(ctx, request.ExampleRequest{Key: "ex1", Question: "revenue by month", SQL: "SELECT 1", DataSourceID: "sales_dw"})
	require.NoError(t, err)
	require.Len(t, f.notifier.events, 4)
	assert.Empty(t, f.notifier.events[3].DataSourceID)
	assert.Empty(t, f.notifier.events[3].PreviousDataSourceID)
}

type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

func TestUpsertRebindDropsContextCachedUnderPreviousDataSource(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	contexts := aiService.NewContextManager(
		aiService.NewContextRetriever(store, wordCounter{}, aiService.RetrieverOptions{}),
		aiService.NewContextOptimizer(wordCounter{}),
		cache.NewMemoryContextCache(),
		aiService.ManagerOptions{MaxTokens: 500},
	)
	svc := newCatalog(t, store, notify.NewLocalNotifier(contexts))

	_, err := svc.UpsertMetric(ctx, revenueMetric())
	require.NoError(t, err)

	q := aiService.ContextQuery{
		Query:        "What is total revenue?",
		DataSourceID: "sales_dw",
		Permission:   aiService.BuildPermission("u1", []string{"sales"}),
	}
	first, err := contexts.GetContextForQuery(ctx, q)
	require.NoError(t, err)
	_, ok := first.Find(contextitem.NamespaceMetric, "revenue")
	require.True(t, ok)
	cached, err := contexts.GetContextForQuery(ctx, q)
	require.NoError(t, err)
	require.True(t, cached.CacheHit)

	moved := revenueMetric()
	moved.DataSourceID = "finance_dw"
	_, err = svc.UpsertMetric(ctx, moved)
	require.NoError(t, err)

	after, err := contexts.GetContextForQuery(ctx, q)
	require.NoError(t, err)
	assert.False(t, after.CacheHit)
	_, ok = after.Find(contextitem.NamespaceMetric, "revenue")
	assert.False(t, ok)
}

func TestUpsertOverwrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.UpsertRule(ctx, request.RuleRequest{Key: "no_test", Title: "Exclude tests", Body: "drop is_test rows"})
	require.NoError(t, err)
	_, err = f.svc.UpsertRule(ctx, request.RuleRequest{Key: "no_test", Title: "Exclude tests", Body: "drop is_test and is_internal rows"})
	require.NoError(t, err)

	list, err := f.svc.List(ctx, contextitem.NamespaceRule)
	require.NoError(t, err)
	rules := list.([]entity.BusinessRule)
	require.Len(t, rules, 1)
	assert.Equal(t, "drop is_test and is_internal rows", rules[0].Body)

	hits, err := f.store.Search(ctx, "exclude tests", "rule", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Contains(t, hits[0].Text, "is_internal")
}

func TestUpsertValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.UpsertGlossary(ctx, request.GlossaryRequest{Key: "bad key!", Term: "GMV", Definition: "x"})
	var ce *xerr.CodeError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, xerr.BadRequest, ce.Code)

	_, err = f.svc.UpsertExample(ctx, request.ExampleRequest{Key: "ex", Question: "q", SQL: "  "})
	require.True(t, errors.As(err, &ce))
	assert.Empty(t, f.notifier.events)
}

func TestDeleteRemovesEmbedding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.UpsertExample(ctx, request.ExampleRequest{
		Key: "rev_by_month", Question: "revenue by month", SQL: "SELECT month, SUM(amount) FROM orders GROUP BY month", DataSourceID: "sales_dw",
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, contextitem.NamespaceExample, "rev_by_month"))
	hits, err := f.store.Search(ctx, "revenue by month", "example", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.Len(t, f.notifier.events, 2)
	assert.Equal(t, event.ActionDelete, f.notifier.events[1].Action)
	assert.Equal(t, "sales_dw", f.notifier.events[1].DataSourceID)

	err = f.svc.Delete(ctx, contextitem.NamespaceExample, "rev_by_month")
	var ce *xerr.CodeError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, xerr.NotFound, ce.Code)
}

func TestNotifyFailureDoesNotFailWrite(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("broker down")

	_, err := f.svc.UpsertGlossary(context.Background(), request.GlossaryRequest{Key: "gmv", Term: "GMV", Definition: "gross merchandise value"})
	assert.NoError(t, err)
}

func TestSeedAndReindex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.svc.Seed(ctx, request.CatalogFile{
		Metrics:  []request.MetricRequest{revenueMetric()},
		Glossary: []request.GlossaryRequest{{Key: "gmv", Term: "GMV", Definition: "gross merchandise value", Synonyms: []string{"gross sales"}}},
		Rules:    []request.RuleRequest{{Key: "no_test", Title: "Exclude tests", Body: "drop is_test rows"}},
		Examples: []request.ExampleRequest{{Key: "ex1", Question: "revenue by month", SQL: "SELECT 1"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, out.Total())

	n, err := f.svc.ReindexAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, event.ActionReembed, f.notifier.events[len(f.notifier.events)-1].Action)

	_, err = f.svc.Seed(ctx, request.CatalogFile{Rules: []request.RuleRequest{{Key: "x"}}})
	assert.Error(t, err)
}

func TestRegisterDataSources(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	n, err := f.svc.RegisterDataSources(ctx, []entity.DataSource{
		{ID: "sales_dw", Name: "Sales warehouse", Description: "orders and revenue", Schema: "orders(id, amount, region, created_at)"},
		{ID: ""},
		{ID: "hr_dw", Name: "HR warehouse", Description: "employees and payroll", Domain: "hr"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	hits, err := f.store.Search(ctx, "orders revenue", string(contextitem.NamespaceDataSource), 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "sales_dw", hits[0].Key)
	assert.Empty(t, f.notifier.events)
}
