package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"InsightLink/internal/config"
	aiservice "InsightLink/internal/modules/ai/application/service"
	"InsightLink/internal/modules/ai/domain/contextitem"
	"InsightLink/internal/modules/ai/infrastructure/cache"
	aiEmbedding "InsightLink/internal/modules/ai/infrastructure/embedding"
	"InsightLink/internal/modules/ai/infrastructure/vectordb"
	"InsightLink/internal/modules/conversation/application/dto/request"
	"InsightLink/internal/modules/conversation/application/service"
	"InsightLink/internal/modules/conversation/domain/entity"
	"InsightLink/internal/modules/conversation/infrastructure/discovery"
	"InsightLink/internal/modules/conversation/infrastructure/persistence"
	"InsightLink/internal/modules/conversation/infrastructure/pipeline"
	"InsightLink/internal/modules/conversation/infrastructure/sqlgen"
	"InsightLink/pkg/xerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

type allowAll struct{}

func (allowAll) PermissionFor(_ context.Context, userID string) (contextitem.PermissionSet, error) {
	return aiservice.BuildPermission(userID, []string{"*"}), nil
}

type fakeDiscoverer struct {
	mu    sync.Mutex
	calls int
}

func (d *fakeDiscoverer) Discover(context.Context, string, string) ([]entity.Candidate, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return []entity.Candidate{{DataSourceID: "sales_dw", Name: "Sales warehouse", MatchScore: 0.82}}, nil
}

// scriptedGenerator 前 failures 次调用失败，之后交给 inner
type scriptedGenerator struct {
	mu       sync.Mutex
	inner    service.SQLGenerator
	failures int
	requests []service.GenerationRequest
}

func (g *scriptedGenerator) Generate(ctx context.Context, req service.GenerationRequest) (*service.GeneratedSQL, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	n := len(g.requests)
	g.mu.Unlock()
	if n <= g.failures {
		return nil, &service.GenerationError{Reason: "scripted failure"}
	}
	return g.inner.Generate(ctx, req)
}

func (g *scriptedGenerator) calls() []service.GenerationRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]service.GenerationRequest(nil), g.requests...)
}

type fakeExecutor struct {
	mu      sync.Mutex
	sqls    []string
	err     error
	started chan struct{}
	block   bool
}

func (e *fakeExecutor) Execute(ctx context.Context, _ string, sql string, _ int) (*entity.ResultSample, error) {
	e.mu.Lock()
	e.sqls = append(e.sqls, sql)
	err, block := e.err, e.block
	e.mu.Unlock()
	if block {
		close(e.started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return &entity.ResultSample{Columns: []string{"revenue"}, Rows: [][]interface{}{{"1250.50"}}, RowCount: 1}, nil
}

func (e *fakeExecutor) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sqls)
}

type phaseLog struct {
	mu     sync.Mutex
	phases []entity.Phase
}

func (p *phaseLog) PhaseChanged(_, _ string, phase entity.Phase) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phases = append(p.phases, phase)
}

func (p *phaseLog) list() []entity.Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]entity.Phase(nil), p.phases...)
}

type harness struct {
	orch     service.QueryOrchestrator
	sessions service.SessionStore
	gen      *scriptedGenerator
	exec     *fakeExecutor
	discover *fakeDiscoverer
	phases   *phaseLog
	contexts aiservice.ContextManager
}

func seedCatalog(t *testing.T, store aiservice.EmbeddingStore) {
	t.Helper()
	ctx := context.Background()
	items := []struct {
		ns   contextitem.Namespace
		key  string
		text string
		meta map[string]string
	}{
		{contextitem.NamespaceMetric, "revenue", "Revenue: total revenue is the sum of paid order amount", map[string]string{
			contextitem.MetaName: "Revenue", contextitem.MetaCertified: "true", contextitem.MetaAggregation: "SUM(amount)",
			contextitem.MetaBaseTable: "orders", contextitem.MetaDimensions: "region,month", contextitem.MetaDomain: "sales",
		}},
		{contextitem.NamespaceMetric, "order_count", "Order count: number of orders placed", map[string]string{
			contextitem.MetaName: "Order count", contextitem.MetaAggregation: "COUNT(*)", contextitem.MetaBaseTable: "orders",
		}},
		{contextitem.NamespaceGlossary, "gmv", "GMV gross merchandise value is revenue before refunds", nil},
		{contextitem.NamespaceRule, "exclude_test", "Revenue always excludes test orders flagged is_test", map[string]string{contextitem.MetaDomain: "sales"}},
		{contextitem.NamespaceExample, "rev_by_month", "What is total revenue by month", map[string]string{
			contextitem.MetaSQL: "SELECT month, SUM(amount) FROM orders GROUP BY month",
		}},
	}
	for _, it := range items {
		vec, err := store.Generate(ctx, it.text)
		require.NoError(t, err)
		require.NoError(t, store.Store(ctx, string(it.ns), it.key, it.text, vec, it.meta))
	}
}

func newHarness(t *testing.T, failures int) *harness {
	t.Helper()
	store := aiservice.NewEmbeddingStore(aiEmbedding.NewHashingEmbedder(64), vectordb.NewMemoryStore(64), nil,
		aiservice.EmbeddingStoreOptions{ModelVersion: "hashing-64", Dimension: 64})
	seedCatalog(t, store)

	retriever := aiservice.NewContextRetriever(store, wordCounter{}, aiservice.RetrieverOptions{TopK: 5, NamespaceTimeout: time.Second})
	contexts := aiservice.NewContextManager(retriever, aiservice.NewContextOptimizer(wordCounter{}), cache.NewMemoryContextCache(),
		aiservice.ManagerOptions{MaxTokens: 400, ReservedTokens: 50, OverallTimeout: 2 * time.Second})

	h := &harness{
		gen:      &scriptedGenerator{inner: sqlgen.NewRuleGenerator(), failures: failures},
		exec:     &fakeExecutor{started: make(chan struct{})},
		discover: &fakeDiscoverer{},
		phases:   &phaseLog{},
		contexts: contexts,
	}
	proc, err := pipeline.NewQueryPipeline(contexts, h.gen, h.exec, pipeline.QueryPipelineOptions{
		GenerationTimeout: time.Second, ExecutionTimeout: time.Second, MaxRows: 20,
	})
	require.NoError(t, err)

	h.sessions = service.NewSessionStore(persistence.NewSessionRepository(service.NewTestDB(t)), nil, service.SessionOptions{})
	h.orch = service.NewQueryOrchestrator(service.OrchestratorDeps{
		Sessions:    h.sessions,
		Contexts:    contexts,
		Permissions: allowAll{},
		Discoverer:  h.discover,
		Schemas: discovery.NewRegistry([]config.DataSourceConfig{
			{ID: "sales_dw", Name: "Sales warehouse", Schema: "orders(id, amount, region, month, is_test)"},
			{ID: "hr_dw", Name: "HR warehouse", Schema: "employees(id, department)"},
		}),
		Processor: proc,
		Notifier:  h.phases,
	})
	return h
}

func TestSessionWithoutDataSourceOnlyDiscovers(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	resp, err := h.orch.HandleMessage(ctx, "u1", request.MessageRequest{Message: "What is total revenue?"})
	require.NoError(t, err)
	assert.Equal(t, entity.TypeDiscovery, resp.MessageType)
	assert.Equal(t, entity.PhaseDiscovery, resp.Phase)
	assert.True(t, resp.NewSession)
	require.Len(t, resp.Candidates, 1)
	assert.Equal(t, "sales_dw", resp.Candidates[0].DataSourceID)
	assert.Empty(t, resp.SqlQuery)

	again, err := h.orch.HandleMessage(ctx, "u1", request.MessageRequest{Message: "revenue please", SessionId: resp.SessionId})
	require.NoError(t, err)
	assert.Equal(t, entity.TypeDiscovery, again.MessageType)
	assert.Equal(t, resp.SessionId, again.SessionId)
	assert.False(t, again.NewSession)

	assert.Empty(t, h.gen.calls(), "no sql generation without a data source")
	assert.Zero(t, h.exec.calls())
	assert.Equal(t, 2, h.discover.calls)
}

func TestTotalRevenueScenario(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	first, err := h.orch.HandleMessage(ctx, "u1", request.MessageRequest{Message: "What is total revenue?"})
	require.NoError(t, err)
	sess, err := h.orch.SelectDataSource(ctx, "u1", first.SessionId, "sales_dw")
	require.NoError(t, err)
	assert.Equal(t, entity.PhaseReady, sess.Phase)

	resp, err := h.orch.HandleMessage(ctx, "u1", request.MessageRequest{Message: "What is total revenue?", SessionId: first.SessionId})
	require.NoError(t, err)
	assert.Equal(t, entity.TypeQueryResult, resp.MessageType)
	assert.Equal(t, entity.PhaseResponded, resp.Phase)
	assert.Equal(t, "SELECT SUM(amount) AS revenue FROM orders", resp.SqlQuery)
	assert.Contains(t, resp.SqlQuery, "SUM(amount)")
	require.NotNil(t, resp.Results)
	assert.Equal(t, 1, resp.Results.RowCount)
	assert.Len(t, resp.Results.Columns, 1)
	assert.Equal(t, service.HintSingleValue, resp.VisualizationHint)
	assert.Contains(t, resp.SuggestedActions, "Break down revenue by region")
	assert.GreaterOrEqual(t, len(resp.SuggestedActions), 2)
	assert.LessOrEqual(t, len(resp.SuggestedActions), 4)
	require.NotNil(t, resp.ContextStats)
	assert.Greater(t, resp.ContextStats.ItemsIncluded, 0)
	assert.LessOrEqual(t, resp.ContextStats.TokensUsed, 350)

	reqs := h.gen.calls()
	require.Len(t, reqs, 1)
	top := reqs[0].Context.Items[0]
	assert.Equal(t, "revenue", top.Key)
	assert.Equal(t, contextitem.TierCertifiedMetric, top.PriorityTier)
	assert.Equal(t, "sales_dw", reqs[0].Schema.DataSourceID)

	phases := h.phases.list()
	assert.Contains(t, phases, entity.PhaseProcessing)
	assert.Equal(t, entity.PhaseResponded, phases[len(phases)-1])

	detail, err := h.sessions.GetSession(ctx, first.SessionId, true)
	require.NoError(t, err)
	types := make([]entity.MessageType, 0, len(detail.Messages))
	for _, m := range detail.Messages {
		types = append(types, m.Type)
	}
	assert.Equal(t, []entity.MessageType{
		entity.TypeUserMessage, entity.TypeDiscovery, entity.TypeInfo, entity.TypeUserMessage, entity.TypeQueryResult,
	}, types)
	assert.Contains(t, detail.Session.ContextState.TablesUsed, "orders")
	assert.Equal(t, "What is total revenue?", detail.Session.ContextState.LastTopic)
}

func TestFollowUpCarriesPreviousTurn(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	first, err := h.orch.HandleMessage(ctx, "u1", request.MessageRequest{Message: "What is total revenue?", DataSourceId: "sales_dw"})
	require.NoError(t, err)
	require.Equal(t, entity.TypeQueryResult, first.MessageType)

	_, err = h.orch.HandleMessage(ctx, "u1", request.MessageRequest{Message: "break that down by region", SessionId: first.SessionId})
	require.NoError(t, err)

	reqs := h.gen.calls()
	require.Len(t, reqs, 2)
	assert.Equal(t, []string{"What is total revenue?"}, reqs[1].History)
	_, ok := reqs[1].Context.Find(contextitem.NamespaceMetric, "revenue")
	assert.True(t, ok, "previous turn context is merged into the follow-up")
}

func TestGenerationFailureRetriesOnceThenClarifies(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()

	resp, err := h.orch.HandleMessage(ctx, "u1", request.MessageRequest{Message: "What is total revenue?", DataSourceId: "sales_dw"})
	require.NoError(t, err)
	assert.Equal(t, entity.TypeClarification, resp.MessageType)
	assert.Empty(t, resp.ErrorCode)
	assert.Zero(t, h.exec.calls())

	reqs := h.gen.calls()
	require.Len(t, reqs, 2, "exactly one retry")
	assert.LessOrEqual(t, wordCounter{}.Count(reqs[1].Context.Text), wordCounter{}.Count(reqs[0].Context.Text))
	assert.LessOrEqual(t, reqs[1].Context.Stats.ContextTokens, reqs[0].Context.Stats.ContextTokens)

	// 会话仍可继续
	d, err := h.sessions.GetSession(ctx, resp.SessionId, false)
	require.NoError(t, err)
	assert.True(t, d.Session.Open())
}

func TestGenerationRetrySucceedsWithSmallerContext(t *testing.T) {
	h := newHarness(t, 1)
	resp, err := h.orch.HandleMessage(context.Background(), "u1", request.MessageRequest{Message: "What is total revenue?", DataSourceId: "sales_dw"})
	require.NoError(t, err)

	reqs := h.gen.calls()
	require.Len(t, reqs, 2)
	assert.LessOrEqual(t, reqs[1].Context.Stats.ContextTokens, reqs[0].Context.Stats.ContextTokens)
	if reqs[1].Context.Empty() {
		assert.Equal(t, entity.TypeClarification, resp.MessageType)
		return
	}
	assert.Equal(t, entity.TypeQueryResult, resp.MessageType)
}

func TestExecutionErrorIsNotRetried(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	h.exec.err = &service.ExecutionError{Code: service.ExecCodeInvalidColumn, Message: "The query referenced a column that does not exist.", Err: errors.New("Error 1054: Unknown column 'amount2'")}

	resp, err := h.orch.HandleMessage(ctx, "u1", request.MessageRequest{Message: "What is total revenue?", DataSourceId: "sales_dw"})
	require.NoError(t, err)
	assert.Equal(t, entity.TypeError, resp.MessageType)
	assert.Equal(t, service.ExecCodeInvalidColumn, resp.ErrorCode)
	assert.NotContains(t, resp.Content, "1054")
	assert.Equal(t, 1, h.exec.calls())
	assert.Len(t, h.gen.calls(), 1)

	h.exec.mu.Lock()
	h.exec.err = nil
	h.exec.mu.Unlock()
	next, err := h.orch.HandleMessage(ctx, "u1", request.MessageRequest{Message: "What is total revenue?", SessionId: resp.SessionId})
	require.NoError(t, err)
	assert.Equal(t, entity.TypeQueryResult, next.MessageType)
	assert.Equal(t, resp.SessionId, next.SessionId)
}

func TestMissingSessionIsReplaced(t *testing.T) {
	h := newHarness(t, 0)
	resp, err := h.orch.HandleMessage(context.Background(), "u1", request.MessageRequest{
		Message: "What is total revenue?", SessionId: "CSMISSING00000000000", DataSourceId: "sales_dw",
	})
	require.NoError(t, err)
	assert.True(t, resp.NewSession)
	assert.NotEqual(t, "CSMISSING00000000000", resp.SessionId)
	assert.Equal(t, entity.TypeQueryResult, resp.MessageType)
}

func TestEndedSessionRejectsMessages(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	resp, err := h.orch.HandleMessage(ctx, "u1", request.MessageRequest{Message: "hi"})
	require.NoError(t, err)
	_, err = h.sessions.EndSession(ctx, "u1", resp.SessionId)
	require.NoError(t, err)

	_, err = h.orch.HandleMessage(ctx, "u1", request.MessageRequest{Message: "hi again", SessionId: resp.SessionId})
	assert.ErrorIs(t, err, xerr.ErrSessionEnded)
}

func TestUnknownDataSourceRejected(t *testing.T) {
	h := newHarness(t, 0)
	_, err := h.orch.HandleMessage(context.Background(), "u1", request.MessageRequest{Message: "hi", DataSourceId: "nope"})
	var ce *xerr.CodeError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, xerr.BadRequest, ce.Code)

	_, err = h.orch.HandleMessage(context.Background(), "u1", request.MessageRequest{Message: "  "})
	assert.ErrorIs(t, err, xerr.ErrParam)
}

func TestCancellationPersistsNoAssistantMessage(t *testing.T) {
	h := newHarness(t, 0)
	h.exec.block = true
	ctx, cancel := context.WithCancel(context.Background())

	first, err := h.orch.HandleMessage(context.Background(), "u1", request.MessageRequest{Message: "hello"})
	require.NoError(t, err)
	_, err = h.orch.SelectDataSource(context.Background(), "u1", first.SessionId, "sales_dw")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := h.orch.HandleMessage(ctx, "u1", request.MessageRequest{Message: "What is total revenue?", SessionId: first.SessionId})
		done <- err
	}()
	<-h.exec.started
	cancel()
	err = <-done
	assert.ErrorIs(t, err, context.Canceled)

	detail, err := h.sessions.GetSession(context.Background(), first.SessionId, true)
	require.NoError(t, err)
	last := detail.Messages[len(detail.Messages)-1]
	assert.Equal(t, entity.RoleUser, last.Role, "no partial assistant message")
	assert.Equal(t, entity.PhaseReady, detail.Session.Phase)
}
