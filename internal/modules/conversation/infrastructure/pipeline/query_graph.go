package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	aiservice "InsightLink/internal/modules/ai/application/service"
	"InsightLink/internal/modules/ai/domain/contextitem"
	"InsightLink/internal/modules/conversation/application/service"
	"InsightLink/internal/modules/conversation/domain/entity"
	"InsightLink/pkg/zlog"

	"github.com/cloudwego/eino/compose"
	"go.uber.org/zap"
)

// queryState 节点间传递的中间状态
type queryState struct {
	Req       *service.TurnRequest
	Context   *contextitem.OptimizedContext // 首次生成使用的上下文
	Used      *contextitem.OptimizedContext // 最终生成 SQL 的上下文
	CacheHit  bool
	Generated *service.GeneratedSQL
	Result    *entity.ResultSample
	Attempts  int
	// Outcome 非空表示本轮已经有结论，后续节点直接透传
	Outcome          entity.Payload
	SimplifiedTokens int
	Err              error
}

func (st *queryState) skip() bool {
	return st.Err != nil || st.Outcome != nil
}

// buildGraph 节点顺序：RetrieveContext → GenerateSQL → ExecuteSQL → BuildOutcome
func (p *QueryPipeline) buildGraph(ctx context.Context) (compose.Runnable[*service.TurnRequest, *service.TurnOutcome], error) {
	const (
		RetrieveContext = "RetrieveContext"
		GenerateSQL     = "GenerateSQL"
		ExecuteSQL      = "ExecuteSQL"
		BuildOutcome    = "BuildOutcome"
	)
	g := compose.NewGraph[*service.TurnRequest, *service.TurnOutcome]()
	_ = g.AddLambdaNode(RetrieveContext, compose.InvokableLambdaWithOption(p.retrieveNode), compose.WithNodeName(RetrieveContext))
	_ = g.AddLambdaNode(GenerateSQL, compose.InvokableLambdaWithOption(p.generateNode), compose.WithNodeName(GenerateSQL))
	_ = g.AddLambdaNode(ExecuteSQL, compose.InvokableLambdaWithOption(p.executeNode), compose.WithNodeName(ExecuteSQL))
	_ = g.AddLambdaNode(BuildOutcome, compose.InvokableLambdaWithOption(p.buildOutcomeNode), compose.WithNodeName(BuildOutcome))
	_ = g.AddEdge(compose.START, RetrieveContext)
	_ = g.AddEdge(RetrieveContext, GenerateSQL)
	_ = g.AddEdge(GenerateSQL, ExecuteSQL)
	_ = g.AddEdge(ExecuteSQL, BuildOutcome)
	_ = g.AddEdge(BuildOutcome, compose.END)
	return g.Compile(ctx, compose.WithGraphName("ConversationQueryPipeline"), compose.WithNodeTriggerMode(compose.AllPredecessor))
}

func (p *QueryPipeline) retrieveNode(ctx context.Context, req *service.TurnRequest, _ ...any) (*queryState, error) {
	st := &queryState{Req: req}
	if strings.TrimSpace(req.Question) == "" {
		st.Err = fmt.Errorf("missing question")
		return st, nil
	}
	sc := req.SessionContext
	q := aiservice.ContextQuery{
		Query:          req.Question,
		SessionID:      req.SessionID,
		DataSourceID:   req.DataSourceID,
		Permission:     req.Permission,
		SessionContext: &sc,
	}
	var (
		res *aiservice.ContextResult
		err error
	)
	if req.Previous != nil {
		res, err = p.contexts.GetContextForFollowUp(ctx, q, req.Previous, req.History)
	} else {
		res, err = p.contexts.GetContextForQuery(ctx, q)
	}
	if err != nil {
		if ctx.Err() != nil {
			st.Err = ctx.Err()
			return st, nil
		}
		// 没有业务上下文也可以尝试生成，生成失败会转成澄清
		zlog.Warn("context retrieval failed, continuing without context", zap.String("session_id", req.SessionID), zap.Error(err))
		st.Context = &contextitem.OptimizedContext{}
		return st, nil
	}
	st.Context = res.OptimizedContext
	st.CacheHit = res.CacheHit
	if res.Degraded {
		zlog.Info("context degraded", zap.String("session_id", req.SessionID), zap.Int("items", len(res.Items)))
	}
	return st, nil
}

// generateNode 失败时用缩小后的上下文重试一次，再失败就请用户换个说法
func (p *QueryPipeline) generateNode(ctx context.Context, st *queryState, _ ...any) (*queryState, error) {
	if st.skip() {
		return st, nil
	}
	st.Attempts = 1
	gen, err := p.generate(ctx, st.Req, st.Context)
	if err == nil {
		st.Generated, st.Used = gen, st.Context
		return st, nil
	}
	if ctx.Err() != nil {
		st.Err = ctx.Err()
		return st, nil
	}
	zlog.Info("sql generation failed, retrying with simplified context", zap.String("session_id", st.Req.SessionID), zap.Error(err))

	simplified := p.contexts.Simplify(st.Context)
	st.SimplifiedTokens = simplified.Stats.ContextTokens
	st.Attempts = 2
	gen, err = p.generate(ctx, st.Req, simplified)
	if err != nil {
		if ctx.Err() != nil {
			st.Err = ctx.Err()
			return st, nil
		}
		zlog.Info("sql generation failed twice, asking for clarification", zap.String("session_id", st.Req.SessionID), zap.Error(err))
		st.Used = simplified
		st.Outcome = entity.Clarification{Text: clarificationText(st.Req.Question)}
		return st, nil
	}
	st.Generated, st.Used = gen, simplified
	return st, nil
}

func (p *QueryPipeline) generate(ctx context.Context, req *service.TurnRequest, oc *contextitem.OptimizedContext) (*service.GeneratedSQL, error) {
	gctx, cancel := context.WithTimeout(ctx, p.opts.GenerationTimeout)
	defer cancel()
	gen, err := p.generator.Generate(gctx, service.GenerationRequest{
		Context:  oc,
		Schema:   req.Schema,
		Question: req.Question,
		History:  req.History,
	})
	if err != nil {
		return nil, err
	}
	if gen == nil || strings.TrimSpace(gen.SQL) == "" {
		return nil, &service.GenerationError{Reason: "empty sql"}
	}
	gen.SQL = strings.TrimSpace(gen.SQL)
	return gen, nil
}

func clarificationText(question string) string {
	return fmt.Sprintf("I could not turn %q into a query. Could you rephrase it, naming the metric and time range you are interested in?", question)
}

func (p *QueryPipeline) executeNode(ctx context.Context, st *queryState, _ ...any) (*queryState, error) {
	if st.skip() {
		return st, nil
	}
	ectx, cancel := context.WithTimeout(ctx, p.opts.ExecutionTimeout)
	defer cancel()
	res, err := p.executor.Execute(ectx, st.Req.DataSourceID, st.Generated.SQL, p.opts.MaxRows)
	if err == nil {
		st.Result = res
		return st, nil
	}
	if ctx.Err() != nil {
		st.Err = ctx.Err()
		return st, nil
	}
	// 执行失败不重试，直接给出脱敏后的错误
	var ee *service.ExecutionError
	switch {
	case errors.As(err, &ee):
		st.Outcome = entity.Failure{Code: ee.Code, Text: ee.Message}
	case errors.Is(err, context.DeadlineExceeded):
		st.Outcome = entity.Failure{Code: service.ExecCodeTimeout, Text: "The query took too long and was cancelled."}
	default:
		st.Outcome = entity.Failure{Code: service.ExecCodeFailed, Text: "The query could not be executed."}
	}
	zlog.Info("sql execution failed", zap.String("session_id", st.Req.SessionID), zap.Error(err))
	return st, nil
}

func (p *QueryPipeline) buildOutcomeNode(ctx context.Context, st *queryState, _ ...any) (*service.TurnOutcome, error) {
	if st.Err != nil {
		return nil, st.Err
	}
	out := &service.TurnOutcome{
		Context:          st.Used,
		Attempts:         st.Attempts,
		SimplifiedTokens: st.SimplifiedTokens,
		CacheHit:         st.CacheHit,
	}
	if st.Context != nil {
		out.OriginalTokens = st.Context.Stats.ContextTokens
	}
	if st.Outcome != nil {
		out.Payload = st.Outcome
		return out, nil
	}
	hint := service.VisualizationHint(st.Result)
	var stats contextitem.Stats
	if st.Used != nil {
		stats = st.Used.Stats
	}
	var sample entity.ResultSample
	if st.Result != nil {
		sample = *st.Result
	}
	out.Payload = entity.QueryResult{
		Text:         service.SummarizeResult(st.Result, hint),
		SQL:          st.Generated.SQL,
		Explanation:  st.Generated.Explanation,
		Result:       sample,
		Hint:         hint,
		Actions:      service.SuggestActions(st.Used, st.Result, hint),
		ContextStats: stats,
	}
	return out, nil
}
