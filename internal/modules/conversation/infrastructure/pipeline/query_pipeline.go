package pipeline

import (
	"context"
	"fmt"
	"time"

	aiservice "InsightLink/internal/modules/ai/application/service"
	"InsightLink/internal/modules/conversation/application/service"

	"github.com/cloudwego/eino/compose"
)

type QueryPipelineOptions struct {
	GenerationTimeout time.Duration
	ExecutionTimeout  time.Duration
	MaxRows           int
}

// QueryPipeline PROCESSING 阶段的 Eino Graph：上下文 → 生成 → 执行 → 组装
type QueryPipeline struct {
	contexts  aiservice.ContextManager
	generator service.SQLGenerator
	executor  service.Executor
	opts      QueryPipelineOptions
	r         compose.Runnable[*service.TurnRequest, *service.TurnOutcome]
}

func NewQueryPipeline(contexts aiservice.ContextManager, generator service.SQLGenerator, executor service.Executor, opts QueryPipelineOptions) (*QueryPipeline, error) {
	if contexts == nil {
		return nil, fmt.Errorf("context manager is nil")
	}
	if generator == nil {
		return nil, fmt.Errorf("sql generator is nil")
	}
	if executor == nil {
		return nil, fmt.Errorf("sql executor is nil")
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = 30 * time.Second
	}
	if opts.ExecutionTimeout <= 0 {
		opts.ExecutionTimeout = 15 * time.Second
	}
	if opts.MaxRows <= 0 {
		opts.MaxRows = 20
	}
	p := &QueryPipeline{contexts: contexts, generator: generator, executor: executor, opts: opts}
	r, err := p.buildGraph(context.Background())
	if err != nil {
		return nil, err
	}
	p.r = r
	return p, nil
}

// Process 实现 service.TurnProcessor
func (p *QueryPipeline) Process(ctx context.Context, req *service.TurnRequest) (*service.TurnOutcome, error) {
	if req == nil {
		return nil, fmt.Errorf("turn request is nil")
	}
	return p.r.Invoke(ctx, req)
}
