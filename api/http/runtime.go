package http

import (
	"context"
	"errors"
	"os"
	"time"

	"InsightLink/internal/config"
	"InsightLink/internal/initial"
	aiService "InsightLink/internal/modules/ai/application/service"
	aiRepository "InsightLink/internal/modules/ai/domain/repository"
	"InsightLink/internal/modules/ai/infrastructure/cache"
	"InsightLink/internal/modules/ai/infrastructure/chunking"
	aiEmbedding "InsightLink/internal/modules/ai/infrastructure/embedding"
	mcpServer "InsightLink/internal/modules/ai/infrastructure/mcp/server"
	"InsightLink/internal/modules/ai/infrastructure/mq"
	"InsightLink/internal/modules/ai/infrastructure/mq/kafka"
	aiPersistence "InsightLink/internal/modules/ai/infrastructure/persistence"
	"InsightLink/internal/modules/ai/infrastructure/queue"
	"InsightLink/internal/modules/ai/infrastructure/tokenizer"
	"InsightLink/internal/modules/ai/infrastructure/vectordb"
	convService "InsightLink/internal/modules/conversation/application/service"
	"InsightLink/internal/modules/conversation/infrastructure/discovery"
	"InsightLink/internal/modules/conversation/infrastructure/execution"
	convNotify "InsightLink/internal/modules/conversation/infrastructure/notify"
	convPersistence "InsightLink/internal/modules/conversation/infrastructure/persistence"
	"InsightLink/internal/modules/conversation/infrastructure/pipeline"
	"InsightLink/internal/modules/conversation/infrastructure/sqlgen"
	"InsightLink/internal/modules/conversation/interface/scheduler"
	semanticService "InsightLink/internal/modules/semantic/application/service"
	semanticEntity "InsightLink/internal/modules/semantic/domain/entity"
	semanticNotify "InsightLink/internal/modules/semantic/infrastructure/notify"
	semanticPersistence "InsightLink/internal/modules/semantic/infrastructure/persistence"
	"InsightLink/pkg/redis"
	"InsightLink/pkg/util"
	"InsightLink/pkg/ws"
	"InsightLink/pkg/zlog"

	"github.com/mark3labs/mcp-go/server"
	mclient "github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Runtime 进程内的全部依赖，由 serve / seed / reembed 共用
type Runtime struct {
	Conf *config.Config
	DB   *gorm.DB
	KV   *redis.KV
	Hub  *ws.Hub

	Store        aiService.EmbeddingStore
	Contexts     aiService.ContextManager
	Permissions  aiService.PermissionProvider
	Catalog      semanticService.CatalogService
	Registry     *discovery.Registry
	Sessions     convService.SessionStore
	Orchestrator convService.QueryOrchestrator
	Sweeper      *scheduler.ExpirySweeper
	MCP          *server.MCPServer

	milvus      mclient.Client
	publisher   mq.Publisher
	consumer    mq.Consumer
	sharedCache bool
}

func NewRuntime(ctx context.Context, conf *config.Config) (*Runtime, error) {
	rt := &Runtime{Conf: conf, Hub: ws.NewHub()}
	var err error
	fail := func(e error) (*Runtime, error) {
		rt.Close()
		return nil, e
	}

	if rt.DB, err = initial.NewGormDB(conf); err != nil {
		return fail(err)
	}
	if err = initial.AutoMigrate(rt.DB); err != nil {
		return fail(err)
	}
	if rt.KV, err = initial.NewRedisKV(ctx, conf); err != nil {
		// 缓存和锁都有内存退路
		zlog.Warn("redis unavailable, falling back to in-process cache", zap.Error(err))
	}
	if rt.milvus, err = initial.NewMilvusClient(ctx, conf); err != nil {
		return fail(err)
	}

	// ai：向量、token 计数、上下文管理
	embedder, meta, err := aiEmbedding.NewEmbedderFromConfig(ctx, conf)
	if err != nil {
		return fail(err)
	}
	var vectors aiRepository.VectorStore = vectordb.NewMemoryStore(meta.Dim)
	if rt.milvus != nil {
		ms, err := vectordb.NewMilvusStore(rt.milvus, conf.MilvusConfig.CollectionName, meta.Dim, entity.MetricType(conf.MilvusConfig.MetricType))
		if err != nil {
			return fail(err)
		}
		vectors = ms
	}
	rt.Store = aiService.NewEmbeddingStore(embedder, vectors, aiPersistence.NewEmbeddingRepository(rt.DB), aiService.EmbeddingStoreOptions{
		ModelVersion: meta.Version,
		Dimension:    meta.Dim,
		Timeout:      time.Duration(conf.Embedding.TimeoutSeconds) * time.Second,
	})
	counter, err := tokenizer.NewTiktokenCounter(tokenizer.DefaultEncoding)
	if err != nil {
		return fail(err)
	}

	cc := conf.ContextConfig
	retriever := aiService.NewContextRetriever(rt.Store, counter, aiService.RetrieverOptions{
		TopK:             cc.TopK,
		NamespaceTimeout: cc.NamespaceTimeout(),
	})
	var contextCache aiRepository.ContextCache = cache.NewMemoryContextCache()
	if cc.CacheBackend == "redis" && rt.KV != nil {
		contextCache = cache.NewRedisContextCache(rt.KV)
		rt.sharedCache = true
	}
	rt.Contexts = aiService.NewContextManager(retriever, aiService.NewContextOptimizer(counter), contextCache, aiService.ManagerOptions{
		MaxTokens:        cc.MaxTokens,
		ReservedTokens:   cc.ReservedTokens,
		CacheTTL:         cc.CacheTTL(),
		OverallTimeout:   cc.OverallTimeout(),
		RetryBudgetRatio: cc.RetryBudgetRatio,
	})
	rt.Permissions = aiService.NewPermissionProvider(aiPersistence.NewDomainGrantRepository(rt.DB))

	// semantic：写入时发布失效事件，未启用 Kafka 时本地失效
	var notifier semanticService.ChangeNotifier = semanticNotify.NewLocalNotifier(rt.Contexts)
	if conf.KafkaConfig.Enabled {
		if err := initial.EnsureKafkaTopics(conf); err != nil {
			return fail(err)
		}
		if rt.publisher, err = kafka.NewPublisher(kafka.PublisherConfig{Brokers: conf.KafkaConfig.Brokers, ClientID: conf.KafkaConfig.ClientID}); err != nil {
			return fail(err)
		}
		notifier = semanticNotify.NewKafkaNotifier(rt.publisher, conf.KafkaConfig.InvalidationTopic)
	}
	summarizer := chunking.NewSummaryBuilder(cc.SummaryChunkSize, counter.Count)
	rt.Catalog = semanticService.NewCatalogService(semanticPersistence.NewCatalogRepository(rt.DB), rt.Store, summarizer, notifier)

	// conversation
	sc := conf.SessionConfig
	rt.Registry = discovery.NewRegistry(conf.DataSources)
	generator, err := sqlgen.NewGeneratorFromConfig(ctx, conf.ChatModel)
	if err != nil {
		return fail(err)
	}
	executor := execution.NewGormExecutor(execution.NewPool(conf.DataSources), execution.ExecutorOptions{})
	processor, err := pipeline.NewQueryPipeline(rt.Contexts, generator, executor, pipeline.QueryPipelineOptions{
		GenerationTimeout: time.Duration(sc.GenerationTimeoutSeconds) * time.Second,
		ExecutionTimeout:  time.Duration(sc.ExecutionTimeoutSeconds) * time.Second,
		MaxRows:           sc.ResultSampleRows,
	})
	if err != nil {
		return fail(err)
	}
	rt.Sessions = convService.NewSessionStore(
		convPersistence.NewSessionRepository(rt.DB),
		convService.NewRegexExtractor(sc.HistoryWindow),
		convService.SessionOptions{InactivityWindow: sc.InactivityWindow(), HistoryWindow: sc.HistoryWindow},
	)
	rt.Orchestrator = convService.NewQueryOrchestrator(convService.OrchestratorDeps{
		Sessions:      rt.Sessions,
		Contexts:      rt.Contexts,
		Permissions:   rt.Permissions,
		Discoverer:    discovery.NewEmbeddingDiscoverer(rt.Registry, rt.Store, rt.Permissions, 0),
		Schemas:       rt.Registry,
		Processor:     processor,
		Notifier:      convNotify.NewWsPhaseNotifier(rt.Hub),
		HistoryWindow: sc.HistoryWindow,
	})
	var locker scheduler.Locker
	if rt.KV != nil {
		locker = rt.KV
	}
	rt.Sweeper = scheduler.NewExpirySweeper(rt.Sessions, locker, sc.SweepSpec)

	if conf.MCPConfig.Enabled {
		rt.MCP = mcpServer.NewContextMCPServer(
			mcpServer.ContextServerConfig{Name: conf.MCPConfig.Name, Version: conf.MCPConfig.Version},
			mcpServer.ContextServerDependencies{Contexts: rt.Contexts, Permissions: rt.Permissions},
		)
	}
	return rt, nil
}

// RegisterDataSources 把配置里的数据源写入 datasource 命名空间，供发现使用
func (rt *Runtime) RegisterDataSources(ctx context.Context) (int, error) {
	sources := make([]semanticEntity.DataSource, 0, len(rt.Conf.DataSources))
	for _, ds := range rt.Registry.All() {
		sources = append(sources, semanticEntity.DataSource{
			ID:          ds.ID,
			Name:        ds.Name,
			Description: ds.Description,
			Domain:      ds.Domain,
			Schema:      ds.Schema,
		})
	}
	return rt.Catalog.RegisterDataSources(ctx, sources)
}

// StartBackground 启动过期清理和缓存失效消费者，ctx 取消后消费者退出
func (rt *Runtime) StartBackground(ctx context.Context) error {
	if err := rt.Sweeper.Start(); err != nil {
		return err
	}
	if !rt.Conf.KafkaConfig.Enabled {
		return nil
	}
	kc := rt.Conf.KafkaConfig
	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:  kc.Brokers,
		GroupID:  invalidationGroup(kc.ConsumerGroupID, rt.sharedCache),
		Topics:   []string{kc.InvalidationTopic},
		ClientID: kc.ClientID,
	})
	if err != nil {
		return err
	}
	rt.consumer = consumer
	worker := queue.NewInvalidationConsumerWorker(consumer, rt.Contexts)
	go func() {
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			zlog.Error("context invalidation consumer stopped", zap.Error(err))
		}
	}()
	return nil
}

// invalidationGroup 进程内缓存需要每个实例都收到全部失效事件，消费者组按实例区分；
// 共享的 redis 缓存只需组内一个实例处理
func invalidationGroup(base string, sharedCache bool) string {
	if sharedCache {
		return base
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "local"
	}
	return base + "-" + host + "-" + util.GenerateShortUUID()[:8]
}

func (rt *Runtime) Close() {
	if rt.Sweeper != nil {
		rt.Sweeper.Stop()
	}
	if rt.consumer != nil {
		_ = rt.consumer.Close()
	}
	if rt.publisher != nil {
		_ = rt.publisher.Close()
	}
	if rt.milvus != nil {
		_ = rt.milvus.Close()
	}
	if rt.KV != nil {
		_ = rt.KV.Close()
	}
	if rt.DB != nil {
		if sqlDB, err := rt.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
