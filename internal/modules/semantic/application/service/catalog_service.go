package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	aiService "InsightLink/internal/modules/ai/application/service"
	"InsightLink/internal/modules/ai/domain/contextitem"
	"InsightLink/internal/modules/ai/domain/event"
	"InsightLink/internal/modules/semantic/application/dto/request"
	"InsightLink/internal/modules/semantic/application/dto/respond"
	"InsightLink/internal/modules/semantic/domain/entity"
	"InsightLink/internal/modules/semantic/domain/repository"
	"InsightLink/pkg/util"
	"InsightLink/pkg/xerr"
	"InsightLink/pkg/zlog"

	"go.uber.org/zap"
)

var keyPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{0,127}$`)

// ChangeNotifier 业务元数据变更通知，驱动上下文缓存失效
type ChangeNotifier interface {
	Notify(ctx context.Context, ev event.SemanticChanged) error
}

// Summarizer 为长文本生成更短的摘要变体，不需要摘要时返回空串
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// CatalogService 业务元数据写入：落库 -> 生成摘要 -> 向量化 -> 通知失效
type CatalogService interface {
	UpsertMetric(ctx context.Context, req request.MetricRequest) (*respond.CatalogWriteRespond, error)
	UpsertGlossary(ctx context.Context, req request.GlossaryRequest) (*respond.CatalogWriteRespond, error)
	UpsertRule(ctx context.Context, req request.RuleRequest) (*respond.CatalogWriteRespond, error)
	UpsertExample(ctx context.Context, req request.ExampleRequest) (*respond.CatalogWriteRespond, error)
	Delete(ctx context.Context, ns contextitem.Namespace, key string) error
	List(ctx context.Context, ns contextitem.Namespace) (interface{}, error)
	Seed(ctx context.Context, file request.CatalogFile) (*respond.SeedRespond, error)
	// RegisterDataSources 把配置中的数据源写入 datasource 命名空间
	RegisterDataSources(ctx context.Context, sources []entity.DataSource) (int, error)
	// ReindexAll 按库里的记录重新写一遍向量
	ReindexAll(ctx context.Context) (int, error)
}

type catalogServiceImpl struct {
	repo       repository.CatalogRepository
	store      aiService.EmbeddingStore
	summarizer Summarizer
	notifier   ChangeNotifier
}

func NewCatalogService(repo repository.CatalogRepository, store aiService.EmbeddingStore, summarizer Summarizer, notifier ChangeNotifier) CatalogService {
	return &catalogServiceImpl{repo: repo, store: store, summarizer: summarizer, notifier: notifier}
}

func badRequest(format string, args ...interface{}) error {
	return xerr.New(xerr.BadRequest, fmt.Sprintf(format, args...))
}

func normalizeKey(key string) (string, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	if !keyPattern.MatchString(key) {
		return "", badRequest("key 不合法: %q", key)
	}
	return key, nil
}

func required(fields map[string]string) error {
	for name, v := range fields {
		if strings.TrimSpace(v) == "" {
			return badRequest("%s 不能为空", name)
		}
	}
	return nil
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (s *catalogServiceImpl) UpsertMetric(ctx context.Context, req request.MetricRequest) (*respond.CatalogWriteRespond, error) {
	key, err := normalizeKey(req.Key)
	if err != nil {
		return nil, err
	}
	if err := required(map[string]string{"name": req.Name, "aggregation": req.Aggregation, "base_table": req.BaseTable}); err != nil {
		return nil, err
	}
	m := &entity.BusinessMetric{
		ItemKey:      key,
		Name:         strings.TrimSpace(req.Name),
		Description:  strings.TrimSpace(req.Description),
		Aggregation:  strings.TrimSpace(req.Aggregation),
		BaseTable:    strings.TrimSpace(req.BaseTable),
		Dimensions:   cleanList(req.Dimensions),
		Certified:    req.Certified,
		Domain:       strings.TrimSpace(req.Domain),
		DataSourceId: strings.TrimSpace(req.DataSourceID),
	}
	prev, err := s.previousBinding(ctx, contextitem.NamespaceMetric, key)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpsertMetric(ctx, m); err != nil {
		return nil, err
	}
	return s.index(ctx, m, changeScope(prev, m.DataSourceId))
}

func (s *catalogServiceImpl) UpsertGlossary(ctx context.Context, req request.GlossaryRequest) (*respond.CatalogWriteRespond, error) {
	key, err := normalizeKey(req.Key)
	if err != nil {
		return nil, err
	}
	if err := required(map[string]string{"term": req.Term, "definition": req.Definition}); err != nil {
		return nil, err
	}
	g := &entity.GlossaryTerm{
		ItemKey:    key,
		Term:       strings.TrimSpace(req.Term),
		Definition: strings.TrimSpace(req.Definition),
		Synonyms:   cleanList(req.Synonyms),
		Domain:     strings.TrimSpace(req.Domain),
	}
	if err := s.repo.UpsertGlossary(ctx, g); err != nil {
		return nil, err
	}
	return s.index(ctx, g, scope{})
}

func (s *catalogServiceImpl) UpsertRule(ctx context.Context, req request.RuleRequest) (*respond.CatalogWriteRespond, error) {
	key, err := normalizeKey(req.Key)
	if err != nil {
		return nil, err
	}
	if err := required(map[string]string{"title": req.Title, "body": req.Body}); err != nil {
		return nil, err
	}
	r := &entity.BusinessRule{
		ItemKey: key,
		Title:   strings.TrimSpace(req.Title),
		Body:    strings.TrimSpace(req.Body),
		Domain:  strings.TrimSpace(req.Domain),
	}
	if err := s.repo.UpsertRule(ctx, r); err != nil {
		return nil, err
	}
	return s.index(ctx, r, scope{})
}

func (s *catalogServiceImpl) UpsertExample(ctx context.Context, req request.ExampleRequest) (*respond.CatalogWriteRespond, error) {
	key, err := normalizeKey(req.Key)
	if err != nil {
		return nil, err
	}
	if err := required(map[string]string{"question": req.Question, "sql": req.SQL}); err != nil {
		return nil, err
	}
	e := &entity.QueryExample{
		ItemKey:      key,
		Question:     strings.TrimSpace(req.Question),
		SqlText:      strings.TrimSpace(req.SQL),
		DataSourceId: strings.TrimSpace(req.DataSourceID),
		Domain:       strings.TrimSpace(req.Domain),
	}
	prev, err := s.previousBinding(ctx, contextitem.NamespaceExample, key)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpsertExample(ctx, e); err != nil {
		return nil, err
	}
	return s.index(ctx, e, changeScope(prev, e.DataSourceId))
}

// scope 变更影响的数据源；dataSourceID 为空表示影响全部
type scope struct {
	dataSourceID string
	previous     string
}

// binding 写入前的数据源绑定
type binding struct {
	dataSourceID string
	existed      bool
}

func (s *catalogServiceImpl) previousBinding(ctx context.Context, ns contextitem.Namespace, key string) (binding, error) {
	ds, ok, err := s.repo.DataSourceOf(ctx, ns, key)
	if err != nil {
		return binding{}, err
	}
	return binding{dataSourceID: ds, existed: ok}, nil
}

// changeScope 换绑时旧数据源下的缓存同样过期；原先未绑定的对象在所有数据源下可见，只能全部失效
func changeScope(prev binding, next string) scope {
	if !prev.existed || prev.dataSourceID == next {
		return scope{dataSourceID: next}
	}
	if prev.dataSourceID == "" || next == "" {
		return scope{}
	}
	return scope{dataSourceID: next, previous: prev.dataSourceID}
}

// index 向量化并写入向量库，成功后发出变更通知
func (s *catalogServiceImpl) index(ctx context.Context, obj entity.Documented, sc scope) (*respond.CatalogWriteRespond, error) {
	doc := obj.Document()
	hasSummary, err := s.storeDocument(ctx, doc)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, doc.Namespace, doc.Key, sc, event.ActionUpsert)
	return &respond.CatalogWriteRespond{
		Kind:         string(doc.Namespace),
		Key:          doc.Key,
		HasSummary:   hasSummary,
		ModelVersion: s.store.ModelVersion(),
	}, nil
}

func (s *catalogServiceImpl) storeDocument(ctx context.Context, doc entity.Document) (bool, error) {
	meta := make(map[string]string, len(doc.Metadata)+1)
	for k, v := range doc.Metadata {
		meta[k] = v
	}
	hasSummary := false
	if s.summarizer != nil {
		summary, err := s.summarizer.Summarize(ctx, doc.Text)
		if err != nil {
			zlog.Warn("semantic summary failed, storing without summary",
				zap.String("namespace", string(doc.Namespace)), zap.String("key", doc.Key), zap.Error(err))
		} else if summary != "" {
			meta[contextitem.MetaSummary] = summary
			hasSummary = true
		}
	}

	vec, err := s.store.Generate(ctx, doc.Text)
	if err != nil {
		return false, fmt.Errorf("embed %s/%s: %w", doc.Namespace, doc.Key, err)
	}
	if err := s.store.Store(ctx, string(doc.Namespace), doc.Key, doc.Text, vec, meta); err != nil {
		return false, err
	}
	return hasSummary, nil
}

// notify 失败只记录日志：元数据已写入，缓存最多在 TTL 后过期
func (s *catalogServiceImpl) notify(ctx context.Context, ns contextitem.Namespace, key string, sc scope, action string) {
	if s.notifier == nil {
		return
	}
	ev := event.SemanticChanged{
		EventID:              util.GenerateUUID(),
		Kind:                 string(ns),
		Key:                  key,
		DataSourceID:         sc.dataSourceID,
		PreviousDataSourceID: sc.previous,
		Action:               action,
		OccurredAt:           time.Now().UTC(),
	}
	if err := s.notifier.Notify(ctx, ev); err != nil {
		zlog.Warn("semantic change notify failed",
			zap.String("kind", ev.Kind), zap.String("key", key), zap.Error(err))
	}
}

func (s *catalogServiceImpl) Delete(ctx context.Context, ns contextitem.Namespace, key string) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	dsID, _, err := s.repo.DataSourceOf(ctx, ns, key)
	if err != nil {
		return err
	}
	deleted, err := s.repo.Delete(ctx, ns, key)
	if err != nil {
		return err
	}
	if !deleted {
		return xerr.New(xerr.NotFound, fmt.Sprintf("%s %s 不存在", ns, key))
	}
	if err := s.store.Delete(ctx, string(ns), key); err != nil {
		return err
	}
	s.notify(ctx, ns, key, scope{dataSourceID: dsID}, event.ActionDelete)
	return nil
}

func (s *catalogServiceImpl) List(ctx context.Context, ns contextitem.Namespace) (interface{}, error) {
	switch ns {
	case contextitem.NamespaceMetric:
		return s.repo.ListMetrics(ctx)
	case contextitem.NamespaceGlossary:
		return s.repo.ListGlossary(ctx)
	case contextitem.NamespaceRule:
		return s.repo.ListRules(ctx)
	case contextitem.NamespaceExample:
		return s.repo.ListExamples(ctx)
	}
	return nil, badRequest("不支持的类型: %s", ns)
}

func (s *catalogServiceImpl) Seed(ctx context.Context, file request.CatalogFile) (*respond.SeedRespond, error) {
	out := &respond.SeedRespond{}
	for _, m := range file.Metrics {
		if _, err := s.UpsertMetric(ctx, m); err != nil {
			return out, fmt.Errorf("metric %q: %w", m.Key, err)
		}
		out.Metrics++
	}
	for _, g := range file.Glossary {
		if _, err := s.UpsertGlossary(ctx, g); err != nil {
			return out, fmt.Errorf("glossary %q: %w", g.Key, err)
		}
		out.Glossary++
	}
	for _, r := range file.Rules {
		if _, err := s.UpsertRule(ctx, r); err != nil {
			return out, fmt.Errorf("rule %q: %w", r.Key, err)
		}
		out.Rules++
	}
	for _, e := range file.Examples {
		if _, err := s.UpsertExample(ctx, e); err != nil {
			return out, fmt.Errorf("example %q: %w", e.Key, err)
		}
		out.Examples++
	}
	zlog.Info("semantic catalog seeded",
		zap.Int("metrics", out.Metrics), zap.Int("glossary", out.Glossary),
		zap.Int("rules", out.Rules), zap.Int("examples", out.Examples))
	return out, nil
}

func (s *catalogServiceImpl) RegisterDataSources(ctx context.Context, sources []entity.DataSource) (int, error) {
	n := 0
	for _, ds := range sources {
		if strings.TrimSpace(ds.ID) == "" {
			continue
		}
		if _, err := s.storeDocument(ctx, ds.Document()); err != nil {
			return n, fmt.Errorf("datasource %q: %w", ds.ID, err)
		}
		n++
	}
	return n, nil
}

func (s *catalogServiceImpl) ReindexAll(ctx context.Context) (int, error) {
	var docs []entity.Documented
	metrics, err := s.repo.ListMetrics(ctx)
	if err != nil {
		return 0, err
	}
	for i := range metrics {
		docs = append(docs, metrics[i])
	}
	terms, err := s.repo.ListGlossary(ctx)
	if err != nil {
		return 0, err
	}
	for i := range terms {
		docs = append(docs, terms[i])
	}
	rules, err := s.repo.ListRules(ctx)
	if err != nil {
		return 0, err
	}
	for i := range rules {
		docs = append(docs, rules[i])
	}
	examples, err := s.repo.ListExamples(ctx)
	if err != nil {
		return 0, err
	}
	for i := range examples {
		docs = append(docs, examples[i])
	}

	for i, d := range docs {
		if _, err := s.storeDocument(ctx, d.Document()); err != nil {
			return i, err
		}
	}
	if len(docs) > 0 {
		s.notify(ctx, contextitem.NamespaceMetric, "*", scope{}, event.ActionReembed)
	}
	return len(docs), nil
}
