package contextitem

import "strings"

// Namespace 向量与上下文条目的逻辑分区
type Namespace string

const (
	NamespaceMetric     Namespace = "metric"
	NamespaceGlossary   Namespace = "glossary"
	NamespaceRule       Namespace = "rule"
	NamespaceExample    Namespace = "example"
	NamespaceLineage    Namespace = "lineage"
	NamespaceDataSource Namespace = "datasource"
)

// RetrievalNamespaces 每次检索并发查询的命名空间，顺序即结果合并顺序
var RetrievalNamespaces = []Namespace{NamespaceMetric, NamespaceGlossary, NamespaceRule, NamespaceExample}

func (n Namespace) Valid() bool {
	switch n {
	case NamespaceMetric, NamespaceGlossary, NamespaceRule, NamespaceExample, NamespaceLineage, NamespaceDataSource:
		return true
	}
	return false
}

// PriorityTier 数值越大越优先保留
type PriorityTier int

const (
	TierLineage PriorityTier = iota
	TierExample
	TierGlossary
	TierMetric
	TierRule
	TierCertifiedMetric
)

func (t PriorityTier) String() string {
	switch t {
	case TierCertifiedMetric:
		return "certified_metric"
	case TierRule:
		return "rule"
	case TierMetric:
		return "metric"
	case TierGlossary:
		return "glossary"
	case TierExample:
		return "example"
	default:
		return "lineage"
	}
}

// 元数据约定键
const (
	MetaName         = "name"
	MetaDomain       = "domain"
	MetaCertified    = "certified"
	MetaAggregation  = "aggregation"
	MetaBaseTable    = "base_table"
	MetaDimensions   = "dimensions"
	MetaDataSourceID = "data_source_id"
	MetaSummary      = "summary"
	MetaSQL          = "sql"
)

// TierFor 按命名空间分配优先级，未认证指标排在规则之后
func TierFor(ns Namespace, meta map[string]string) PriorityTier {
	switch ns {
	case NamespaceMetric:
		if meta[MetaCertified] == "true" {
			return TierCertifiedMetric
		}
		return TierMetric
	case NamespaceRule:
		return TierRule
	case NamespaceGlossary:
		return TierGlossary
	case NamespaceExample:
		return TierExample
	default:
		return TierLineage
	}
}

// ContextItem 一次检索产出的上下文条目，产出后不再修改
type ContextItem struct {
	Namespace         Namespace         `json:"namespace"`
	Key               string            `json:"key"`
	Text              string            `json:"text"`
	RelevanceScore    float64           `json:"relevanceScore"`
	PriorityTier      PriorityTier      `json:"priorityTier"`
	TokenCount        int               `json:"tokenCount"`
	Summary           string            `json:"summary,omitempty"`
	SummaryTokenCount int               `json:"summaryTokenCount,omitempty"`
	UsedSummary       bool              `json:"usedSummary,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// UID 跨命名空间唯一键
func (it ContextItem) UID() string {
	return string(it.Namespace) + ":" + it.Key
}

func (it ContextItem) Domain() string {
	return it.Metadata[MetaDomain]
}

func (it ContextItem) HasSummary() bool {
	return strings.TrimSpace(it.Summary) != "" && it.SummaryTokenCount > 0 && it.SummaryTokenCount < it.TokenCount
}

// AsSummary 返回使用摘要文本的副本
func (it ContextItem) AsSummary() ContextItem {
	out := it
	out.Text = it.Summary
	out.TokenCount = it.SummaryTokenCount
	out.UsedSummary = true
	return out
}

// Dimensions 指标可下钻的维度
func (it ContextItem) Dimensions() []string {
	raw := strings.TrimSpace(it.Metadata[MetaDimensions])
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Stats 预算装箱统计
type Stats struct {
	ItemsAvailable  int `json:"itemsAvailable"`
	ItemsIncluded   int `json:"itemsIncluded"`
	ItemsSummarized int `json:"itemsSummarized"`
	TokensUsed      int `json:"tokensUsed"`
	TokensBudget    int `json:"tokensBudget"`
	ContextTokens   int `json:"contextTokens"`
}

// OptimizedContext 装箱结果
type OptimizedContext struct {
	Items []ContextItem `json:"items"`
	Text  string        `json:"text"`
	Stats Stats         `json:"stats"`
}

func (c *OptimizedContext) Empty() bool {
	return c == nil || len(c.Items) == 0
}

// Find 按命名空间和 key 查找已入选条目
func (c *OptimizedContext) Find(ns Namespace, key string) (ContextItem, bool) {
	if c == nil {
		return ContextItem{}, false
	}
	for _, it := range c.Items {
		if it.Namespace == ns && it.Key == key {
			return it, true
		}
	}
	return ContextItem{}, false
}
