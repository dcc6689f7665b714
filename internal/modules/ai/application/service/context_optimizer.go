package service

import (
	"sort"
	"strings"

	"InsightLink/internal/modules/ai/domain/contextitem"
	"InsightLink/pkg/zlog"

	"go.uber.org/zap"
)

// ContextOptimizer 在 token 预算内挑选上下文条目，纯函数、结果确定
type ContextOptimizer interface {
	// Optimize 入选条目 token 之和不超过 maxTokens - reservedTokens
	Optimize(items []contextitem.ContextItem, reservedTokens, maxTokens int) *contextitem.OptimizedContext
	// Simplify 在上一次结果的基础上按比例收紧预算，生成的文本 token 数不超过原文本
	Simplify(prev *contextitem.OptimizedContext, ratio float64) *contextitem.OptimizedContext
}

type contextOptimizerImpl struct {
	counter TokenCounter
}

func NewContextOptimizer(counter TokenCounter) ContextOptimizer {
	return &contextOptimizerImpl{counter: counter}
}

// SortItems 优先级降序、相关度降序、输入顺序升序
func SortItems(items []contextitem.ContextItem) []contextitem.ContextItem {
	sorted := make([]contextitem.ContextItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].PriorityTier != sorted[j].PriorityTier {
			return sorted[i].PriorityTier > sorted[j].PriorityTier
		}
		return sorted[i].RelevanceScore > sorted[j].RelevanceScore
	})
	return sorted
}

func (o *contextOptimizerImpl) Optimize(items []contextitem.ContextItem, reservedTokens, maxTokens int) *contextitem.OptimizedContext {
	budget := maxTokens - reservedTokens
	if budget < 0 {
		budget = 0
	}
	return o.pack(SortItems(items), budget, len(items))
}

// pack 贪心装箱：放不下的条目先试摘要，仍放不下就丢弃，不回溯
func (o *contextOptimizerImpl) pack(sorted []contextitem.ContextItem, budget int, available int) *contextitem.OptimizedContext {
	out := &contextitem.OptimizedContext{
		Items: make([]contextitem.ContextItem, 0, len(sorted)),
		Stats: contextitem.Stats{ItemsAvailable: available, TokensBudget: budget},
	}
	used := 0
	for _, it := range sorted {
		if used+it.TokenCount <= budget {
			out.Items = append(out.Items, it)
			used += it.TokenCount
			continue
		}
		if it.HasSummary() && used+it.SummaryTokenCount <= budget {
			out.Items = append(out.Items, it.AsSummary())
			used += it.SummaryTokenCount
			out.Stats.ItemsSummarized++
			continue
		}
		zlog.Debug("context item dropped by budget",
			zap.String("namespace", string(it.Namespace)),
			zap.String("key", it.Key),
			zap.Int("tokens", it.TokenCount),
			zap.Int("remaining", budget-used))
	}
	out.Stats.ItemsIncluded = len(out.Items)
	out.Stats.TokensUsed = used
	out.Text = FormatContext(out.Items)
	out.Stats.ContextTokens = o.counter.Count(out.Text)
	return out
}

func (o *contextOptimizerImpl) Simplify(prev *contextitem.OptimizedContext, ratio float64) *contextitem.OptimizedContext {
	if prev.Empty() {
		return o.pack(nil, 0, 0)
	}
	if ratio <= 0 || ratio >= 1 {
		ratio = 0.5
	}
	budget := int(float64(prev.Stats.TokensUsed) * ratio)
	// prev.Items 已经是排好序的
	out := o.pack(prev.Items, budget, len(prev.Items))
	for len(out.Items) > 0 && out.Stats.ContextTokens >= prev.Stats.ContextTokens {
		out = o.pack(out.Items[:len(out.Items)-1], budget, len(prev.Items))
	}
	return out
}

var sectionTitles = map[contextitem.PriorityTier]string{
	contextitem.TierCertifiedMetric: "Certified metrics",
	contextitem.TierRule:            "Business rules",
	contextitem.TierMetric:          "Metrics",
	contextitem.TierGlossary:        "Glossary",
	contextitem.TierExample:         "Example queries",
	contextitem.TierLineage:         "Lineage",
}

// FormatContext 按优先级分段输出，每个条目一行
func FormatContext(items []contextitem.ContextItem) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	current := contextitem.PriorityTier(-1)
	for _, it := range items {
		if it.PriorityTier != current {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			current = it.PriorityTier
			b.WriteString("## ")
			b.WriteString(sectionTitles[current])
			b.WriteString("\n")
		}
		b.WriteString("- [")
		b.WriteString(it.UID())
		b.WriteString("] ")
		b.WriteString(strings.Join(strings.Fields(it.Text), " "))
		b.WriteString("\n")
	}
	return b.String()
}
