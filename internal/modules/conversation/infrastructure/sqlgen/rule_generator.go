package sqlgen

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"InsightLink/internal/modules/ai/domain/contextitem"
	"InsightLink/internal/modules/conversation/application/service"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][\w]*(\.[A-Za-z_][\w]*)?$`)

// RuleGenerator 没有配置大模型时使用：直接套用上下文里最优先的认证指标
type RuleGenerator struct{}

func NewRuleGenerator() *RuleGenerator { return &RuleGenerator{} }

func (RuleGenerator) Generate(ctx context.Context, req service.GenerationRequest) (*service.GeneratedSQL, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Context == nil {
		return nil, &service.GenerationError{Reason: "no business context"}
	}
	for _, it := range req.Context.Items {
		if it.PriorityTier != contextitem.TierCertifiedMetric {
			continue
		}
		agg := strings.TrimSpace(it.Metadata[contextitem.MetaAggregation])
		table := strings.TrimSpace(it.Metadata[contextitem.MetaBaseTable])
		if agg == "" || !identifier.MatchString(table) || !identifier.MatchString(it.Key) {
			continue
		}
		name := it.Metadata[contextitem.MetaName]
		if name == "" {
			name = it.Key
		}
		return &service.GeneratedSQL{
			SQL:         fmt.Sprintf("SELECT %s AS %s FROM %s", agg, it.Key, table),
			Explanation: fmt.Sprintf("Uses the certified metric %q defined as %s over %s.", name, agg, table),
		}, nil
	}
	return nil, &service.GenerationError{Reason: "no certified metric in context"}
}
