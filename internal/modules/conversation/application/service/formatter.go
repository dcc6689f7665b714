package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"InsightLink/internal/modules/ai/domain/contextitem"
	"InsightLink/internal/modules/conversation/domain/entity"
)

// 可视化提示
const (
	HintSingleValue = "single_value"
	HintLineChart   = "line_chart"
	HintBarChart    = "bar_chart"
	HintTable       = "table"
)

const (
	minSuggestions = 2
	maxSuggestions = 4
	maxBarRows     = 30
)

var temporalNames = []string{"date", "day", "week", "month", "quarter", "year", "time", "period", "dt"}

// VisualizationHint 根据结果形状给出一个展示建议
func VisualizationHint(sample *entity.ResultSample) string {
	if sample == nil || len(sample.Columns) == 0 || len(sample.Rows) == 0 {
		return HintTable
	}
	if len(sample.Rows) == 1 && len(sample.Columns) == 1 {
		return HintSingleValue
	}
	if len(sample.Columns) >= 2 && temporalColumn(sample, 0) && numericColumn(sample, len(sample.Columns)-1) {
		return HintLineChart
	}
	if len(sample.Columns) == 2 && len(sample.Rows) <= maxBarRows && numericColumn(sample, 1) {
		return HintBarChart
	}
	return HintTable
}

func temporalColumn(sample *entity.ResultSample, col int) bool {
	name := strings.ToLower(sample.Columns[col])
	for _, t := range temporalNames {
		if name == t || strings.HasSuffix(name, "_"+t) || strings.HasPrefix(name, t+"_") {
			return true
		}
	}
	for _, row := range sample.Rows {
		if col >= len(row) || !looksTemporal(row[col]) {
			return false
		}
	}
	return true
}

func looksTemporal(v interface{}) bool {
	switch x := v.(type) {
	case time.Time:
		return true
	case string:
		for _, layout := range []string{"2006-01-02", "2006-01", "2006-01-02 15:04:05", time.RFC3339} {
			if _, err := time.Parse(layout, x); err == nil {
				return true
			}
		}
	case []byte:
		return looksTemporal(string(x))
	}
	return false
}

func numericColumn(sample *entity.ResultSample, col int) bool {
	for _, row := range sample.Rows {
		if col >= len(row) || !isNumeric(row[col]) {
			return false
		}
	}
	return true
}

func isNumeric(v interface{}) bool {
	switch x := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	case string:
		_, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return err == nil
	case []byte:
		return isNumeric(string(x))
	}
	return false
}

// SuggestActions 生成 2~4 条后续问题，有指标维度时至少包含一条下钻
func SuggestActions(oc *contextitem.OptimizedContext, sample *entity.ResultSample, hint string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, maxSuggestions)
	add := func(s string) {
		if len(out) >= maxSuggestions {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	subject := "the result"
	metric, ok := topMetric(oc)
	if ok {
		subject = metricName(metric)
		dims := metric.Dimensions()
		for i, d := range dims {
			if i == 2 {
				break
			}
			add(fmt.Sprintf("Break down %s by %s", subject, d))
		}
	}
	if len(out) == 0 && sample != nil && len(sample.Columns) > 1 {
		add(fmt.Sprintf("Break down %s by %s", subject, sample.Columns[0]))
	}
	if hint != HintLineChart {
		add(fmt.Sprintf("Show the monthly trend of %s", subject))
	}
	add(fmt.Sprintf("Compare %s with the previous period", subject))
	if sample != nil && sample.Truncated {
		add("Show only the top 10 rows")
	}
	for len(out) < minSuggestions {
		add(fmt.Sprintf("Explain how %s is calculated", subject))
		add("Show the underlying records")
	}
	return out
}

// topMetric 条目已按优先级排序，第一个指标就是最重要的
func topMetric(oc *contextitem.OptimizedContext) (contextitem.ContextItem, bool) {
	if oc == nil {
		return contextitem.ContextItem{}, false
	}
	for _, it := range oc.Items {
		if it.Namespace == contextitem.NamespaceMetric {
			return it, true
		}
	}
	return contextitem.ContextItem{}, false
}

func metricName(it contextitem.ContextItem) string {
	if n := strings.TrimSpace(it.Metadata[contextitem.MetaName]); n != "" {
		return strings.ToLower(n)
	}
	return it.Key
}

// SummarizeResult 一句话描述结果
func SummarizeResult(sample *entity.ResultSample, hint string) string {
	if sample == nil || sample.RowCount == 0 {
		return "The query returned no rows."
	}
	if hint == HintSingleValue && len(sample.Rows) == 1 && len(sample.Rows[0]) == 1 {
		return fmt.Sprintf("%s: %v", sample.Columns[0], display(sample.Rows[0][0]))
	}
	if sample.Truncated {
		return fmt.Sprintf("Showing %d of %d rows.", len(sample.Rows), sample.RowCount)
	}
	if sample.RowCount == 1 {
		return "The query returned 1 row."
	}
	return fmt.Sprintf("The query returned %d rows.", sample.RowCount)
}

func display(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
