package service

import (
	"regexp"
	"strings"

	"InsightLink/internal/modules/ai/domain/contextitem"
	"InsightLink/internal/modules/conversation/domain/entity"
)

// ContextExtractor 从历史消息中恢复延续上下文。
// 当前实现基于正则，只保证尽力而为。
type ContextExtractor interface {
	Extract(messages []entity.ConversationMessage) contextitem.SessionContext
}

var (
	tableRef    = regexp.MustCompile("(?i)\\b(?:from|join)\\s+((?:`[^`]+`|[a-zA-Z_][\\w$]*)(?:\\.(?:`[^`]+`|[a-zA-Z_][\\w$]*))?)")
	whereClause = regexp.MustCompile(`(?is)\bwhere\b(.*?)(?:\bgroup\s+by\b|\border\s+by\b|\bhaving\b|\blimit\b|\bunion\b|\)\s*$|;|$)`)
	andSplit    = regexp.MustCompile(`(?i)\s+and\s+`)
	spaces      = regexp.MustCompile(`\s+`)
)

// RegexExtractor 只看最近 Window 条 assistant 消息里的 SQL
type RegexExtractor struct {
	Window int
}

func NewRegexExtractor(window int) *RegexExtractor {
	if window <= 0 {
		window = 10
	}
	return &RegexExtractor{Window: window}
}

func (e *RegexExtractor) Extract(messages []entity.ConversationMessage) contextitem.SessionContext {
	var out contextitem.SessionContext
	seen := 0
	answered := false
	// 从新到旧，越新的表和条件排在越前面；还没有回答的问题不算话题
	for i := len(messages) - 1; i >= 0 && (seen < e.Window || out.LastTopic == ""); i-- {
		m := messages[i]
		if m.Role == entity.RoleUser {
			if answered && out.LastTopic == "" {
				out.LastTopic = strings.TrimSpace(m.Content)
			}
			continue
		}
		answered = true
		if seen >= e.Window || strings.TrimSpace(m.SqlQuery) == "" {
			continue
		}
		seen++
		out.TablesUsed = union(out.TablesUsed, Tables(m.SqlQuery))
		out.FiltersApplied = union(out.FiltersApplied, Filters(m.SqlQuery))
	}
	return out
}

// Tables FROM / JOIN 后面的表名，去掉反引号并转小写
func Tables(sql string) []string {
	var out []string
	for _, m := range tableRef.FindAllStringSubmatch(sql, -1) {
		name := strings.ToLower(strings.ReplaceAll(m[1], "`", ""))
		if name == "select" || name == "lateral" {
			continue
		}
		out = union(out, []string{name})
	}
	return out
}

// Filters WHERE 子句按 AND 拆开的谓词
func Filters(sql string) []string {
	var out []string
	for _, m := range whereClause.FindAllStringSubmatch(sql, -1) {
		body := strings.TrimSpace(m[1])
		if body == "" {
			continue
		}
		for _, p := range andSplit.Split(body, -1) {
			p = strings.TrimSpace(spaces.ReplaceAllString(p, " "))
			p = strings.Trim(p, "()")
			if p != "" {
				out = union(out, []string{p})
			}
		}
	}
	return out
}

// union 保持顺序的去重合并
func union(base, extra []string) []string {
	if len(extra) == 0 {
		return base
	}
	seen := make(map[string]struct{}, len(base)+len(extra))
	for _, s := range base {
		seen[s] = struct{}{}
	}
	for _, s := range extra {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		base = append(base, s)
	}
	return base
}

// MergeContext 浅合并：列表字段取并集，LastTopic 非空时覆盖
func MergeContext(cur, patch contextitem.SessionContext) contextitem.SessionContext {
	out := contextitem.SessionContext{
		TablesUsed:     union(append([]string(nil), cur.TablesUsed...), patch.TablesUsed),
		FiltersApplied: union(append([]string(nil), cur.FiltersApplied...), patch.FiltersApplied),
		LastTopic:      cur.LastTopic,
	}
	if t := strings.TrimSpace(patch.LastTopic); t != "" {
		out.LastTopic = t
	}
	return out
}
