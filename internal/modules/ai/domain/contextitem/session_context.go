package contextitem

import "strings"

// SessionContext 会话里累积的延续上下文，参与检索文本的拼接
type SessionContext struct {
	TablesUsed     []string `json:"tablesUsed,omitempty"`
	FiltersApplied []string `json:"filtersApplied,omitempty"`
	LastTopic      string   `json:"lastTopic,omitempty"`
}

func (s *SessionContext) Empty() bool {
	return s == nil || (len(s.TablesUsed) == 0 && len(s.FiltersApplied) == 0 && strings.TrimSpace(s.LastTopic) == "")
}

// Hint 追加到检索文本后面的提示词
func (s *SessionContext) Hint() string {
	if s.Empty() {
		return ""
	}
	parts := make([]string, 0, 2+len(s.TablesUsed))
	if t := strings.TrimSpace(s.LastTopic); t != "" {
		parts = append(parts, t)
	}
	parts = append(parts, s.TablesUsed...)
	return strings.Join(parts, " ")
}
