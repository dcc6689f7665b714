package entity

import "InsightLink/internal/modules/ai/domain/contextitem"

// Payload 按消息类型区分的内容，每种类型只携带自己需要的字段
type Payload interface {
	Type() MessageType
	fill(m *ConversationMessage)
}

type UserText struct {
	Text string
}

type Discovery struct {
	Text       string
	Candidates []Candidate
}

type QueryResult struct {
	Text         string
	SQL          string
	Explanation  string
	Result       ResultSample
	Hint         string
	Actions      []string
	ContextStats contextitem.Stats
}

type Clarification struct {
	Text string
}

// Failure 已脱敏的错误说明
type Failure struct {
	Code string
	Text string
}

type Info struct {
	Text string
}

func (UserText) Type() MessageType      { return TypeUserMessage }
func (Discovery) Type() MessageType     { return TypeDiscovery }
func (QueryResult) Type() MessageType   { return TypeQueryResult }
func (Clarification) Type() MessageType { return TypeClarification }
func (Failure) Type() MessageType       { return TypeError }
func (Info) Type() MessageType          { return TypeInfo }

func (p UserText) fill(m *ConversationMessage) { m.Content = p.Text }

func (p Discovery) fill(m *ConversationMessage) {
	m.Content = p.Text
	m.Candidates = append([]Candidate(nil), p.Candidates...)
}

func (p QueryResult) fill(m *ConversationMessage) {
	m.Content = p.Text
	m.SqlQuery = p.SQL
	m.SqlExplanation = p.Explanation
	res := p.Result
	m.Result = &res
	m.VisualizationHint = p.Hint
	m.SuggestedActions = append([]string(nil), p.Actions...)
	stats := p.ContextStats
	m.ContextStats = &stats
}

func (p Clarification) fill(m *ConversationMessage) { m.Content = p.Text }

func (p Failure) fill(m *ConversationMessage) {
	m.Content = p.Text
	m.ErrorCode = p.Code
}

func (p Info) fill(m *ConversationMessage) { m.Content = p.Text }

// NewMessage 由 payload 构造待追加的消息，seq/uuid/时间由会话服务填写
func NewMessage(p Payload) *ConversationMessage {
	m := &ConversationMessage{Type: p.Type(), Role: RoleAssistant}
	if p.Type() == TypeUserMessage {
		m.Role = RoleUser
	}
	p.fill(m)
	return m
}

// Payload 还原消息的类型化内容
func (m *ConversationMessage) Payload() Payload {
	switch m.Type {
	case TypeUserMessage:
		return UserText{Text: m.Content}
	case TypeDiscovery:
		return Discovery{Text: m.Content, Candidates: m.Candidates}
	case TypeQueryResult:
		p := QueryResult{Text: m.Content, SQL: m.SqlQuery, Explanation: m.SqlExplanation, Hint: m.VisualizationHint, Actions: m.SuggestedActions}
		if m.Result != nil {
			p.Result = *m.Result
		}
		if m.ContextStats != nil {
			p.ContextStats = *m.ContextStats
		}
		return p
	case TypeClarification:
		return Clarification{Text: m.Content}
	case TypeError:
		return Failure{Code: m.ErrorCode, Text: m.Content}
	}
	return Info{Text: m.Content}
}
