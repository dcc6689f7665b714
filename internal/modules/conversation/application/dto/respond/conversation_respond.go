package respond

import (
	"InsightLink/internal/modules/ai/domain/contextitem"
	"InsightLink/internal/modules/conversation/domain/entity"
)

// MessageRespond 按 messageType 区分，只填当前类型需要的字段
type MessageRespond struct {
	SessionId         string               `json:"sessionId"`
	MessageId         string               `json:"messageId"`
	Phase             entity.Phase         `json:"phase"`
	MessageType       entity.MessageType   `json:"messageType"`
	Content           string               `json:"content"`
	SqlQuery          string               `json:"sqlQuery,omitempty"`
	SqlExplanation    string               `json:"sqlExplanation,omitempty"`
	Results           *entity.ResultSample `json:"results,omitempty"`
	VisualizationHint string               `json:"visualizationHint,omitempty"`
	SuggestedActions  []string             `json:"suggestedActions,omitempty"`
	Candidates        []entity.Candidate   `json:"candidates,omitempty"`
	ErrorCode         string               `json:"errorCode,omitempty"`
	ContextStats      *contextitem.Stats   `json:"contextStats,omitempty"`
	NewSession        bool                 `json:"newSession,omitempty"`
}

// FromMessage 由已落库的助手消息构造响应
func FromMessage(s *entity.ConversationSession, m *entity.ConversationMessage, newSession bool) *MessageRespond {
	return &MessageRespond{
		SessionId:         s.Uuid,
		MessageId:         m.Uuid,
		Phase:             s.Phase,
		MessageType:       m.Type,
		Content:           m.Content,
		SqlQuery:          m.SqlQuery,
		SqlExplanation:    m.SqlExplanation,
		Results:           m.Result,
		VisualizationHint: m.VisualizationHint,
		SuggestedActions:  m.SuggestedActions,
		Candidates:        m.Candidates,
		ErrorCode:         m.ErrorCode,
		ContextStats:      m.ContextStats,
		NewSession:        newSession,
	}
}
