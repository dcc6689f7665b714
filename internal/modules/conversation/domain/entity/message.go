package entity

import (
	"time"

	"InsightLink/internal/modules/ai/domain/contextitem"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type MessageType string

const (
	TypeUserMessage   MessageType = "user_message"
	TypeDiscovery     MessageType = "discovery"
	TypeQueryResult   MessageType = "query_result"
	TypeClarification MessageType = "clarification"
	TypeError         MessageType = "error"
	TypeInfo          MessageType = "info"
)

// Candidate 发现阶段给出的候选数据源
type Candidate struct {
	DataSourceID string  `json:"dataSourceId"`
	Name         string  `json:"name"`
	MatchScore   float64 `json:"matchScore"`
}

// ResultSample 截断后的查询结果
type ResultSample struct {
	Columns   []string        `json:"columns"`
	Rows      [][]interface{} `json:"rows"`
	RowCount  int             `json:"rowCount"`
	Truncated bool            `json:"truncated,omitempty"`
}

// ConversationMessage 追加写，创建后不再修改；(session_uuid, seq) 唯一
type ConversationMessage struct {
	Id                int64              `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	Uuid              string             `gorm:"column:uuid;type:char(20);uniqueIndex;not null" json:"id"`
	SessionUuid       string             `gorm:"column:session_uuid;type:char(20);not null;uniqueIndex:uk_session_seq,priority:1" json:"sessionId"`
	Seq               int64              `gorm:"column:seq;not null;uniqueIndex:uk_session_seq,priority:2" json:"seq"`
	Role              Role               `gorm:"column:role;type:varchar(16);not null" json:"role"`
	Type              MessageType        `gorm:"column:type;type:varchar(32);not null" json:"type"`
	Content           string             `gorm:"column:content;type:text" json:"content"`
	SqlQuery          string             `gorm:"column:sql_query;type:text" json:"sqlQuery,omitempty"`
	SqlExplanation    string             `gorm:"column:sql_explanation;type:text" json:"sqlExplanation,omitempty"`
	Result            *ResultSample      `gorm:"column:result;type:mediumtext;serializer:json" json:"results,omitempty"`
	Candidates        []Candidate        `gorm:"column:candidates;type:text;serializer:json" json:"candidates,omitempty"`
	VisualizationHint string             `gorm:"column:visualization_hint;type:varchar(32)" json:"visualizationHint,omitempty"`
	SuggestedActions  []string           `gorm:"column:suggested_actions;type:text;serializer:json" json:"suggestedActions,omitempty"`
	ErrorCode         string             `gorm:"column:error_code;type:varchar(64)" json:"errorCode,omitempty"`
	ContextStats      *contextitem.Stats `gorm:"column:context_stats;type:text;serializer:json" json:"contextStats,omitempty"`
	CreatedAt         time.Time          `gorm:"column:created_at;not null" json:"createdAt"`
}

func (ConversationMessage) TableName() string { return "conversation_message" }
