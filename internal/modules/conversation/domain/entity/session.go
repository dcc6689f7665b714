package entity

import (
	"time"

	"InsightLink/internal/modules/ai/domain/contextitem"
)

// SessionStatus 对外可见的会话状态
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
	StatusExpired   SessionStatus = "expired"
	StatusError     SessionStatus = "error"
)

// Phase 编排状态机的当前阶段
type Phase string

const (
	PhaseNew        Phase = "NEW"
	PhaseDiscovery  Phase = "DISCOVERY"
	PhaseReady      Phase = "READY"
	PhaseProcessing Phase = "PROCESSING"
	PhaseResponded  Phase = "RESPONDED"
	PhaseEnded      Phase = "ENDED"
	PhaseExpired    Phase = "EXPIRED"
	PhaseError      Phase = "ERROR"
)

// Terminal 终态不再接受消息
func (p Phase) Terminal() bool {
	return p == PhaseEnded || p == PhaseExpired || p == PhaseError
}

// ConversationSession 对话会话，只能通过会话服务修改
type ConversationSession struct {
	Id             int64                      `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	Uuid           string                     `gorm:"column:uuid;type:char(20);uniqueIndex;not null" json:"id"`
	UserId         string                     `gorm:"column:user_id;type:varchar(64);not null;index:idx_user_activity,priority:1" json:"userId"`
	Title          string                     `gorm:"column:title;type:varchar(128)" json:"title"`
	Status         SessionStatus              `gorm:"column:status;type:varchar(16);not null;index" json:"status"`
	Phase          Phase                      `gorm:"column:phase;type:varchar(16);not null" json:"phase"`
	DataSourceId   string                     `gorm:"column:data_source_id;type:varchar(64)" json:"dataSourceId,omitempty"`
	ContextState   contextitem.SessionContext `gorm:"column:context_state;type:text;serializer:json" json:"contextState"`
	MessageSeq     int64                      `gorm:"column:message_seq;not null;default:0" json:"messageCount"`
	Version        int64                      `gorm:"column:version;not null;default:0" json:"-"`
	CreatedAt      time.Time                  `gorm:"column:created_at;not null" json:"createdAt"`
	LastActivityAt time.Time                  `gorm:"column:last_activity_at;not null;index:idx_user_activity,priority:2" json:"lastActivityAt"`
	ExpiresAt      time.Time                  `gorm:"column:expires_at;not null;index" json:"expiresAt"`
	EndedAt        *time.Time                 `gorm:"column:ended_at" json:"endedAt,omitempty"`
}

func (ConversationSession) TableName() string { return "conversation_session" }

// ExpiredAt 按 expiresAt 判断是否过期
func (s *ConversationSession) ExpiredAt(now time.Time) bool {
	return s.Status == StatusExpired || !now.Before(s.ExpiresAt)
}

// Open 仍可接收新消息
func (s *ConversationSession) Open() bool {
	return s.Status == StatusActive && !s.Phase.Terminal()
}
