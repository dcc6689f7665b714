package repository

import (
	"context"
	"errors"
	"time"

	"InsightLink/internal/modules/conversation/domain/entity"
)

// ErrVersionConflict 乐观锁版本不一致，调用方应重新读取后重试
var ErrVersionConflict = errors.New("conversation session version conflict")

type SessionRepository interface {
	Create(ctx context.Context, s *entity.ConversationSession) error
	// GetByUuid 不存在时返回 nil, nil
	GetByUuid(ctx context.Context, uuid string) (*entity.ConversationSession, error)
	ListByUser(ctx context.Context, userID string, offset, limit int) ([]entity.ConversationSession, int64, error)
	// Update 以 expectedVersion 为条件整行更新，成功后 s.Version = expectedVersion+1
	Update(ctx context.Context, s *entity.ConversationSession, expectedVersion int64) error
	// AppendMessage 在同一事务里更新会话并插入消息
	AppendMessage(ctx context.Context, s *entity.ConversationSession, expectedVersion int64, msg *entity.ConversationMessage) error
	// ListMessages 返回最近 limit 条消息，按 seq 升序；limit<=0 返回全部
	ListMessages(ctx context.Context, sessionUuid string, limit int) ([]entity.ConversationMessage, error)
	// ExpireBefore 把 expires_at <= now 的活跃会话批量置为过期，返回处理条数
	ExpireBefore(ctx context.Context, now time.Time, batch int) (int64, error)
}
