package service

import (
	"context"

	"InsightLink/internal/modules/ai/domain/contextitem"
	"InsightLink/internal/modules/conversation/domain/entity"
)

// TurnRequest 一次 PROCESSING 所需的全部输入
type TurnRequest struct {
	UserID         string
	SessionID      string
	DataSourceID   string
	Question       string
	Permission     contextitem.PermissionSet
	SessionContext contextitem.SessionContext
	Schema         SchemaInfo
	// History 本轮之前的用户问题，旧的在前
	History []string
	// Previous 上一轮使用的上下文，非空时走追问合并
	Previous *contextitem.OptimizedContext
}

// TurnOutcome Payload 只会是 QueryResult、Clarification 或 Failure
type TurnOutcome struct {
	Payload          entity.Payload
	Context          *contextitem.OptimizedContext
	Attempts         int
	OriginalTokens   int
	SimplifiedTokens int
	CacheHit         bool
}

// TurnProcessor 返回 error 仅限取消或内部故障，可恢复的失败都放在 Payload 里
type TurnProcessor interface {
	Process(ctx context.Context, req *TurnRequest) (*TurnOutcome, error)
}
