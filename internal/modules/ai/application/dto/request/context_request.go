package request

// ContextPreviewRequest 预览一次问题会拿到的上下文
type ContextPreviewRequest struct {
	Query          string `json:"query" binding:"required"`
	DataSourceId   string `json:"data_source_id"`
	SessionId      string `json:"session_id"`
	MaxTokens      int    `json:"max_tokens" binding:"omitempty,min=0"`
	ReservedTokens int    `json:"reserved_tokens" binding:"omitempty,min=0"`
}

// ContextInvalidateRequest Pattern 与 DataSourceId 二选一，都为空时清空全部
type ContextInvalidateRequest struct {
	Pattern      string `json:"pattern"`
	DataSourceId string `json:"data_source_id"`
}
