package request

// MessageRequest 对话统一入口
type MessageRequest struct {
	Message      string `json:"message" binding:"required"`
	SessionId    string `json:"sessionId"`
	DataSourceId string `json:"dataSourceId"`
}

type SelectDataSourceRequest struct {
	DataSourceId string `json:"dataSourceId" binding:"required"`
}

type ListSessionsRequest struct {
	Page int `form:"page"`
	Size int `form:"size"`
}

type SessionDetailRequest struct {
	IncludeHistory bool `form:"includeHistory"`
}
