package http

import (
	"InsightLink/internal/middleware/jwt"
	"InsightLink/internal/modules/conversation/application/dto/request"
	"InsightLink/internal/modules/conversation/application/service"
	"InsightLink/pkg/back"
	"InsightLink/pkg/xerr"
	"InsightLink/pkg/zlog"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ConversationHandler struct {
	orchestrator service.QueryOrchestrator
	sessions     service.SessionStore
}

func NewConversationHandler(orchestrator service.QueryOrchestrator, sessions service.SessionStore) *ConversationHandler {
	return &ConversationHandler{orchestrator: orchestrator, sessions: sessions}
}

func userID(c *gin.Context) (string, bool) {
	uid := c.GetString(jwt.CtxUserID)
	if uid == "" {
		back.Error(c, xerr.Unauthorized, xerr.ErrUnauthorized.Message)
		return "", false
	}
	return uid, true
}

// Message POST /conversation/message
func (h *ConversationHandler) Message(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	var req request.MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		zlog.Warn("conversation message invalid", zap.Error(err))
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	data, err := h.orchestrator.HandleMessage(c.Request.Context(), uid, req)
	back.Result(c, data, err)
}

// ListSessions GET /conversation/sessions
func (h *ConversationHandler) ListSessions(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	var req request.ListSessionsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	data, err := h.sessions.ListSessions(c.Request.Context(), uid, req.Page, req.Size)
	back.Result(c, data, err)
}

// GetSession GET /conversation/sessions/:id
func (h *ConversationHandler) GetSession(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	var req request.SessionDetailRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	data, err := h.sessions.GetOwnedSession(c.Request.Context(), uid, c.Param("id"), req.IncludeHistory)
	back.Result(c, data, err)
}

// EndSession POST /conversation/sessions/:id/end
func (h *ConversationHandler) EndSession(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	data, err := h.sessions.EndSession(c.Request.Context(), uid, c.Param("id"))
	back.Result(c, data, err)
}

// SetDataSource POST /conversation/sessions/:id/datasource
func (h *ConversationHandler) SetDataSource(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	var req request.SelectDataSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	data, err := h.orchestrator.SelectDataSource(c.Request.Context(), uid, c.Param("id"), req.DataSourceId)
	back.Result(c, data, err)
}
