package http

import (
	"strings"

	"InsightLink/internal/middleware/jwt"
	aiRequest "InsightLink/internal/modules/ai/application/dto/request"
	aiRespond "InsightLink/internal/modules/ai/application/dto/respond"
	"InsightLink/internal/modules/ai/application/service"
	"InsightLink/pkg/back"
	"InsightLink/pkg/xerr"
	"InsightLink/pkg/zlog"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ContextHandler 上下文预览与缓存失效
type ContextHandler struct {
	contexts    service.ContextManager
	permissions service.PermissionProvider
}

func NewContextHandler(contexts service.ContextManager, permissions service.PermissionProvider) *ContextHandler {
	return &ContextHandler{contexts: contexts, permissions: permissions}
}

// Preview 处理上下文预览请求
//
// 路由: POST /ai/context/preview
// 鉴权: 需要 JWT（从 authed 分组继承）
func (h *ContextHandler) Preview(c *gin.Context) {
	var req aiRequest.ContextPreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		zlog.Warn("context preview invalid", zap.Error(err))
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	uuid := strings.TrimSpace(c.GetString(jwt.CtxUserID))
	if uuid == "" {
		back.Error(c, xerr.Unauthorized, "未登录")
		return
	}
	ctx := c.Request.Context()
	perm, err := h.permissions.PermissionFor(ctx, uuid)
	if err != nil {
		zlog.Error("context preview permission lookup failed", zap.String("uuid", uuid), zap.Error(err))
		back.Result(c, nil, xerr.ErrServerError)
		return
	}
	res, err := h.contexts.GetContextForQuery(ctx, service.ContextQuery{
		Query:          req.Query,
		SessionID:      strings.TrimSpace(req.SessionId),
		DataSourceID:   strings.TrimSpace(req.DataSourceId),
		Permission:     perm,
		MaxTokens:      req.MaxTokens,
		ReservedTokens: req.ReservedTokens,
	})
	if err != nil {
		zlog.Warn("context preview failed", zap.String("uuid", uuid), zap.Error(err))
		back.Result(c, nil, xerr.New(xerr.BadRequest, err.Error()))
		return
	}
	out := aiRespond.ContextPreviewRespond{CacheHit: res.CacheHit, Degraded: res.Degraded, Items: []aiRespond.ContextItemRespond{}}
	if res.OptimizedContext != nil {
		out.Context = res.Text
		out.Stats = res.Stats
		for _, it := range res.Items {
			out.Items = append(out.Items, aiRespond.ContextItemRespond{
				Uid:            it.UID(),
				Namespace:      string(it.Namespace),
				Tier:           it.PriorityTier.String(),
				RelevanceScore: it.RelevanceScore,
				TokenCount:     it.TokenCount,
				UsedSummary:    it.UsedSummary,
			})
		}
	}
	back.Result(c, out, nil)
}

// Invalidate 按模式或数据源清理上下文缓存
//
// 路由: POST /ai/context/invalidate
func (h *ContextHandler) Invalidate(c *gin.Context) {
	var req aiRequest.ContextInvalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	pattern := strings.TrimSpace(req.Pattern)
	switch {
	case pattern != "":
	case strings.TrimSpace(req.DataSourceId) != "":
		pattern = service.DataSourcePattern(strings.TrimSpace(req.DataSourceId))
	default:
		pattern = service.CacheKeyPrefix + "*"
	}
	n, err := h.contexts.Invalidate(c.Request.Context(), pattern)
	if err != nil {
		back.Result(c, nil, xerr.ErrServerError)
		return
	}
	zlog.Info("context cache invalidated via api", zap.String("uuid", c.GetString(jwt.CtxUserID)), zap.String("pattern", pattern), zap.Int64("removed", n))
	back.Result(c, aiRespond.ContextInvalidateRespond{Pattern: pattern, Removed: n}, nil)
}
