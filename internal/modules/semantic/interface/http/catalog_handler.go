package http

import (
	"InsightLink/internal/modules/ai/domain/contextitem"
	"InsightLink/internal/modules/semantic/application/dto/request"
	"InsightLink/internal/modules/semantic/application/service"
	"InsightLink/pkg/back"
	"InsightLink/pkg/xerr"
	"InsightLink/pkg/zlog"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// 路由中的复数名 -> 命名空间
var kinds = map[string]contextitem.Namespace{
	"metrics":  contextitem.NamespaceMetric,
	"glossary": contextitem.NamespaceGlossary,
	"rules":    contextitem.NamespaceRule,
	"examples": contextitem.NamespaceExample,
}

type CatalogHandler struct {
	svc service.CatalogService
}

func NewCatalogHandler(svc service.CatalogService) *CatalogHandler {
	return &CatalogHandler{svc: svc}
}

func (h *CatalogHandler) kind(c *gin.Context) (contextitem.Namespace, bool) {
	ns, ok := kinds[c.Param("kind")]
	if !ok {
		back.Error(c, xerr.NotFound, "不支持的类型")
	}
	return ns, ok
}

// Upsert POST /semantic/:kind
func (h *CatalogHandler) Upsert(c *gin.Context) {
	ns, ok := h.kind(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	switch ns {
	case contextitem.NamespaceMetric:
		var req request.MetricRequest
		if bind(c, &req) {
			data, err := h.svc.UpsertMetric(ctx, req)
			h.result(c, ns, data, err)
		}
	case contextitem.NamespaceGlossary:
		var req request.GlossaryRequest
		if bind(c, &req) {
			data, err := h.svc.UpsertGlossary(ctx, req)
			h.result(c, ns, data, err)
		}
	case contextitem.NamespaceRule:
		var req request.RuleRequest
		if bind(c, &req) {
			data, err := h.svc.UpsertRule(ctx, req)
			h.result(c, ns, data, err)
		}
	case contextitem.NamespaceExample:
		var req request.ExampleRequest
		if bind(c, &req) {
			data, err := h.svc.UpsertExample(ctx, req)
			h.result(c, ns, data, err)
		}
	}
}

func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		zlog.Warn("semantic request invalid", zap.Error(err))
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return false
	}
	return true
}

func (h *CatalogHandler) result(c *gin.Context, ns contextitem.Namespace, data interface{}, err error) {
	if err != nil {
		zlog.Warn("semantic upsert failed", zap.String("kind", string(ns)), zap.Error(err))
	}
	back.Result(c, data, err)
}

// Delete DELETE /semantic/:kind/:key
func (h *CatalogHandler) Delete(c *gin.Context) {
	ns, ok := h.kind(c)
	if !ok {
		return
	}
	err := h.svc.Delete(c.Request.Context(), ns, c.Param("key"))
	back.Result(c, gin.H{"kind": ns, "key": c.Param("key")}, err)
}

// List GET /semantic/:kind
func (h *CatalogHandler) List(c *gin.Context) {
	ns, ok := h.kind(c)
	if !ok {
		return
	}
	data, err := h.svc.List(c.Request.Context(), ns)
	back.Result(c, data, err)
}
