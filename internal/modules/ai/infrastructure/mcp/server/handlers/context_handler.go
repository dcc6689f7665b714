package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	aiService "InsightLink/internal/modules/ai/application/service"
	"InsightLink/internal/modules/ai/domain/contextitem"
	"InsightLink/pkg/zlog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

const ToolGetBusinessContext = "get_business_context"

type userIDKey struct{}

// WithUserID 由 HTTP 入口写入已鉴权的用户
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

func UserIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey{}).(string)
	return strings.TrimSpace(v)
}

// ContextToolHandler 把上下文组装能力暴露给外部 agent
type ContextToolHandler struct {
	contexts    aiService.ContextManager
	permissions aiService.PermissionProvider
}

func NewContextToolHandler(contexts aiService.ContextManager, permissions aiService.PermissionProvider) *ContextToolHandler {
	return &ContextToolHandler{contexts: contexts, permissions: permissions}
}

func (h *ContextToolHandler) RegisterTools(s *server.MCPServer) {
	s.AddTool(mcp.NewTool(ToolGetBusinessContext,
		mcp.WithDescription("根据自然语言问题返回在 token 预算内裁剪好的业务上下文（认证指标、业务规则、术语、示例 SQL、血缘）。生成 SQL 之前调用。"),
		mcp.WithString("query", mcp.Required(), mcp.Description("用户的问题")),
		mcp.WithString("data_source_id", mcp.Description("限定的数据源 id，可不填")),
		mcp.WithString("session_id", mcp.Description("会话 id，不填则不区分会话缓存")),
		mcp.WithNumber("max_tokens", mcp.Description("上下文 token 上限，不填使用服务端默认值")),
	), h.handleGetBusinessContext)
}

// BusinessContextResult 工具返回的 JSON 结构
type BusinessContextResult struct {
	Context  string            `json:"context"`
	Items    []string          `json:"items"`
	Stats    contextitem.Stats `json:"stats"`
	CacheHit bool              `json:"cacheHit"`
	Degraded bool              `json:"degraded"`
}

func (h *ContextToolHandler) handleGetBusinessContext(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("invalid arguments format, expected map"), nil
	}
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("query is required"), nil
	}
	userID := UserIDFrom(ctx)
	if userID == "" {
		return mcp.NewToolResultError("unauthorized"), nil
	}
	dsID, _ := args["data_source_id"].(string)
	sessionID, _ := args["session_id"].(string)
	maxTokens := 0
	if v, ok := args["max_tokens"].(float64); ok && v > 0 {
		maxTokens = int(v)
	}

	perm, err := h.permissions.PermissionFor(ctx, userID)
	if err != nil {
		zlog.Error("get_business_context permission lookup failed", zap.String("user_id", userID), zap.Error(err))
		return mcp.NewToolResultError("permission lookup failed"), nil
	}
	res, err := h.contexts.GetContextForQuery(ctx, aiService.ContextQuery{
		Query:        query,
		SessionID:    strings.TrimSpace(sessionID),
		DataSourceID: strings.TrimSpace(dsID),
		Permission:   perm,
		MaxTokens:    maxTokens,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		zlog.Error("get_business_context failed", zap.String("user_id", userID), zap.Error(err))
		return mcp.NewToolResultError(fmt.Sprintf("上下文组装失败：%v", err)), nil
	}

	out := BusinessContextResult{CacheHit: res.CacheHit, Degraded: res.Degraded, Items: []string{}}
	if res.OptimizedContext != nil {
		out.Context = res.Text
		out.Stats = res.Stats
		for _, it := range res.Items {
			out.Items = append(out.Items, it.UID())
		}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	zlog.Info("get_business_context served",
		zap.String("user_id", userID),
		zap.Int("items", len(out.Items)),
		zap.Int("tokens", out.Stats.TokensUsed),
		zap.Bool("cache_hit", out.CacheHit))
	return mcp.NewToolResultText(string(b)), nil
}
