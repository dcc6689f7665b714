package server

import (
	"context"
	"net/http"

	aiService "InsightLink/internal/modules/ai/application/service"
	mcpHandlers "InsightLink/internal/modules/ai/infrastructure/mcp/server/handlers"

	"github.com/mark3labs/mcp-go/server"
)

// ContextServerConfig MCP 服务配置
type ContextServerConfig struct {
	Name    string
	Version string
}

type ContextServerDependencies struct {
	Contexts    aiService.ContextManager
	Permissions aiService.PermissionProvider
}

// NewContextMCPServer 创建并注册上下文工具
func NewContextMCPServer(conf ContextServerConfig, deps ContextServerDependencies) *server.MCPServer {
	if conf.Name == "" {
		conf.Name = "insightlink-context"
	}
	if conf.Version == "" {
		conf.Version = "1.0.0"
	}
	s := server.NewMCPServer(
		conf.Name,
		conf.Version,
		server.WithToolCapabilities(true),
	)
	if deps.Contexts != nil && deps.Permissions != nil {
		mcpHandlers.NewContextToolHandler(deps.Contexts, deps.Permissions).RegisterTools(s)
	}
	return s
}

// UserResolver 从请求中解析已鉴权的用户 id，解析失败返回空串
type UserResolver func(r *http.Request) string

// NewHTTPHandler 以 streamable HTTP 方式暴露，调用方负责挂载鉴权中间件
func NewHTTPHandler(s *server.MCPServer, resolve UserResolver) http.Handler {
	return server.NewStreamableHTTPServer(s,
		server.WithStateLess(true),
		server.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if resolve == nil {
				return ctx
			}
			return mcpHandlers.WithUserID(ctx, resolve(r))
		}),
	)
}
