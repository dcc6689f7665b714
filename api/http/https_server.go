package http

import (
	"net/http"
	"strings"

	jwtMiddleware "InsightLink/internal/middleware/jwt"
	mcpServer "InsightLink/internal/modules/ai/infrastructure/mcp/server"
	aiHandler "InsightLink/internal/modules/ai/interface/http"
	convHandler "InsightLink/internal/modules/conversation/interface/http"
	convWs "InsightLink/internal/modules/conversation/interface/websocket"
	semanticHandler "InsightLink/internal/modules/semantic/interface/http"
	"InsightLink/pkg/ssl"
	"InsightLink/pkg/util/myjwt"

	cors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// NewEngine 组装路由
func NewEngine(rt *Runtime) *gin.Engine {
	GE := gin.Default()
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Mcp-Session-Id"}
	GE.Use(cors.New(corsConfig))
	if rt.Conf.MainConfig.TLS {
		GE.Use(ssl.TlsHandler(rt.Conf.MainConfig.Host, rt.Conf.MainConfig.Port))
	}

	conversationH := convHandler.NewConversationHandler(rt.Orchestrator, rt.Sessions)
	contextH := aiHandler.NewContextHandler(rt.Contexts, rt.Permissions)
	catalogH := semanticHandler.NewCatalogHandler(rt.Catalog)
	wsH := convWs.NewPhaseWsHandler(rt.Hub)

	GE.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	GE.GET("/wss", wsH.Connect)
	if rt.MCP != nil {
		mcpH := gin.WrapH(mcpServer.NewHTTPHandler(rt.MCP, bearerUser))
		GE.Any("/mcp", mcpH)
	}

	authed := GE.Group("/api/v1")
	authed.Use(jwtMiddleware.Auth())
	authed.GET("/auth/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"uuid":     c.GetString(jwtMiddleware.CtxUserID),
			"username": c.GetString(jwtMiddleware.CtxUsername),
		})
	})

	authed.POST("/conversation/message", conversationH.Message)
	authed.GET("/conversation/sessions", conversationH.ListSessions)
	authed.GET("/conversation/sessions/:id", conversationH.GetSession)
	authed.POST("/conversation/sessions/:id/end", conversationH.EndSession)
	authed.POST("/conversation/sessions/:id/datasource", conversationH.SetDataSource)

	authed.POST("/ai/context/preview", contextH.Preview)
	authed.POST("/ai/context/invalidate", contextH.Invalidate)

	authed.POST("/semantic/:kind", catalogH.Upsert)
	authed.GET("/semantic/:kind", catalogH.List)
	authed.DELETE("/semantic/:kind/:key", catalogH.Delete)

	return GE
}

// bearerUser MCP 请求沿用同一套 JWT，解析失败时返回空用户
func bearerUser(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	claims, err := myjwt.ParseToken(strings.TrimPrefix(h, "Bearer "))
	if err != nil || claims == nil {
		return ""
	}
	return claims.Uuid
}
