package websocket

import (
	"net/http"
	"strings"

	"InsightLink/pkg/util/myjwt"
	"InsightLink/pkg/ws"
	"InsightLink/pkg/zlog"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// PhaseWsHandler 浏览器原生 websocket 不能带 Header，token 放在 query 里，这里自己校验
type PhaseWsHandler struct {
	hub *ws.Hub
}

func NewPhaseWsHandler(hub *ws.Hub) *PhaseWsHandler {
	return &PhaseWsHandler{hub: hub}
}

func (h *PhaseWsHandler) Connect(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		token = strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
	}
	if token == "" {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	claims, err := myjwt.ParseToken(token)
	if err != nil || claims == nil || claims.Uuid == "" {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zlog.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	client := ws.NewClient(claims.Uuid, conn)
	h.hub.Register(client)
	zlog.Info("conversation websocket connected", zap.String("user_id", claims.Uuid), zap.Int("online", h.hub.Online(claims.Uuid)))

	go client.WritePump()
	go client.ReadPump(func() {
		h.hub.Unregister(client)
	})
}
