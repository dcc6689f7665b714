package notify

import (
	"time"

	"InsightLink/internal/modules/conversation/domain/entity"
	"InsightLink/pkg/ws"
	"InsightLink/pkg/zlog"

	"go.uber.org/zap"
)

const EventConversationPhase = "conversation_phase"

// PhaseEvent 推给前端的阶段变化
type PhaseEvent struct {
	Type      string       `json:"type"`
	SessionId string       `json:"sessionId"`
	Phase     entity.Phase `json:"phase"`
	At        int64        `json:"at"`
}

// WsPhaseNotifier 通过 websocket hub 推送，用户不在线时直接丢弃
type WsPhaseNotifier struct {
	hub *ws.Hub
}

func NewWsPhaseNotifier(hub *ws.Hub) *WsPhaseNotifier {
	return &WsPhaseNotifier{hub: hub}
}

func (n *WsPhaseNotifier) PhaseChanged(userID, sessionID string, phase entity.Phase) {
	if n.hub == nil || n.hub.Online(userID) == 0 {
		return
	}
	ev := PhaseEvent{Type: EventConversationPhase, SessionId: sessionID, Phase: phase, At: time.Now().UnixMilli()}
	if _, err := n.hub.SendJSON(userID, ev); err != nil {
		zlog.Warn("push conversation phase failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}
