package gateway

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var dashboardUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleDashboardWS 仪表盘 WebSocket 接入（GET /ws/dashboard）
//
// 仪表盘是纯接收方：订阅事件流并逐条推送；
// 读循环只用于感知断连（浏览器 close / ping 超时）
func (g *Gateway) HandleDashboardWS(w http.ResponseWriter, r *http.Request) {
	conn, err := dashboardUpgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("Dashboard WebSocket upgrade failed", zap.Error(err))
		return
	}

	clientID := uuid.New().String()
	events := g.broadcaster.Subscribe(clientID)

	// 写协程：事件通道 → WebSocket
	go func() {
		defer conn.Close()
		for event := range events {
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(event); err != nil {
				g.logger.Debug("Dashboard write failed",
					zap.String("client_id", clientID),
					zap.Error(err),
				)
				return
			}
		}
	}()

	// 读协程：丢弃入站数据，感知断连后注销
	go func() {
		defer g.broadcaster.Unsubscribe(clientID)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
