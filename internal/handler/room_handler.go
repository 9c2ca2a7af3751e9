// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"encoding/json"
	"net/http"

	"docchat-go/internal/config"
	"docchat-go/internal/service"
	"docchat-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// 客户端上行事件名。
const (
	eventJoinRoom    = "join-room"
	eventSendMessage = "send-message"
	eventTyping      = "typing"
	eventStopTyping  = "stop-typing"
	eventEditMessage = "edit-message"
)

// inboundEvent 是客户端发来的统一事件结构。
type inboundEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type joinRoomPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type sendMessagePayload struct {
	Content          string `json:"content"`
	WebSearchEnabled bool   `json:"webSearchEnabled"`
}

type editMessagePayload struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

// RoomHandler 负责把 WebSocket 连接接入房间协调器。
// 每个连接一条读循环加一条写循环，连接间不共享任何可变状态。
type RoomHandler struct {
	coordinator *service.RoomCoordinator
}

// NewRoomHandler 创建一个新的 RoomHandler。
func NewRoomHandler(coordinator *service.RoomCoordinator) *RoomHandler {
	return &RoomHandler{coordinator: coordinator}
}

// Handle 处理一个传入的 WebSocket 连接。
func (h *RoomHandler) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	sess := service.NewSession(config.Conf.Room.SendBufferMessages)
	go writePump(conn, sess)
	log.Infof("WebSocket 连接已建立, session: %s", sess.ID)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}

		var evt inboundEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			sess.Emit(service.EventError, map[string]string{"message": "无法解析的消息格式"})
			continue
		}
		h.dispatch(c, sess, evt)
	}

	h.coordinator.Leave(c.Request.Context(), sess)
}

// dispatch 按事件名分发到协调器，处理错误均已通过会话回发，这里只记录。
func (h *RoomHandler) dispatch(c *gin.Context, sess *service.Session, evt inboundEvent) {
	ctx := c.Request.Context()
	switch evt.Event {
	case eventJoinRoom:
		var p joinRoomPayload
		if err := json.Unmarshal(evt.Data, &p); err != nil {
			sess.Emit(service.EventError, map[string]string{"message": "join-room 参数无效"})
			return
		}
		if err := h.coordinator.Join(ctx, sess, p.RoomID, p.UserID, p.Username); err != nil {
			log.Warnf("join-room 失败: %v", err)
		}
	case eventSendMessage:
		var p sendMessagePayload
		if err := json.Unmarshal(evt.Data, &p); err != nil {
			sess.Emit(service.EventError, map[string]string{"message": "send-message 参数无效"})
			return
		}
		if err := h.coordinator.SendMessage(ctx, sess, p.Content, p.WebSearchEnabled); err != nil {
			log.Warnf("send-message 失败: %v", err)
		}
	case eventTyping:
		h.coordinator.Typing(sess, true)
	case eventStopTyping:
		h.coordinator.Typing(sess, false)
	case eventEditMessage:
		var p editMessagePayload
		if err := json.Unmarshal(evt.Data, &p); err != nil {
			sess.Emit(service.EventError, map[string]string{"message": "edit-message 参数无效"})
			return
		}
		if err := h.coordinator.EditMessage(ctx, sess, p.MessageID, p.Content); err != nil {
			log.Warnf("edit-message 失败: %v", err)
		}
	default:
		sess.Emit(service.EventError, map[string]string{"message": "未知事件: " + evt.Event})
	}
}

// writePump 把会话出站通道里的事件写到连接，通道关闭即退出。
func writePump(conn *websocket.Conn, sess *service.Session) {
	for payload := range sess.Outbound() {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Warnf("向 WebSocket 写消息失败: %v", err)
			return
		}
	}
}
