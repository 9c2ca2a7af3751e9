package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"docchat-go/internal/model"
	"docchat-go/internal/repository"
	"docchat-go/pkg/log"

	"github.com/google/uuid"
)

// 实时传输层事件名。协调器是这些事件的处理方，但不拥有传输层本身。
const (
	EventRoomMessages  = "room-messages"
	EventNewMessage    = "new-message"
	EventMessageEdited = "message-edited"
	EventAIThinking    = "ai-thinking"
	EventAIError       = "ai-error"
	EventUserJoined    = "user-joined"
	EventUserLeft      = "user-left"
	EventUserTyping    = "user-typing"
	EventUserStopTyped = "user-stop-typing"
	EventError         = "error"
)

const defaultSendBuffer = 64

// Envelope 是下发给客户端的统一事件结构。
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Session 是协调器持有的每连接会话记录，取代任何进程级全局注册表。
// 出站消息经由带缓冲的通道传递，由传输层的写循环消费，
// 协调器的广播因此永不被慢客户端阻塞。
// Close 之后 Emit 变为空操作，广播方绝不会写入已关闭的通道。
type Session struct {
	ID       string
	UserID   string
	Username string
	RoomID   string

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

// NewSession 创建一个新的会话记录。
func NewSession(buffer int) *Session {
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	return &Session{
		ID:   uuid.NewString(),
		send: make(chan []byte, buffer),
	}
}

// Outbound 返回会话的出站通道，由传输层的写循环读取。
func (s *Session) Outbound() <-chan []byte {
	return s.send
}

// Emit 向会话投递一个事件。会话已关闭时静默丢弃，
// 通道已满时丢弃并告警，两种情况都不阻塞广播方。
func (s *Session) Emit(event string, data interface{}) {
	payload, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		log.Errorf("[Room] 序列化事件 %s 失败: %v", event, err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.send <- payload:
	default:
		log.Warnf("[Room] 会话 %s 出站通道已满, 丢弃事件 %s", s.ID, event)
	}
}

// Close 关闭会话的出站通道，幂等。
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}

// room 是一个房间的运行时状态。
// emitMu 串行化一次"持久化+广播"序列：两个并发生成的回答
// 各自的落盘与下发不会互相穿插。
type room struct {
	id       string
	mu       sync.Mutex
	sessions map[*Session]struct{}
	emitMu   sync.Mutex
}

func (r *room) snapshot() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := make([]*Session, 0, len(r.sessions))
	for s := range r.sessions {
		list = append(list, s)
	}
	return list
}

// RoomCoordinator 负责房间成员管理、消息持久化与广播、输入状态转发，
// 以及对含问号消息触发异步的回答生成。
type RoomCoordinator struct {
	mu    sync.RWMutex
	rooms map[string]*room

	msgRepo       repository.MessageRepository
	answerService AnswerService
	historyLimit  int
	editWindow    time.Duration
}

// NewRoomCoordinator 创建一个新的 RoomCoordinator 实例。
func NewRoomCoordinator(msgRepo repository.MessageRepository, answerService AnswerService, historyLimit, editWindowMinutes int) *RoomCoordinator {
	if historyLimit <= 0 {
		historyLimit = repository.DefaultHistorySize
	}
	if editWindowMinutes <= 0 {
		editWindowMinutes = 5
	}
	return &RoomCoordinator{
		rooms:         make(map[string]*room),
		msgRepo:       msgRepo,
		answerService: answerService,
		historyLimit:  historyLimit,
		editWindow:    time.Duration(editWindowMinutes) * time.Minute,
	}
}

func (c *RoomCoordinator) getOrCreateRoom(roomID string) *room {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rooms[roomID]
	if !ok {
		r = &room{id: roomID, sessions: make(map[*Session]struct{})}
		c.rooms[roomID] = r
	}
	return r
}

func (c *RoomCoordinator) lookupRoom(roomID string) *room {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rooms[roomID]
}

// Join 处理 join-room 事件：校验字段、登记成员、回放历史、通知其他成员。
// 入参校验失败只回给发起方，不做任何广播。
// 已在别的房间的会话先从旧房间摘除，一个会话任何时刻只属于一个房间。
func (c *RoomCoordinator) Join(ctx context.Context, sess *Session, roomID, userID, username string) error {
	if roomID == "" || userID == "" || username == "" {
		sess.Emit(EventError, map[string]string{"message": "roomId、userId、username 均不能为空"})
		return errors.New("join-room 缺少必填字段")
	}

	if sess.RoomID != "" && sess.RoomID != roomID {
		c.detach(sess)
	}

	sess.RoomID = roomID
	sess.UserID = userID
	sess.Username = username

	r := c.getOrCreateRoom(roomID)
	r.mu.Lock()
	r.sessions[sess] = struct{}{}
	r.mu.Unlock()

	history, err := c.msgRepo.History(ctx, roomID, c.historyLimit)
	if err != nil {
		log.Errorf("[Room] 读取房间 %s 历史失败: %v", roomID, err)
		history = []model.Message{}
	}
	sess.Emit(EventRoomMessages, history)

	c.broadcastExcept(r, sess, EventUserJoined, map[string]string{
		"userId":   userID,
		"username": username,
	})
	log.Infof("[Room] 用户 %s 加入房间 %s", username, roomID)
	return nil
}

// Leave 处理连接断开：从房间摘除会话并关闭其出站通道。
func (c *RoomCoordinator) Leave(ctx context.Context, sess *Session) {
	defer sess.Close()
	if sess.RoomID == "" {
		return
	}
	c.detach(sess)
	log.Infof("[Room] 用户 %s 离开房间 %s", sess.Username, sess.RoomID)
}

// detach 将会话从其当前房间摘除，通知剩余成员，房间空了就回收。
// 会话本不在房间内时什么也不做。
func (c *RoomCoordinator) detach(sess *Session) {
	r := c.lookupRoom(sess.RoomID)
	if r == nil {
		return
	}

	r.mu.Lock()
	_, present := r.sessions[sess]
	delete(r.sessions, sess)
	empty := len(r.sessions) == 0
	r.mu.Unlock()
	if !present {
		return
	}

	c.broadcast(r, EventUserLeft, map[string]string{
		"userId":   sess.UserID,
		"username": sess.Username,
	})

	if empty {
		c.mu.Lock()
		if cur, ok := c.rooms[sess.RoomID]; ok {
			cur.mu.Lock()
			if len(cur.sessions) == 0 {
				delete(c.rooms, sess.RoomID)
			}
			cur.mu.Unlock()
		}
		c.mu.Unlock()
	}
}

// SendMessage 处理 send-message 事件：持久化并广播用户消息；
// 含问号的消息立即下发 ai-thinking 并异步生成回答。
// 并发规则：每个 send-message 事件至多触发一次生成，不同用户的
// 两个问题可以并发生成，这是接受的设计取舍。
func (c *RoomCoordinator) SendMessage(ctx context.Context, sess *Session, content string, webSearchEnabled bool) error {
	if sess.RoomID == "" {
		sess.Emit(EventError, map[string]string{"message": "请先加入房间"})
		return errors.New("会话尚未加入房间")
	}
	if strings.TrimSpace(content) == "" {
		sess.Emit(EventError, map[string]string{"message": "消息内容不能为空"})
		return errors.New("消息内容为空")
	}

	r := c.lookupRoom(sess.RoomID)
	if r == nil {
		sess.Emit(EventError, map[string]string{"message": "房间不存在"})
		return errors.New("房间不存在")
	}

	msg := &model.Message{
		ID:        uuid.NewString(),
		RoomID:    sess.RoomID,
		UserID:    sess.UserID,
		Username:  sess.Username,
		Content:   content,
		Kind:      model.MessageKindUser,
		Timestamp: time.Now(),
	}

	r.emitMu.Lock()
	if err := c.msgRepo.Append(ctx, sess.RoomID, msg); err != nil {
		log.Errorf("[Room] 持久化消息失败: %v", err)
	}
	c.broadcast(r, EventNewMessage, msg)
	r.emitMu.Unlock()

	if containsQuestion(content) {
		c.broadcast(r, EventAIThinking, map[string]string{
			"roomId":    sess.RoomID,
			"messageId": msg.ID,
		})
		go c.generateAnswer(sess.RoomID, content, webSearchEnabled)
	}
	return nil
}

// generateAnswer 在后台生成并下发助手回答。
// 使用独立的后台上下文：提问者断开连接不应中断房间的回答。
func (c *RoomCoordinator) generateAnswer(roomID, question string, webSearchEnabled bool) {
	ctx := context.Background()
	answer := c.answerService.Answer(ctx, roomID, question, webSearchEnabled)

	msg := &model.Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		UserID:    model.AssistantUserID,
		Username:  "AI助手",
		Content:   answer.Answer,
		Kind:      model.MessageKindAssistant,
		Timestamp: time.Now(),
		Metadata: &model.AnswerMetadata{
			Sources:          answer.Sources,
			WebResults:       answer.WebResults,
			WebSearchEnabled: answer.WebSearchUsed,
		},
	}

	r := c.lookupRoom(roomID)
	if r == nil {
		// 所有人都已离开，仍落盘以便回放
		if err := c.msgRepo.Append(ctx, roomID, msg); err != nil {
			log.Errorf("[Room] 持久化助手消息失败: %v", err)
		}
		return
	}

	// 落盘与广播作为一个整体串行执行，两个并发回答互不穿插
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	if err := c.msgRepo.Append(ctx, roomID, msg); err != nil {
		log.Errorf("[Room] 持久化助手消息失败: %v", err)
		c.broadcast(r, EventAIError, map[string]string{
			"roomId":  roomID,
			"message": "回答已生成但保存失败",
		})
	}
	c.broadcast(r, EventNewMessage, msg)
}

// Typing 转发输入状态给房间内其他成员。
func (c *RoomCoordinator) Typing(sess *Session, typing bool) {
	if sess.RoomID == "" {
		return
	}
	r := c.lookupRoom(sess.RoomID)
	if r == nil {
		return
	}
	event := EventUserTyping
	if !typing {
		event = EventUserStopTyped
	}
	c.broadcastExcept(r, sess, event, map[string]string{
		"userId":   sess.UserID,
		"username": sess.Username,
	})
}

// EditMessage 处理限时编辑：只有作者本人能在时间窗内编辑自己的用户消息。
func (c *RoomCoordinator) EditMessage(ctx context.Context, sess *Session, messageID, newContent string) error {
	if sess.RoomID == "" {
		sess.Emit(EventError, map[string]string{"message": "请先加入房间"})
		return errors.New("会话尚未加入房间")
	}
	if strings.TrimSpace(newContent) == "" {
		sess.Emit(EventError, map[string]string{"message": "消息内容不能为空"})
		return errors.New("消息内容为空")
	}

	history, err := c.msgRepo.History(ctx, sess.RoomID, 0)
	if err != nil {
		sess.Emit(EventError, map[string]string{"message": "读取消息失败"})
		return err
	}

	var target *model.Message
	for i := range history {
		if history[i].ID == messageID {
			target = &history[i]
			break
		}
	}
	if target == nil {
		sess.Emit(EventError, map[string]string{"message": "消息不存在"})
		return errors.New("消息不存在")
	}
	if target.Kind != model.MessageKindUser || target.UserID != sess.UserID {
		sess.Emit(EventError, map[string]string{"message": "只能编辑自己的消息"})
		return errors.New("无权编辑该消息")
	}
	if time.Since(target.Timestamp) > c.editWindow {
		sess.Emit(EventError, map[string]string{"message": "已超过可编辑时间"})
		return errors.New("超出编辑时间窗")
	}

	now := time.Now()
	target.Content = newContent
	target.EditedAt = &now
	if err := c.msgRepo.Update(ctx, sess.RoomID, target); err != nil {
		sess.Emit(EventError, map[string]string{"message": "更新消息失败"})
		return err
	}

	r := c.lookupRoom(sess.RoomID)
	if r != nil {
		c.broadcast(r, EventMessageEdited, target)
	}
	return nil
}

func (c *RoomCoordinator) broadcast(r *room, event string, data interface{}) {
	for _, sess := range r.snapshot() {
		sess.Emit(event, data)
	}
}

func (c *RoomCoordinator) broadcastExcept(r *room, except *Session, event string, data interface{}) {
	for _, sess := range r.snapshot() {
		if sess == except {
			continue
		}
		sess.Emit(event, data)
	}
}

// containsQuestion 判断消息是否含问号（半角或全角）。
func containsQuestion(content string) bool {
	return strings.Contains(content, "?") || strings.Contains(content, "？")
}
