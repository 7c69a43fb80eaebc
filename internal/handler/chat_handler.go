package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"health-smart-go/internal/middleware"
	"health-smart-go/internal/model"
	"health-smart-go/internal/service"
	"health-smart-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

const wsWriteTimeout = 10 * time.Second

// Hub 跟踪已升级的 WebSocket 连接。http.Server.Shutdown 不会等待被劫持的连接，
// 停机时先 Close 断开它们，再 Wait 等待处理协程退出。
type Hub struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	conns  sync.WaitGroup
}

// NewHub 创建一个新的 Hub。
func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{ctx: ctx, cancel: cancel}
}

// acquire 登记一个新连接；Hub 已关闭时返回 false。
func (h *Hub) acquire() (context.Context, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	h.conns.Add(1)
	return h.ctx, true
}

func (h *Hub) release() { h.conns.Done() }

// Close 拒绝新的握手，并让现有连接停止回复、发送 going away 后关闭。
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.cancel()
}

// Wait 等待所有连接的处理协程退出，或 ctx 结束。
func (h *Hub) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ChatHandler 负责聊天代理的 SSE 与 WebSocket 接口。
type ChatHandler struct {
	chatService service.ChatService
	hub         *Hub
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, hub *Hub) *ChatHandler {
	return &ChatHandler{chatService: chatService, hub: hub}
}

// ChatRequest 是聊天请求体。
type ChatRequest struct {
	Messages []model.ChatMessage `json:"messages"`
}

// Stream 以 Server-Sent Events 转发模型输出。
// 事件：message {"text"}、truncated {"reason","keywords"}、done {"keywords"}。
func (h *ChatHandler) Stream(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Chat", err)
		return
	}

	chunks, err := h.chatService.Converse(c.Request.Context(), middleware.CurrentUserID(c), req.Messages)
	if err != nil {
		respondError(c, "Chat", err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	for chunk := range chunks {
		switch {
		case chunk.Truncated:
			c.SSEvent("truncated", gin.H{"reason": chunk.Reason, "keywords": keywordsOf(chunk)})
		case chunk.Done:
			c.SSEvent("done", gin.H{"keywords": keywordsOf(chunk)})
		default:
			c.SSEvent("message", gin.H{"text": chunk.Text})
		}
		c.Writer.Flush()
	}
}

func keywordsOf(chunk model.ChatChunk) []string {
	if chunk.Keywords == nil {
		return []string{}
	}
	return chunk.Keywords
}

// wsFrame 是客户端发来的帧：{"messages":[...]} 开始一次回复，{"type":"stop"} 停止当前回复。
type wsFrame struct {
	Type     string              `json:"type"`
	Messages []model.ChatMessage `json:"messages"`
}

// wsSession 保存一个连接上的写锁与正在进行的回复。
type wsSession struct {
	conn    *websocket.Conn
	userID  string
	writeMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *wsSession) writeJSON(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteJSON(v)
}

func (s *wsSession) sendEvent(eventType string, extra gin.H) {
	frame := gin.H{
		"type":      eventType,
		"timestamp": time.Now().UnixMilli(),
		"date":      time.Now().Format("2006-01-02T15:04:05"),
	}
	for k, v := range extra {
		frame[k] = v
	}
	if err := s.writeJSON(frame); err != nil {
		log.Warnf("WebSocket 写入失败: %v", err)
	}
}

// start 开始一次回复；已有回复进行中时返回 false。
func (s *wsSession) start(parent context.Context, chat service.ChatService, messages []model.ChatMessage) bool {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer s.finish(cancel)
		s.relay(ctx, chat, messages)
	}()
	return true
}

func (s *wsSession) finish(cancel context.CancelFunc) {
	cancel()
	s.mu.Lock()
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
}

// stop 取消当前回复并等待转发协程退出。
func (s *wsSession) stop() bool {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	<-done
	return true
}

func (s *wsSession) relay(ctx context.Context, chat service.ChatService, messages []model.ChatMessage) {
	chunks, err := chat.Converse(ctx, s.userID, messages)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		status, message := errorStatus(err)
		if status >= 500 {
			log.Errorw("WebSocket chat failed", "userID", s.userID, "error", err)
		}
		if err := s.writeJSON(gin.H{"error": message, "code": status}); err != nil {
			log.Warnf("WebSocket 写入失败: %v", err)
		}
		return
	}

	for chunk := range chunks {
		switch {
		case chunk.Truncated:
			s.sendEvent("truncated", gin.H{"reason": chunk.Reason, "keywords": keywordsOf(chunk)})
		case chunk.Done:
			s.sendEvent("completion", gin.H{"status": "finished", "message": "响应已完成", "keywords": keywordsOf(chunk)})
		default:
			if err := s.writeJSON(gin.H{"chunk": chunk.Text}); err != nil {
				log.Warnf("WebSocket 写入失败: %v", err)
				return
			}
		}
	}
}

// Handle 处理一个已通过 TokenAuth 认证的 WebSocket 连接。
func (h *ChatHandler) Handle(c *gin.Context) {
	hubCtx, ok := h.hub.acquire()
	if !ok {
		respond(c, http.StatusServiceUnavailable, "服务正在关闭", nil)
		return
	}
	defer h.hub.release()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	session := &wsSession{conn: conn, userID: middleware.CurrentUserID(c)}
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	defer session.stop()

	// 停机：取消进行中的回复并关闭连接，读循环随之退出
	stopShutdown := context.AfterFunc(hubCtx, func() {
		cancel()
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stopShutdown()

	log.Infow("WebSocket 连接已建立", "userID", session.userID)
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if hubCtx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("从 WebSocket 读取消息失败: %v", err)
			}
			return
		}

		var frame wsFrame
		text := strings.TrimSpace(string(message))
		if strings.HasPrefix(text, "{") {
			if err := json.Unmarshal(message, &frame); err != nil {
				_ = session.writeJSON(gin.H{"error": "无效的消息格式", "code": http.StatusBadRequest})
				continue
			}
		} else {
			// 纯文本视为单条用户提问
			frame.Messages = []model.ChatMessage{{Role: model.RoleUser, Content: text}}
		}

		if frame.Type == "stop" {
			if session.stop() {
				session.sendEvent("stop", gin.H{"message": "响应已停止"})
			}
			continue
		}
		if !session.start(ctx, h.chatService, frame.Messages) {
			_ = session.writeJSON(gin.H{"error": "上一条回复仍在进行中", "code": http.StatusConflict})
		}
	}
}
