package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"vault_chat/internal/domain"
	"vault_chat/internal/service"
	"vault_chat/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxFrame   = 4096
)

const (
	FrameChatList     = "chat_list"
	FrameStories      = "stories"
	FrameNotification = "notification"
	FrameMessages     = "messages"
	FrameError        = "error"

	CommandActivate   = "activate"
	CommandDeactivate = "deactivate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Origin проверяется на уровне прокси
	},
}

type Frame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

type Command struct {
	Type   string `json:"type"`
	PeerID string `json:"peer_id,omitempty"`
}

type WebSocketHandler struct {
	sessions service.SessionManager
	log      logger.Logger
}

func NewWebSocketHandler(sessions service.SessionManager, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		sessions: sessions,
		log:      log,
	}
}

// HandleStream отдает клиенту живые обновления сессии: список чатов, истории,
// уведомления и сообщения открытой беседы.
func (h *WebSocketHandler) HandleStream(c *gin.Context) {
	session, release, ok := acquireSession(c, h.sessions)
	if !ok {
		return
	}
	defer release()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	uid := session.User().UID
	h.log.Info("WebSocket connected", "user_id", uid)

	commands := make(chan Command)
	go h.readCommands(ctx, conn, commands)

	h.writeLoop(ctx, conn, session, commands)

	h.log.Info("WebSocket disconnected", "user_id", uid)
}

// readCommands читает команды клиента. Канал commands закрывается при обрыве соединения.
func (h *WebSocketHandler) readCommands(ctx context.Context, conn *websocket.Conn, commands chan<- Command) {
	defer close(commands)

	conn.SetReadLimit(maxFrame)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd Command
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("WebSocket read failed", "error", err)
			}
			return
		}
		select {
		case commands <- cmd:
		case <-ctx.Done():
			return
		}
	}
}

func (h *WebSocketHandler) writeLoop(ctx context.Context, conn *websocket.Conn, session *service.Session, commands <-chan Command) {
	chatList, stopChatList := session.WatchChatList()
	defer stopChatList()
	stories, stopStories := session.WatchStories()
	defer stopStories()
	notifications, stopNotifications := session.Notifications()
	defer stopNotifications()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	// Открытая беседа принадлежит этому клиенту; другие клиенты сессии ее не снимают.
	var (
		conversation <-chan *domain.Conversation
		stopWatch    = func() {}
		activePeer   string
	)
	defer func() {
		stopWatch()
		if activePeer != "" {
			h.deactivate(context.Background(), session, activePeer)
		}
	}()

	write := func(frame Frame) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(frame); err != nil {
			h.log.Debug("WebSocket write failed", "error", err)
			return false
		}
		return true
	}

	for {
		var frame Frame
		select {
		case <-ctx.Done():
			return
		case <-session.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
				time.Now().Add(writeWait))
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		case cmd, ok := <-commands:
			if !ok {
				return
			}
			switch cmd.Type {
			case CommandActivate:
				// Прежняя беседа остается открытой, если новую открыть не удалось.
				watch, stop, err := h.activate(ctx, session, cmd.PeerID)
				if err != nil {
					frame = Frame{Type: FrameError, Data: err.Error()}
					break
				}
				stopWatch()
				if activePeer != "" {
					h.deactivate(ctx, session, activePeer)
				}
				conversation, stopWatch, activePeer = watch, stop, cmd.PeerID
				continue
			case CommandDeactivate:
				stopWatch()
				if activePeer != "" {
					h.deactivate(ctx, session, activePeer)
				}
				conversation, stopWatch, activePeer = nil, func() {}, ""
				continue
			default:
				frame = Frame{Type: FrameError, Data: "unknown command: " + cmd.Type}
			}
		case entries, ok := <-chatList:
			if !ok {
				return
			}
			frame = Frame{Type: FrameChatList, Data: entries}
		case groups, ok := <-stories:
			if !ok {
				return
			}
			frame = Frame{Type: FrameStories, Data: groups}
		case n, ok := <-notifications:
			if !ok {
				return
			}
			frame = Frame{Type: FrameNotification, Data: n}
		case conv, ok := <-conversation:
			if !ok {
				conversation = nil
				continue
			}
			frame = Frame{Type: FrameMessages, Data: conv}
		}

		if !write(frame) {
			return
		}
	}
}

func (h *WebSocketHandler) activate(ctx context.Context, session *service.Session, peerID string) (<-chan *domain.Conversation, func(), error) {
	if err := session.Activate(ctx, peerID); err != nil {
		return nil, nil, err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	watch, err := session.WatchConversation(watchCtx, peerID)
	if err != nil {
		cancel()
		h.deactivate(ctx, session, peerID)
		return nil, nil, err
	}
	return watch, cancel, nil
}

func (h *WebSocketHandler) deactivate(ctx context.Context, session *service.Session, peerID string) {
	if err := session.Deactivate(ctx, peerID); err != nil {
		h.log.Debug("Failed to deactivate conversation", "error", err, "peer_id", peerID)
	}
}
