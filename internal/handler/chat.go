package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"vault_chat/internal/service"
	"vault_chat/pkg/logger"
)

type ChatHandler struct {
	sessions  service.SessionManager
	maxUpload int64
	log       logger.Logger
}

func NewChatHandler(sessions service.SessionManager, maxUpload int64, log logger.Logger) *ChatHandler {
	return &ChatHandler{
		sessions:  sessions,
		maxUpload: maxUpload,
		log:       log,
	}
}

func (h *ChatHandler) List(c *gin.Context) {
	session, release, ok := acquireSession(c, h.sessions)
	if !ok {
		return
	}
	defer release()

	c.JSON(http.StatusOK, gin.H{"chats": session.ChatList()})
}

func (h *ChatHandler) GetMessages(c *gin.Context) {
	session, release, ok := acquireSession(c, h.sessions)
	if !ok {
		return
	}
	defer release()

	conv, err := session.Conversation(c.Request.Context(), c.Param("peerId"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, conv)
}

type SendMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

// SendMessage принимает JSON с текстом или multipart-форму с полями text и file.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var (
		text       string
		attachment *service.Attachment
	)

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		text = c.PostForm("text")
		upload, err := readUpload(c, "file", h.maxUpload)
		if err != nil {
			respondUploadError(c, err)
			return
		}
		attachment = upload
	} else {
		var req SendMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		text = req.Text
	}

	session, release, ok := acquireSession(c, h.sessions)
	if !ok {
		return
	}
	defer release()

	message, err := session.SendMessage(c.Request.Context(), c.Param("peerId"), text, attachment)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, message)
}

func (h *ChatHandler) MarkRead(c *gin.Context) {
	session, release, ok := acquireSession(c, h.sessions)
	if !ok {
		return
	}
	defer release()

	marked, err := session.MarkConversationRead(c.Request.Context(), c.Param("peerId"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"marked": marked})
}

type SetActiveRequest struct {
	PeerID string `json:"peer_id" binding:"required"`
}

func (h *ChatHandler) SetActive(c *gin.Context) {
	var req SetActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, release, ok := acquireSession(c, h.sessions)
	if !ok {
		return
	}
	defer release()

	if err := session.Activate(c.Request.Context(), req.PeerID); err != nil {
		_ = c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *ChatHandler) ClearActive(c *gin.Context) {
	peerID := c.Query("peer_id")
	if peerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "peer_id is required"})
		return
	}

	session, release, ok := acquireSession(c, h.sessions)
	if !ok {
		return
	}
	defer release()

	if err := session.Deactivate(c.Request.Context(), peerID); err != nil {
		_ = c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}
