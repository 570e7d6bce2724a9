package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"vault_chat/internal/middleware"
	"vault_chat/internal/service"
	"vault_chat/pkg/logger"
)

type AuthHandler struct {
	sessions service.SessionManager
	log      logger.Logger
}

func NewAuthHandler(sessions service.SessionManager, log logger.Logger) *AuthHandler {
	return &AuthHandler{
		sessions: sessions,
		log:      log,
	}
}

// Logout закрывает сессию пользователя: все подписки отменяются, websocket-клиенты отключаются.
func (h *AuthHandler) Logout(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	h.sessions.Logout(user.UID)
	c.Status(http.StatusNoContent)
}
