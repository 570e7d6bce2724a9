package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"vault_chat/internal/middleware"
	"vault_chat/pkg/logger"
)

type UserHandler struct {
	log logger.Logger
}

func NewUserHandler(log logger.Logger) *UserHandler {
	return &UserHandler{log: log}
}

func (h *UserHandler) GetMe(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	c.JSON(http.StatusOK, user)
}
