package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"vault_chat/internal/config"
	"vault_chat/internal/service"
)

type HealthHandler struct {
	sessions    service.SessionManager
	environment string
	store       string
	storage     string
}

func NewHealthHandler(cfg *config.Config, sessions service.SessionManager) *HealthHandler {
	return &HealthHandler{
		sessions:    sessions,
		environment: cfg.Environment,
		store:       cfg.Store.Backend,
		storage:     cfg.Storage.Backend,
	}
}

func (h *HealthHandler) Check(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"service":         "vault-chat",
		"environment":     h.environment,
		"store":           h.store,
		"storage":         h.storage,
		"active_sessions": h.sessions.Active(),
	})
}
