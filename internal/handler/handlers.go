package handler

import (
	"vault_chat/internal/config"
	"vault_chat/internal/service"
	"vault_chat/pkg/logger"
)

type Handlers struct {
	Health    *HealthHandler
	Auth      *AuthHandler
	User      *UserHandler
	Chat      *ChatHandler
	Story     *StoryHandler
	WebSocket *WebSocketHandler
}

func NewHandlers(services *service.Services, cfg *config.Config, log logger.Logger) *Handlers {
	return &Handlers{
		Health:    NewHealthHandler(cfg, services.Sessions),
		Auth:      NewAuthHandler(services.Sessions, log),
		User:      NewUserHandler(log),
		Chat:      NewChatHandler(services.Sessions, cfg.Storage.MaxUpload, log),
		Story:     NewStoryHandler(services.Sessions, cfg.Storage.MaxUpload, log),
		WebSocket: NewWebSocketHandler(services.Sessions, log),
	}
}
