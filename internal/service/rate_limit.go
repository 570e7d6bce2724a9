package service

import (
	"context"

	"vault_chat/internal/config"
	"vault_chat/internal/repository"
	"vault_chat/pkg/logger"
)

type RateLimitService interface {
	// Allow учитывает запрос по ключу и сообщает, укладывается ли он в лимит.
	Allow(ctx context.Context, key string) (bool, error)
}

type rateLimitService struct {
	rateLimitRepo repository.RateLimitRepository
	cfg           config.RateLimitConfig
	log           logger.Logger
}

func NewRateLimitService(rateLimitRepo repository.RateLimitRepository, cfg config.RateLimitConfig, log logger.Logger) RateLimitService {
	return &rateLimitService{
		rateLimitRepo: rateLimitRepo,
		cfg:           cfg,
		log:           log,
	}
}

func (s *rateLimitService) Allow(ctx context.Context, key string) (bool, error) {
	if s.cfg.Requests <= 0 {
		return true, nil
	}
	allowed, err := s.rateLimitRepo.Allow(ctx, key, s.cfg.Requests, s.cfg.Window)
	if err != nil {
		return false, err
	}
	if !allowed {
		s.log.Debug("Rate limit exceeded", "key", key)
	}
	return allowed, nil
}
