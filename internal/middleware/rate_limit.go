package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"vault_chat/internal/service"
	"vault_chat/pkg/logger"
)

type RateLimitMiddleware struct {
	rateLimitService service.RateLimitService
	log              logger.Logger
}

func NewRateLimitMiddleware(rateLimitService service.RateLimitService, log logger.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		rateLimitService: rateLimitService,
		log:              log,
	}
}

// Limit ограничивает запись по пользователю, а без авторизации - по IP.
func (m *RateLimitMiddleware) Limit(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := scope + ":" + c.ClientIP()
		if user, ok := CurrentUser(c); ok {
			key = scope + ":" + user.UID
		}

		allowed, err := m.rateLimitService.Allow(c.Request.Context(), key)
		if err != nil {
			// Недоступный Redis не должен останавливать переписку.
			m.log.Error("Rate limit check failed", "error", err)
			c.Next()
			return
		}

		if !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			c.Abort()
			return
		}

		c.Next()
	}
}
