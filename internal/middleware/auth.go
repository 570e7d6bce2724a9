package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"vault_chat/internal/domain"
	"vault_chat/internal/service"
	"vault_chat/pkg/errors"
	"vault_chat/pkg/logger"
)

const (
	ContextUserKey   = "user"
	ContextUserIDKey = "user_id"
)

type AuthMiddleware struct {
	authService service.AuthService
	log         logger.Logger
}

func NewAuthMiddleware(authService service.AuthService, log logger.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		authService: authService,
		log:         log,
	}
}

func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		user, err := m.authService.ValidateToken(c.Request.Context(), token)
		if err != nil {
			status := errors.HTTPStatusFromError(err)
			if status == http.StatusInternalServerError {
				m.log.Error("Failed to validate token", "error", err)
				c.JSON(status, gin.H{"error": "Internal server error"})
			} else {
				c.JSON(status, gin.H{"error": "Invalid or expired token"})
			}
			c.Abort()
			return
		}

		c.Set(ContextUserKey, user)
		c.Set(ContextUserIDKey, user.UID)
		c.Next()
	}
}

// bearerToken читает токен из заголовка Authorization, а для websocket - из ?token=,
// так как браузер не умеет выставлять заголовки при апгрейде.
func bearerToken(c *gin.Context) (string, bool) {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if token := c.Query("token"); token != "" {
		return token, true
	}
	return "", false
}

// CurrentUser возвращает пользователя, проставленного RequireAuth.
func CurrentUser(c *gin.Context) (*domain.User, bool) {
	value, ok := c.Get(ContextUserKey)
	if !ok {
		return nil, false
	}
	user, ok := value.(*domain.User)
	return user, ok
}
