package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"vault_chat/pkg/logger"
)

func RequestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		// Токен websocket передается в query и не должен попадать в лог.
		if raw != "" && c.Query("token") == "" {
			path = path + "?" + raw
		}

		keyvals := []interface{}{
			"client_ip", c.ClientIP(),
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		}
		if requestID, ok := c.Get(ContextRequestIDKey); ok {
			keyvals = append(keyvals, "request_id", requestID)
		}
		if userID, ok := c.Get(ContextUserIDKey); ok {
			keyvals = append(keyvals, "user_id", userID)
		}

		if c.Writer.Status() >= 500 {
			log.Warn("HTTP request", keyvals...)
			return
		}
		log.Info("HTTP request", keyvals...)
	}
}
