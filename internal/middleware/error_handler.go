package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"vault_chat/pkg/errors"
	"vault_chat/pkg/logger"
)

func ErrorHandler(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Проверяем есть ли ошибки
		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last()
		statusCode := errors.HTTPStatusFromError(err.Err)

		message := err.Error()
		if statusCode == http.StatusInternalServerError {
			log.Error("Request failed", "error", err.Err, "path", c.FullPath())
			message = "Internal server error"
		}

		c.JSON(statusCode, gin.H{
			"error": message,
		})
	}
}
