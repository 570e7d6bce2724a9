package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"vault_chat/internal/middleware"
	"vault_chat/internal/service"
	apperrors "vault_chat/pkg/errors"
)

var errTooLarge = errors.New("upload too large")

// acquireSession берет сессию текущего пользователя на время запроса.
// При ошибке ответ уже записан или ошибка передана в ErrorHandler.
func acquireSession(c *gin.Context, sessions service.SessionManager) (*service.Session, func(), bool) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return nil, nil, false
	}

	session, release, err := sessions.Acquire(c.Request.Context(), user)
	if err != nil {
		_ = c.Error(err)
		return nil, nil, false
	}
	return session, release, true
}

// readUpload читает файл из multipart-формы. Отсутствие поля - не ошибка.
func readUpload(c *gin.Context, field string, maxSize int64) (*service.Attachment, error) {
	file, header, err := c.Request.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrBadRequest, err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > maxSize {
		return nil, errTooLarge
	}
	return &service.Attachment{Name: header.Filename, Data: data}, nil
}

func respondUploadError(c *gin.Context, err error) {
	if errors.Is(err, errTooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		return
	}
	_ = c.Error(err)
}
