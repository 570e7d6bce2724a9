package errors

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrForbidden            = errors.New("forbidden")
	ErrBadRequest           = errors.New("bad request")
	ErrInternalServer       = errors.New("internal server error")
	ErrInvalidToken         = errors.New("invalid token")
	ErrTokenExpired         = errors.New("token expired")
	ErrUserNotFound         = errors.New("user not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrStoryNotFound        = errors.New("story not found")
	ErrEmptyMessage         = errors.New("message has neither text nor attachment")
	ErrUploadFailed         = errors.New("media upload failed")
	ErrWriteFailed          = errors.New("store write failed")
	ErrSessionClosed        = errors.New("session closed")
	ErrRateLimited          = errors.New("rate limit exceeded")
)

type APIError struct {
	Message string `json:"error"`
	Code    int    `json:"code"`
}

func (e *APIError) Error() string {
	return e.Message
}

func NewAPIError(message string, code int) *APIError {
	return &APIError{
		Message: message,
		Code:    code,
	}
}

// Is проксирует стандартный errors.Is, чтобы не импортировать оба пакета.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

func HTTPStatusFromError(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}

	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrConversationNotFound), errors.Is(err, ErrStoryNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrInvalidToken), errors.Is(err, ErrTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrUploadFailed), errors.Is(err, ErrWriteFailed):
		return http.StatusBadGateway
	case errors.Is(err, ErrSessionClosed):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}
