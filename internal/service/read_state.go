package service

import (
	"context"
	"fmt"

	"vault_chat/internal/domain"
	"vault_chat/internal/metrics"
	"vault_chat/internal/repository"
	apperrors "vault_chat/pkg/errors"
	"vault_chat/pkg/logger"
)

// SelectUnread возвращает ID входящих непрочитанных сообщений снимка.
func SelectUnread(conv *domain.Conversation, me string) []string {
	var ids []string
	for _, m := range conv.Messages {
		if m.IsUnreadFor(me) {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// ReadStateCommitter переводит сообщения в прочитанные. Работает в горутине вызывающего,
// а не в цикле сессии.
type ReadStateCommitter struct {
	chats   repository.ChatRepository
	me      string
	metrics *metrics.Metrics
	log     logger.Logger
}

func NewReadStateCommitter(chats repository.ChatRepository, me string, m *metrics.Metrics, log logger.Logger) *ReadStateCommitter {
	return &ReadStateCommitter{chats: chats, me: me, metrics: m, log: log}
}

// MarkConversationRead пишет read=true одним батчем для всех непрочитанных входящих
// сообщений снимка и возвращает их число. Пустая выборка ничего не пишет.
func (c *ReadStateCommitter) MarkConversationRead(ctx context.Context, conv *domain.Conversation) (int, error) {
	ids := SelectUnread(conv, c.me)
	if len(ids) == 0 {
		return 0, nil
	}

	if err := c.chats.MarkRead(ctx, conv.ID, ids); err != nil {
		c.metrics.WriteFailed("mark_read")
		return 0, fmt.Errorf("%w: %w", apperrors.ErrWriteFailed, err)
	}

	c.log.Debug("Conversation marked read", "conversation_id", conv.ID, "count", len(ids))
	return len(ids), nil
}
