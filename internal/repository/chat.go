package repository

import (
	"context"
	"fmt"

	"vault_chat/internal/domain"
	"vault_chat/internal/store"
	"vault_chat/pkg/logger"
)

type ChatRepository interface {
	// WatchMessages доставляет сообщения беседы по возрастанию времени создания.
	WatchMessages(ctx context.Context, conversationID string, fn func([]*domain.Message)) (store.Subscription, error)
	CreateMessage(ctx context.Context, message *domain.Message) error
	// MarkRead помечает сообщения прочитанными одним атомарным батчем.
	MarkRead(ctx context.Context, conversationID string, messageIDs []string) error
}

type chatRepository struct {
	docs store.DocumentStore
	log  logger.Logger
}

func NewChatRepository(docs store.DocumentStore, log logger.Logger) ChatRepository {
	return &chatRepository{docs: docs, log: log}
}

func (r *chatRepository) WatchMessages(ctx context.Context, conversationID string, fn func([]*domain.Message)) (store.Subscription, error) {
	q := store.Query{
		Collection:     MessagesCollection(conversationID),
		OrderByCreated: true,
	}

	sub, err := r.docs.Subscribe(ctx, q, func(docs []store.Document) {
		messages := make([]*domain.Message, 0, len(docs))
		for _, doc := range docs {
			messages = append(messages, messageFromDocument(conversationID, doc))
		}
		fn(messages)
	})
	if err != nil {
		r.log.Error("Failed to subscribe to messages", "error", err, "conversation_id", conversationID)
		return nil, err
	}
	return sub, nil
}

func (r *chatRepository) CreateMessage(ctx context.Context, message *domain.Message) error {
	doc, err := r.docs.Add(ctx, MessagesCollection(message.ConversationID), messageToFields(message))
	if err != nil {
		r.log.Error("Failed to create message", "error", err, "conversation_id", message.ConversationID)
		return fmt.Errorf("create message: %w", err)
	}

	message.ID = doc.Ref.ID
	message.CreatedAt = doc.CreatedAt
	return nil
}

func (r *chatRepository) MarkRead(ctx context.Context, conversationID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	collection := MessagesCollection(conversationID)
	updates := make([]store.Update, 0, len(messageIDs))
	for _, id := range messageIDs {
		updates = append(updates, store.Update{
			Ref:    store.Ref{Collection: collection, ID: id},
			Fields: map[string]any{fieldRead: true},
		})
	}

	if err := r.docs.Batch(ctx, updates); err != nil {
		r.log.Error("Failed to mark messages read", "error", err, "conversation_id", conversationID, "count", len(messageIDs))
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}
