// Package notify публикует события о новых входящих сообщениях для внешних потребителей
// (доставка push-уведомлений живет вне этого сервиса).
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"vault_chat/internal/domain"
	"vault_chat/pkg/logger"
)

type Publisher interface {
	PublishInbound(ctx context.Context, recipientID string, n domain.InboundNotification) error
	Close() error
}

// Event - формат сообщения в топике.
type Event struct {
	Type           string    `json:"type"`
	RecipientID    string    `json:"recipient_id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name"`
	UnreadCount    int       `json:"unread_count"`
	At             time.Time `json:"at"`
}

const EventInboundMessage = "chat.inbound_message"

func NewEvent(recipientID string, n domain.InboundNotification) Event {
	return Event{
		Type:           EventInboundMessage,
		RecipientID:    recipientID,
		ConversationID: n.ConversationID,
		SenderID:       n.SenderID,
		SenderName:     n.SenderName,
		UnreadCount:    n.UnreadCount,
		At:             n.At,
	}
}

type kafkaPublisher struct {
	w   *kafka.Writer
	log logger.Logger
}

// NewKafkaPublisher создает асинхронного писателя; ошибки доставки только логируются.
func NewKafkaPublisher(brokers []string, topic string, log logger.Logger) Publisher {
	p := &kafkaPublisher{log: log}
	p.w = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				p.log.Warn("Failed to deliver notification events", "error", err, "count", len(messages))
			}
		},
	}
	return p
}

func (p *kafkaPublisher) PublishInbound(ctx context.Context, recipientID string, n domain.InboundNotification) error {
	payload, err := json.Marshal(NewEvent(recipientID, n))
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	// Ключ по получателю сохраняет порядок событий одного пользователя.
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(recipientID),
		Value: payload,
		Time:  n.At,
	})
}

func (p *kafkaPublisher) Close() error {
	return p.w.Close()
}

type nopPublisher struct{}

func NewNopPublisher() Publisher {
	return nopPublisher{}
}

func (nopPublisher) PublishInbound(context.Context, string, domain.InboundNotification) error {
	return nil
}

func (nopPublisher) Close() error { return nil }
