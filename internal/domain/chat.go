package domain

import (
	"strings"
	"time"
)

// ConversationIDSeparator разделяет идентификаторы участников в ID беседы.
const ConversationIDSeparator = "_"

const (
	PreviewEmpty = "Start a conversation"
	PreviewFile  = "File sent"
)

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Sender         string    `json:"sender"`
	Text           string    `json:"text,omitempty"`
	// FileRef - ссылка на объект в хранилище; FileURL вычисляется при чтении.
	FileRef        string    `json:"-"`
	FileURL        string    `json:"file_url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	Read           bool      `json:"read"`
}

// IsUnreadFor - входящее и еще не прочитанное сообщение.
func (m *Message) IsUnreadFor(uid string) bool {
	return m.Sender != uid && !m.Read
}

func (m *Message) HasFile() bool {
	return m.FileRef != "" || m.FileURL != ""
}

func (m *Message) Preview() string {
	switch {
	case m == nil:
		return PreviewEmpty
	case m.Text != "":
		return m.Text
	case m.HasFile():
		return PreviewFile
	default:
		return PreviewEmpty
	}
}

// ConversationID - симметричный ключ беседы: меньший идентификатор, затем больший.
func ConversationID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ConversationIDSeparator + b
}

// ConversationPeer возвращает второго участника беседы.
func ConversationPeer(conversationID, uid string) (string, bool) {
	if peer, ok := strings.CutPrefix(conversationID, uid+ConversationIDSeparator); ok && peer != "" {
		return peer, true
	}
	if peer, ok := strings.CutSuffix(conversationID, ConversationIDSeparator+uid); ok && peer != "" {
		return peer, true
	}
	return "", false
}

type Conversation struct {
	ID           string     `json:"id"`
	PeerID       string     `json:"peer_id"`
	Messages     []*Message `json:"messages"`
	LastActivity time.Time  `json:"last_activity"`
}

func (c *Conversation) LastMessage() *Message {
	if c == nil || len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[len(c.Messages)-1]
}

type ChatListEntry struct {
	ConversationID string    `json:"conversation_id"`
	User           *User     `json:"user"`
	LastMessage    *Message  `json:"last_message,omitempty"`
	Preview        string    `json:"preview"`
	UnreadCount    int       `json:"unread_count"`
	LastActivity   time.Time `json:"last_activity"`
	HasStory       bool      `json:"has_story"`
}

// InboundNotification - событие для всплывающего уведомления о новом входящем сообщении.
type InboundNotification struct {
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name"`
	UnreadCount    int       `json:"unread_count"`
	At             time.Time `json:"at"`
}
