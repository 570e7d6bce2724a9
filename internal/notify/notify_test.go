package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"vault_chat/internal/domain"
)

func TestNewEvent_Encoding(t *testing.T) {
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	event := NewEvent("bob", domain.InboundNotification{
		ConversationID: "alice_bob",
		SenderID:       "alice",
		SenderName:     "Alice",
		UnreadCount:    3,
		At:             at,
	})

	raw, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, EventInboundMessage, decoded["type"])
	assert.Equal(t, "bob", decoded["recipient_id"])
	assert.Equal(t, "alice_bob", decoded["conversation_id"])
	assert.Equal(t, float64(3), decoded["unread_count"])
}

func TestNopPublisher(t *testing.T) {
	p := NewNopPublisher()
	assert.NoError(t, p.PublishInbound(context.Background(), "bob", domain.InboundNotification{}))
	assert.NoError(t, p.Close())
}
