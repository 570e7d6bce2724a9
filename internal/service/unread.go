package service

import (
	"sort"

	"vault_chat/internal/domain"
)

// CountUnread пересчитывает непрочитанные входящие сообщения с нуля.
func CountUnread(messages []*domain.Message, me string) int {
	n := 0
	for _, m := range messages {
		if m.IsUnreadFor(me) {
			n++
		}
	}
	return n
}

// UnreadTracker хранит счетчики по беседам и решает, когда показывать уведомление.
// Используется только из цикла сессии.
type UnreadTracker struct {
	me     string
	counts map[string]int
	// Число клиентов, у которых беседа открыта.
	active map[string]int
}

func NewUnreadTracker(me string) *UnreadTracker {
	return &UnreadTracker{me: me, counts: make(map[string]int), active: make(map[string]int)}
}

// Update пересчитывает счетчик беседы. Уведомление возвращается, только если счетчик вырос,
// беседа не активна и снимок не первый (baseline).
func (t *UnreadTracker) Update(conv *domain.Conversation, baseline bool) (domain.InboundNotification, bool) {
	count := CountUnread(conv.Messages, t.me)
	previous := t.counts[conv.ID]
	t.counts[conv.ID] = count

	if baseline || count <= previous || t.IsActive(conv.ID) {
		return domain.InboundNotification{}, false
	}

	latest := lastInbound(conv.Messages, t.me)
	if latest == nil {
		return domain.InboundNotification{}, false
	}
	return domain.InboundNotification{
		ConversationID: conv.ID,
		SenderID:       latest.Sender,
		UnreadCount:    count,
		At:             latest.CreatedAt,
	}, true
}

func (t *UnreadTracker) Count(conversationID string) int {
	return t.counts[conversationID]
}

func (t *UnreadTracker) Counts() map[string]int {
	out := make(map[string]int, len(t.counts))
	for id, n := range t.counts {
		out[id] = n
	}
	return out
}

func (t *UnreadTracker) Forget(conversationID string) {
	delete(t.counts, conversationID)
	delete(t.active, conversationID)
}

// Activate отмечает беседу открытой еще одним клиентом.
func (t *UnreadTracker) Activate(conversationID string) {
	t.active[conversationID]++
}

// Deactivate снимает одну отметку; беседа остается активной, пока открыта у других клиентов.
func (t *UnreadTracker) Deactivate(conversationID string) {
	if t.active[conversationID] <= 1 {
		delete(t.active, conversationID)
		return
	}
	t.active[conversationID]--
}

func (t *UnreadTracker) IsActive(conversationID string) bool {
	return t.active[conversationID] > 0
}

// Active - открытые беседы в порядке идентификаторов.
func (t *UnreadTracker) Active() []string {
	ids := make([]string, 0, len(t.active))
	for id := range t.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func lastInbound(messages []*domain.Message, me string) *domain.Message {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Sender != me {
			return messages[i]
		}
	}
	return nil
}
