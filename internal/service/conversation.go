package service

import (
	"context"
	"time"

	"vault_chat/internal/domain"
	"vault_chat/internal/metrics"
	"vault_chat/internal/repository"
	"vault_chat/internal/store"
	"vault_chat/pkg/logger"
)

// ConversationStore держит по одной подписке на сообщения для каждого собеседника из списка.
// Все методы вызываются из цикла сессии.
type ConversationStore struct {
	chats    repository.ChatRepository
	me       string
	dispatch func(func()) bool
	// onUpdate получает новый снимок беседы; first - первый снимок после открытия подписки.
	onUpdate func(conv *domain.Conversation, first bool)
	metrics  *metrics.Metrics
	log      logger.Logger

	entries map[string]*conversationEntry
}

type conversationEntry struct {
	conv   *domain.Conversation
	sub    store.Subscription
	loaded bool
}

func NewConversationStore(chats repository.ChatRepository, me string, dispatch func(func()) bool, onUpdate func(*domain.Conversation, bool), m *metrics.Metrics, log logger.Logger) *ConversationStore {
	return &ConversationStore{
		chats:    chats,
		me:       me,
		dispatch: dispatch,
		onUpdate: onUpdate,
		metrics:  m,
		log:      log,
		entries:  make(map[string]*conversationEntry),
	}
}

// Sync приводит набор подписок к списку собеседников: открывает недостающие и
// закрывает подписки ушедших. Возвращает ID закрытых бесед.
func (s *ConversationStore) Sync(ctx context.Context, roster *domain.Roster) []string {
	wanted := make(map[string]string, len(roster.Partners))
	for uid := range roster.Partners {
		wanted[domain.ConversationID(s.me, uid)] = uid
	}

	var released []string
	for id := range s.entries {
		if _, ok := wanted[id]; !ok {
			s.Release(id)
			released = append(released, id)
		}
	}

	for id, peer := range wanted {
		if _, ok := s.entries[id]; ok {
			continue
		}
		// Ошибка подписки не фатальна: беседа откроется при следующем изменении списка.
		if err := s.open(ctx, id, peer); err != nil {
			s.log.Warn("Failed to open conversation", "error", err, "conversation_id", id)
		}
	}

	return released
}

func (s *ConversationStore) open(ctx context.Context, id, peer string) error {
	entry := &conversationEntry{
		conv: &domain.Conversation{ID: id, PeerID: peer, Messages: []*domain.Message{}},
	}
	// Запись регистрируется до подписки: начальный снимок может прийти синхронно.
	s.entries[id] = entry

	sub, err := s.chats.WatchMessages(ctx, id, func(messages []*domain.Message) {
		s.dispatch(func() { s.apply(entry, messages) })
	})
	if err != nil {
		delete(s.entries, id)
		return err
	}

	entry.sub = sub
	s.metrics.SubscriptionOpened(metrics.SubscriptionMessages)
	return nil
}

func (s *ConversationStore) apply(entry *conversationEntry, messages []*domain.Message) {
	// Колбэк отмененной подписки: запись уже удалена или заменена новой.
	if current, ok := s.entries[entry.conv.ID]; !ok || current != entry {
		return
	}

	conv := &domain.Conversation{
		ID:       entry.conv.ID,
		PeerID:   entry.conv.PeerID,
		Messages: messages,
	}
	conv.LastActivity = lastActivity(messages)
	entry.conv = conv

	first := !entry.loaded
	entry.loaded = true
	s.onUpdate(conv, first)
}

// Release отменяет подписку беседы и забывает ее состояние. Данные в хранилище не трогаются.
func (s *ConversationStore) Release(id string) {
	entry, ok := s.entries[id]
	if !ok {
		return
	}
	delete(s.entries, id)

	if entry.sub != nil {
		entry.sub.Cancel()
		s.metrics.SubscriptionClosed(metrics.SubscriptionMessages)
	}
}

func (s *ConversationStore) Get(id string) (*domain.Conversation, bool) {
	entry, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	return entry.conv, true
}

// Snapshot возвращает текущее состояние всех бесед по ID.
func (s *ConversationStore) Snapshot() map[string]*domain.Conversation {
	out := make(map[string]*domain.Conversation, len(s.entries))
	for id, entry := range s.entries {
		out[id] = entry.conv
	}
	return out
}

// Pending - число бесед, по которым еще не пришел первый снимок.
func (s *ConversationStore) Pending() int {
	n := 0
	for _, entry := range s.entries {
		if !entry.loaded {
			n++
		}
	}
	return n
}

func (s *ConversationStore) Len() int {
	return len(s.entries)
}

func (s *ConversationStore) Close() {
	for id := range s.entries {
		s.Release(id)
	}
}

func lastActivity(messages []*domain.Message) time.Time {
	var last time.Time
	for _, m := range messages {
		if m.CreatedAt.After(last) {
			last = m.CreatedAt
		}
	}
	return last
}
