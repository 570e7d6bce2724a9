package service

import (
	"sort"

	"vault_chat/internal/domain"
)

// Project строит список чатов: по записи на каждого собеседника, от недавней активности
// к давней; собеседники без сообщений в конце, при равенстве - по имени, затем по uid.
// Вторым значением возвращаются беседы, чей собеседник пропал из справочника.
func Project(me string, roster *domain.Roster, conversations map[string]*domain.Conversation, unread map[string]int, storyAuthors map[string]struct{}) ([]domain.ChatListEntry, []string) {
	var orphans []string
	for id, conv := range conversations {
		if !roster.Exists(conv.PeerID) {
			orphans = append(orphans, id)
		}
	}
	sort.Strings(orphans)

	entries := make([]domain.ChatListEntry, 0, len(roster.Partners))
	for uid, user := range roster.Partners {
		id := domain.ConversationID(me, uid)
		entry := domain.ChatListEntry{
			ConversationID: id,
			User:           user,
			Preview:        domain.PreviewEmpty,
		}
		if conv, ok := conversations[id]; ok {
			last := conv.LastMessage()
			entry.LastMessage = last
			entry.Preview = last.Preview()
			entry.LastActivity = conv.LastActivity
			entry.UnreadCount = unread[id]
		}
		_, entry.HasStory = storyAuthors[uid]
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.LastActivity.Equal(b.LastActivity) {
			return a.LastActivity.After(b.LastActivity)
		}
		if a.User.DisplayName != b.User.DisplayName {
			return a.User.DisplayName < b.User.DisplayName
		}
		return a.User.UID < b.User.UID
	})

	return entries, orphans
}
