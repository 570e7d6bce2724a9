package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"vault_chat/internal/domain"
	apperrors "vault_chat/pkg/errors"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func msg(id, sender string, read bool, at time.Time) *domain.Message {
	return &domain.Message{ID: id, Sender: sender, Text: "text " + id, Read: read, CreatedAt: at}
}

func TestCountUnread(t *testing.T) {
	tests := []struct {
		name     string
		messages []*domain.Message
		want     int
	}{
		{name: "empty", messages: nil, want: 0},
		{name: "own messages ignored", messages: []*domain.Message{msg("1", "me", false, t0)}, want: 0},
		{name: "read inbound ignored", messages: []*domain.Message{msg("1", "peer", true, t0)}, want: 0},
		{name: "mixed", messages: []*domain.Message{
			msg("1", "peer", false, t0),
			msg("2", "me", false, t0.Add(time.Second)),
			msg("3", "peer", true, t0.Add(2*time.Second)),
			msg("4", "peer", false, t0.Add(3*time.Second)),
		}, want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CountUnread(tt.messages, "me"))
		})
	}
}

func TestUnreadTracker_Notifications(t *testing.T) {
	tracker := NewUnreadTracker("me")
	id := domain.ConversationID("me", "peer")

	conv := &domain.Conversation{ID: id, PeerID: "peer", Messages: []*domain.Message{msg("1", "peer", false, t0)}}
	_, notify := tracker.Update(conv, true)
	assert.False(t, notify, "first snapshot is a baseline")
	assert.Equal(t, 1, tracker.Count(id))

	conv = &domain.Conversation{ID: id, PeerID: "peer", Messages: append(conv.Messages, msg("2", "peer", false, t0.Add(time.Second)))}
	n, notify := tracker.Update(conv, false)
	require.True(t, notify)
	assert.Equal(t, "peer", n.SenderID)
	assert.Equal(t, 2, n.UnreadCount)
	assert.Equal(t, t0.Add(time.Second), n.At)

	conv = &domain.Conversation{ID: id, PeerID: "peer", Messages: append(conv.Messages, msg("3", "me", false, t0.Add(2*time.Second)))}
	_, notify = tracker.Update(conv, false)
	assert.False(t, notify, "own message does not notify")

	tracker.Activate(id)
	conv = &domain.Conversation{ID: id, PeerID: "peer", Messages: append(conv.Messages, msg("4", "peer", false, t0.Add(3*time.Second)))}
	_, notify = tracker.Update(conv, false)
	assert.False(t, notify, "active conversation is silent")
	assert.Equal(t, 3, tracker.Count(id))

	tracker.Forget(id)
	assert.Empty(t, tracker.Active())
	assert.Equal(t, 0, tracker.Count(id))
}

func TestUnreadTracker_ActivePerClient(t *testing.T) {
	tracker := NewUnreadTracker("me")
	id := domain.ConversationID("me", "peer")
	other := domain.ConversationID("me", "other")

	// Два клиента открыли одну беседу, третий - другую.
	tracker.Activate(id)
	tracker.Activate(id)
	tracker.Activate(other)
	assert.Equal(t, []string{other, id}, tracker.Active())

	tracker.Deactivate(id)
	assert.True(t, tracker.IsActive(id), "still open in the second client")

	tracker.Deactivate(id)
	assert.False(t, tracker.IsActive(id))
	assert.True(t, tracker.IsActive(other))

	// Лишний Deactivate не уводит счетчик в минус.
	tracker.Deactivate(id)
	tracker.Activate(id)
	assert.True(t, tracker.IsActive(id))
}

func TestBuildRoster(t *testing.T) {
	coop := &domain.User{UID: "coop", Role: domain.RoleCooperative, DisplayName: "Coop"}
	coop2 := &domain.User{UID: "coop2", Role: domain.RoleCooperative, DisplayName: "Coop 2"}
	ind := &domain.User{UID: "ind", Role: domain.RoleIndividual, DisplayName: "Ind"}
	ghost := &domain.User{UID: "ghost", Role: domain.RoleCooperative, DisplayName: "Ghost"}

	t.Run("individual sees cooperatives only", func(t *testing.T) {
		roster := BuildRoster(ind, []*domain.User{coop, coop2, ind}, []*domain.User{coop, coop2, ind})
		assert.Len(t, roster.Partners, 2)
		assert.Contains(t, roster.Partners, "coop")
		assert.NotContains(t, roster.Partners, "ind")
	})

	t.Run("partner missing from directory is dropped", func(t *testing.T) {
		roster := BuildRoster(ind, []*domain.User{coop, ghost}, []*domain.User{coop, ind})
		assert.Len(t, roster.Partners, 1)
		assert.False(t, roster.Exists("ghost"))
	})

	t.Run("cooperative sees everyone but self", func(t *testing.T) {
		roster := BuildRoster(coop, []*domain.User{coop, coop2, ind}, []*domain.User{coop, coop2, ind})
		assert.Len(t, roster.Partners, 2)
		assert.NotContains(t, roster.Partners, "coop")
	})
}

func TestProject(t *testing.T) {
	alice := &domain.User{UID: "alice", DisplayName: "Alice"}
	bob := &domain.User{UID: "bob", DisplayName: "Bob"}
	carol := &domain.User{UID: "carol", DisplayName: "Carol"}
	dave := &domain.User{UID: "dave", DisplayName: "Alice"}

	roster := domain.NewRoster()
	for _, u := range []*domain.User{alice, bob, carol, dave} {
		roster.Partners[u.UID] = u
		roster.Existing[u.UID] = struct{}{}
	}

	bobConv := &domain.Conversation{
		ID:           domain.ConversationID("me", "bob"),
		PeerID:       "bob",
		Messages:     []*domain.Message{msg("1", "bob", false, t0)},
		LastActivity: t0,
	}
	carolConv := &domain.Conversation{
		ID:           domain.ConversationID("me", "carol"),
		PeerID:       "carol",
		Messages:     []*domain.Message{{ID: "2", Sender: "me", FileURL: "mem://f", CreatedAt: t0.Add(time.Minute)}},
		LastActivity: t0.Add(time.Minute),
	}
	orphan := &domain.Conversation{ID: domain.ConversationID("me", "gone"), PeerID: "gone"}

	conversations := map[string]*domain.Conversation{
		bobConv.ID:   bobConv,
		carolConv.ID: carolConv,
		orphan.ID:    orphan,
	}
	unread := map[string]int{bobConv.ID: 1}
	stories := map[string]struct{}{"alice": {}}

	entries, orphans := Project("me", roster, conversations, unread, stories)

	assert.Equal(t, []string{orphan.ID}, orphans)
	require.Len(t, entries, 4)

	assert.Equal(t, "carol", entries[0].User.UID)
	assert.Equal(t, domain.PreviewFile, entries[0].Preview)

	assert.Equal(t, "bob", entries[1].User.UID)
	assert.Equal(t, "text 1", entries[1].Preview)
	assert.Equal(t, 1, entries[1].UnreadCount)

	// Без сообщений: по имени, затем по uid.
	assert.Equal(t, "alice", entries[2].User.UID)
	assert.Equal(t, "dave", entries[3].User.UID)
	assert.Equal(t, domain.PreviewEmpty, entries[2].Preview)
	assert.True(t, entries[2].HasStory)
	assert.False(t, entries[3].HasStory)
}

func TestActiveStoriesAndGrouping(t *testing.T) {
	now := t0.Add(48 * time.Hour)
	stories := []*domain.Story{
		{ID: "old", AuthorID: "a", CreatedAt: now.Add(-(24*time.Hour + time.Minute))},
		{ID: "a1", AuthorID: "a", CreatedAt: now.Add(-(23*time.Hour + 59*time.Minute))},
		{ID: "b1", AuthorID: "b", CreatedAt: now.Add(-time.Hour)},
		{ID: "a2", AuthorID: "a", CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "gone", AuthorID: "b", CreatedAt: now.Add(-time.Minute)},
	}

	active := ActiveStories(stories, map[string]struct{}{"gone": {}}, now)
	ids := make([]string, 0, len(active))
	for _, s := range active {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"a1", "a2", "b1"}, ids)

	groups := GroupStories(active, func(uid string) string {
		if uid == "a" {
			return "Alice"
		}
		return domain.UnknownUserName
	})
	require.Len(t, groups, 2)
	assert.Equal(t, "b", groups[0].AuthorID)
	assert.Equal(t, domain.UnknownUserName, groups[0].AuthorName)
	assert.Equal(t, "Alice", groups[1].AuthorName)
	assert.Len(t, groups[1].Stories, 2)
}

func TestStoryMediaPath(t *testing.T) {
	assert.Equal(t, "stories/u1_1717243200000", StoryMediaPath("u1", t0))
}

func TestEventLoop(t *testing.T) {
	l := newEventLoop()

	var order []int
	for i := 0; i < 100; i++ {
		i := i
		l.Dispatch(func() { order = append(order, i) })
	}

	var n int
	require.NoError(t, l.Call(context.Background(), func() { n = len(order) }))
	assert.Equal(t, 100, n)
	for i, v := range order {
		assert.Equal(t, i, v)
	}

	l.Stop()
	assert.False(t, l.Dispatch(func() {}))
	assert.ErrorIs(t, l.Call(context.Background(), func() {}), apperrors.ErrSessionClosed)
	l.Stop()
}
