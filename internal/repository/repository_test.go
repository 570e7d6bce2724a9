package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"vault_chat/internal/domain"
	"vault_chat/internal/store"
	"vault_chat/internal/store/memstore"
	apperrors "vault_chat/pkg/errors"
	"vault_chat/pkg/logger"
)

func seedUser(docs *memstore.Store, uid, role, name string) {
	docs.Put(store.Ref{Collection: CollectionUsers, ID: uid}, UserFields(&domain.User{UID: uid, Role: role, DisplayName: name}))
}

func TestUserRepository_WatchPartnersByRole(t *testing.T) {
	docs := memstore.New()
	seedUser(docs, "coop", domain.RoleCooperative, "Coop")
	seedUser(docs, "ind1", domain.RoleIndividual, "Ind One")
	seedUser(docs, "ind2", domain.RoleIndividual, "Ind Two")

	repo := NewUserRepository(docs, logger.NewNop())
	ctx := context.Background()

	var individualView []*domain.User
	sub, err := repo.WatchPartners(ctx, &domain.User{UID: "ind1", Role: domain.RoleIndividual}, func(users []*domain.User) {
		individualView = users
	})
	require.NoError(t, err)
	defer sub.Cancel()

	require.Len(t, individualView, 1)
	assert.Equal(t, "coop", individualView[0].UID)

	var coopView []*domain.User
	sub2, err := repo.WatchPartners(ctx, &domain.User{UID: "coop", Role: domain.RoleCooperative}, func(users []*domain.User) {
		coopView = users
	})
	require.NoError(t, err)
	defer sub2.Cancel()

	assert.Len(t, coopView, 3)
}

func TestUserRepository_GetByID(t *testing.T) {
	docs := memstore.New()
	seedUser(docs, "u1", domain.RoleIndividual, "Alice")
	repo := NewUserRepository(docs, logger.NewNop())

	user, err := repo.GetByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.DisplayName)
	assert.Nil(t, user.AvatarURL)

	_, err = repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrUserNotFound)
}

func TestChatRepository_CreateAndMarkRead(t *testing.T) {
	docs := memstore.New()
	repo := NewChatRepository(docs, logger.NewNop())
	ctx := context.Background()
	convID := domain.ConversationID("a", "b")

	var snapshots [][]*domain.Message
	sub, err := repo.WatchMessages(ctx, convID, func(messages []*domain.Message) {
		snapshots = append(snapshots, messages)
	})
	require.NoError(t, err)
	defer sub.Cancel()

	first := &domain.Message{ConversationID: convID, Sender: "a", Text: "hi"}
	second := &domain.Message{ConversationID: convID, Sender: "a", FileRef: "chats/a_b/f.pdf"}
	require.NoError(t, repo.CreateMessage(ctx, first))
	require.NoError(t, repo.CreateMessage(ctx, second))

	assert.NotEmpty(t, first.ID)
	assert.True(t, second.CreatedAt.After(first.CreatedAt))

	last := snapshots[len(snapshots)-1]
	require.Len(t, last, 2)
	assert.Equal(t, first.ID, last[0].ID)
	assert.Equal(t, "chats/a_b/f.pdf", last[1].FileRef)
	assert.Empty(t, last[1].FileURL)

	// В документе лежит ссылка на объект, а не временный URL.
	stored := docs.Documents(MessagesCollection(convID))
	require.Len(t, stored, 2)
	assert.Equal(t, "chats/a_b/f.pdf", stored[1].Fields["fileRef"])
	assert.NotContains(t, stored[1].Fields, "fileUrl")

	require.NoError(t, repo.MarkRead(ctx, convID, []string{first.ID, second.ID}))
	assert.Equal(t, 1, docs.Batches())

	last = snapshots[len(snapshots)-1]
	assert.True(t, last[0].Read)
	assert.True(t, last[1].Read)

	require.NoError(t, repo.MarkRead(ctx, convID, nil))
	assert.Equal(t, 1, docs.Batches())
}

func TestStoryRepository_Lifecycle(t *testing.T) {
	docs := memstore.New()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	docs.SetClock(func() time.Time { return base })

	repo := NewStoryRepository(docs, logger.NewNop())
	ctx := context.Background()

	story := &domain.Story{AuthorID: "a", MediaRef: "stories/a_1", Caption: "sunset"}
	require.NoError(t, repo.Create(ctx, story))
	assert.Equal(t, base, story.CreatedAt)
	assert.NotContains(t, docs.Documents("stories")[0].Fields, "mediaUrl")

	var seen []*domain.Story
	sub, err := repo.WatchSince(ctx, base.Add(-time.Hour), func(stories []*domain.Story) {
		seen = stories
	})
	require.NoError(t, err)
	defer sub.Cancel()
	require.Len(t, seen, 1)

	require.NoError(t, repo.AddViewer(ctx, story.ID, "b"))
	require.NoError(t, repo.AddViewer(ctx, story.ID, "b"))
	assert.Equal(t, []string{"b"}, seen[0].Viewers)

	got, err := repo.GetByID(ctx, story.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", got.AuthorID)

	require.NoError(t, repo.Delete(ctx, story.ID))
	assert.Empty(t, seen)
	assert.ErrorIs(t, repo.Delete(ctx, story.ID), apperrors.ErrStoryNotFound)
	assert.ErrorIs(t, repo.AddViewer(ctx, story.ID, "c"), apperrors.ErrStoryNotFound)
}

func TestMediaRepository_Store(t *testing.T) {
	blobs := memstore.NewBlobs()
	repo := NewMediaRepository(blobs, logger.NewNop())

	ref, err := repo.Store(context.Background(), "stories/a_1", []byte("jpeg"))
	require.NoError(t, err)
	assert.Equal(t, "stories/a_1", ref)

	url, err := repo.URL(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "mem://stories/a_1", url)

	require.NoError(t, repo.Delete(context.Background(), ref))
	assert.Empty(t, blobs.Keys())
	assert.Error(t, repo.Delete(context.Background(), ref))

	_, err = repo.URL(context.Background(), ref)
	assert.ErrorIs(t, err, store.ErrBlobNotFound)
}

func TestMemoryRateLimitRepository_Window(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := &memoryRateLimitRepository{windows: make(map[string]*rateWindow), now: func() time.Time { return now }}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := repo.Allow(ctx, "u1", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := repo.Allow(ctx, "u1", 2, time.Minute)
	assert.False(t, ok)

	ok, _ = repo.Allow(ctx, "u2", 2, time.Minute)
	assert.True(t, ok)

	now = now.Add(time.Minute)
	ok, _ = repo.Allow(ctx, "u1", 2, time.Minute)
	assert.True(t, ok)
}
