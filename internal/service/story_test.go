package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"vault_chat/internal/domain"
	"vault_chat/internal/metrics"
	"vault_chat/internal/repository"
	"vault_chat/internal/store"
	"vault_chat/internal/store/memstore"
	"vault_chat/internal/store/mocks"
	apperrors "vault_chat/pkg/errors"
	"vault_chat/pkg/logger"
)

func syncDispatch(fn func()) bool {
	fn()
	return true
}

type fakeTimer struct {
	wait    time.Duration
	fn      func()
	stopped bool
}

type fakeTimers struct {
	timers []*fakeTimer
}

func (f *fakeTimers) afterFunc(d time.Duration, fn func()) stopFunc {
	timer := &fakeTimer{wait: d, fn: fn}
	f.timers = append(f.timers, timer)
	return func() bool {
		timer.stopped = true
		return true
	}
}

func (f *fakeTimers) last() *fakeTimer {
	if len(f.timers) == 0 {
		return nil
	}
	return f.timers[len(f.timers)-1]
}

func newStoryManager(docs store.DocumentStore, blobs store.BlobStore, now func() time.Time, m *metrics.Metrics, onChange func()) *StoryLifecycleManager {
	log := logger.NewNop()
	return NewStoryLifecycleManager(
		repository.NewStoryRepository(docs, log),
		repository.NewMediaRepository(blobs, log),
		syncDispatch, onChange, now, m, log,
	)
}

func TestStoryLifecycleManager_ExpiresWithoutStoreEvent(t *testing.T) {
	docs := memstore.New()
	docs.SetClock(func() time.Time { return t0 })

	now := t0.Add(time.Hour)
	changes := 0
	timers := &fakeTimers{}
	m := newStoryManager(docs, memstore.NewBlobs(), func() time.Time { return now }, metrics.NewNop(), func() { changes++ })
	m.afterFunc = timers.afterFunc

	ctx := context.Background()
	_, err := m.Create(ctx, "alice", nil, "text only")
	require.NoError(t, err)

	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	require.Len(t, m.Active(), 1)
	timer := timers.last()
	require.NotNil(t, timer)
	assert.Equal(t, 23*time.Hour, timer.wait)

	now = t0.Add(24*time.Hour + time.Minute)
	before := changes
	timer.fn()

	assert.Empty(t, m.Active())
	assert.Greater(t, changes, before)
	assert.Empty(t, m.Authors())
}

func TestStoryLifecycleManager_TTLBoundary(t *testing.T) {
	docs := memstore.New()
	docs.SetClock(func() time.Time { return t0 })

	now := t0.Add(23*time.Hour + 59*time.Minute)
	m := newStoryManager(docs, memstore.NewBlobs(), func() time.Time { return now }, metrics.NewNop(), func() {})
	m.afterFunc = (&fakeTimers{}).afterFunc

	ctx := context.Background()
	_, err := m.Create(ctx, "alice", []byte("jpeg"), "")
	require.NoError(t, err)
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	assert.Len(t, m.Active(), 1)

	now = t0.Add(24*time.Hour + time.Minute)
	assert.Empty(t, m.Active())
}

func TestStoryLifecycleManager_UploadFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	docs := memstore.New()
	blobs := mocks.NewMockBlobStore(ctrl)
	blobs.EXPECT().Upload(gomock.Any(), gomock.Any(), []byte("jpeg")).Return("", errors.New("connection reset"))

	m := newStoryManager(docs, blobs, func() time.Time { return t0 }, metrics.NewNop(), func() {})

	story, err := m.Create(context.Background(), "alice", []byte("jpeg"), "caption")
	assert.Nil(t, story)
	assert.ErrorIs(t, err, apperrors.ErrUploadFailed)
	assert.Empty(t, docs.Documents("stories"))
}

func TestStoryLifecycleManager_RecordFailureRemovesUpload(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	docs := mocks.NewMockDocumentStore(ctrl)
	docs.EXPECT().Add(gomock.Any(), "stories", gomock.Any()).Return(store.Document{}, errors.New("unavailable"))
	blobs := memstore.NewBlobs()

	m := newStoryManager(docs, blobs, func() time.Time { return t0 }, metrics.NewNop(), func() {})

	_, err := m.Create(context.Background(), "alice", []byte("jpeg"), "caption")
	assert.ErrorIs(t, err, apperrors.ErrWriteFailed)
	assert.Empty(t, blobs.Keys())
}

func TestStoryLifecycleManager_MediaDeleteFailureIsCounted(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	docs := memstore.New()
	blobs := mocks.NewMockBlobStore(ctrl)
	path := StoryMediaPath("alice", t0)
	gomock.InOrder(
		blobs.EXPECT().Upload(gomock.Any(), path, gomock.Any()).Return(path, nil),
		blobs.EXPECT().URL(gomock.Any(), path).Return("https://cdn/"+path, nil),
		blobs.EXPECT().Delete(gomock.Any(), path).Return(errors.New("timeout")),
	)

	m := metrics.NewNop()
	manager := newStoryManager(docs, blobs, func() time.Time { return t0 }, m, func() {})
	manager.afterFunc = (&fakeTimers{}).afterFunc
	ctx := context.Background()
	require.NoError(t, manager.Start(ctx))
	defer manager.Stop()

	story, err := manager.Create(ctx, "alice", []byte("jpeg"), "caption")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/"+path, story.MediaURL)
	require.Len(t, manager.Active(), 1)

	require.NoError(t, manager.Delete(ctx, story.ID, story.MediaRef))
	assert.Empty(t, manager.Active())
	assert.Empty(t, docs.Documents("stories"))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OrphanedBlobs))
}

func TestStoryLifecycleManager_TombstoneHidesUntilSnapshot(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	docs := mocks.NewMockDocumentStore(ctrl)
	var listener store.Listener
	docs.EXPECT().Subscribe(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ store.Query, fn store.Listener) (store.Subscription, error) {
			listener = fn
			return store.SubscriptionFunc(func() {}), nil
		})
	docs.EXPECT().Delete(gomock.Any(), store.Ref{Collection: "stories", ID: "s1"}).Return(nil)

	manager := newStoryManager(docs, memstore.NewBlobs(), func() time.Time { return t0 }, metrics.NewNop(), func() {})
	manager.afterFunc = (&fakeTimers{}).afterFunc
	ctx := context.Background()
	require.NoError(t, manager.Start(ctx))
	defer manager.Stop()

	snapshot := []store.Document{{
		Ref:       store.Ref{Collection: "stories", ID: "s1"},
		Fields:    map[string]any{"userId": "alice", "caption": "hi"},
		CreatedAt: t0.Add(-time.Minute),
	}}
	listener(snapshot)
	require.Len(t, manager.Active(), 1)

	// Хранилище еще не прислало снимок без истории, но локально она уже скрыта.
	require.NoError(t, manager.Delete(ctx, "s1", ""))
	assert.Empty(t, manager.Active())

	listener(nil)
	assert.Empty(t, manager.tombstones)
}

func TestReadStateCommitter_BatchFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	docs := mocks.NewMockDocumentStore(ctrl)
	docs.EXPECT().Batch(gomock.Any(), gomock.Len(2)).Return(errors.New("aborted"))

	m := metrics.NewNop()
	log := logger.NewNop()
	committer := NewReadStateCommitter(repository.NewChatRepository(docs, log), "me", m, log)

	conv := &domain.Conversation{ID: "me_peer", PeerID: "peer", Messages: []*domain.Message{
		msg("1", "peer", false, t0),
		msg("2", "me", false, t0.Add(time.Second)),
		msg("3", "peer", false, t0.Add(2*time.Second)),
		msg("4", "peer", true, t0.Add(3*time.Second)),
	}}

	n, err := committer.MarkConversationRead(context.Background(), conv)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, apperrors.ErrWriteFailed)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StoreWriteFailures.WithLabelValues("mark_read")))

	// Пустая выборка не обращается к хранилищу.
	n, err = committer.MarkConversationRead(context.Background(), &domain.Conversation{ID: "me_peer"})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
