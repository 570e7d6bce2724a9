package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"vault_chat/internal/domain"
	"vault_chat/internal/metrics"
	"vault_chat/internal/repository"
	"vault_chat/internal/store"
	apperrors "vault_chat/pkg/errors"
	"vault_chat/pkg/logger"
)

// StoryMediaPath - ключ медиа истории: stories/{uid}_{unixMillis}.
func StoryMediaPath(authorID string, at time.Time) string {
	return fmt.Sprintf("stories/%s_%d", authorID, at.UnixMilli())
}

// ActiveStories фильтрует истории по окну видимости и сортирует по времени создания.
func ActiveStories(stories []*domain.Story, hidden map[string]struct{}, now time.Time) []*domain.Story {
	out := make([]*domain.Story, 0, len(stories))
	for _, s := range stories {
		if _, ok := hidden[s.ID]; ok {
			continue
		}
		if s.ActiveAt(now) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// GroupStories группирует истории по автору. Группы идут от самой свежей истории к старой,
// внутри группы истории по возрастанию времени.
func GroupStories(active []*domain.Story, name func(uid string) string) []domain.StoryGroup {
	index := make(map[string]int)
	var groups []domain.StoryGroup
	for _, s := range active {
		i, ok := index[s.AuthorID]
		if !ok {
			i = len(groups)
			index[s.AuthorID] = i
			groups = append(groups, domain.StoryGroup{AuthorID: s.AuthorID, AuthorName: name(s.AuthorID)})
		}
		groups[i].Stories = append(groups[i].Stories, s)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		li := groups[i].Stories[len(groups[i].Stories)-1].CreatedAt
		lj := groups[j].Stories[len(groups[j].Stories)-1].CreatedAt
		return li.After(lj)
	})
	return groups
}

// stopFunc отменяет запланированный таймер.
type stopFunc func() bool

func realAfterFunc(d time.Duration, f func()) stopFunc {
	return time.AfterFunc(d, f).Stop
}

// StoryLifecycleManager ведет живой список историй. Подписка и локальное состояние
// живут в цикле сессии, а Create/Delete/RecordView выполняются в горутине вызывающего.
type StoryLifecycleManager struct {
	stories   repository.StoryRepository
	media     repository.MediaRepository
	dispatch  func(func()) bool
	// call выполняет функцию в цикле сессии и ждет ее завершения.
	call      func(context.Context, func()) error
	onChange  func()
	now       func() time.Time
	afterFunc func(time.Duration, func()) stopFunc
	metrics   *metrics.Metrics
	log       logger.Logger

	raw        []*domain.Story
	tombstones map[string]struct{}
	loaded     bool
	sub        store.Subscription
	stopTimer  stopFunc
	stopped    bool
}

func NewStoryLifecycleManager(stories repository.StoryRepository, media repository.MediaRepository, dispatch func(func()) bool, onChange func(), now func() time.Time, m *metrics.Metrics, log logger.Logger) *StoryLifecycleManager {
	if now == nil {
		now = time.Now
	}
	mgr := &StoryLifecycleManager{
		stories:    stories,
		media:      media,
		dispatch:   dispatch,
		onChange:   onChange,
		now:        now,
		afterFunc:  realAfterFunc,
		metrics:    m,
		log:        log,
		tombstones: make(map[string]struct{}),
	}
	mgr.call = func(_ context.Context, fn func()) error {
		mgr.dispatch(fn)
		return nil
	}
	return mgr
}

// Start подписывается на истории моложе окна видимости. Вызывается из цикла сессии.
func (m *StoryLifecycleManager) Start(ctx context.Context) error {
	since := m.now().Add(-domain.StoryTTL)
	sub, err := m.stories.WatchSince(ctx, since, func(stories []*domain.Story) {
		m.dispatch(func() { m.apply(stories) })
	})
	if err != nil {
		return err
	}
	m.sub = sub
	m.metrics.SubscriptionOpened(metrics.SubscriptionStories)
	return nil
}

func (m *StoryLifecycleManager) apply(stories []*domain.Story) {
	if m.stopped {
		return
	}
	m.raw = stories
	m.loaded = true

	// Пометка удаления больше не нужна, когда история пропала из снимка.
	present := make(map[string]struct{}, len(stories))
	for _, s := range stories {
		present[s.ID] = struct{}{}
	}
	for id := range m.tombstones {
		if _, ok := present[id]; !ok {
			delete(m.tombstones, id)
		}
	}

	m.refresh()
}

// refresh перепланирует таймер истечения и уведомляет сессию.
func (m *StoryLifecycleManager) refresh() {
	if m.stopTimer != nil {
		m.stopTimer()
		m.stopTimer = nil
	}

	active := m.Active()
	if len(active) > 0 {
		wait := active[0].ExpiresAt().Sub(m.now())
		if wait < 0 {
			wait = 0
		}
		m.stopTimer = m.afterFunc(wait, func() {
			m.dispatch(m.expire)
		})
	}

	m.onChange()
}

func (m *StoryLifecycleManager) expire() {
	if m.stopped {
		return
	}
	m.refresh()
}

// Active - видимые сейчас истории. Вызывается из цикла сессии.
func (m *StoryLifecycleManager) Active() []*domain.Story {
	return ActiveStories(m.raw, m.tombstones, m.now())
}

func (m *StoryLifecycleManager) Grouped(name func(uid string) string) []domain.StoryGroup {
	return GroupStories(m.Active(), name)
}

// Authors - авторы с хотя бы одной видимой историей.
func (m *StoryLifecycleManager) Authors() map[string]struct{} {
	out := make(map[string]struct{})
	for _, s := range m.Active() {
		out[s.AuthorID] = struct{}{}
	}
	return out
}

func (m *StoryLifecycleManager) Loaded() bool {
	return m.loaded
}

// Create загружает медиа, затем создает запись. Если запись создать не удалось,
// загруженный объект удаляется.
func (m *StoryLifecycleManager) Create(ctx context.Context, authorID string, media []byte, caption string) (*domain.Story, error) {
	story := &domain.Story{
		AuthorID: authorID,
		Caption:  caption,
		Viewers:  []string{},
	}

	if len(media) > 0 {
		ref, err := m.media.Store(ctx, StoryMediaPath(authorID, m.now()), media)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrUploadFailed, err)
		}
		story.MediaRef = ref
	}

	if err := m.stories.Create(ctx, story); err != nil {
		m.metrics.WriteFailed("create_story")
		if story.MediaRef != "" {
			m.discardMedia(ctx, story.MediaRef)
		}
		return nil, fmt.Errorf("%w: %w", apperrors.ErrWriteFailed, err)
	}

	m.log.Info("Story created", "story_id", story.ID, "author_id", authorID)
	return m.WithMediaURL(ctx, story), nil
}

// WithMediaURL возвращает копию истории со свежей ссылкой на медиа.
// Без ссылки на объект история возвращается как есть.
func (m *StoryLifecycleManager) WithMediaURL(ctx context.Context, story *domain.Story) *domain.Story {
	if story.MediaRef == "" {
		return story
	}
	out := *story
	url, err := m.media.URL(ctx, story.MediaRef)
	if err != nil {
		out.MediaURL = ""
		return &out
	}
	out.MediaURL = url
	return &out
}

// Delete удаляет запись, скрывает историю в живом списке, затем удаляет медиа. Ошибка удаления медиа не возвращается:
// объект остается сиротой и учитывается в метрике.
func (m *StoryLifecycleManager) Delete(ctx context.Context, storyID, mediaRef string) error {
	if err := m.stories.Delete(ctx, storyID); err != nil {
		if apperrors.Is(err, apperrors.ErrStoryNotFound) {
			return err
		}
		m.metrics.WriteFailed("delete_story")
		return fmt.Errorf("%w: %w", apperrors.ErrWriteFailed, err)
	}

	// Сессия видит удаление сразу после возврата, не дожидаясь снимка хранилища.
	err := m.call(ctx, func() {
		if m.stopped {
			return
		}
		m.tombstones[storyID] = struct{}{}
		m.refresh()
	})
	if err != nil {
		m.log.Debug("Story hidden asynchronously", "error", err, "story_id", storyID)
	}

	if mediaRef != "" {
		m.discardMedia(ctx, mediaRef)
	}
	return nil
}

// RecordView добавляет зрителя в множество просмотров истории.
func (m *StoryLifecycleManager) RecordView(ctx context.Context, storyID, viewerID string) error {
	if err := m.stories.AddViewer(ctx, storyID, viewerID); err != nil {
		if apperrors.Is(err, apperrors.ErrStoryNotFound) {
			return err
		}
		m.metrics.WriteFailed("record_view")
		return fmt.Errorf("%w: %w", apperrors.ErrWriteFailed, err)
	}
	return nil
}

func (m *StoryLifecycleManager) discardMedia(ctx context.Context, ref string) {
	if err := m.media.Delete(ctx, ref); err != nil {
		m.metrics.OrphanedBlobs.Inc()
		m.log.Warn("Media left orphaned", "error", err, "ref", ref)
	}
}

func (m *StoryLifecycleManager) Stop() {
	if m.stopped {
		return
	}
	m.stopped = true

	if m.stopTimer != nil {
		m.stopTimer()
		m.stopTimer = nil
	}
	if m.sub != nil {
		m.sub.Cancel()
		m.metrics.SubscriptionClosed(metrics.SubscriptionStories)
	}
}
