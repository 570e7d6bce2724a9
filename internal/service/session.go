package service

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"vault_chat/internal/domain"
	"vault_chat/internal/metrics"
	"vault_chat/internal/notify"
	"vault_chat/internal/repository"
	apperrors "vault_chat/pkg/errors"
	"vault_chat/pkg/feed"
	"vault_chat/pkg/logger"
)

const eventBuffer = 64

type Attachment struct {
	Name string
	Data []byte
}

type SessionDeps struct {
	Repos     *repository.Repositories
	Publisher notify.Publisher
	Metrics   *metrics.Metrics
	Now       func() time.Time
	Log       logger.Logger
}

// Session - живое представление бесед и историй одного пользователя. Состояние меняется
// только в цикле сессии; запись в хранилище идет в горутине вызывающего.
type Session struct {
	me   *domain.User
	deps SessionDeps
	log  logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	loop   *eventLoop

	rosterWatcher *RosterWatcher
	convs         *ConversationStore
	unread        *UnreadTracker
	reads         *ReadStateCommitter
	stories       *StoryLifecycleManager

	// Только для цикла.
	roster *domain.Roster
	ready  bool

	chatList      *feed.Value[[]domain.ChatListEntry]
	storyGroups   *feed.Value[[]domain.StoryGroup]
	conversations *feed.Hub[*domain.Conversation]
	notifications *feed.Hub[domain.InboundNotification]

	readyCh   chan struct{}
	closeOnce sync.Once
}

func NewSession(me *domain.User, deps SessionDeps) (*Session, error) {
	if deps.Publisher == nil {
		deps.Publisher = notify.NewNopPublisher()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		me:            me,
		deps:          deps,
		log:           deps.Log.With("user_id", me.UID),
		ctx:           ctx,
		cancel:        cancel,
		loop:          newEventLoop(),
		chatList:      feed.NewValue[[]domain.ChatListEntry](),
		storyGroups:   feed.NewValue[[]domain.StoryGroup](),
		conversations: feed.NewHub[*domain.Conversation](eventBuffer),
		notifications: feed.NewHub[domain.InboundNotification](eventBuffer),
		readyCh:       make(chan struct{}),
		unread:        NewUnreadTracker(me.UID),
	}

	dispatch := s.loop.Dispatch
	s.rosterWatcher = NewRosterWatcher(deps.Repos.User, me, dispatch, s.onRoster, deps.Metrics, s.log)
	s.convs = NewConversationStore(deps.Repos.Chat, me.UID, dispatch, s.onConversation, deps.Metrics, s.log)
	s.reads = NewReadStateCommitter(deps.Repos.Chat, me.UID, deps.Metrics, s.log)
	s.stories = NewStoryLifecycleManager(deps.Repos.Story, deps.Repos.Media, dispatch, s.onStories, deps.Now, deps.Metrics, s.log)
	s.stories.call = s.loop.Call

	var startErr error
	err := s.loop.Call(context.Background(), func() {
		if startErr = s.rosterWatcher.Start(s.ctx); startErr != nil {
			return
		}
		startErr = s.stories.Start(s.ctx)
	})
	if err == nil {
		err = startErr
	}
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("start session: %w", err)
	}

	s.log.Info("Session started")
	return s, nil
}

func (s *Session) User() *domain.User {
	return s.me
}

// WaitReady ждет, пока придут первые снимки списка собеседников, всех его бесед и историй.
func (s *Session) WaitReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return nil
	case <-s.ctx.Done():
		return apperrors.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) onRoster(roster *domain.Roster) {
	s.roster = roster
	for _, id := range s.convs.Sync(s.ctx, roster) {
		s.unread.Forget(id)
	}
	s.publishChatList()
}

func (s *Session) onConversation(conv *domain.Conversation, first bool) {
	n, shouldNotify := s.unread.Update(conv, first)
	s.conversations.Publish(conv)

	if shouldNotify {
		n.SenderName = s.nameOf(n.SenderID)
		s.notifications.Publish(n)
		s.deps.Metrics.Notifications.Inc()
		go func() {
			if err := s.deps.Publisher.PublishInbound(s.ctx, s.me.UID, n); err != nil && s.ctx.Err() == nil {
				s.log.Warn("Failed to publish notification", "error", err, "conversation_id", n.ConversationID)
			}
		}()
	}

	// Открытая беседа читается сразу.
	if s.unread.IsActive(conv.ID) && s.unread.Count(conv.ID) > 0 {
		go s.markRead(conv)
	}

	s.publishChatList()
}

func (s *Session) onStories() {
	s.storyGroups.Publish(s.stories.Grouped(s.nameOf))
	s.publishChatList()
}

func (s *Session) publishChatList() {
	if s.roster == nil {
		return
	}

	entries, orphans := Project(s.me.UID, s.roster, s.convs.Snapshot(), s.unread.Counts(), s.stories.Authors())
	for _, id := range orphans {
		s.log.Debug("Releasing orphan conversation", "conversation_id", id)
		s.convs.Release(id)
		s.unread.Forget(id)
	}
	s.chatList.Publish(entries)

	if !s.ready && s.convs.Pending() == 0 && s.stories.Loaded() {
		s.ready = true
		close(s.readyCh)
	}
}

func (s *Session) nameOf(uid string) string {
	if uid == s.me.UID {
		return s.me.Name()
	}
	if user, ok := s.roster.Partner(uid); ok {
		return user.Name()
	}
	return domain.UnknownUserName
}

func (s *Session) markRead(conv *domain.Conversation) {
	if _, err := s.reads.MarkConversationRead(s.ctx, conv); err != nil && s.ctx.Err() == nil {
		s.log.Warn("Failed to mark active conversation read", "error", err, "conversation_id", conv.ID)
	}
}

func (s *Session) ChatList() []domain.ChatListEntry {
	entries, _ := s.chatList.Get()
	return s.chatListWithURLs(entries)
}

func (s *Session) WatchChatList() (<-chan []domain.ChatListEntry, func()) {
	updates, unsubscribe := s.chatList.Subscribe()
	return mapLatest(updates, unsubscribe, s.chatListWithURLs)
}

func (s *Session) StoryGroups() []domain.StoryGroup {
	groups, _ := s.storyGroups.Get()
	return s.storyGroupsWithURLs(groups)
}

func (s *Session) WatchStories() (<-chan []domain.StoryGroup, func()) {
	updates, unsubscribe := s.storyGroups.Subscribe()
	return mapLatest(updates, unsubscribe, s.storyGroupsWithURLs)
}

// Notifications - уведомления о входящих сообщениях в неактивных беседах.
func (s *Session) Notifications() (<-chan domain.InboundNotification, func()) {
	return s.notifications.Subscribe()
}

// Conversation возвращает текущий снимок беседы с собеседником со свежими ссылками на файлы.
func (s *Session) Conversation(ctx context.Context, peerID string) (*domain.Conversation, error) {
	conv, err := s.conversation(ctx, peerID)
	if err != nil {
		return nil, err
	}
	return s.conversationWithURLs(ctx, conv), nil
}

func (s *Session) conversation(ctx context.Context, peerID string) (*domain.Conversation, error) {
	var conv *domain.Conversation
	err := s.loop.Call(ctx, func() {
		if _, ok := s.roster.Partner(peerID); !ok {
			return
		}
		id := domain.ConversationID(s.me.UID, peerID)
		if c, ok := s.convs.Get(id); ok {
			conv = c
			return
		}
		conv = &domain.Conversation{ID: id, PeerID: peerID, Messages: []*domain.Message{}}
	})
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, apperrors.ErrConversationNotFound
	}
	return conv, nil
}

func (s *Session) Messages(ctx context.Context, peerID string) ([]*domain.Message, error) {
	conv, err := s.Conversation(ctx, peerID)
	if err != nil {
		return nil, err
	}
	return conv.Messages, nil
}

// WatchConversation отдает снимки одной беседы, начиная с текущего. Канал закрывается
// при отмене ctx или закрытии сессии.
func (s *Session) WatchConversation(ctx context.Context, peerID string) (<-chan *domain.Conversation, error) {
	updates, unsubscribe := s.conversations.Subscribe()

	current, err := s.conversation(ctx, peerID)
	if err != nil {
		unsubscribe()
		return nil, err
	}

	out := make(chan *domain.Conversation, 1)
	out <- s.conversationWithURLs(ctx, current)
	go func() {
		defer close(out)
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case conv, ok := <-updates:
				if !ok {
					return
				}
				if conv.ID != current.ID {
					continue
				}
				conv = s.conversationWithURLs(ctx, conv)
				select {
				case <-out:
				default:
				}
				out <- conv
			}
		}
	}()
	return out, nil
}

func (s *Session) SendMessage(ctx context.Context, peerID, text string, attachment *Attachment) (*domain.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" && (attachment == nil || len(attachment.Data) == 0) {
		return nil, apperrors.ErrEmptyMessage
	}
	if _, err := s.conversation(ctx, peerID); err != nil {
		return nil, err
	}

	message := &domain.Message{
		ConversationID: domain.ConversationID(s.me.UID, peerID),
		Sender:         s.me.UID,
		Text:           text,
	}

	if attachment != nil && len(attachment.Data) > 0 {
		objectPath := fmt.Sprintf("chats/%s/%s%s", message.ConversationID, uuid.NewString(), path.Ext(attachment.Name))
		ref, err := s.deps.Repos.Media.Store(ctx, objectPath, attachment.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrUploadFailed, err)
		}
		message.FileRef = ref
	}

	if err := s.deps.Repos.Chat.CreateMessage(ctx, message); err != nil {
		s.deps.Metrics.WriteFailed("send_message")
		if message.FileRef != "" {
			s.discardMedia(ctx, message.FileRef)
		}
		return nil, fmt.Errorf("%w: %w", apperrors.ErrWriteFailed, err)
	}
	return s.messageWithURL(ctx, message), nil
}

func (s *Session) discardMedia(ctx context.Context, ref string) {
	if err := s.deps.Repos.Media.Delete(ctx, ref); err != nil {
		s.deps.Metrics.OrphanedBlobs.Inc()
		s.log.Warn("Media left orphaned", "error", err, "ref", ref)
	}
}

// MarkConversationRead помечает прочитанными входящие сообщения текущего снимка беседы.
func (s *Session) MarkConversationRead(ctx context.Context, peerID string) (int, error) {
	conv, err := s.conversation(ctx, peerID)
	if err != nil {
		return 0, err
	}
	return s.reads.MarkConversationRead(ctx, conv)
}

// Activate отмечает беседу открытой одним клиентом: уведомления по ней подавляются,
// входящие читаются. Каждый Activate снимается своим Deactivate.
func (s *Session) Activate(ctx context.Context, peerID string) error {
	id := domain.ConversationID(s.me.UID, peerID)
	var found bool
	err := s.loop.Call(ctx, func() {
		if _, ok := s.roster.Partner(peerID); !ok {
			return
		}
		found = true
		s.unread.Activate(id)
	})
	if err != nil {
		return err
	}
	if !found {
		return apperrors.ErrConversationNotFound
	}

	if _, err := s.MarkConversationRead(ctx, peerID); err != nil {
		_ = s.loop.Call(context.Background(), func() {
			s.unread.Deactivate(id)
		})
		return err
	}
	return nil
}

// Deactivate снимает одну отметку открытой беседы; другие клиенты сессии ее сохраняют.
func (s *Session) Deactivate(ctx context.Context, peerID string) error {
	id := domain.ConversationID(s.me.UID, peerID)
	return s.loop.Call(ctx, func() {
		s.unread.Deactivate(id)
	})
}

// ActiveConversations - беседы, открытые хотя бы одним клиентом.
func (s *Session) ActiveConversations(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.loop.Call(ctx, func() {
		ids = s.unread.Active()
	})
	return ids, err
}

func (s *Session) PostStory(ctx context.Context, media []byte, caption string) (*domain.Story, error) {
	return s.stories.Create(ctx, s.me.UID, media, strings.TrimSpace(caption))
}

// DeleteStory удаляет только собственную историю пользователя.
func (s *Session) DeleteStory(ctx context.Context, storyID string) error {
	story, err := s.deps.Repos.Story.GetByID(ctx, storyID)
	if err != nil {
		return err
	}
	if story.AuthorID != s.me.UID {
		return apperrors.ErrForbidden
	}
	return s.stories.Delete(ctx, story.ID, story.MediaRef)
}

// RecordView отмечает просмотр чужой истории; собственные просмотры не учитываются.
func (s *Session) RecordView(ctx context.Context, storyID string) error {
	story, err := s.deps.Repos.Story.GetByID(ctx, storyID)
	if err != nil {
		return err
	}
	if story.AuthorID == s.me.UID || story.ViewedBy(s.me.UID) {
		return nil
	}
	return s.stories.RecordView(ctx, storyID, s.me.UID)
}

func (s *Session) messageWithURL(ctx context.Context, m *domain.Message) *domain.Message {
	if m == nil || m.FileRef == "" {
		return m
	}
	out := *m
	if url, err := s.deps.Repos.Media.URL(ctx, m.FileRef); err == nil {
		out.FileURL = url
	}
	return &out
}

// conversationWithURLs копирует снимок: снимки цикла сессии не меняются снаружи.
func (s *Session) conversationWithURLs(ctx context.Context, conv *domain.Conversation) *domain.Conversation {
	out := *conv
	out.Messages = make([]*domain.Message, len(conv.Messages))
	for i, m := range conv.Messages {
		out.Messages[i] = s.messageWithURL(ctx, m)
	}
	return &out
}

func (s *Session) chatListWithURLs(entries []domain.ChatListEntry) []domain.ChatListEntry {
	if entries == nil {
		return nil
	}
	out := make([]domain.ChatListEntry, len(entries))
	for i, e := range entries {
		e.LastMessage = s.messageWithURL(s.ctx, e.LastMessage)
		out[i] = e
	}
	return out
}

func (s *Session) storyGroupsWithURLs(groups []domain.StoryGroup) []domain.StoryGroup {
	if groups == nil {
		return nil
	}
	out := make([]domain.StoryGroup, len(groups))
	for i, g := range groups {
		stories := make([]*domain.Story, len(g.Stories))
		for j, story := range g.Stories {
			stories[j] = s.stories.WithMediaURL(s.ctx, story)
		}
		g.Stories = stories
		out[i] = g
	}
	return out
}

// mapLatest пересылает значения подписки через fn, оставляя в канале только последнее.
// Канал закрывается вместе с исходным.
func mapLatest[T any](in <-chan T, stop func(), fn func(T) T) (<-chan T, func()) {
	out := make(chan T, 1)
	go func() {
		defer close(out)
		for v := range in {
			v = fn(v)
			select {
			case <-out:
			default:
			}
			out <- v
		}
	}()
	return out, stop
}

// Close отменяет все подписки и останавливает цикл. Нельзя вызывать из цикла сессии.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		_ = s.loop.Call(context.Background(), func() {
			s.rosterWatcher.Stop()
			s.stories.Stop()
			s.convs.Close()
		})
		s.cancel()
		s.loop.Stop()

		s.chatList.Close()
		s.storyGroups.Close()
		s.conversations.Close()
		s.notifications.Close()
		s.log.Info("Session closed")
	})
}

func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}
