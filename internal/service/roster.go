package service

import (
	"context"

	"vault_chat/internal/domain"
	"vault_chat/internal/metrics"
	"vault_chat/internal/repository"
	"vault_chat/internal/store"
	"vault_chat/pkg/logger"
)

// BuildRoster собирает список собеседников из двух потоков: допустимых по роли
// пользователей и полного справочника. Собеседник без записи в справочнике отбрасывается.
func BuildRoster(me *domain.User, partners, directory []*domain.User) *domain.Roster {
	roster := domain.NewRoster()
	for _, u := range directory {
		roster.Existing[u.UID] = struct{}{}
	}
	for _, u := range partners {
		if !me.CanChatWith(u) {
			continue
		}
		if _, ok := roster.Existing[u.UID]; !ok {
			continue
		}
		roster.Partners[u.UID] = u
	}
	return roster
}

// RosterWatcher следит за списком собеседников текущего пользователя.
// Колбэки хранилища переносятся в цикл сессии через dispatch; onChange вызывается в цикле.
type RosterWatcher struct {
	users    repository.UserRepository
	me       *domain.User
	dispatch func(func()) bool
	onChange func(*domain.Roster)
	metrics  *metrics.Metrics
	log      logger.Logger

	partners      []*domain.User
	directory     []*domain.User
	havePartners  bool
	haveDirectory bool

	partnersSub  store.Subscription
	directorySub store.Subscription
	stopped      bool
}

func NewRosterWatcher(users repository.UserRepository, me *domain.User, dispatch func(func()) bool, onChange func(*domain.Roster), m *metrics.Metrics, log logger.Logger) *RosterWatcher {
	return &RosterWatcher{
		users:    users,
		me:       me,
		dispatch: dispatch,
		onChange: onChange,
		metrics:  m,
		log:      log,
	}
}

// Start открывает обе подписки. Вызывается из цикла сессии.
func (w *RosterWatcher) Start(ctx context.Context) error {
	partnersSub, err := w.users.WatchPartners(ctx, w.me, func(users []*domain.User) {
		w.dispatch(func() { w.applyPartners(users) })
	})
	if err != nil {
		return err
	}
	w.partnersSub = partnersSub
	w.metrics.SubscriptionOpened(metrics.SubscriptionPartners)

	directorySub, err := w.users.WatchDirectory(ctx, func(users []*domain.User) {
		w.dispatch(func() { w.applyDirectory(users) })
	})
	if err != nil {
		w.Stop()
		return err
	}
	w.directorySub = directorySub
	w.metrics.SubscriptionOpened(metrics.SubscriptionDirectory)

	return nil
}

func (w *RosterWatcher) applyPartners(users []*domain.User) {
	if w.stopped {
		return
	}
	w.partners = users
	w.havePartners = true
	w.emit()
}

func (w *RosterWatcher) applyDirectory(users []*domain.User) {
	if w.stopped {
		return
	}
	w.directory = users
	w.haveDirectory = true
	w.emit()
}

// emit молчит, пока не пришли первые снимки обоих потоков: иначе все собеседники
// на мгновение оказались бы "удаленными".
func (w *RosterWatcher) emit() {
	if !w.havePartners || !w.haveDirectory {
		return
	}
	w.onChange(BuildRoster(w.me, w.partners, w.directory))
}

func (w *RosterWatcher) Stop() {
	if w.stopped {
		return
	}
	w.stopped = true

	if w.partnersSub != nil {
		w.partnersSub.Cancel()
		w.metrics.SubscriptionClosed(metrics.SubscriptionPartners)
	}
	if w.directorySub != nil {
		w.directorySub.Cancel()
		w.metrics.SubscriptionClosed(metrics.SubscriptionDirectory)
	}
	w.log.Debug("Roster watcher stopped", "user_id", w.me.UID)
}
