package service

import (
	"context"
	"sync"
	"time"

	"vault_chat/internal/config"
	"vault_chat/internal/domain"
	"vault_chat/internal/metrics"
	"vault_chat/internal/notify"
	"vault_chat/internal/repository"
	apperrors "vault_chat/pkg/errors"
	"vault_chat/pkg/logger"
)

type Services struct {
	Auth      AuthService
	Sessions  SessionManager
	RateLimit RateLimitService
}

func NewServices(repos *repository.Repositories, publisher notify.Publisher, m *metrics.Metrics, cfg *config.Config, log logger.Logger) *Services {
	deps := SessionDeps{
		Repos:     repos,
		Publisher: publisher,
		Metrics:   m,
		Log:       log,
	}

	return &Services{
		Auth:      NewAuthService(repos.User, cfg.JWT, log),
		Sessions:  NewSessionManager(deps, cfg.Session.IdleTimeout, log),
		RateLimit: NewRateLimitService(repos.RateLimit, cfg.RateLimit, log),
	}
}

// SessionManager держит по одной сессии на пользователя. Каждый клиент берет сессию через
// Acquire и отдает вызовом release; сессия без клиентов закрывается после idle-таймаута.
type SessionManager interface {
	Acquire(ctx context.Context, user *domain.User) (*Session, func(), error)
	// Logout закрывает сессию пользователя и все ее подписки.
	Logout(uid string) bool
	Active() int
	Close()
}

type sessionManager struct {
	deps       SessionDeps
	idle       time.Duration
	afterFunc  func(time.Duration, func()) stopFunc
	newSession func(*domain.User, SessionDeps) (*Session, error)
	log        logger.Logger

	mu       sync.Mutex
	sessions map[string]*managedSession
	closed   bool
}

type managedSession struct {
	session *Session
	refs    int
	stop    stopFunc
	// started закрывается, когда сессия создана или создать ее не удалось (err).
	started chan struct{}
	err     error
}

func NewSessionManager(deps SessionDeps, idle time.Duration, log logger.Logger) SessionManager {
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNop()
	}
	return &sessionManager{
		deps:       deps,
		idle:       idle,
		afterFunc:  realAfterFunc,
		newSession: NewSession,
		log:        log,
		sessions:   make(map[string]*managedSession),
	}
}

// Acquire создает сессию вне блокировки менеджера: подписки на медленном хранилище
// не задерживают других пользователей. Параллельные вызовы ждут одну и ту же сессию.
func (m *sessionManager) Acquire(ctx context.Context, user *domain.User) (*Session, func(), error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, nil, apperrors.ErrSessionClosed
	}

	ms, ok := m.sessions[user.UID]
	if !ok {
		ms = &managedSession{started: make(chan struct{})}
		m.sessions[user.UID] = ms
	}
	ms.refs++
	if ms.stop != nil {
		ms.stop()
		ms.stop = nil
	}
	m.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() { m.release(user.UID, ms) })
	}

	if !ok {
		m.start(user, ms)
	}

	select {
	case <-ms.started:
	case <-ctx.Done():
		release()
		return nil, nil, ctx.Err()
	}
	if ms.err != nil {
		release()
		return nil, nil, ms.err
	}

	if err := ms.session.WaitReady(ctx); err != nil {
		release()
		return nil, nil, err
	}
	return ms.session, release, nil
}

func (m *sessionManager) start(user *domain.User, ms *managedSession) {
	defer close(ms.started)

	session, err := m.newSession(user, m.deps)
	if err != nil {
		m.log.Error("Failed to start session", "error", err, "user_id", user.UID)
	}

	m.mu.Lock()
	// Пока сессия создавалась, пользователь мог выйти или менеджер закрыться.
	current := m.sessions[user.UID] == ms && !m.closed
	switch {
	case err != nil:
		ms.err = err
	case !current:
		ms.err = apperrors.ErrSessionClosed
	default:
		ms.session = session
		m.deps.Metrics.ActiveSessions.Inc()
	}
	if ms.err != nil && m.sessions[user.UID] == ms {
		delete(m.sessions, user.UID)
	}
	m.mu.Unlock()

	if err == nil && !current {
		session.Close()
	}
}

func (m *sessionManager) release(uid string, ms *managedSession) {
	m.mu.Lock()
	ms.refs--
	if ms.refs > 0 || m.sessions[uid] != ms {
		m.mu.Unlock()
		return
	}

	if m.idle <= 0 {
		delete(m.sessions, uid)
		m.mu.Unlock()
		m.closeSession(ms.session)
		return
	}

	ms.stop = m.afterFunc(m.idle, func() {
		m.mu.Lock()
		if m.sessions[uid] != ms || ms.refs > 0 {
			m.mu.Unlock()
			return
		}
		delete(m.sessions, uid)
		m.mu.Unlock()

		m.log.Debug("Closing idle session", "user_id", uid)
		m.closeSession(ms.session)
	})
	m.mu.Unlock()
}

// Logout закрывает сессию пользователя. Сессию, которая еще создается, закроет start.
func (m *sessionManager) Logout(uid string) bool {
	m.mu.Lock()
	ms, ok := m.sessions[uid]
	var session *Session
	if ok {
		delete(m.sessions, uid)
		if ms.stop != nil {
			ms.stop()
		}
		session = ms.session
	}
	m.mu.Unlock()

	if session != nil {
		m.closeSession(session)
	}
	if ok {
		m.log.Info("User logged out", "user_id", uid)
	}
	return ok
}

func (m *sessionManager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *sessionManager) Close() {
	m.mu.Lock()
	m.closed = true
	var sessions []*Session
	for _, ms := range m.sessions {
		if ms.stop != nil {
			ms.stop()
		}
		if ms.session != nil {
			sessions = append(sessions, ms.session)
		}
	}
	m.sessions = make(map[string]*managedSession)
	m.mu.Unlock()

	for _, session := range sessions {
		m.closeSession(session)
	}
}

func (m *sessionManager) closeSession(session *Session) {
	session.Close()
	m.deps.Metrics.ActiveSessions.Dec()
}
