package service

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"vault_chat/internal/config"
	"vault_chat/internal/domain"
	apperrors "vault_chat/pkg/errors"
)

func TestSessionManager_SharesAndReleases(t *testing.T) {
	f := newFixture(t)
	f.seedUser("alice", domain.RoleIndividual, "Alice")
	f.seedUser("bob", domain.RoleCooperative, "Bob")

	manager := NewSessionManager(f.deps(), 0, f.log)
	defer manager.Close()

	user, err := f.repos.User.GetByID(context.Background(), "bob")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	first, releaseFirst, err := manager.Acquire(ctx, user)
	require.NoError(t, err)
	second, releaseSecond, err := manager.Acquire(ctx, user)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, manager.Active())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.ActiveSessions))

	releaseFirst()
	releaseFirst()
	assert.Equal(t, 1, manager.Active())

	releaseSecond()
	assert.Equal(t, 0, manager.Active())
	assert.Equal(t, 0, f.docs.TotalSubscribers())
	assert.Equal(t, float64(0), testutil.ToFloat64(f.metrics.ActiveSessions))
}

func TestSessionManager_IdleTimeout(t *testing.T) {
	f := newFixture(t)
	f.seedUser("bob", domain.RoleCooperative, "Bob")

	timers := &fakeTimers{}
	manager := NewSessionManager(f.deps(), time.Minute, f.log).(*sessionManager)
	manager.afterFunc = timers.afterFunc
	defer manager.Close()

	user, err := f.repos.User.GetByID(context.Background(), "bob")
	require.NoError(t, err)

	session, release, err := manager.Acquire(context.Background(), user)
	require.NoError(t, err)
	release()

	timer := timers.last()
	require.NotNil(t, timer)
	assert.Equal(t, time.Minute, timer.wait)
	assert.Equal(t, 1, manager.Active())

	// Повторный вход до таймаута отменяет закрытие.
	again, releaseAgain, err := manager.Acquire(context.Background(), user)
	require.NoError(t, err)
	assert.Same(t, session, again)
	assert.True(t, timer.stopped)
	releaseAgain()

	timers.last().fn()
	assert.Equal(t, 0, manager.Active())
	assert.Equal(t, 0, f.docs.TotalSubscribers())
}

func TestSessionManager_Logout(t *testing.T) {
	f := newFixture(t)
	f.seedUser("alice", domain.RoleIndividual, "Alice")
	f.seedUser("bob", domain.RoleCooperative, "Bob")

	manager := NewSessionManager(f.deps(), time.Hour, f.log)
	defer manager.Close()

	user, err := f.repos.User.GetByID(context.Background(), "bob")
	require.NoError(t, err)

	session, release, err := manager.Acquire(context.Background(), user)
	require.NoError(t, err)
	defer release()

	assert.True(t, manager.Logout("bob"))
	assert.False(t, manager.Logout("bob"))
	assert.Equal(t, 0, f.docs.TotalSubscribers())

	_, err = session.Conversation(context.Background(), "alice")
	assert.ErrorIs(t, err, apperrors.ErrSessionClosed)

	manager.Close()
	_, _, err = manager.Acquire(context.Background(), user)
	assert.ErrorIs(t, err, apperrors.ErrSessionClosed)
}

func TestSessionManager_SlowStartDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t)
	f.seedUser("alice", domain.RoleIndividual, "Alice")
	f.seedUser("bob", domain.RoleCooperative, "Bob")

	manager := NewSessionManager(f.deps(), time.Minute, f.log).(*sessionManager)
	defer manager.Close()

	entered := make(chan struct{})
	unblock := make(chan struct{})
	manager.newSession = func(user *domain.User, deps SessionDeps) (*Session, error) {
		if user.UID == "alice" {
			close(entered)
			<-unblock
		}
		return NewSession(user, deps)
	}

	alice, err := f.repos.User.GetByID(context.Background(), "alice")
	require.NoError(t, err)
	bob, err := f.repos.User.GetByID(context.Background(), "bob")
	require.NoError(t, err)

	aliceErr := make(chan error, 1)
	go func() {
		_, release, err := manager.Acquire(context.Background(), alice)
		if err == nil {
			release()
		}
		aliceErr <- err
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, releaseBob, err := manager.Acquire(ctx, bob)
	require.NoError(t, err)
	releaseBob()

	// Выход во время создания: сессия закрывается, как только будет создана.
	assert.True(t, manager.Logout("alice"))
	close(unblock)

	select {
	case err := <-aliceErr:
		assert.ErrorIs(t, err, apperrors.ErrSessionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("acquire did not return after session start")
	}

	assert.Equal(t, 1, manager.Active())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.ActiveSessions))
}

func signToken(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestAuthService_ValidateToken(t *testing.T) {
	f := newFixture(t)
	f.seedUser("alice", domain.RoleIndividual, "Alice")
	f.seedUser("odd", "admin", "Odd")

	auth := NewAuthService(f.repos.User, config.JWTConfig{AccessSecret: "secret", Issuer: "vault"}, f.log)
	ctx := context.Background()
	valid := jwt.RegisteredClaims{
		Subject:   "alice",
		Issuer:    "vault",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}

	user, err := auth.ValidateToken(ctx, signToken(t, "secret", valid))
	require.NoError(t, err)
	assert.Equal(t, "alice", user.UID)

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{name: "garbage", token: "not-a-token", wantErr: apperrors.ErrInvalidToken},
		{name: "wrong secret", token: signToken(t, "other", valid), wantErr: apperrors.ErrInvalidToken},
		{name: "expired", token: signToken(t, "secret", jwt.RegisteredClaims{
			Subject:   "alice",
			Issuer:    "vault",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		}), wantErr: apperrors.ErrTokenExpired},
		{name: "wrong issuer", token: signToken(t, "secret", jwt.RegisteredClaims{Subject: "alice", Issuer: "other"}), wantErr: apperrors.ErrInvalidToken},
		{name: "no subject", token: signToken(t, "secret", jwt.RegisteredClaims{Issuer: "vault"}), wantErr: apperrors.ErrInvalidToken},
		{name: "unknown user", token: signToken(t, "secret", jwt.RegisteredClaims{Subject: "ghost", Issuer: "vault"}), wantErr: apperrors.ErrUnauthorized},
		{name: "unknown role", token: signToken(t, "secret", jwt.RegisteredClaims{Subject: "odd", Issuer: "vault"}), wantErr: apperrors.ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.ValidateToken(ctx, tt.token)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRateLimitService(t *testing.T) {
	f := newFixture(t)
	limiter := NewRateLimitService(f.repos.RateLimit, config.RateLimitConfig{Requests: 1, Window: time.Hour}, f.log)

	ok, err := limiter.Allow(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = limiter.Allow(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	unlimited := NewRateLimitService(f.repos.RateLimit, config.RateLimitConfig{}, f.log)
	ok, _ = unlimited.Allow(context.Background(), "u1")
	assert.True(t, ok)
}
