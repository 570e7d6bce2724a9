package repository

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"vault_chat/pkg/logger"
)

type RateLimitRepository interface {
	// Allow увеличивает счетчик ключа в окне и сообщает, не превышен ли лимит.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type rateLimitRepository struct {
	redis *redis.Client
	log   logger.Logger
}

func NewRateLimitRepository(redis *redis.Client, log logger.Logger) RateLimitRepository {
	return &rateLimitRepository{redis: redis, log: log}
}

func (r *rateLimitRepository) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	count, err := r.redis.Incr(ctx, rateLimitKey(key)).Result()
	if err != nil {
		r.log.Error("Failed to increment rate limit", "error", err, "key", key)
		return false, err
	}

	if count == 1 {
		if err := r.redis.Expire(ctx, rateLimitKey(key), window).Err(); err != nil {
			r.log.Warn("Failed to set rate limit window", "error", err, "key", key)
		}
	}

	return count <= int64(limit), nil
}

func rateLimitKey(key string) string {
	return "ratelimit:" + key
}

// memoryRateLimitRepository - фиксированное окно в памяти процесса, когда Redis не настроен.
type memoryRateLimitRepository struct {
	mu      sync.Mutex
	windows map[string]*rateWindow
	now     func() time.Time
}

type rateWindow struct {
	count   int
	resetAt time.Time
}

func NewMemoryRateLimitRepository() RateLimitRepository {
	return &memoryRateLimitRepository{windows: make(map[string]*rateWindow), now: time.Now}
}

func (r *memoryRateLimitRepository) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	w, ok := r.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &rateWindow{resetAt: now.Add(window)}
		r.windows[key] = w
	}
	w.count++
	return w.count <= limit, nil
}
