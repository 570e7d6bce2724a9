package repository

import (
	"github.com/redis/go-redis/v9"
	"vault_chat/internal/store"
	"vault_chat/pkg/logger"
)

type Repositories struct {
	User      UserRepository
	Chat      ChatRepository
	Story     StoryRepository
	Media     MediaRepository
	RateLimit RateLimitRepository
}

// NewRepositories собирает репозитории поверх хранилищ. rdb может быть nil:
// тогда лимиты считаются в памяти процесса.
func NewRepositories(docs store.DocumentStore, blobs store.BlobStore, rdb *redis.Client, log logger.Logger) *Repositories {
	repos := &Repositories{
		User:  NewUserRepository(docs, log),
		Chat:  NewChatRepository(docs, log),
		Story: NewStoryRepository(docs, log),
		Media: NewMediaRepository(blobs, log),
	}

	if rdb != nil {
		repos.RateLimit = NewRateLimitRepository(rdb, log)
		log.Info("Rate limit repository initialized", "backend", "redis")
	} else {
		repos.RateLimit = NewMemoryRateLimitRepository()
		log.Info("Rate limit repository initialized", "backend", "memory")
	}

	return repos
}
