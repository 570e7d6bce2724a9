package repository

import (
	"context"
	"errors"
	"fmt"

	"vault_chat/internal/domain"
	"vault_chat/internal/store"
	apperrors "vault_chat/pkg/errors"
	"vault_chat/pkg/logger"
)

type UserRepository interface {
	// WatchPartners подписывается на пользователей, с которыми me может переписываться.
	WatchPartners(ctx context.Context, me *domain.User, fn func([]*domain.User)) (store.Subscription, error)
	// WatchDirectory подписывается на полный справочник пользователей.
	WatchDirectory(ctx context.Context, fn func([]*domain.User)) (store.Subscription, error)
	GetByID(ctx context.Context, uid string) (*domain.User, error)
}

type userRepository struct {
	docs store.DocumentStore
	log  logger.Logger
}

func NewUserRepository(docs store.DocumentStore, log logger.Logger) UserRepository {
	return &userRepository{docs: docs, log: log}
}

func (r *userRepository) WatchPartners(ctx context.Context, me *domain.User, fn func([]*domain.User)) (store.Subscription, error) {
	q := store.Query{Collection: CollectionUsers}
	if me.Role != domain.RoleCooperative {
		q.Filters = append(q.Filters, store.Where(fieldRole, store.OpEqual, domain.RoleCooperative))
	}

	sub, err := r.docs.Subscribe(ctx, q, func(docs []store.Document) {
		fn(usersFromDocuments(docs))
	})
	if err != nil {
		r.log.Error("Failed to subscribe to partners", "error", err, "user_id", me.UID)
		return nil, err
	}
	return sub, nil
}

func (r *userRepository) WatchDirectory(ctx context.Context, fn func([]*domain.User)) (store.Subscription, error) {
	sub, err := r.docs.Subscribe(ctx, store.Query{Collection: CollectionUsers}, func(docs []store.Document) {
		fn(usersFromDocuments(docs))
	})
	if err != nil {
		r.log.Error("Failed to subscribe to user directory", "error", err)
		return nil, err
	}
	return sub, nil
}

func (r *userRepository) GetByID(ctx context.Context, uid string) (*domain.User, error) {
	doc, err := r.docs.Get(ctx, store.Ref{Collection: CollectionUsers, ID: uid})
	if err != nil {
		if errors.Is(err, store.ErrDocumentNotFound) {
			return nil, apperrors.ErrUserNotFound
		}
		r.log.Error("Failed to get user", "error", err, "user_id", uid)
		return nil, fmt.Errorf("get user %s: %w", uid, err)
	}
	return userFromDocument(doc), nil
}

func usersFromDocuments(docs []store.Document) []*domain.User {
	users := make([]*domain.User, 0, len(docs))
	for _, doc := range docs {
		users = append(users, userFromDocument(doc))
	}
	return users
}
