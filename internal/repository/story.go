package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vault_chat/internal/domain"
	"vault_chat/internal/store"
	apperrors "vault_chat/pkg/errors"
	"vault_chat/pkg/logger"
)

type StoryRepository interface {
	// WatchSince доставляет истории, созданные строго после since, по возрастанию времени.
	WatchSince(ctx context.Context, since time.Time, fn func([]*domain.Story)) (store.Subscription, error)
	GetByID(ctx context.Context, id string) (*domain.Story, error)
	Create(ctx context.Context, story *domain.Story) error
	Delete(ctx context.Context, id string) error
	AddViewer(ctx context.Context, id, viewerID string) error
}

type storyRepository struct {
	docs store.DocumentStore
	log  logger.Logger
}

func NewStoryRepository(docs store.DocumentStore, log logger.Logger) StoryRepository {
	return &storyRepository{docs: docs, log: log}
}

func (r *storyRepository) WatchSince(ctx context.Context, since time.Time, fn func([]*domain.Story)) (store.Subscription, error) {
	q := store.Query{
		Collection:     collectionStories,
		CreatedAfter:   since,
		OrderByCreated: true,
	}

	sub, err := r.docs.Subscribe(ctx, q, func(docs []store.Document) {
		stories := make([]*domain.Story, 0, len(docs))
		for _, doc := range docs {
			stories = append(stories, storyFromDocument(doc))
		}
		fn(stories)
	})
	if err != nil {
		r.log.Error("Failed to subscribe to stories", "error", err, "since", since)
		return nil, err
	}
	return sub, nil
}

func (r *storyRepository) GetByID(ctx context.Context, id string) (*domain.Story, error) {
	doc, err := r.docs.Get(ctx, storyRef(id))
	if err != nil {
		if errors.Is(err, store.ErrDocumentNotFound) {
			return nil, apperrors.ErrStoryNotFound
		}
		r.log.Error("Failed to get story", "error", err, "story_id", id)
		return nil, fmt.Errorf("get story %s: %w", id, err)
	}
	return storyFromDocument(doc), nil
}

func (r *storyRepository) Create(ctx context.Context, story *domain.Story) error {
	doc, err := r.docs.Add(ctx, collectionStories, storyToFields(story))
	if err != nil {
		r.log.Error("Failed to create story", "error", err, "author_id", story.AuthorID)
		return fmt.Errorf("create story: %w", err)
	}

	story.ID = doc.Ref.ID
	story.CreatedAt = doc.CreatedAt
	return nil
}

func (r *storyRepository) Delete(ctx context.Context, id string) error {
	if err := r.docs.Delete(ctx, storyRef(id)); err != nil {
		if errors.Is(err, store.ErrDocumentNotFound) {
			return apperrors.ErrStoryNotFound
		}
		r.log.Error("Failed to delete story", "error", err, "story_id", id)
		return fmt.Errorf("delete story %s: %w", id, err)
	}
	return nil
}

func (r *storyRepository) AddViewer(ctx context.Context, id, viewerID string) error {
	err := r.docs.Batch(ctx, []store.Update{{
		Ref:    storyRef(id),
		Fields: map[string]any{fieldViews: store.ArrayUnion{viewerID}},
	}})
	if err != nil {
		if errors.Is(err, store.ErrDocumentNotFound) {
			return apperrors.ErrStoryNotFound
		}
		r.log.Error("Failed to record story view", "error", err, "story_id", id)
		return fmt.Errorf("record view %s: %w", id, err)
	}
	return nil
}

func storyRef(id string) store.Ref {
	return store.Ref{Collection: collectionStories, ID: id}
}
