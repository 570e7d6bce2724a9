package repository

import (
	"context"
	"fmt"

	"vault_chat/internal/store"
	"vault_chat/pkg/logger"
)

type MediaRepository interface {
	// Store загружает объект и возвращает ссылку на него. В документах хранится только ссылка.
	Store(ctx context.Context, path string, data []byte) (string, error)
	// URL выдает временную ссылку для клиента; вызывается при каждом чтении.
	URL(ctx context.Context, ref string) (string, error)
	Delete(ctx context.Context, ref string) error
}

type mediaRepository struct {
	blobs store.BlobStore
	log   logger.Logger
}

func NewMediaRepository(blobs store.BlobStore, log logger.Logger) MediaRepository {
	return &mediaRepository{blobs: blobs, log: log}
}

func (r *mediaRepository) Store(ctx context.Context, path string, data []byte) (string, error) {
	ref, err := r.blobs.Upload(ctx, path, data)
	if err != nil {
		r.log.Error("Failed to upload media", "error", err, "path", path)
		return "", fmt.Errorf("upload %s: %w", path, err)
	}
	return ref, nil
}

func (r *mediaRepository) URL(ctx context.Context, ref string) (string, error) {
	url, err := r.blobs.URL(ctx, ref)
	if err != nil {
		r.log.Warn("Failed to resolve media URL", "error", err, "ref", ref)
		return "", fmt.Errorf("resolve url %s: %w", ref, err)
	}
	return url, nil
}

func (r *mediaRepository) Delete(ctx context.Context, ref string) error {
	if err := r.blobs.Delete(ctx, ref); err != nil {
		r.log.Error("Failed to delete media", "error", err, "ref", ref)
		return fmt.Errorf("delete %s: %w", ref, err)
	}
	return nil
}
