// Package miniostore - хранилище медиа (stories, вложения) в S3-совместимом бакете.
package miniostore

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"vault_chat/internal/store"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	URLTTL    time.Duration
}

type Storage struct {
	cfg    Config
	client *minio.Client
}

func New(cfg Config) (*Storage, error) {
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "http://"), "https://")
	cl, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = time.Hour
	}
	return &Storage{cfg: cfg, client: cl}, nil
}

func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return err
	}
	if !exists {
		return s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{})
	}
	return nil
}

// Upload кладет объект под ключом path; ключ и есть ссылка на медиа.
func (s *Storage) Upload(ctx context.Context, path string, data []byte) (string, error) {
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, path,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: http.DetectContentType(data)})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", path, err)
	}
	return path, nil
}

func (s *Storage) URL(ctx context.Context, ref string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.cfg.Bucket, ref, s.cfg.URLTTL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", ref, err)
	}
	return u.String(), nil
}

func (s *Storage) Delete(ctx context.Context, ref string) error {
	if err := s.client.RemoveObject(ctx, s.cfg.Bucket, ref, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove %s: %w", ref, err)
	}
	return nil
}

var _ store.BlobStore = (*Storage)(nil)
