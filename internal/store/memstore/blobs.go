package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"vault_chat/internal/store"
)

// Blobs - in-memory хранилище медиа.
type Blobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewBlobs() *Blobs {
	return &Blobs{objects: make(map[string][]byte)}
}

func (b *Blobs) Upload(ctx context.Context, path string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	buf := make([]byte, len(data))
	copy(buf, data)
	b.objects[path] = buf
	return path, nil
}

func (b *Blobs) URL(ctx context.Context, ref string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.objects[ref]; !ok {
		return "", fmt.Errorf("%s: %w", ref, store.ErrBlobNotFound)
	}
	return "mem://" + ref, nil
}

func (b *Blobs) Delete(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.objects[ref]; !ok {
		return fmt.Errorf("%s: %w", ref, store.ErrBlobNotFound)
	}
	delete(b.objects, ref)
	return nil
}

// Keys возвращает отсортированный список ключей объектов.
func (b *Blobs) Keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
