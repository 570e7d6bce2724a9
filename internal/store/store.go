// Package store описывает абстракции realtime-хранилища документов и хранилища blob-ов,
// поверх которых работает движок синхронизации.
package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrBlobNotFound     = errors.New("blob not found")
)

// Ref адресует документ внутри коллекции. Коллекция может быть вложенной:
// "chats/<id>/messages".
type Ref struct {
	Collection string
	ID         string
}

func (r Ref) String() string {
	return r.Collection + "/" + r.ID
}

// CollectionPath собирает путь вложенной коллекции из сегментов.
func CollectionPath(segments ...string) string {
	return strings.Join(segments, "/")
}

type Document struct {
	Ref       Ref
	Fields    map[string]any
	CreatedAt time.Time // выставляется хранилищем, а не клиентом
}

// Listener получает полный результат запроса при каждом изменении.
// Для одной подписки вызовы последовательны и идут в порядке изменений.
type Listener func(docs []Document)

// Subscription отменяет подписку. После возврата из Cancel слушатель больше не вызывается.
// Cancel нельзя вызывать изнутри самого слушателя.
type Subscription interface {
	Cancel()
}

// SubscriptionFunc адаптирует функцию к Subscription.
type SubscriptionFunc func()

func (f SubscriptionFunc) Cancel() { f() }

// Update - изменение полей одного документа внутри Batch.
type Update struct {
	Ref    Ref
	Fields map[string]any
}

// ArrayUnion - трансформация поля: добавить значения в массив без дублей.
type ArrayUnion []any

type DocumentStore interface {
	// Subscribe доставляет начальный снимок и затем снимок после каждого изменения.
	Subscribe(ctx context.Context, q Query, fn Listener) (Subscription, error)
	Get(ctx context.Context, ref Ref) (Document, error)
	// Add создает документ; CreatedAt назначается хранилищем.
	Add(ctx context.Context, collection string, fields map[string]any) (Document, error)
	// Batch применяет все изменения атомарно: либо все, либо ни одного.
	Batch(ctx context.Context, updates []Update) error
	Delete(ctx context.Context, ref Ref) error
}

type BlobStore interface {
	Upload(ctx context.Context, path string, data []byte) (string, error)
	URL(ctx context.Context, ref string) (string, error)
	Delete(ctx context.Context, ref string) error
}
