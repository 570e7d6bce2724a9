// Package pgstore - realtime-хранилище документов поверх PostgreSQL (JSONB)
// с уведомлениями об изменениях через Redis pub/sub.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"vault_chat/internal/store"
	"vault_chat/pkg/logger"
)

const (
	// Префикс канала Redis для уведомлений об изменениях коллекции
	ChangesChannelPrefix = "docstore:"

	defaultResyncInterval = 30 * time.Second
)

const schema = `
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id         TEXT NOT NULL,
		data       JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (collection, id)
	);
	CREATE INDEX IF NOT EXISTS documents_collection_created_idx ON documents (collection, created_at);
`

type Store struct {
	db             *pgxpool.Pool
	rdb            *redis.Client
	log            logger.Logger
	resyncInterval time.Duration
}

func New(db *pgxpool.Pool, rdb *redis.Client, resyncInterval time.Duration, log logger.Logger) *Store {
	if resyncInterval <= 0 {
		resyncInterval = defaultResyncInterval
	}
	return &Store{db: db, rdb: rdb, log: log, resyncInterval: resyncInterval}
}

// Migrate создает таблицу документов, если ее нет.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate documents: %w", err)
	}
	return nil
}

func channelFor(collection string) string {
	return ChangesChannelPrefix + collection
}

func (s *Store) Subscribe(ctx context.Context, q store.Query, fn store.Listener) (store.Subscription, error) {
	pubsub := s.rdb.Subscribe(ctx, channelFor(q.Collection))
	// Дожидаемся подтверждения подписки, чтобы не пропустить изменения между запросом и SUBSCRIBE.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", q.Collection, err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer pubsub.Close()
		s.watch(subCtx, q, pubsub.Channel(), fn)
	}()

	var once sync.Once
	return store.SubscriptionFunc(func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}), nil
}

func (s *Store) watch(ctx context.Context, q store.Query, changes <-chan *redis.Message, fn store.Listener) {
	ticker := time.NewTicker(s.resyncInterval)
	defer ticker.Stop()

	var last []store.Document
	emit := func() {
		docs, err := s.query(ctx, q)
		if err != nil {
			if ctx.Err() == nil {
				// Временная ошибка - следующий сигнал или resync даст свежий снимок.
				s.log.Warn("Failed to refresh subscription", "error", err, "collection", q.Collection)
			}
			return
		}
		if last != nil && sameSnapshot(last, docs) {
			return
		}
		last = docs
		if ctx.Err() == nil {
			fn(docs)
		}
	}

	emit()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			emit()
		case <-ticker.C:
			emit()
		}
	}
}

func (s *Store) query(ctx context.Context, q store.Query) ([]store.Document, error) {
	sql, args, err := buildSelect(q)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", q.Collection, err)
	}
	defer rows.Close()

	docs := make([]store.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(q.Collection, rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", q.Collection, err)
	}
	return docs, nil
}

func (s *Store) Get(ctx context.Context, ref store.Ref) (store.Document, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, data, created_at
		FROM documents
		WHERE collection = $1 AND id = $2
	`, ref.Collection, ref.ID)

	doc, err := scanDocument(ref.Collection, row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Document{}, fmt.Errorf("%s: %w", ref, store.ErrDocumentNotFound)
		}
		return store.Document{}, err
	}
	return doc, nil
}

func (s *Store) Add(ctx context.Context, collection string, fields map[string]any) (store.Document, error) {
	data, err := json.Marshal(store.ApplyFields(nil, fields))
	if err != nil {
		return store.Document{}, fmt.Errorf("failed to marshal document: %w", err)
	}

	doc := store.Document{
		Ref:    store.Ref{Collection: collection, ID: uuid.NewString()},
		Fields: store.ApplyFields(nil, fields),
	}

	// created_at назначает сервер БД
	err = s.db.QueryRow(ctx, `
		INSERT INTO documents (collection, id, data)
		VALUES ($1, $2, $3::jsonb)
		RETURNING created_at
	`, collection, doc.Ref.ID, string(data)).Scan(&doc.CreatedAt)
	if err != nil {
		s.log.Error("Failed to add document", "error", err, "collection", collection)
		return store.Document{}, fmt.Errorf("failed to add document: %w", err)
	}

	s.publish(ctx, collection)
	return doc, nil
}

func (s *Store) Batch(ctx context.Context, updates []store.Update) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin batch: %w", err)
	}
	defer tx.Rollback(ctx)

	touched := make(map[string]struct{})
	for _, u := range updates {
		var raw []byte
		err := tx.QueryRow(ctx, `
			SELECT data FROM documents
			WHERE collection = $1 AND id = $2
			FOR UPDATE
		`, u.Ref.Collection, u.Ref.ID).Scan(&raw)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("batch update %s: %w", u.Ref, store.ErrDocumentNotFound)
			}
			return fmt.Errorf("batch update %s: %w", u.Ref, err)
		}

		current := map[string]any{}
		if err := json.Unmarshal(raw, &current); err != nil {
			return fmt.Errorf("batch update %s: %w", u.Ref, err)
		}

		data, err := json.Marshal(store.ApplyFields(current, u.Fields))
		if err != nil {
			return fmt.Errorf("batch update %s: %w", u.Ref, err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE documents SET data = $3::jsonb
			WHERE collection = $1 AND id = $2
		`, u.Ref.Collection, u.Ref.ID, string(data)); err != nil {
			return fmt.Errorf("batch update %s: %w", u.Ref, err)
		}
		touched[u.Ref.Collection] = struct{}{}
	}

	if err := tx.Commit(ctx); err != nil {
		s.log.Error("Failed to commit batch", "error", err, "updates", len(updates))
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	for collection := range touched {
		s.publish(ctx, collection)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, ref store.Ref) error {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM documents
		WHERE collection = $1 AND id = $2
	`, ref.Collection, ref.ID)
	if err != nil {
		s.log.Error("Failed to delete document", "error", err, "ref", ref.String())
		return fmt.Errorf("failed to delete %s: %w", ref, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", ref, store.ErrDocumentNotFound)
	}

	s.publish(ctx, ref.Collection)
	return nil
}

// publish будит подписчиков коллекции. Потеря уведомления не критична:
// подписки периодически перечитывают снимок.
func (s *Store) publish(ctx context.Context, collection string) {
	if err := s.rdb.Publish(ctx, channelFor(collection), "changed").Err(); err != nil {
		s.log.Warn("Failed to publish change notification", "error", err, "collection", collection)
	}
}

func buildSelect(q store.Query) (string, []any, error) {
	var (
		where = []string{"collection = $1"}
		args  = []any{q.Collection}
	)

	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	for _, f := range q.Filters {
		value, err := json.Marshal(f.Value)
		if err != nil {
			return "", nil, fmt.Errorf("invalid filter value for %s: %w", f.Field, err)
		}
		field := next(f.Field)

		switch f.Op {
		case store.OpEqual:
			where = append(where, fmt.Sprintf("data -> %s::text = %s::jsonb", field, next(string(value))))
		case store.OpNotEqual:
			where = append(where, fmt.Sprintf("data -> %s::text IS DISTINCT FROM %s::jsonb", field, next(string(value))))
		case store.OpArrayContains:
			where = append(where, fmt.Sprintf("data -> %s::text @> %s::jsonb", field, next("["+string(value)+"]")))
		default:
			return "", nil, fmt.Errorf("unsupported filter operator %q", f.Op)
		}
	}

	if !q.CreatedAfter.IsZero() {
		where = append(where, "created_at > "+next(q.CreatedAfter))
	}

	sql := "SELECT id, data, created_at FROM documents WHERE " + strings.Join(where, " AND ")
	if q.OrderByCreated {
		sql += " ORDER BY created_at ASC, id ASC"
	}
	return sql, args, nil
}

func scanDocument(collection string, row pgx.Row) (store.Document, error) {
	var (
		doc = store.Document{Ref: store.Ref{Collection: collection}}
		raw []byte
	)
	if err := row.Scan(&doc.Ref.ID, &raw, &doc.CreatedAt); err != nil {
		return store.Document{}, err
	}

	doc.Fields = map[string]any{}
	if err := json.Unmarshal(raw, &doc.Fields); err != nil {
		return store.Document{}, fmt.Errorf("failed to decode %s/%s: %w", collection, doc.Ref.ID, err)
	}
	return doc, nil
}

func sameSnapshot(a, b []store.Document) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Ref != b[i].Ref || !a[i].CreatedAt.Equal(b[i].CreatedAt) {
			return false
		}
		left, _ := json.Marshal(a[i].Fields)
		right, _ := json.Marshal(b[i].Fields)
		if string(left) != string(right) {
			return false
		}
	}
	return true
}
