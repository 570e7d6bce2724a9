// Package memstore - in-memory реализация realtime-хранилища документов.
// Используется для локальной разработки и в тестах движка.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"vault_chat/internal/store"
)

type Store struct {
	mu          sync.Mutex
	collections map[string]map[string]store.Document
	subs        map[int]*subscription
	nextSubID   int
	version     uint64
	lastCreated time.Time
	now         func() time.Time
	batches     int
}

type subscription struct {
	query store.Query
	fn    store.Listener

	mu        sync.Mutex
	delivered uint64
	cancelled bool
}

type delivery struct {
	sub     *subscription
	version uint64
	docs    []store.Document
}

func New() *Store {
	return &Store{
		collections: make(map[string]map[string]store.Document),
		subs:        make(map[int]*subscription),
		now:         time.Now,
	}
}

// SetClock подменяет источник серверного времени.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	s.lastCreated = time.Time{}
}

func (s *Store) Subscribe(ctx context.Context, q store.Query, fn store.Listener) (store.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &subscription{query: q, fn: fn}

	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = sub
	initial := delivery{sub: sub, version: s.version, docs: s.queryLocked(q)}
	s.mu.Unlock()

	initial.deliver()

	return store.SubscriptionFunc(func() {
		sub.mu.Lock()
		sub.cancelled = true
		sub.mu.Unlock()

		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}), nil
}

func (s *Store) Get(ctx context.Context, ref store.Ref) (store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.collections[ref.Collection][ref.ID]
	if !ok {
		return store.Document{}, fmt.Errorf("%s: %w", ref, store.ErrDocumentNotFound)
	}
	return copyDocument(doc), nil
}

func (s *Store) Add(ctx context.Context, collection string, fields map[string]any) (store.Document, error) {
	if err := ctx.Err(); err != nil {
		return store.Document{}, err
	}

	s.mu.Lock()
	doc := store.Document{
		Ref:       store.Ref{Collection: collection, ID: uuid.NewString()},
		Fields:    store.ApplyFields(nil, fields),
		CreatedAt: s.nextCreatedLocked(),
	}
	s.putLocked(doc)
	pending := s.changedLocked(collection)
	s.mu.Unlock()

	deliverAll(pending)
	return copyDocument(doc), nil
}

// Put записывает документ с заданным ID (создание пользователей извне, сиды).
func (s *Store) Put(ref store.Ref, fields map[string]any) store.Document {
	s.mu.Lock()
	doc := store.Document{Ref: ref, Fields: store.ApplyFields(nil, fields), CreatedAt: s.nextCreatedLocked()}
	if existing, ok := s.collections[ref.Collection][ref.ID]; ok {
		doc.CreatedAt = existing.CreatedAt
	}
	s.putLocked(doc)
	pending := s.changedLocked(ref.Collection)
	s.mu.Unlock()

	deliverAll(pending)
	return copyDocument(doc)
}

func (s *Store) Batch(ctx context.Context, updates []store.Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(updates) == 0 {
		return nil
	}

	s.mu.Lock()
	// Сначала проверяем все документы, чтобы не применить батч частично.
	for _, u := range updates {
		if _, ok := s.collections[u.Ref.Collection][u.Ref.ID]; !ok {
			s.mu.Unlock()
			return fmt.Errorf("batch update %s: %w", u.Ref, store.ErrDocumentNotFound)
		}
	}

	touched := make(map[string]struct{})
	for _, u := range updates {
		doc := s.collections[u.Ref.Collection][u.Ref.ID]
		doc.Fields = store.ApplyFields(doc.Fields, u.Fields)
		s.putLocked(doc)
		touched[u.Ref.Collection] = struct{}{}
	}
	s.batches++

	var pending []delivery
	for collection := range touched {
		pending = append(pending, s.changedLocked(collection)...)
	}
	s.mu.Unlock()

	deliverAll(pending)
	return nil
}

func (s *Store) Delete(ctx context.Context, ref store.Ref) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	docs, ok := s.collections[ref.Collection]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", ref, store.ErrDocumentNotFound)
	}
	if _, ok := docs[ref.ID]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", ref, store.ErrDocumentNotFound)
	}
	delete(docs, ref.ID)
	pending := s.changedLocked(ref.Collection)
	s.mu.Unlock()

	deliverAll(pending)
	return nil
}

// Subscribers - число активных подписок на коллекцию.
func (s *Store) Subscribers(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, sub := range s.subs {
		if sub.query.Collection == collection {
			n++
		}
	}
	return n
}

// TotalSubscribers - число всех активных подписок.
func (s *Store) TotalSubscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Batches - число успешно примененных батчей.
func (s *Store) Batches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches
}

func (s *Store) Documents(collection string) []store.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryLocked(store.Query{Collection: collection, OrderByCreated: true})
}

func (s *Store) nextCreatedLocked() time.Time {
	now := s.now()
	// Время создания строго возрастает, иначе порядок сообщений неоднозначен.
	if !now.After(s.lastCreated) {
		now = s.lastCreated.Add(time.Nanosecond)
	}
	s.lastCreated = now
	return now
}

func (s *Store) putLocked(doc store.Document) {
	docs, ok := s.collections[doc.Ref.Collection]
	if !ok {
		docs = make(map[string]store.Document)
		s.collections[doc.Ref.Collection] = docs
	}
	docs[doc.Ref.ID] = doc
}

func (s *Store) queryLocked(q store.Query) []store.Document {
	docs := make([]store.Document, 0)
	for _, doc := range s.collections[q.Collection] {
		if q.Matches(doc) {
			docs = append(docs, copyDocument(doc))
		}
	}
	store.SortByCreated(docs)
	return docs
}

func (s *Store) changedLocked(collection string) []delivery {
	s.version++

	var pending []delivery
	for _, sub := range s.subs {
		if sub.query.Collection != collection {
			continue
		}
		pending = append(pending, delivery{sub: sub, version: s.version, docs: s.queryLocked(sub.query)})
	}
	return pending
}

func deliverAll(pending []delivery) {
	for _, d := range pending {
		d.deliver()
	}
}

func (d delivery) deliver() {
	d.sub.mu.Lock()
	defer d.sub.mu.Unlock()

	// Устаревшие снимки, обогнанные более новыми, отбрасываются.
	if d.sub.cancelled || (d.sub.delivered > 0 && d.version <= d.sub.delivered) {
		return
	}
	d.sub.delivered = d.version
	d.sub.fn(d.docs)
}

func copyDocument(doc store.Document) store.Document {
	return store.Document{
		Ref:       doc.Ref,
		Fields:    store.ApplyFields(doc.Fields, nil),
		CreatedAt: doc.CreatedAt,
	}
}
