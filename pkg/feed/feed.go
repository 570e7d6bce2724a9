// Package feed содержит реактивные примитивы для раздачи состояния подписчикам.
package feed

import "sync"

// Value хранит последнее опубликованное значение. Подписчик всегда получает
// самое свежее значение; промежуточные значения медленному подписчику не гарантируются.
type Value[T any] struct {
	mu       sync.Mutex
	current  T
	hasValue bool
	subs     map[int]chan T
	nextID   int
	closed   bool
}

func NewValue[T any]() *Value[T] {
	return &Value[T]{subs: make(map[int]chan T)}
}

func (v *Value[T]) Publish(value T) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return
	}
	v.current = value
	v.hasValue = true

	for _, ch := range v.subs {
		replaceLatest(ch, value)
	}
}

func (v *Value[T]) Get() (T, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current, v.hasValue
}

// Subscribe возвращает канал обновлений и функцию отписки. Если значение уже
// есть, оно сразу лежит в канале.
func (v *Value[T]) Subscribe() (<-chan T, func()) {
	v.mu.Lock()
	defer v.mu.Unlock()

	ch := make(chan T, 1)
	if v.closed {
		close(ch)
		return ch, func() {}
	}
	if v.hasValue {
		ch <- v.current
	}

	id := v.nextID
	v.nextID++
	v.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			v.mu.Lock()
			defer v.mu.Unlock()
			if sub, ok := v.subs[id]; ok {
				delete(v.subs, id)
				close(sub)
			}
		})
	}
}

// Close закрывает все каналы подписчиков.
func (v *Value[T]) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return
	}
	v.closed = true
	for id, ch := range v.subs {
		delete(v.subs, id)
		close(ch)
	}
}

func (v *Value[T]) Subscribers() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.subs)
}

func replaceLatest[T any](ch chan T, value T) {
	for {
		select {
		case ch <- value:
			return
		default:
		}
		// Канал заполнен устаревшим значением - выкидываем его.
		select {
		case <-ch:
		default:
		}
	}
}
