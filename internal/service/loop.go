package service

import (
	"context"
	"sync"

	apperrors "vault_chat/pkg/errors"
)

// eventLoop выполняет задачи строго по одной в собственной горутине. Все состояние
// сессии меняется только внутри задач цикла, поэтому блокировки ему не нужны.
// Очередь не ограничена: колбэки хранилища никогда не ждут.
type eventLoop struct {
	mu     sync.Mutex
	queue  []func()
	closed bool

	wake chan struct{}
	done chan struct{}
}

func newEventLoop() *eventLoop {
	l := &eventLoop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *eventLoop) run() {
	defer close(l.done)

	for range l.wake {
		for {
			l.mu.Lock()
			if len(l.queue) == 0 {
				closed := l.closed
				l.mu.Unlock()
				if closed {
					return
				}
				break
			}
			task := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()

			task()
		}
	}
}

// Dispatch ставит задачу в очередь и сразу возвращается. После Stop задачи отбрасываются.
func (l *eventLoop) Dispatch(task func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	l.signal()
	return true
}

// Call выполняет fn в цикле и ждет завершения. Нельзя вызывать из задачи цикла.
func (l *eventLoop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Dispatch(func() {
		defer close(finished)
		fn()
	}) {
		return apperrors.ErrSessionClosed
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		// Цикл мог успеть выполнить задачу перед выходом.
		select {
		case <-finished:
			return nil
		default:
			return apperrors.ErrSessionClosed
		}
	}
}

// Stop дожидается выполнения уже поставленных задач и останавливает цикл.
func (l *eventLoop) Stop() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.closed = true
	l.mu.Unlock()

	l.signal()
	<-l.done
}

func (l *eventLoop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}
