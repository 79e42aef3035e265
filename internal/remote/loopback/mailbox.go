package loopback

import (
	"context"
	"sync"

	"github.com/dshills/keystorm-collab/internal/remote"
)

// mailbox is an unbounded FIFO with a blocking receive.
type mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	notify chan struct{}
	closed chan struct{}
	once   sync.Once
}

func newMailbox[T any]() *mailbox[T] {
	return &mailbox[T]{
		notify: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

func (m *mailbox[T]) push(v T) bool {
	select {
	case <-m.closed:
		return false
	default:
	}
	m.mu.Lock()
	m.items = append(m.items, v)
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
	return true
}

func (m *mailbox[T]) recv(ctx context.Context) (T, error) {
	var zero T
	for {
		m.mu.Lock()
		if len(m.items) > 0 {
			v := m.items[0]
			m.items[0] = zero
			m.items = m.items[1:]
			m.mu.Unlock()
			return v, nil
		}
		m.mu.Unlock()

		select {
		case <-m.notify:
		case <-m.closed:
			return zero, remote.ErrClosed
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

func (m *mailbox[T]) close() {
	m.once.Do(func() { close(m.closed) })
}

func (m *mailbox[T]) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}
