// Package eventbus provides a small in-process publish/subscribe hub. Handlers
// run synchronously on the publishing goroutine, in subscription order.
package eventbus

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

type subscription[T any] struct {
	id      uint64
	handler func(T)
}

// Bus fans a single event type out to every registered handler.
type Bus[T any] struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers []subscription[T]
	logger   *logrus.Logger
}

func New[T any](logger *logrus.Logger) *Bus[T] {
	if logger == nil {
		logger = logrus.New()
	}
	return &Bus[T]{logger: logger}
}

// Subscribe registers handler and returns a function that removes it again.
// A nil handler is ignored.
func (b *Bus[T]) Subscribe(handler func(T)) (unsubscribe func()) {
	if handler == nil {
		return func() {}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, subscription[T]{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.handlers {
				if s.id == id {
					b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers evt to a snapshot of the current handlers. A panicking
// handler is logged and does not prevent delivery to the others.
func (b *Bus[T]) Publish(evt T) {
	b.mu.RLock()
	handlers := make([]subscription[T], len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, s := range handlers {
		b.deliver(s, evt)
	}
}

func (b *Bus[T]) deliver(s subscription[T], evt T) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Errorf("Event handler %d panicked: %s", s.id, fmt.Sprint(r))
		}
	}()
	s.handler(evt)
}

func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}
