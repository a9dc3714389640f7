// Package eventbus is an in-process publish/subscribe channel with one Topic per
// payload type. Handlers run synchronously in subscription order on Publish.
package eventbus

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type Handler[T any] func(ctx context.Context, event T) error

type Topic[T any] struct {
	name string
	mu   sync.RWMutex
	next int
	subs map[int]Handler[T]
	ids  []int
}

func NewTopic[T any](name string) *Topic[T] {
	return &Topic[T]{name: name, subs: map[int]Handler[T]{}}
}

func (t *Topic[T]) Name() string {
	return t.name
}

// Subscribe registers h and returns a func that removes it.
func (t *Topic[T]) Subscribe(h Handler[T]) (unsubscribe func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.next
	t.next++
	t.subs[id] = h
	t.ids = append(t.ids, id)

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subs, id)
		for i, v := range t.ids {
			if v == id {
				t.ids = append(t.ids[:i], t.ids[i+1:]...)
				break
			}
		}
	}
}

// Publish delivers event to every subscriber. A failing subscriber is logged and
// does not stop delivery to the rest.
func (t *Topic[T]) Publish(ctx context.Context, event T) {
	t.mu.RLock()
	handlers := make([]Handler[T], 0, len(t.ids))
	for _, id := range t.ids {
		handlers = append(handlers, t.subs[id])
	}
	t.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			zap.L().Warn("event subscriber failed", zap.String("topic", t.name), zap.Error(err))
		}
	}
}
