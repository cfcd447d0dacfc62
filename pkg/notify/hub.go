// Package notify provides a small observer/subscription primitive used to fan
// state changes (active utterance, playback state, session snapshots) out to
// any number of listeners.
//
// A [Hub] is the single source of truth for who is listening. Subscribers
// register a callback and receive an unsubscribe function; there is no ad hoc
// event emission anywhere else.
package notify

import (
	"slices"
	"sync"
)

// Hub fans values of type T out to registered subscribers.
//
// Callbacks are invoked synchronously, in registration order, on the goroutine
// that calls [Hub.Publish]. They are called outside the hub's lock, so a
// callback may safely subscribe or unsubscribe. Callbacks must not block.
//
// The zero value is ready to use. All methods are safe for concurrent use.
type Hub[T any] struct {
	mu     sync.Mutex
	nextID uint64
	subs   []subscriber[T]
}

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

// Subscribe registers fn and returns a function that removes it again.
// The returned function is idempotent. A nil fn is ignored and a no-op
// unsubscribe is returned.
func (h *Hub[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs = append(h.subs, subscriber[T]{id: id, fn: fn})
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.subs = slices.DeleteFunc(h.subs, func(s subscriber[T]) bool {
				return s.id == id
			})
		})
	}
}

// Publish delivers v to every current subscriber.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	snapshot := make([]subscriber[T], len(h.subs))
	copy(snapshot, h.subs)
	h.mu.Unlock()

	for _, s := range snapshot {
		s.fn(v)
	}
}

// Len returns the number of registered subscribers.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
