// Package events provides typed publish/subscribe topics, one per event kind.
package events

import (
	"slices"
	"sync"

	"github.com/rs/zerolog/log"
)

// Topic fans a payload of type T out to its subscribers.
type Topic[T any] struct {
	name string

	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]func(T)
}

// NewTopic constructs a Topic. The name is used for logging only.
func NewTopic[T any](name string) *Topic[T] {
	return &Topic[T]{name: name, subs: make(map[uint64]func(T))}
}

// Subscribe registers fn and returns a function that removes it.
func (t *Topic[T]) Subscribe(fn func(T)) func() {
	if t == nil || fn == nil {
		return func() {}
	}
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.subs[id] = fn
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
		})
	}
}

// Len returns the number of subscribers.
func (t *Topic[T]) Len() int {
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// Publish calls every subscriber in registration order. A panicking
// subscriber is logged and does not stop delivery to the others.
func (t *Topic[T]) Publish(payload T) {
	if t == nil {
		return
	}
	t.mu.RLock()
	ids := make([]uint64, 0, len(t.subs))
	for id := range t.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(T), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, t.subs[id])
	}
	t.mu.RUnlock()

	for _, fn := range fns {
		t.deliver(fn, payload)
	}
}

func (t *Topic[T]) deliver(fn func(T), payload T) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("topic", t.name).
				Interface("panic", r).
				Msg("Event subscriber panicked")
		}
	}()
	fn(payload)
}
