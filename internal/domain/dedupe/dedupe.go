// Package dedupe remembers the first outcome recorded for an idempotency key
// so that a repeated request can be answered with the same result.
package dedupe

import (
	"container/list"
	"sync"
)

// DefaultMaxSize bounds a Store created without WithMaxSize.
const DefaultMaxSize = 50000

// Option applies a configuration option to a Store.
type Option func(*settings)

type settings struct {
	maxSize int
}

// WithMaxSize sets the maximum number of keys to keep in memory.
// If maxSize > 0 the oldest key is evicted first once the bound is reached.
// If maxSize <= 0 the store is unbounded.
func WithMaxSize(maxSize int) Option {
	return func(s *settings) {
		s.maxSize = maxSize
	}
}

type entry[V any] struct {
	key   string
	value V
}

// Store maps idempotency keys to the first value recorded for them. It is
// safe for concurrent use.
type Store[V any] struct {
	mu      sync.Mutex
	maxSize int
	seen    map[string]*list.Element
	order   *list.List // front is the oldest key
}

// NewStore creates an empty store.
func NewStore[V any](opts ...Option) *Store[V] {
	cfg := settings{maxSize: DefaultMaxSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Store[V]{
		maxSize: cfg.maxSize,
		seen:    make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Lookup returns the value recorded for key.
func (s *Store[V]) Lookup(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.seen[key]; ok {
		return el.Value.(*entry[V]).value, true
	}
	var zero V
	return zero, false
}

// Record stores v under key unless key is already present. It returns the
// value held for key afterwards and whether it was already there, so the
// first writer always wins.
func (s *Store[V]) Record(key string, v V) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.seen[key]; ok {
		return el.Value.(*entry[V]).value, true
	}

	if s.maxSize > 0 && s.order.Len() >= s.maxSize {
		s.evictOldest()
	}
	s.seen[key] = s.order.PushBack(&entry[V]{key: key, value: v})
	return v, false
}

// Forget drops key so that the next Record for it starts over.
func (s *Store[V]) Forget(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.seen[key]; ok {
		s.order.Remove(el)
		delete(s.seen, key)
	}
}

// Size returns the number of keys held.
func (s *Store[V]) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// evictOldest must be called with s.mu held.
func (s *Store[V]) evictOldest() {
	front := s.order.Front()
	if front == nil {
		return
	}
	s.order.Remove(front)
	delete(s.seen, front.Value.(*entry[V]).key)
}
