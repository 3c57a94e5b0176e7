// Package lrucache provides a bounded, TTL-aware LRU cache used for
// conversation metadata, transcript payloads and derived query results.
//
// A Store never loads values itself: callers populate it after a successful
// fetch and invalidate it after mutating the underlying data.
package lrucache

import (
	"fmt"
	"sync"
	"time"

	"github.com/chirino/conversation-service/internal/metrics"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Store is a fixed-capacity LRU cache with a per-entry expiry. All methods
// are safe for concurrent use; a single mutex guards the LRU bookkeeping and
// is never held across I/O.
type Store[V any] struct {
	name       string
	defaultTTL time.Duration
	now        func() time.Time

	mu  sync.Mutex
	lru *simplelru.LRU[string, entry[V]]
}

// Option customizes a Store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates a Store holding at most capacity entries. Entries put with a
// non-positive TTL use defaultTTL; a non-positive defaultTTL means such
// entries never expire.
func New[V any](name string, capacity int, defaultTTL time.Duration, opts ...Option) (*Store[V], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("lrucache %s: capacity must be positive, got %d", name, capacity)
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	l, err := simplelru.NewLRU[string, entry[V]](capacity, nil)
	if err != nil {
		return nil, fmt.Errorf("lrucache %s: %w", name, err)
	}
	return &Store[V]{
		name:       name,
		defaultTTL: defaultTTL,
		now:        o.now,
		lru:        l,
	}, nil
}

// Name returns the cache name used in metrics and logs.
func (s *Store[V]) Name() string { return s.name }

// Get returns the cached value and promotes it to most recently used.
// An expired entry is removed and reported as a miss.
func (s *Store[V]) Get(key string) (V, bool) {
	now := s.now()

	s.mu.Lock()
	e, ok := s.lru.Get(key)
	if ok && !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
		s.lru.Remove(key)
		ok = false
	}
	s.mu.Unlock()

	metrics.ObserveCache(s.name, ok)
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Put inserts or replaces a value. When the cache is full the least
// recently used entry is evicted.
func (s *Store[V]) Put(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	e := entry[V]{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}

	s.mu.Lock()
	s.lru.Add(key, e)
	s.mu.Unlock()
}

// Invalidate removes a single key.
func (s *Store[V]) Invalidate(key string) {
	s.mu.Lock()
	s.lru.Remove(key)
	s.mu.Unlock()
}

// InvalidateAll removes every entry.
func (s *Store[V]) InvalidateAll() {
	s.mu.Lock()
	s.lru.Purge()
	s.mu.Unlock()
}

// Len returns the number of entries, including ones that have expired but
// have not been touched since.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

// Keys returns the keys from least to most recently used.
func (s *Store[V]) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Keys()
}
