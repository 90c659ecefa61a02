package cache

import (
	"container/list"
	"time"

	"github.com/c360/lookupstream/errors"
)

// ComputeFunc produces the value for a key on a cache miss.
// A returned error is handed to the caller of Get unchanged and nothing is stored.
type ComputeFunc[V any] func() (V, error)

// Cache memoizes the result of a computation per key.
type Cache[K comparable, V any] interface {
	// Get returns the live value stored for key, or runs compute, stores its
	// result and returns it. Errors from compute are returned as-is.
	Get(key K, compute ComputeFunc[V]) (V, error)

	// Size returns the current number of entries, including expired entries
	// that have not been removed yet.
	Size() int

	// Keys returns the live keys, most recently used first.
	Keys() []K

	// Clear removes all entries from the cache.
	Clear() error

	// Stats returns cache statistics, nil for caches that track nothing.
	Stats() *Statistics

	// Close stops background work (expiry sweeps). The cache remains usable.
	Close() error
}

// EvictionReason tells an EvictCallback why an entry left the cache.
type EvictionReason int

const (
	// EvictedCapacity means the entry was the least recently used when capacity was exceeded.
	EvictedCapacity EvictionReason = iota
	// EvictedExpired means the entry outlived the time-to-live.
	EvictedExpired
	// EvictedCleared means the cache was cleared.
	EvictedCleared
)

// String returns the reason name used in logs and metric labels.
func (r EvictionReason) String() string {
	switch r {
	case EvictedCapacity:
		return "capacity"
	case EvictedExpired:
		return "expired"
	case EvictedCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// EvictCallback is called after an entry is removed from the cache.
// It runs outside the cache lock.
type EvictCallback[K comparable, V any] func(key K, value V, reason EvictionReason)

// entry is one memoized result. Its recency is its position in the order list.
type entry[K comparable, V any] struct {
	key        K
	value      V
	insertedAt time.Time
}

// eviction records a removed entry so callbacks can run after the lock is released.
type eviction[K comparable, V any] struct {
	key    K
	value  V
	reason EvictionReason
}

// store holds entries in a map plus an access-ordered list, front is most recently used.
// It is not safe for concurrent use; callers hold their own lock.
type store[K comparable, V any] struct {
	capacity int
	ttl      time.Duration
	now      func() time.Time
	items    map[K]*list.Element
	order    *list.List
}

func newStore[K comparable, V any](capacity int, ttl time.Duration, now func() time.Time) *store[K, V] {
	return &store[K, V]{
		capacity: capacity,
		ttl:      ttl,
		now:      now,
		items:    make(map[K]*list.Element),
		order:    list.New(),
	}
}

// expired reports whether e is at or past its time-to-live.
func (s *store[K, V]) expired(e *entry[K, V], now time.Time) bool {
	return now.Sub(e.insertedAt) >= s.ttl
}

// lookup returns the live value for key and promotes it to most recently used.
// An expired entry is removed and returned as a miss together with its eviction record.
func (s *store[K, V]) lookup(key K) (V, bool, *eviction[K, V]) {
	var zero V

	element, exists := s.items[key]
	if !exists {
		return zero, false, nil
	}

	e := element.Value.(*entry[K, V])
	if s.expired(e, s.now()) {
		s.remove(element)
		return zero, false, &eviction[K, V]{key: e.key, value: e.value, reason: EvictedExpired}
	}

	s.order.MoveToFront(element)
	return e.value, true, nil
}

// insert stores value at the most recently used position, replacing any entry
// for the same key, and evicts from the back until the capacity holds.
func (s *store[K, V]) insert(key K, value V) []eviction[K, V] {
	now := s.now()

	if element, exists := s.items[key]; exists {
		e := element.Value.(*entry[K, V])
		e.value = value
		e.insertedAt = now
		s.order.MoveToFront(element)
		return nil
	}

	s.items[key] = s.order.PushFront(&entry[K, V]{key: key, value: value, insertedAt: now})

	var evicted []eviction[K, V]
	for len(s.items) > s.capacity {
		element := s.order.Back()
		if element == nil {
			break
		}
		e := s.remove(element)
		evicted = append(evicted, eviction[K, V]{key: e.key, value: e.value, reason: EvictedCapacity})
	}
	return evicted
}

// removeExpired drops every expired entry.
func (s *store[K, V]) removeExpired() []eviction[K, V] {
	now := s.now()
	var evicted []eviction[K, V]

	for element := s.order.Front(); element != nil; {
		next := element.Next()
		e := element.Value.(*entry[K, V])
		if s.expired(e, now) {
			s.remove(element)
			evicted = append(evicted, eviction[K, V]{key: e.key, value: e.value, reason: EvictedExpired})
		}
		element = next
	}
	return evicted
}

// clear drops every entry, oldest first.
func (s *store[K, V]) clear() []eviction[K, V] {
	evicted := make([]eviction[K, V], 0, len(s.items))
	for element := s.order.Back(); element != nil; element = element.Prev() {
		e := element.Value.(*entry[K, V])
		evicted = append(evicted, eviction[K, V]{key: e.key, value: e.value, reason: EvictedCleared})
	}

	s.items = make(map[K]*list.Element)
	s.order.Init()
	return evicted
}

// keys returns the live keys, most recently used first.
func (s *store[K, V]) keys() []K {
	now := s.now()
	keys := make([]K, 0, len(s.items))
	for element := s.order.Front(); element != nil; element = element.Next() {
		e := element.Value.(*entry[K, V])
		if !s.expired(e, now) {
			keys = append(keys, e.key)
		}
	}
	return keys
}

func (s *store[K, V]) size() int {
	return len(s.items)
}

func (s *store[K, V]) remove(element *list.Element) *entry[K, V] {
	e := element.Value.(*entry[K, V])
	delete(s.items, e.key)
	s.order.Remove(element)
	return e
}

// validateBounds checks constructor arguments shared by the bounded strategies.
func validateBounds(method string, capacity int, ttl time.Duration) error {
	if capacity <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", method, "capacity must be positive")
	}
	if ttl <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", method, "ttl must be positive")
	}
	return nil
}
