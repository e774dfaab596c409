// Package cache holds the in-memory recent-message cache used as a fast path
// ahead of the database.
package cache

import (
	"container/list"
	"sync"
)

// DefaultCapacity is the number of entries kept when no size is configured.
const DefaultCapacity = 512

type entry[K comparable, V any] struct {
	key   K
	value V
}

// Recent is a thread-safe bounded map that evicts the oldest-inserted entry
// when full. Storing an existing key replaces it and makes it the newest.
// Reads do not affect eviction order.
type Recent[K comparable, V any] struct {
	mu       sync.Mutex
	order    *list.List
	items    map[K]*list.Element
	capacity int
}

// New creates a Recent cache holding at most capacity entries. Capacities
// below one use DefaultCapacity.
func New[K comparable, V any](capacity int) *Recent[K, V] {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Recent[K, V]{
		order:    list.New(),
		items:    make(map[K]*list.Element, capacity),
		capacity: capacity,
	}
}

// Put stores value under key. It reports whether an older entry was evicted
// to make room.
func (c *Recent[K, V]) Put(key K, value V) (evicted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.order.Remove(el)
		delete(c.items, key)
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*entry[K, V]).key)
		evicted = true
	}

	c.items[key] = c.order.PushBack(&entry[K, V]{key: key, value: value})
	return evicted
}

// Get returns the value stored under key.
func (c *Recent[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		return el.Value.(*entry[K, V]).value, true
	}
	var zero V
	return zero, false
}

// Update replaces the value under key in place without changing its
// position. It reports false when the key is absent.
func (c *Recent[K, V]) Update(key K, fn func(V) V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	e := el.Value.(*entry[K, V])
	e.value = fn(e.value)
	return true
}

// Delete removes key.
func (c *Recent[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.order.Remove(el)
		delete(c.items, key)
	}
}

// Len returns the current number of entries.
func (c *Recent[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Keys returns the keys from oldest to newest.
func (c *Recent[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry[K, V]).key)
	}
	return keys
}
