// Package lru implements a bounded, recency-ordered map.
//
// The least recently touched entry is evicted once the cache is full.
// Pinned entries are skipped by eviction; the dashboard pins addresses that
// raised a critical alert so they stay visible however many new addresses
// arrive.
//
// Thread Safety: All methods are safe for concurrent access.
package lru

import (
	"container/list"
	"sync"
)

const defaultCapacity = 1024

type entry[K comparable, V any] struct {
	key    K
	value  V
	pinned bool
}

// Cache is a generic LRU map.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recent
	index    map[K]*list.Element
	pinned   int
	onEvict  func(K, V)
}

// Option configures a Cache.
type Option[K comparable, V any] func(*Cache[K, V])

// WithEvictCallback registers fn to run, under the cache lock, for every
// evicted entry. Removals through Remove do not trigger it.
func WithEvictCallback[K comparable, V any](fn func(K, V)) Option[K, V] {
	return func(c *Cache[K, V]) { c.onEvict = fn }
}

// New creates a cache holding at most capacity unpinned entries
// (default 1024 when capacity <= 0).
func New[K comparable, V any](capacity int, opts ...Option[K, V]) *Cache[K, V] {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	c := &Cache[K, V]{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[K]*list.Element),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value for key and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		c.order.MoveToFront(el)
		return el.Value.(*entry[K, V]).value, true
	}
	var zero V
	return zero, false
}

// Peek returns the value for key without touching recency.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		return el.Value.(*entry[K, V]).value, true
	}
	var zero V
	return zero, false
}

// Put stores value under key, evicting if needed.
func (c *Cache[K, V]) Put(key K, value V) {
	c.Update(key, func(V, bool) V { return value })
}

// Update replaces the value for key with fn(current, found) and marks it
// most recently used. fn runs under the cache lock and must not call back
// into the cache.
func (c *Cache[K, V]) Update(key K, fn func(current V, found bool) V) V {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		e := el.Value.(*entry[K, V])
		e.value = fn(e.value, true)
		c.order.MoveToFront(el)
		return e.value
	}

	var zero V
	e := &entry[K, V]{key: key, value: fn(zero, false)}
	c.index[key] = c.order.PushFront(e)
	c.evict()
	return e.value
}

// Pin exempts key from eviction. Returns false when key is absent.
func (c *Cache[K, V]) Pin(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[key]
	if !ok {
		return false
	}
	if e := el.Value.(*entry[K, V]); !e.pinned {
		e.pinned = true
		c.pinned++
	}
	return true
}

// Unpin makes key evictable again.
func (c *Cache[K, V]) Unpin(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		if e := el.Value.(*entry[K, V]); e.pinned {
			e.pinned = false
			c.pinned--
			c.evict()
		}
	}
}

// Remove deletes key. Returns whether it was present.
func (c *Cache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[key]
	if !ok {
		return false
	}
	c.unlink(el)
	return true
}

// evict drops least recently used unpinned entries while over capacity.
// Caller holds c.mu.
func (c *Cache[K, V]) evict() {
	for c.order.Len()-c.pinned > c.capacity {
		el := c.order.Back()
		for el != nil && el.Value.(*entry[K, V]).pinned {
			el = el.Prev()
		}
		if el == nil {
			return
		}
		e := c.unlink(el)
		if c.onEvict != nil {
			c.onEvict(e.key, e.value)
		}
	}
}

func (c *Cache[K, V]) unlink(el *list.Element) *entry[K, V] {
	e := c.order.Remove(el).(*entry[K, V])
	delete(c.index, e.key)
	if e.pinned {
		c.pinned--
	}
	return e
}

// Values returns every value, most recently used first.
func (c *Cache[K, V]) Values() []V {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]V, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*entry[K, V]).value)
	}
	return out
}

func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache[K, V]) PinnedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pinned
}

func (c *Cache[K, V]) Capacity() int {
	return c.capacity
}
