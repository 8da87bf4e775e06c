package arxiv

import (
	"container/list"
	"sync"
)

// LRUCache is a thread-safe LRU cache keyed by string.
type LRUCache[V any] struct {
	capacity int
	cache    map[string]*list.Element
	list     *list.List
	mu       sync.Mutex
}

type lruEntry[V any] struct {
	key   string
	value V
}

// NewLRUCache creates a new LRU cache with the given capacity.
// When the cache is full, the least recently accessed item is evicted.
func NewLRUCache[V any](capacity int) *LRUCache[V] {
	if capacity <= 0 {
		capacity = 4096
	}
	return &LRUCache[V]{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		list:     list.New(),
	}
}

// Get retrieves a value from the cache
func (lru *LRUCache[V]) Get(key string) (V, bool) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	if elem, ok := lru.cache[key]; ok {
		lru.list.MoveToFront(elem)
		return elem.Value.(*lruEntry[V]).value, true
	}
	var zero V
	return zero, false
}

// Put stores a value in the cache
func (lru *LRUCache[V]) Put(key string, value V) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	if elem, ok := lru.cache[key]; ok {
		elem.Value.(*lruEntry[V]).value = value
		lru.list.MoveToFront(elem)
		return
	}

	if lru.list.Len() >= lru.capacity {
		if back := lru.list.Back(); back != nil {
			delete(lru.cache, back.Value.(*lruEntry[V]).key)
			lru.list.Remove(back)
		}
	}

	lru.cache[key] = lru.list.PushFront(&lruEntry[V]{key: key, value: value})
}

// Delete removes a key from the cache
func (lru *LRUCache[V]) Delete(key string) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	if elem, ok := lru.cache[key]; ok {
		delete(lru.cache, key)
		lru.list.Remove(elem)
	}
}

// Clear removes all entries from the cache
func (lru *LRUCache[V]) Clear() {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	lru.cache = make(map[string]*list.Element)
	lru.list = list.New()
}
