package cache

import (
	"container/list"
	"sync"
)

// entry is one cached value with its position in the recency list
type entry struct {
	key     string
	value   interface{}
	element *list.Element
}

// LRUCache is a thread-safe fixed-capacity LRU cache. The engine uses it
// for sstable point reads: tables are immutable, so cached results never
// need invalidation and simply age out after compaction.
type LRUCache struct {
	mu        sync.Mutex
	capacity  int
	items     map[string]*entry
	lruList   *list.List
	hits      uint64
	misses    uint64
	evictions uint64
}

// NewLRUCache creates a cache holding at most capacity entries
func NewLRUCache(capacity int) *LRUCache {
	if capacity < 1 {
		capacity = 1
	}
	return &LRUCache{
		capacity: capacity,
		items:    make(map[string]*entry),
		lruList:  list.New(),
	}
}

// Get retrieves a value from the cache
func (c *LRUCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.items[key]
	if !exists {
		c.misses++
		return nil, false
	}

	c.lruList.MoveToFront(e.element)
	c.hits++
	return e.value, true
}

// Put adds a value to the cache, evicting the least recently used entry
// when over capacity.
func (c *LRUCache) Put(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, exists := c.items[key]; exists {
		e.value = value
		c.lruList.MoveToFront(e.element)
		return
	}

	e := &entry{key: key, value: value}
	e.element = c.lruList.PushFront(e)
	c.items[key] = e

	if c.lruList.Len() > c.capacity {
		c.evictOldest()
	}
}

func (c *LRUCache) evictOldest() {
	oldest := c.lruList.Back()
	if oldest == nil {
		return
	}
	e := oldest.Value.(*entry)
	c.lruList.Remove(oldest)
	delete(c.items, e.key)
	c.evictions++
}

// Clear removes all entries from the cache
func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*entry)
	c.lruList = list.New()
}

// Size returns the current number of items in the cache
func (c *LRUCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns cache statistics
func (c *LRUCache) Stats() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return map[string]interface{}{
		"capacity":  c.capacity,
		"size":      len(c.items),
		"hits":      c.hits,
		"misses":    c.misses,
		"evictions": c.evictions,
		"hit_rate":  hitRate,
	}
}
