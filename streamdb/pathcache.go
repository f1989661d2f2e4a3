package streamdb

import (
	"sync"

	"github.com/google/uuid"
)

// pathCache is a bounded LRU of path→id lookups in front of the trie
// (spec.md §4.8: "a secondary LRU in front of the trie caches path → id
// lookups; invalidated on delete, unbind, and any change to the path in
// question"). Grounded on the same doubly-linked-list-plus-map shape as
// internal/pager.PageCache.
type pathCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*pathCacheEntry
	head     *pathCacheEntry
	tail     *pathCacheEntry
}

type pathCacheEntry struct {
	path string
	id   uuid.UUID
	prev *pathCacheEntry
	next *pathCacheEntry
}

func newPathCache(capacity int) *pathCache {
	return &pathCache{capacity: capacity, entries: make(map[string]*pathCacheEntry, capacity)}
}

func (c *pathCache) get(path string) (uuid.UUID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[path]
	if !ok {
		return uuid.UUID{}, false
	}
	c.moveToFront(e)
	return e.id, true
}

func (c *pathCache) put(path string, id uuid.UUID) {
	if c.capacity <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[path]; ok {
		e.id = id
		c.moveToFront(e)
		return
	}
	for len(c.entries) >= c.capacity {
		c.evictTail()
	}
	e := &pathCacheEntry{path: path, id: id}
	c.entries[path] = e
	c.pushFront(e)
}

func (c *pathCache) invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[path]; ok {
		c.unlink(e)
		delete(c.entries, path)
	}
}

func (c *pathCache) moveToFront(e *pathCacheEntry) {
	if c.head == e {
		return
	}
	c.unlink(e)
	c.pushFront(e)
}

func (c *pathCache) pushFront(e *pathCacheEntry) {
	e.prev, e.next = nil, c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *pathCache) unlink(e *pathCacheEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev, e.next = nil, nil
}

func (c *pathCache) evictTail() {
	if c.tail == nil {
		return
	}
	victim := c.tail
	c.unlink(victim)
	delete(c.entries, victim.path)
}
