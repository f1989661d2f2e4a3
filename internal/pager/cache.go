package pager

import "sync"

// ───────────────────────────────────────────────────────────────────────────
// Page cache — bounded LRU over decoded page payloads
// ───────────────────────────────────────────────────────────────────────────
//
// Grounded on the teacher's PageBufferPool (internal/storage/pager/pager.go
// in the teacher repo): a doubly-linked list for LRU order plus a map for
// O(1) lookup, guarded by a single mutex since the hot path is a hash
// lookup that hands back the cached slice without copying it (spec.md §5
// "the hot path is short").
//
// Unlike the teacher's pool, entries here are immutable decoded payloads
// (not dirty page frames — this pager has no in-place dirty tracking,
// every WritePage goes straight to disk) and hit/miss counts are taken
// inside the same critical section as the lookup itself, per spec.md §9's
// second Open Question: "fetch-then-count atomically".

type cacheEntry struct {
	id      PageID
	payload []byte
	header  PageHeader
	prev    *cacheEntry
	next    *cacheEntry
}

// PageCache is a bounded LRU cache of decoded page payloads.
type PageCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[PageID]*cacheEntry
	head     *cacheEntry // most recently used
	tail     *cacheEntry // least recently used
	hits     uint64
	misses   uint64
}

// NewPageCache creates a cache with the given capacity (page count). A
// capacity <= 0 disables caching (every lookup misses).
func NewPageCache(capacity int) *PageCache {
	return &PageCache{capacity: capacity, entries: make(map[PageID]*cacheEntry, capacity)}
}

// Get returns the cached payload and header for id, incrementing the hit
// or miss counter atomically with the lookup itself.
func (c *PageCache) Get(id PageID) ([]byte, PageHeader, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		c.misses++
		return nil, PageHeader{}, false
	}
	c.hits++
	c.moveToFront(e)
	return e.payload, e.header, true
}

// Put inserts or refreshes the cached entry for id, evicting the
// least-recently-used entry if the cache is at capacity.
func (c *PageCache) Put(id PageID, payload []byte, hdr PageHeader) {
	if c.capacity <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok {
		e.payload = payload
		e.header = hdr
		c.moveToFront(e)
		return
	}
	for len(c.entries) >= c.capacity {
		c.evictTail()
	}
	e := &cacheEntry{id: id, payload: payload, header: hdr}
	c.entries[id] = e
	c.pushFront(e)
}

// Invalidate drops id from the cache, if present.
func (c *PageCache) Invalidate(id PageID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok {
		c.unlink(e)
		delete(c.entries, id)
	}
}

// Stats returns hit and miss counts observed so far.
func (c *PageCache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *PageCache) moveToFront(e *cacheEntry) {
	if c.head == e {
		return
	}
	c.unlink(e)
	c.pushFront(e)
}

func (c *PageCache) pushFront(e *cacheEntry) {
	e.prev, e.next = nil, c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *PageCache) unlink(e *cacheEntry) {
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

func (c *PageCache) evictTail() {
	if c.tail == nil {
		return
	}
	victim := c.tail
	c.unlink(victim)
	delete(c.entries, victim.id)
}
