// Package cache implements a byte-budgeted LRU response cache: a map plus
// a dummy-head/tail doubly-linked list gives O(1) lookup/insert/recency-
// bump, but entries are evicted on cumulative byte size rather than entry
// count, and there is no TTL — this cache is a pure LRU, not a
// time-expiring one.
package cache

import "sync"

// Entry is an immutable-after-construction cached response.
type Entry struct {
	Key     string
	Payload []byte
	Size    int64
}

// node is one element of the recency-ordered doubly-linked list.
type node struct {
	entry Entry
	prev  *node
	next  *node
}

// Cache is a map+list LRU store bounded by total payload bytes rather
// than entry count.
type Cache struct {
	mu            sync.Mutex
	entries       map[string]*node
	head          *node // dummy head; head.next is MR
	tail          *node // dummy tail; tail.prev is LR
	usedBytes     int64
	capacityBytes int64
	onEvict       func(key string, size int64)
}

// New constructs an empty cache with the given byte capacity. onEvict, if
// non-nil, is invoked synchronously (while the cache lock is held) for
// every entry removed by capacity eviction — used to drive eviction
// metrics without leaking cache internals.
func New(capacityBytes int64, onEvict func(key string, size int64)) *Cache {
	head := &node{}
	tail := &node{}
	head.next = tail
	tail.prev = head

	return &Cache{
		entries:       make(map[string]*node),
		head:          head,
		tail:          tail,
		capacityBytes: capacityBytes,
		onEvict:       onEvict,
	}
}

// Lookup performs an exact byte-equality search on key. On hit, the entry
// is moved to MR before the copy is returned to the caller; the returned
// slice is a fresh copy, so the caller may write it to a socket without
// holding the cache lock.
func (c *Cache) Lookup(key []byte) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.entries[string(key)]
	if !ok {
		return nil, false
	}

	c.moveToFront(n)

	payload := make([]byte, len(n.entry.Payload))
	copy(payload, n.entry.Payload)
	return payload, true
}

// Insert constructs an entry from key/payload and links it at MR, evicting
// LR entries one at a time until it fits. A payload larger than the whole
// cache capacity is silently dropped. A pre-existing entry with the same
// key is replaced in place and moved to MR.
func (c *Cache) Insert(key []byte, payload []byte) {
	size := int64(len(payload))
	if size > c.capacityBytes {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	keyStr := string(key)
	storedPayload := make([]byte, len(payload))
	copy(storedPayload, payload)

	if n, ok := c.entries[keyStr]; ok {
		c.usedBytes -= n.entry.Size
		n.entry = Entry{Key: keyStr, Payload: storedPayload, Size: size}
		c.usedBytes += size
		c.moveToFront(n)
		c.evictUntilFits()
		return
	}

	for c.usedBytes+size > c.capacityBytes && c.tail.prev != c.head {
		c.evictLR()
	}

	n := &node{entry: Entry{Key: keyStr, Payload: storedPayload, Size: size}}
	c.entries[keyStr] = n
	c.addToFront(n)
	c.usedBytes += size
}

// LenBytes returns the total bytes currently held by the cache.
func (c *Cache) LenBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usedBytes
}

// Len returns the number of entries currently held (diagnostic/tests only).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) evictUntilFits() {
	for c.usedBytes > c.capacityBytes && c.tail.prev != c.head {
		c.evictLR()
	}
}

func (c *Cache) evictLR() {
	lru := c.tail.prev
	c.removeNode(lru)
	delete(c.entries, lru.entry.Key)
	c.usedBytes -= lru.entry.Size
	if c.onEvict != nil {
		c.onEvict(lru.entry.Key, lru.entry.Size)
	}
}

func (c *Cache) moveToFront(n *node) {
	c.removeNode(n)
	c.addToFront(n)
}

func (c *Cache) addToFront(n *node) {
	n.prev = c.head
	n.next = c.head.next
	c.head.next.prev = n
	c.head.next = n
}

func (c *Cache) removeNode(n *node) {
	n.prev.next = n.next
	n.next.prev = n.prev
}
