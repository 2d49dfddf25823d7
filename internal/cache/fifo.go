package cache

import (
	"container/list"
	"sync"

	"github.com/okabe15/panelvoice/internal/audio"
)

// DefaultCapacity is the default maximum number of cached entries.
const DefaultCapacity = 100

// ReleaseFunc frees the audio handle of an evicted or cleared entry.
type ReleaseFunc func(h *audio.Handle)

// FIFO is a bounded fingerprint-to-handle cache. Entries are evicted in
// first-insertion order: re-putting an existing key overwrites the value
// but does not refresh its position, so the oldest-inserted key is always
// the next to go. The cache owns every handle it holds and releases it on
// eviction, overwrite, delete, and clear.
type FIFO struct {
	capacity int
	release  ReleaseFunc

	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List // front = oldest inserted

	stats Stats
}

// fifoEntry is the list element payload.
type fifoEntry struct {
	key    string
	handle *audio.Handle
}

// Stats holds cache counters.
type Stats struct {
	Capacity  int
	Items     int
	Hits      int64
	Misses    int64
	Evictions int64
	HitRate   float64
}

// New creates a FIFO cache. A capacity below 1 falls back to
// DefaultCapacity. release may be nil when handles need no cleanup.
func New(capacity int, release ReleaseFunc) *FIFO {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &FIFO{
		capacity: capacity,
		release:  release,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns the handle for key, or (nil, false) on a miss. Lookups do
// not affect eviction order.
func (c *FIFO) Get(key string) (*audio.Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}

	c.stats.Hits++
	return elem.Value.(*fifoEntry).handle, true
}

// Put stores a handle under key. When the key is new and the cache is
// full, the oldest-inserted entry is evicted and released first. When the
// key already exists its value is overwritten in place; the replaced
// handle is released unless it is the same handle.
func (c *FIFO) Put(key string, h *audio.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*fifoEntry)
		if entry.handle != h {
			c.releaseHandle(entry.handle)
			entry.handle = h
		}
		return
	}

	for len(c.items) >= c.capacity && c.order.Len() > 0 {
		c.evictOldest()
	}

	elem := c.order.PushBack(&fifoEntry{key: key, handle: h})
	c.items[key] = elem
}

// Delete removes an entry and releases its handle. Unknown keys are a
// no-op.
func (c *FIFO) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return
	}
	c.removeElement(elem)
}

// Clear releases every held handle and empties the cache. Safe to call
// when empty.
func (c *FIFO) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		c.releaseHandle(elem.Value.(*fifoEntry).handle)
	}
	c.items = make(map[string]*list.Element)
	c.order.Init()
}

// Len returns the number of cached entries.
func (c *FIFO) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Contains reports whether key is cached, without counting a hit.
func (c *FIFO) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.items[key]
	return ok
}

// Keys returns the cached keys in insertion order, oldest first.
func (c *FIFO) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.items))
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*fifoEntry).key)
	}
	return keys
}

// Stats returns a snapshot of the cache counters.
func (c *FIFO) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Capacity = c.capacity
	stats.Items = len(c.items)
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

// evictOldest removes the front (oldest) entry. Callers must hold c.mu.
func (c *FIFO) evictOldest() {
	elem := c.order.Front()
	if elem != nil {
		c.removeElement(elem)
		c.stats.Evictions++
	}
}

// removeElement unlinks an entry and releases its handle. Callers must
// hold c.mu.
func (c *FIFO) removeElement(elem *list.Element) {
	entry := elem.Value.(*fifoEntry)
	c.order.Remove(elem)
	delete(c.items, entry.key)
	c.releaseHandle(entry.handle)
}

// releaseHandle invokes the release callback. Callers must hold c.mu.
func (c *FIFO) releaseHandle(h *audio.Handle) {
	if c.release != nil && h != nil {
		c.release(h)
	}
}
