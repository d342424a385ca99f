// Package dedup suppresses repeat sightings of the same flight inside a fixed
// window. Entries expire a fixed time after insertion; later sightings do not
// extend the window unless the caller marks the flight again.
package dedup

import (
	"container/list"
	"sync"
	"time"

	"github.com/zeebo/xxh3"
)

const (
	// DefaultWindow is how long a counted flight stays suppressed.
	DefaultWindow = 10 * time.Minute
	// DefaultCapacity bounds the number of live flights tracked at once.
	DefaultCapacity = 128
)

// Cache is a bounded TTL set of flight labels. The list is kept in insertion
// order (front = newest), which with a fixed TTL is also expiry order. The
// index buckets elements by label hash; a lookup matches on the stored label,
// so colliding labels never shadow each other.
type Cache struct {
	mu       sync.Mutex
	window   time.Duration
	capacity int
	order    *list.List
	entries  map[uint64][]*list.Element
	size     int
	evicted  uint64
	hash     func(string) uint64
}

type entry struct {
	key       uint64
	label     string
	expiresAt time.Time
}

// New creates a cache. Non-positive arguments select the defaults.
func New(window time.Duration, capacity int) *Cache {
	if window <= 0 {
		window = DefaultWindow
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		window:   window,
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[uint64][]*list.Element, capacity),
		hash:     xxh3.HashString,
	}
}

// Window returns the suppression window.
func (c *Cache) Window() time.Duration { return c.window }

// Seen reports whether label was marked within the window ending at now.
func (c *Cache) Seen(label string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem := c.lookupLocked(c.hash(label), label)
	if elem == nil {
		return false
	}
	e := elem.Value.(*entry)
	if !now.Before(e.expiresAt) {
		c.removeLocked(elem)
		return false
	}
	return true
}

// MarkSeen inserts label, or restarts its window if already present.
func (c *Cache) MarkSeen(label string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := c.hash(label)
	if elem := c.lookupLocked(key, label); elem != nil {
		e := elem.Value.(*entry)
		e.expiresAt = now.Add(c.window)
		c.order.MoveToFront(elem)
		return
	}

	c.purgeExpiredLocked(now)
	for c.size >= c.capacity {
		tail := c.order.Back()
		if tail == nil {
			break
		}
		c.removeLocked(tail)
		c.evicted++
	}
	c.entries[key] = append(c.entries[key], c.order.PushFront(&entry{key: key, label: label, expiresAt: now.Add(c.window)}))
	c.size++
}

// Len returns the number of live entries at now.
func (c *Cache) Len(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeExpiredLocked(now)
	return c.size
}

// Evicted returns how many live entries were dropped for capacity.
func (c *Cache) Evicted() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evicted
}

func (c *Cache) purgeExpiredLocked(now time.Time) {
	for {
		tail := c.order.Back()
		if tail == nil {
			return
		}
		if now.Before(tail.Value.(*entry).expiresAt) {
			return
		}
		c.removeLocked(tail)
	}
}

func (c *Cache) lookupLocked(key uint64, label string) *list.Element {
	for _, elem := range c.entries[key] {
		if elem.Value.(*entry).label == label {
			return elem
		}
	}
	return nil
}

func (c *Cache) removeLocked(elem *list.Element) {
	e := elem.Value.(*entry)
	c.order.Remove(elem)
	bucket := c.entries[e.key]
	for i, other := range bucket {
		if other == elem {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(c.entries, e.key)
	} else {
		c.entries[e.key] = bucket
	}
	c.size--
}
