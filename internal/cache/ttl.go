// Package cache provides a thread-safe TTL+LRU cache for quotes, bars
// and instrument-token maps.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Stats reports cache effectiveness counters.
type Stats struct {
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Evictions   uint64 `json:"evictions"`
	Expirations uint64 `json:"expirations"`
}

type entry struct {
	key       string
	value     interface{}
	expiresAt time.Time
}

// TTL is a TTL+LRU cache. Expired entries are dropped lazily on read
// and swept periodically via Sweep.
type TTL struct {
	mu         sync.Mutex
	defaultTTL time.Duration
	maxEntries int
	order      *list.List // front = most recently used
	items      map[string]*list.Element
	stats      Stats
	now        func() time.Time
}

// New creates a TTL cache with the given default TTL and capacity.
// maxEntries <= 0 means unbounded.
func New(defaultTTL time.Duration, maxEntries int) *TTL {
	return &TTL{
		defaultTTL: defaultTTL,
		maxEntries: maxEntries,
		order:      list.New(),
		items:      make(map[string]*list.Element),
		now:        time.Now,
	}
}

// Get returns the cached value for key, or (nil, false) on miss or
// expiry.
func (c *TTL) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	en := el.Value.(*entry)
	if c.now().After(en.expiresAt) {
		c.removeElement(el)
		c.stats.Expirations++
		c.stats.Misses++
		return nil, false
	}
	c.order.MoveToFront(el)
	c.stats.Hits++
	return en.value, true
}

// Set stores value under key with the default TTL.
func (c *TTL) Set(key string, value interface{}) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores value under key with an explicit TTL.
func (c *TTL) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(ttl)
	if el, ok := c.items[key]; ok {
		en := el.Value.(*entry)
		en.value = value
		en.expiresAt = expires
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&entry{key: key, value: value, expiresAt: expires})
	c.items[key] = el

	if c.maxEntries > 0 && c.order.Len() > c.maxEntries {
		if oldest := c.order.Back(); oldest != nil {
			c.removeElement(oldest)
			c.stats.Evictions++
		}
	}
}

// Delete removes key if present.
func (c *TTL) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

// Len returns the number of live entries, counting not-yet-swept
// expired ones.
func (c *TTL) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Sweep removes all expired entries and returns how many were dropped.
// The controller schedules this every 30 seconds.
func (c *TTL) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if now.After(el.Value.(*entry).expiresAt) {
			c.removeElement(el)
			c.stats.Expirations++
			removed++
		}
		el = prev
	}
	return removed
}

// Stats returns a copy of the effectiveness counters.
func (c *TTL) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *TTL) removeElement(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*entry).key)
}
