package resolve

import (
	"sync"
	"time"
)

type rrEntry struct {
	addrs []AddrRecord
	next  int
}

// CacheTable maps endpoints to their resolved addresses with a round-robin
// cursor. Every read returns the full record set so one dial attempt can fail
// over across all addresses; the cursor advances by one per read so
// successive dials start from rotated positions.
type CacheTable struct {
	mu         sync.Mutex
	entries    map[HostPortKey]*rrEntry
	timestamps map[HostPortKey]time.Time
	ttl        time.Duration
}

// NewCacheTable creates a cache. A ttl of zero means entries never expire.
func NewCacheTable(ttl time.Duration) *CacheTable {
	return &CacheTable{
		entries:    make(map[HostPortKey]*rrEntry),
		timestamps: make(map[HostPortKey]time.Time),
		ttl:        ttl,
	}
}

// Contains reports whether the endpoint has a cached answer.
func (c *CacheTable) Contains(key HostPortKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// Add stores the records for the endpoint, resetting the rotation cursor.
func (c *CacheTable) Add(key HostPortKey, addrs []AddrRecord) {
	records := make([]AddrRecord, len(addrs))
	copy(records, addrs)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &rrEntry{addrs: records}
	if c.ttl > 0 {
		c.timestamps[key] = time.Now()
	}
}

// Remove drops the endpoint from the cache.
func (c *CacheTable) Remove(key HostPortKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	delete(c.timestamps, key)
}

// Clear drops every cached endpoint.
func (c *CacheTable) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[HostPortKey]*rrEntry)
	c.timestamps = make(map[HostPortKey]time.Time)
}

// NextAddrs returns the current rotation of all records for the endpoint and
// advances the cursor by one, so the next call yields the same multiset with
// a cyclic offset of one. Returns nil when the endpoint is not cached.
func (c *CacheTable) NextAddrs(key HostPortKey) []AddrRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil
	}

	n := len(entry.addrs)
	out := make([]AddrRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, entry.addrs[(entry.next+i)%n])
	}
	entry.next = (entry.next + 1) % n
	return out
}

// Expired reports whether the endpoint's answer is past its TTL. Endpoints
// without a TTL never expire.
func (c *CacheTable) Expired(key HostPortKey) bool {
	if c.ttl <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ts, ok := c.timestamps[key]
	if !ok {
		return false
	}
	return time.Since(ts) > c.ttl
}

// Len returns the number of cached endpoints.
func (c *CacheTable) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
