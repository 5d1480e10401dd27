package hostcache

import (
	"sync"
	"sync/atomic"
	"time"

	"hostresolve/pkg/logging"
	"hostresolve/pkg/telemetry"
)

// slot wraps an Entry with the bookkeeping needed for eviction tie-breaks
// and serialization.
type slot struct {
	entry Entry
}

// Cache is a thread-safe, fixed-capacity map from Key to Entry. A capacity
// of 0 disables caching entirely; every Set becomes a no-op and every
// Lookup misses.
type Cache struct {
	mu         sync.RWMutex
	logger     *logging.Logger
	metrics    *telemetry.Metrics
	entries    map[Key]*slot
	capacity   int
	generation uint64
	nextOrder  uint64

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
	sets      atomic.Uint64
}

// New creates a Cache holding up to capacity entries. capacity == 0 means
// caching is disabled.
func New(capacity int, logger *logging.Logger, metrics *telemetry.Metrics) *Cache {
	return &Cache{
		entries:  make(map[Key]*slot, capacity),
		capacity: capacity,
		logger:   logger,
		metrics:  metrics,
	}
}

// Lookup returns the entry for key if present and not stale. Increments
// TotalHits on a hit; returns ok == false on a miss (absent or stale).
func (c *Cache) Lookup(key Key, now time.Time) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, found := c.entries[key]
	if !found {
		c.misses.Add(1)
		return Entry{}, false
	}
	if s.entry.IsStale(now, c.generation) {
		c.misses.Add(1)
		return Entry{}, false
	}
	s.entry.TotalHits++
	c.hits.Add(1)
	return s.entry, true
}

// LookupStale returns the entry for key regardless of staleness, along with
// its Staleness descriptor. Increments TotalHits always, and StaleHits when
// the entry is stale.
func (c *Cache) LookupStale(key Key, now time.Time) (Entry, Staleness, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, found := c.entries[key]
	if !found {
		c.misses.Add(1)
		return Entry{}, Staleness{}, false
	}
	staleness := computeStaleness(s.entry, now, c.generation)
	s.entry.TotalHits++
	c.hits.Add(1)
	if staleness.IsStale {
		s.entry.StaleHits++
		staleness.StaleHits = s.entry.StaleHits
	}
	return s.entry, staleness, true
}

// Set inserts or overwrites the entry for key. If the cache is full and key
// is new, one entry is evicted first per the §4.3.1 eviction rule: prefer
// the stalest/most-expired entry, tie-break on larger network_changes, then
// on lowest insertion order.
func (c *Cache) Set(key Key, entry Entry, now time.Time) {
	if c.capacity <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, exists := c.entries[key]
	if !exists && len(c.entries) >= c.capacity {
		c.evictOne(now)
	}

	entry.NetworkGeneration = c.generation
	entry.insertionOrder = c.nextOrder
	c.nextOrder++
	c.entries[key] = &slot{entry: entry}
	c.sets.Add(1)
}

// evictOne removes the single worst candidate. Caller holds c.mu.
func (c *Cache) evictOne(now time.Time) {
	var worstKey Key
	var worst *slot
	var worstStaleness Staleness
	first := true

	for k, s := range c.entries {
		st := computeStaleness(s.entry, now, c.generation)
		if first || worseForEviction(st, worstStaleness, s.entry, worst.entry) {
			worstKey, worst, worstStaleness = k, s, st
			first = false
		}
	}
	if worst == nil {
		return
	}
	delete(c.entries, worstKey)
	c.evictions.Add(1)
	if c.logger != nil {
		c.logger.Debug("evicted host cache entry", "hostname", worstKey.Hostname)
	}
}

// worseForEviction reports whether candidate st/entry is a worse (more
// evictable) than the current worst. Preference order: more expired first,
// then larger network_changes, then lower insertion order.
func worseForEviction(st, worstSt Staleness, entry, worstEntry Entry) bool {
	if st.ExpiredBy != worstSt.ExpiredBy {
		return st.ExpiredBy > worstSt.ExpiredBy
	}
	if st.NetworkChanges != worstSt.NetworkChanges {
		return st.NetworkChanges > worstSt.NetworkChanges
	}
	return entry.insertionOrder < worstEntry.insertionOrder
}

// OnNetworkChange bumps the network generation, making every entry created
// under an older generation stale. No entries are physically removed.
func (c *Cache) OnNetworkChange() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
}

// NetworkGeneration returns the current network generation counter.
func (c *Cache) NetworkGeneration() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[Key]*slot, c.capacity)
}

// ClearForHosts removes every entry whose hostname satisfies predicate.
func (c *Cache) ClearForHosts(predicate func(hostname string) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if predicate(k.Hostname) {
			delete(c.entries, k)
		}
	}
}

// Contains reports whether key has an entry, regardless of staleness. Used
// by Restore to honor the "skip keys that already have an entry" rule.
func (c *Cache) Contains(key Key) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[key]
	return ok
}

// Size returns the current number of entries.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats summarizes counters for observability.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Sets      uint64
	Entries   int
	HitRate   float64
}

// Stats returns a snapshot of the cache's counters.
func (c *Cache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return Stats{
		Hits:      hits,
		Misses:    misses,
		Evictions: c.evictions.Load(),
		Sets:      c.sets.Load(),
		Entries:   c.Size(),
		HitRate:   hitRate,
	}
}
