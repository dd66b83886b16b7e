package state

import (
	"sync"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Unbounded passed to Flush removes every dead entry instead of capping the
// number removed.
const Unbounded = -1

// approxRecountThreshold is how many dead-entry observations accumulate
// before ApproximateCount forces a full rescan instead of trusting its
// cached value.
const approxRecountThreshold = 10

// Cache is the Unchanged store: a keyed map of entries whose documents are
// held weakly, so a reclaimed entry is "dead" (still present as a map slot,
// but no longer resolvable to a document) until the cleaner sweeps it out.
type Cache struct {
	mu      sync.RWMutex
	entries map[primitive.ObjectID]*Entry

	deadObserved atomic.Int64

	cacheValid  bool
	cachedCount int
	cachedAtGen int64
}

func NewCache() *Cache {
	return &Cache{entries: make(map[primitive.ObjectID]*Entry)}
}

func (c *Cache) isDead(e *Entry) bool {
	return !e.alive()
}

// Set unconditionally installs entry under key, replacing anything present.
func (c *Cache) Set(key primitive.ObjectID, e *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = e
	c.cacheValid = false
}

// AddOrGet returns the live entry at key, creating one via make if absent,
// or replacing it via revive if the existing one is dead. make and revive
// are only invoked while holding the write lock.
func (c *Cache) AddOrGet(key primitive.ObjectID, make_ func() *Entry, revive func(dead *Entry) *Entry) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, found := c.entries[key]
	if !found {
		e := make_()
		c.entries[key] = e
		c.cacheValid = false
		return e
	}
	if c.isDead(existing) {
		c.deadObserved.Add(1)
		revived := revive(existing)
		c.entries[key] = revived
		c.cacheValid = false
		return revived
	}
	return existing
}

// TryGet returns the live entry at key, or ok=false if absent or dead.
func (c *Cache) TryGet(key primitive.ObjectID) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, found := c.entries[key]
	if !found {
		return nil, false
	}
	if c.isDead(e) {
		c.deadObserved.Add(1)
		return nil, false
	}
	return e, true
}

// Contains reports whether key maps to a live entry.
func (c *Cache) Contains(key primitive.ObjectID) bool {
	_, ok := c.TryGet(key)
	return ok
}

// Remove drops key unconditionally, returning what was there.
func (c *Cache) Remove(key primitive.ObjectID) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
		c.cacheValid = false
	}
	return e, ok
}

// Flush removes up to maxToRemove dead entries (Unbounded for all of
// them) and reports how many were removed.
func (c *Cache) Flush(maxToRemove int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		if maxToRemove != Unbounded && removed >= maxToRemove {
			break
		}
		if c.isDead(e) {
			delete(c.entries, k)
			removed++
		}
	}
	c.cacheValid = false
	return removed
}

// Capacity is the number of slots in the cache, live or dead.
func (c *Cache) Capacity() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// ExactCount walks every slot and counts the live ones. It also refreshes
// the value ApproximateCount serves until the next recount threshold.
func (c *Cache) ExactCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for _, e := range c.entries {
		if !c.isDead(e) {
			count++
		}
	}
	c.cachedCount = count
	c.cachedAtGen = c.deadObserved.Load()
	c.cacheValid = true
	return count
}

// ApproximateCount returns a recently-computed live count, recomputing it
// exactly whenever it has never been computed, has been invalidated by a
// Flush/Set/Remove, or enough reclamation events have been observed since
// the last recount to make it unreliable.
func (c *Cache) ApproximateCount() int {
	c.mu.RLock()
	gen := c.deadObserved.Load()
	valid := c.cacheValid && gen-c.cachedAtGen < approxRecountThreshold
	n := c.cachedCount
	c.mu.RUnlock()

	if valid {
		return n
	}
	return c.ExactCount()
}

// Snapshot returns the live entries currently in the cache.
func (c *Cache) Snapshot() []*Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		if !c.isDead(e) {
			out = append(out, e)
		}
	}
	return out
}
