package state

import (
	"errors"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrDeadEntry is returned when a state transition is attempted on an entry
// whose document has already been reclaimed.
var ErrDeadEntry = errors.New("state: entry is dead")

// Stats is a point-in-time snapshot of cleaner activity, reported through
// Manager.Stats.
type Stats struct {
	LastCleanup    time.Time
	TotalReclaimed int64
	TotalDuration  time.Duration
	FullRuns       int64
	PartialRuns    int64
}

// Manager is the single point of entry into the four stores (Added,
// Modified, Deleted as plain maps; Unchanged as the weak-holding Cache) and
// owns the upgradable-read/write lock that keeps them consistent.
type Manager struct {
	lock RWLock

	added     map[primitive.ObjectID]*Entry
	modified  map[primitive.ObjectID]*Entry
	deleted   map[primitive.ObjectID]*Entry
	unchanged *Cache

	suppressed sync.Map // primitive.ObjectID -> struct{}

	partialCleanUpPercent int

	statsMu sync.Mutex
	stats   Stats
}

// NewManager builds an empty Manager. Unlike the document and its wrapper,
// the manager itself is not parameterized over a single document type (one
// Manager tracks every kind a Context knows about), so it cannot close over
// one weak.Pointer[T] constructor at construction time. Each caller of
// AddOrGetExisting supplies its own makeWeak, built with the concrete type
// it has in hand — see docset.trackObject for where that type is known.
func NewManager() *Manager {
	return &Manager{
		added:                 make(map[primitive.ObjectID]*Entry),
		modified:              make(map[primitive.ObjectID]*Entry),
		deleted:               make(map[primitive.ObjectID]*Entry),
		unchanged:             NewCache(),
		partialCleanUpPercent: 10,
	}
}

// SetPartialCleanUpPercent overrides the percentage of the cache's capacity
// a partial CleanUp(false) sweeps at most. Default is 10.
func (m *Manager) SetPartialCleanUpPercent(pct int) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	m.partialCleanUpPercent = pct
}

func (m *Manager) storeFor(lifecycle Lifecycle) map[primitive.ObjectID]*Entry {
	switch lifecycle {
	case Added:
		return m.added
	case Modified:
		return m.modified
	case Deleted:
		return m.deleted
	default:
		return nil
	}
}

// findLocked consults the four stores in Added, Unchanged, Modified,
// Deleted order. Callers must hold at least a read lock.
func (m *Manager) findLocked(id primitive.ObjectID) *Entry {
	if e, ok := m.added[id]; ok {
		return e
	}
	if e, ok := m.unchanged.TryGet(id); ok {
		return e
	}
	if e, ok := m.modified[id]; ok {
		return e
	}
	if e, ok := m.deleted[id]; ok {
		return e
	}
	return nil
}

func (m *Manager) insertLocked(e *Entry, lifecycle Lifecycle) {
	if lifecycle == Unchanged {
		m.unchanged.Set(e.ID(), e)
		return
	}
	if store := m.storeFor(lifecycle); store != nil {
		store[e.ID()] = e
	}
}

func (m *Manager) removeFromStoreLocked(id primitive.ObjectID, lifecycle Lifecycle) {
	if lifecycle == Unchanged {
		m.unchanged.Remove(id)
		return
	}
	if store := m.storeFor(lifecycle); store != nil {
		delete(store, id)
	}
}

// Find returns the tracked entry for id, if any.
func (m *Manager) Find(id primitive.ObjectID) (*Entry, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	e := m.findLocked(id)
	return e, e != nil
}

// AddOrGetExisting returns the entry already tracked for id, swapping in
// doc if the tracked instance differs from it (or reviving a dead
// Unchanged entry), or creates a new entry at the given lifecycle if none
// exists. makeWeak is used only when a new wrapper must be built (a fresh
// entry, or a revival); it is supplied per-call because only the caller
// knows doc's concrete type. It subscribes the manager's property-changed
// handler to doc on every call, which is harmless since OnPropertyChanged
// simply replaces the prior subscription.
func (m *Manager) AddOrGetExisting(id primitive.ObjectID, collection string, doc Document, lifecycle Lifecycle, makeWeak func(Document) WeakRef) *Entry {
	var result *Entry

	m.lock.WithUpgradableRead(func() bool {
		e := m.findLocked(id)
		if e == nil {
			return true
		}
		if existingDoc, ok := e.Document(); ok && sameDocument(existingDoc, doc) {
			result = e
			return false
		}
		return true
	}, func() {
		e := m.findLocked(id)
		if e != nil {
			e.swapDocument(doc)
			result = e
			return
		}
		e = newEntry(id, collection, doc, lifecycle, makeWeak)
		m.insertLocked(e, lifecycle)
		result = e
	})

	if notifier, ok := doc.(ChangeNotifier); ok {
		notifier.OnPropertyChanged(func(name string) { m.onControlledPropertyChanged(id, name) })
	}
	return result
}

// sameDocument reports reference identity. Document is always implemented
// by a pointer-backed type in practice, so this never panics on an
// uncomparable dynamic type.
func sameDocument(a, b Document) bool {
	return a == b
}

// ChangeDocumentState moves e to target, removing it from its current
// store and inserting it into the target's (Detached entries are removed
// from all stores and tracked nowhere). Returns ErrDeadEntry if the
// entry's document has already been reclaimed.
func (m *Manager) ChangeDocumentState(e *Entry, target Lifecycle) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	source := e.Lifecycle()
	if source == target {
		return nil
	}
	if !e.alive() {
		return ErrDeadEntry
	}

	m.removeFromStoreLocked(e.ID(), source)
	if !e.ChangeState(target) {
		return ErrDeadEntry
	}
	if target != Detached {
		m.insertLocked(e, target)
	}
	return nil
}

// SetDocumentPropertyTracking suppresses (or re-enables) routing of
// property-changed events for id into state transitions. Used by the
// serializer to hydrate fields without the write-back looking like a user
// edit.
func (m *Manager) SetDocumentPropertyTracking(id primitive.ObjectID, suppressed bool) {
	if suppressed {
		m.suppressed.Store(id, struct{}{})
	} else {
		m.suppressed.Delete(id)
	}
}

func (m *Manager) onControlledPropertyChanged(id primitive.ObjectID, name string) {
	if _, suppressed := m.suppressed.Load(id); suppressed {
		return
	}
	e, ok := m.Find(id)
	if !ok {
		return
	}
	e.NotePropertyChanged(name)
	if e.Lifecycle() == Unchanged {
		_ = m.ChangeDocumentState(e, Modified)
	}
}

// GetEntries returns every entry whose lifecycle is included in mask.
func (m *Manager) GetEntries(mask Mask) []*Entry {
	m.lock.RLock()
	defer m.lock.RUnlock()

	var out []*Entry
	if mask&MaskAdded != 0 {
		for _, e := range m.added {
			out = append(out, e)
		}
	}
	if mask&MaskModified != 0 {
		for _, e := range m.modified {
			out = append(out, e)
		}
	}
	if mask&MaskDeleted != 0 {
		for _, e := range m.deleted {
			out = append(out, e)
		}
	}
	if mask&MaskUnchanged != 0 {
		out = append(out, m.unchanged.Snapshot()...)
	}
	return out
}

// Count reports how many entries fall under mask. The Unchanged count is
// approximate (see Cache.ApproximateCount).
func (m *Manager) Count(mask Mask) int {
	m.lock.RLock()
	defer m.lock.RUnlock()

	n := 0
	if mask&MaskAdded != 0 {
		n += len(m.added)
	}
	if mask&MaskModified != 0 {
		n += len(m.modified)
	}
	if mask&MaskDeleted != 0 {
		n += len(m.deleted)
	}
	if mask&MaskUnchanged != 0 {
		n += m.unchanged.ApproximateCount()
	}
	return n
}

// CleanUp sweeps dead Unchanged entries out of the cache. A full cleanup
// removes all of them; a partial one removes at most
// partialCleanUpPercent% of the cache's current capacity. It returns the
// number of entries actually reclaimed.
func (m *Manager) CleanUp(full bool) int {
	start := time.Now()

	var removed int
	if full {
		removed = m.unchanged.Flush(Unbounded)
		m.statsMu.Lock()
		m.stats.FullRuns++
		m.statsMu.Unlock()
	} else {
		cap_ := m.unchanged.Capacity()
		max := cap_ * m.partialCleanUpPercent / 100
		removed = m.unchanged.Flush(max)
		m.statsMu.Lock()
		m.stats.PartialRuns++
		m.statsMu.Unlock()
	}

	m.statsMu.Lock()
	m.stats.LastCleanup = time.Now()
	m.stats.TotalReclaimed += int64(removed)
	m.stats.TotalDuration += time.Since(start)
	m.statsMu.Unlock()

	return removed
}

// Stats returns a snapshot of cleaner activity.
func (m *Manager) Stats() Stats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.stats
}

// CacheCapacity reports the Unchanged cache's total slot count, live or
// dead — the quantity partial CleanUp sizing and Context.Stats report.
func (m *Manager) CacheCapacity() int {
	return m.unchanged.Capacity()
}

// ExactUnchangedCount forces a full live-scan of the Unchanged cache,
// bypassing the approximate count's staleness window. Context.Stats uses
// this rather than Count(MaskUnchanged) so a statistics snapshot never
// reports a number older than the call itself.
func (m *Manager) ExactUnchangedCount() int {
	return m.unchanged.ExactCount()
}
