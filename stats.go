package docset

import (
	"time"

	"github.com/modernmgo/docset/internal/state"
)

// Stats is the point-in-time statistics snapshot of §4.H: per-state entry
// counts, the Unchanged cache's live-vs-total capacity, and the cleaner's
// cumulative totals and timings.
type Stats struct {
	Added     int
	Modified  int
	Deleted   int
	Unchanged int // approximate, per Cache.ApproximateCount

	CacheLive     int // exact live count, forces a full scan
	CacheCapacity int // total slots, live and dead

	LastCleanup    time.Time
	TotalReclaimed int64
	TotalDuration  time.Duration
	FullRuns       int64
	PartialRuns    int64
}

// Stats produces a snapshot of the Context's current tracking and cleanup
// state. CacheLive forces an exact scan (state.Cache.ExactCount), so unlike
// the approximate Unchanged count it is never stale.
func (c *Context) Stats() Stats {
	cleanup := c.manager.Stats()
	return Stats{
		Added:     c.manager.Count(state.MaskAdded),
		Modified:  c.manager.Count(state.MaskModified),
		Deleted:   c.manager.Count(state.MaskDeleted),
		Unchanged: c.manager.Count(state.MaskUnchanged),

		CacheLive:     c.manager.ExactUnchangedCount(),
		CacheCapacity: c.manager.CacheCapacity(),

		LastCleanup:    cleanup.LastCleanup,
		TotalReclaimed: cleanup.TotalReclaimed,
		TotalDuration:  cleanup.TotalDuration,
		FullRuns:       cleanup.FullRuns,
		PartialRuns:    cleanup.PartialRuns,
	}
}

// recordStats pushes the current snapshot into the Context's Prometheus
// collectors, if metrics were enabled at construction. Called after every
// SaveChanges and cleanup pass so the gauges never lag far behind reality.
func (c *Context) recordStats() {
	if c.metrics == nil {
		return
	}
	s := c.Stats()
	c.metrics.TrackedEntries.WithLabelValues("added").Set(float64(s.Added))
	c.metrics.TrackedEntries.WithLabelValues("modified").Set(float64(s.Modified))
	c.metrics.TrackedEntries.WithLabelValues("deleted").Set(float64(s.Deleted))
	c.metrics.TrackedEntries.WithLabelValues("unchanged").Set(float64(s.CacheLive))
	c.metrics.CacheCapacity.Set(float64(s.CacheCapacity))
}
