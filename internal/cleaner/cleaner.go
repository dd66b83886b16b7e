// Package cleaner runs the background sweep that reclaims dead Unchanged
// entries out of a document cache, pacing itself between a lower bound (a
// minimum quiet period between sweeps, so a burst of GC cycles doesn't
// thrash the cache's lock) and an upper bound (a sweep runs at least this
// often even if no GC cycle was observed, since a weakly-held entry can go
// dead without triggering a full collection).
package cleaner

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Target is the cache-owning side of the cleaner: anything that can run a
// cleanup pass and report how much it reclaimed.
type Target interface {
	CleanUp(full bool) int
}

// Cleaner periodically sweeps a Target's dead entries in the background.
type Cleaner struct {
	target Target

	lowerBound time.Duration
	upperBound time.Duration

	lastRun atomic.Int64 // UnixNano

	stop chan struct{}
	done chan struct{}
	gc   chan struct{}

	onCleanup func(removed int, full bool) // optional, see OnCleanup
}

// New builds a Cleaner. lowerBound must not exceed upperBound.
func New(target Target, lowerBound, upperBound time.Duration) (*Cleaner, error) {
	if lowerBound > upperBound {
		return nil, fmt.Errorf("cleaner: lower bound %s exceeds upper bound %s", lowerBound, upperBound)
	}
	return &Cleaner{
		target:     target,
		lowerBound: lowerBound,
		upperBound: upperBound,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		gc:         make(chan struct{}, 1),
	}, nil
}

// OnCleanup installs fn to be called after every completed sweep, reporting
// how many entries it reclaimed and whether it was a full or partial pass.
// Used by Context to push cleanup activity into its Prometheus collectors.
func (c *Cleaner) OnCleanup(fn func(removed int, full bool)) {
	c.onCleanup = fn
}

// Start arms the GC notifier and begins the background loop. Start must be
// called at most once.
func (c *Cleaner) Start() {
	armGCNotifier(c.gc)
	go c.loop()
}

// Stop cancels the background loop and waits for it to exit.
func (c *Cleaner) Stop() {
	close(c.stop)
	<-c.done
}

func (c *Cleaner) loop() {
	defer close(c.done)
	timer := time.NewTimer(c.upperBound)
	defer timer.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-c.gc:
			c.sweep(true)
			armGCNotifier(c.gc)
			resetTimer(timer, c.upperBound)
		case <-timer.C:
			c.sweep(false)
			resetTimer(timer, c.upperBound)
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// sweep runs a cleanup pass unless one ran more recently than lowerBound
// ago. full selects a full sweep (triggered by an observed GC cycle) versus
// a partial one (triggered by the upper-bound fallback timer).
func (c *Cleaner) sweep(full bool) {
	last := time.Unix(0, c.lastRun.Load())
	if !last.IsZero() && time.Since(last) < c.lowerBound {
		return
	}
	removed := c.target.CleanUp(full)
	c.lastRun.Store(time.Now().UnixNano())
	if c.onCleanup != nil {
		c.onCleanup(removed, full)
	}
}

// RunOnce forces an immediate sweep, ignoring the lower-bound cooldown.
// Exposed for callers that want a synchronous cleanup (e.g. tests, or a
// context shutting down that wants a final deterministic pass) without
// waiting on the background loop's cadence.
func (c *Cleaner) RunOnce(full bool) int {
	removed := c.target.CleanUp(full)
	c.lastRun.Store(time.Now().UnixNano())
	return removed
}
