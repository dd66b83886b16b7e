// Package metrics defines the Prometheus collectors docset reports:
// tracked-entry counts per lifecycle, cache reclamation activity, and
// save-pipeline batch timings. Unlike a top-level service, a library has
// no business claiming the global default registry, so Collectors are
// registered against whatever *prometheus.Registry the embedding
// application supplies.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors bundles every metric docset reports. Constructed once per
// Context via New.
type Collectors struct {
	TrackedEntries   *prometheus.GaugeVec
	CacheCapacity    prometheus.Gauge
	ReclaimedTotal   prometheus.Counter
	CleanupDuration  *prometheus.HistogramVec
	SaveBatchSize    *prometheus.HistogramVec
	SaveDuration     prometheus.Histogram
	WriteErrorsTotal *prometheus.CounterVec
}

// New builds the collector set and registers each metric against reg.
func New(reg *prometheus.Registry) *Collectors {
	c := &Collectors{
		TrackedEntries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "docset_tracked_entries",
				Help: "Number of tracked entries by lifecycle state",
			},
			[]string{"state"},
		),
		CacheCapacity: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "docset_cache_capacity",
				Help: "Number of slots in the unchanged-document cache, live or dead",
			},
		),
		ReclaimedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docset_reclaimed_entries_total",
				Help: "Total number of cache entries reclaimed by the cleaner",
			},
		),
		CleanupDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docset_cleanup_duration_seconds",
				Help:    "Duration of a cache cleanup pass",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		SaveBatchSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docset_save_batch_size",
				Help:    "Number of entries in a single bulk write batch",
				Buckets: []float64{1, 10, 50, 100, 250, 500, 1000},
			},
			[]string{"operation"},
		),
		SaveDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "docset_save_changes_duration_seconds",
				Help:    "Duration of a full SaveChanges call",
				Buckets: prometheus.DefBuckets,
			},
		),
		WriteErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docset_write_errors_total",
				Help: "Total number of per-document write errors returned by bulk commands",
			},
			[]string{"operation"},
		),
	}

	reg.MustRegister(
		c.TrackedEntries,
		c.CacheCapacity,
		c.ReclaimedTotal,
		c.CleanupDuration,
		c.SaveBatchSize,
		c.SaveDuration,
		c.WriteErrorsTotal,
	)
	return c
}

// Timer times an operation for later histogram observation.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer { return &Timer{start: time.Now()} }

func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(time.Since(t.start).Seconds())
}

func (t *Timer) ObserveDurationVec(h prometheus.ObserverVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
