package docset

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/modernmgo/docset/internal/cleaner"
	"github.com/modernmgo/docset/internal/state"
	"github.com/modernmgo/docset/internal/wire"
	"github.com/modernmgo/docset/log"
	"github.com/modernmgo/docset/metrics"
)

// typeDescriptor is what the Context needs to decode a collection's raw
// documents back into tracked instances without knowing the concrete Go
// type statically. DocumentSet registers one at construction; it is the
// piece Reload and the save pipeline's serializer-missing check need,
// since both operate on a type-erased *state.Entry.
type typeDescriptor struct {
	decode func(bson.Raw) (Document, error)
}

// Context is the top-level session: one State Manager, one Cache Cleaner,
// a handle to the underlying store, and the registry of per-collection
// decoders DocumentSet construction populates. Saves and finds may be
// issued concurrently against the same Context (§4.I); the Context itself
// does no additional serialization beyond what the State Manager's own
// lock already provides.
type Context struct {
	manager *state.Manager
	cleaner *cleaner.Cleaner
	session *wire.Session
	cfg     Config
	metrics *metrics.Collectors
	log     zerolog.Logger

	registryMu sync.RWMutex
	registry   map[string]typeDescriptor
}

// NewContext builds a Context bound to session, starting its background
// cache cleaner immediately. reg may be nil to skip metrics registration
// entirely — a library has no business claiming the global default
// registry on behalf of whatever embeds it.
func NewContext(session *wire.Session, cfg Config, reg *prometheus.Registry) (*Context, error) {
	mgr := state.NewManager()
	mgr.SetPartialCleanUpPercent(cfg.PartialCleanUpPercent)

	cln, err := cleaner.New(mgr, cfg.CacheCleanUpLowerBound, cfg.CacheCleanUpUpperBound)
	if err != nil {
		return nil, fmt.Errorf("docset: %w", err)
	}

	c := &Context{
		manager:  mgr,
		cleaner:  cln,
		session:  session,
		cfg:      cfg,
		registry: make(map[string]typeDescriptor),
		log:      log.WithComponent("context"),
	}
	if reg != nil {
		c.metrics = metrics.New(reg)
	}

	var lastDuration time.Duration
	cln.OnCleanup(func(removed int, full bool) {
		kind := "partial"
		if full {
			kind = "full"
		}
		c.log.Debug().Int("removed", removed).Str("kind", kind).Msg("cache cleanup")
		if c.metrics != nil {
			c.metrics.ReclaimedTotal.Add(float64(removed))
			if total := c.manager.Stats().TotalDuration; total > lastDuration {
				c.metrics.CleanupDuration.WithLabelValues(kind).Observe((total - lastDuration).Seconds())
				lastDuration = total
			}
		}
		c.recordStats()
	})

	cln.Start()
	c.log.Info().Msg("context started")
	return c, nil
}

// Close stops the background cleaner. It does not close the underlying
// Session, which callers may share across Contexts.
func (c *Context) Close() {
	c.cleaner.Stop()
}

func (c *Context) registerSerializer(collection string, decode func(bson.Raw) (Document, error)) {
	c.registryMu.Lock()
	defer c.registryMu.Unlock()
	c.registry[collection] = typeDescriptor{decode: decode}
}

func (c *Context) descriptorFor(collection string) (typeDescriptor, bool) {
	c.registryMu.RLock()
	defer c.registryMu.RUnlock()
	d, ok := c.registry[collection]
	return d, ok
}

// trackObject is the single funnel every DocumentSet mutation method
// (Add/Attach/Update/Remove) forwards through, per §4.G. It is a free
// function rather than a Context method because it needs a second type
// parameter (the document's pointer type) beyond any Context methods
// could introduce — Go methods cannot carry extra type parameters past
// their receiver's.
func trackObject[T any, P DocPtr[T]](ctx *Context, doc P, collection string, lifecycle state.Lifecycle) *state.Entry {
	mw := func(d state.Document) state.WeakRef {
		p, ok := d.(P)
		if !ok {
			return nil
		}
		return newWeakRef[T](p)
	}
	return ctx.manager.AddOrGetExisting(doc.DocumentID(), collection, doc, lifecycle, mw)
}
