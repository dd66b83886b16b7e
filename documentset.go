package docset

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/modernmgo/docset/internal/serializer"
	"github.com/modernmgo/docset/internal/state"
	"github.com/modernmgo/docset/internal/wire"
)

// ctxTracker adapts a Context into the serializer.Tracker a Decode call
// needs: it consults the State Manager for an already-tracked instance
// before a fresh one is built (preserving single-instance identity across
// concurrent reads), and hands the Manager the decoded result afterward.
// Carrying both T and P lets it build the correctly-typed weak.Pointer[T]
// for a freshly-tracked document, something the Manager itself cannot do
// since it tracks every kind through the same type-erased stores.
type ctxTracker[T any, P DocPtr[T]] struct {
	ctx        *Context
	collection string
}

func (t ctxTracker[T, P]) BeforeDeserialize(id primitive.ObjectID) (serializer.Document, bool) {
	e, ok := t.ctx.manager.Find(id)
	if !ok {
		return nil, false
	}
	doc, alive := e.Document()
	if !alive {
		return nil, false
	}
	typed, ok := doc.(P)
	if !ok {
		return nil, false
	}
	return typed, true
}

func (t ctxTracker[T, P]) SuppressTracking(id primitive.ObjectID, suppressed bool) {
	t.ctx.manager.SetDocumentPropertyTracking(id, suppressed)
}

func (t ctxTracker[T, P]) AfterDeserialize(id primitive.ObjectID, collection string, doc serializer.Document) {
	typed := doc.(P)
	mw := func(d state.Document) state.WeakRef {
		p, ok := d.(P)
		if !ok {
			return nil
		}
		return newWeakRef[T](p)
	}
	entry := t.ctx.manager.AddOrGetExisting(id, collection, typed, state.Unchanged, mw)
	// AddOrGetExisting may have returned a pre-existing Modified/Added
	// entry for this identity (the in-flight instance takes precedence
	// over whatever the store currently holds); only a genuinely fresh
	// or previously-Unchanged read settles into Unchanged here.
	if entry.Lifecycle() != state.Unchanged {
		return
	}
	_ = t.ctx.manager.ChangeDocumentState(entry, state.Unchanged)
}

// DocumentSet is the typed, per-kind facade of §4.G: add/attach/update/
// remove route through the Context's State Manager; find/findOne/iterate
// go straight to the store, by way of the identity-preserving decode path
// so a read may return an already-tracked instance.
type DocumentSet[T any, P DocPtr[T]] struct {
	ctx        *Context
	collection string
	newFunc    func() P

	findInFlight atomic.Bool
}

// NewDocumentSet builds a DocumentSet for collection, registering its
// decoder with ctx so Reload and the save pipeline can resolve this kind
// from a type-erased *state.Entry later. newFunc builds a zero-valued
// document of the right concrete type for a fresh decode.
func NewDocumentSet[T any, P DocPtr[T]](ctx *Context, collection string, newFunc func() P) *DocumentSet[T, P] {
	ds := &DocumentSet[T, P]{ctx: ctx, collection: collection, newFunc: newFunc}
	ctx.registerSerializer(collection, func(raw bson.Raw) (Document, error) {
		tracker := ctxTracker[T, P]{ctx: ctx, collection: collection}
		return serializer.Decode[P](raw, collection, tracker, newFunc)
	})
	return ds
}

// Add tracks doc as Added: a new document, never before persisted under
// its current identity.
func (ds *DocumentSet[T, P]) Add(doc P) *state.Entry {
	return trackObject[T](ds.ctx, doc, ds.collection, state.Added)
}

// Attach tracks doc as Unchanged, as if it had just been read from the
// store. Used to bring an externally-constructed instance under tracking
// without implying it needs to be saved.
func (ds *DocumentSet[T, P]) Attach(doc P) *state.Entry {
	return trackObject[T](ds.ctx, doc, ds.collection, state.Unchanged)
}

// Update tracks doc as Modified, forcing a save even if no controlled
// property write has been observed.
func (ds *DocumentSet[T, P]) Update(doc P) *state.Entry {
	return trackObject[T](ds.ctx, doc, ds.collection, state.Modified)
}

// Remove tracks doc as Deleted: the next SaveChanges issues a delete for
// its identity.
func (ds *DocumentSet[T, P]) Remove(doc P) *state.Entry {
	return trackObject[T](ds.ctx, doc, ds.collection, state.Deleted)
}

func (ds *DocumentSet[T, P]) collectionHandle() *wire.Collection {
	return ds.ctx.session.Collection(ds.collection)
}

func (ds *DocumentSet[T, P]) decodeOne(raw bson.Raw) (P, error) {
	tracker := ctxTracker[T, P]{ctx: ds.ctx, collection: ds.collection}
	return serializer.Decode[P](raw, ds.collection, tracker, ds.newFunc)
}

// Find fetches a document directly from the store by identity, bypassing
// the State Manager's find-by-key entirely (§4.G: "does not consult the
// state manager"). The decode path still offers the result to the State
// Manager so an already-tracked instance is reused when one exists. A
// cancelled ctx completes with a nil document rather than an error.
func (ds *DocumentSet[T, P]) Find(ctx context.Context, id primitive.ObjectID) (P, error) {
	var zero P
	raw, err := ds.collectionHandle().FindByID(id).One(ctx)
	if err != nil {
		if errors.Is(err, wire.ErrNotFound) || ctx.Err() != nil {
			return zero, nil
		}
		return zero, err
	}
	return ds.decodeOne(raw)
}

// QueryOption refines the pass-through filtered fetch of FindMatching;
// Sort/Limit/Skip are the non-goal-compliant surface spec §1 allows (no
// LINQ-style translation — these map straight onto the driver's own
// sort/limit/skip).
type QueryOption func(*wire.Query)

func Sort(fields ...string) QueryOption { return func(q *wire.Query) { q.Sort(fields...) } }
func Limit(n int) QueryOption           { return func(q *wire.Query) { q.Limit(n) } }
func Skip(n int) QueryOption            { return func(q *wire.Query) { q.Skip(n) } }

// FindMatching is the pass-through filtered fetch of §4.G: filter is
// handed straight to the driver with no query translation. Every returned
// object passes through the identity-preserving decode path, so the
// sequence may contain pre-existing tracked instances rather than fresh
// copies. A cancelled ctx completes with an empty sequence rather than an
// error.
func (ds *DocumentSet[T, P]) FindMatching(ctx context.Context, filter interface{}, opts ...QueryOption) ([]P, error) {
	q := ds.collectionHandle().Find(filter)
	for _, opt := range opts {
		opt(q)
	}

	it := q.Iter(ctx)
	defer it.Close()

	var out []P
	for {
		raw, ok := it.Next()
		if !ok {
			break
		}
		doc, err := ds.decodeOne(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if err := it.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

// Aggregate runs a pass-through aggregation pipeline against the
// underlying collection, for server-side transforms the filter surface of
// FindMatching can't express. Results flow through the same
// identity-preserving decode path as a find, so the pipeline must project
// complete documents of this set's kind (stages like $match and $sort
// qualify; a reshaping $project does not). Cancellation completes with an
// empty sequence, like FindMatching.
func (ds *DocumentSet[T, P]) Aggregate(ctx context.Context, pipeline interface{}) ([]P, error) {
	it := ds.collectionHandle().Aggregate(pipeline).Iter(ctx)
	defer it.Close()

	var out []P
	for {
		raw, ok := it.Next()
		if !ok {
			break
		}
		doc, err := ds.decodeOne(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if err := it.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

// FindOne is FindMatching with an implicit limit of 1.
func (ds *DocumentSet[T, P]) FindOne(ctx context.Context, filter interface{}) (P, error) {
	var zero P
	docs, err := ds.FindMatching(ctx, filter, Limit(1))
	if err != nil {
		return zero, err
	}
	if len(docs) == 0 {
		return zero, nil
	}
	return docs[0], nil
}

// All is equivalent to FindMatching with an empty predicate — the
// iteration surface of §4.G.
func (ds *DocumentSet[T, P]) All(ctx context.Context) ([]P, error) {
	return ds.FindMatching(ctx, nil)
}

// findAsyncBuffer bounds the channel the cursor pump fills ahead of the
// observer drain, so a slow observer delays the cursor rather than piling
// up unbounded decoded documents.
const findAsyncBuffer = 16

// FindAsync is the push-based variant of FindMatching: it starts a
// background pump over the cursor and invokes observer once per decoded
// document; the pump runs at most findAsyncBuffer documents ahead of the
// observer. The returned channel delivers the
// terminal error, if any, and is closed once the pump has finished; a
// cancelled ctx ends the stream early without an error, exactly like a
// cancelled FindMatching. At most one FindAsync may be in flight per
// DocumentSet — an overlapping call fails immediately with
// ErrConcurrentFind.
func (ds *DocumentSet[T, P]) FindAsync(ctx context.Context, filter interface{}, observer func(P), opts ...QueryOption) (<-chan error, error) {
	if observer == nil {
		return nil, fmt.Errorf("docset: nil observer: %w", ErrArgument)
	}
	if !ds.findInFlight.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("docset: %w", ErrConcurrentFind)
	}

	q := ds.collectionHandle().Find(filter)
	for _, opt := range opts {
		opt(q)
	}

	docs := make(chan P, findAsyncBuffer)
	pumpErr := make(chan error, 1)
	done := make(chan error, 1)

	go func() {
		defer close(docs)
		defer close(pumpErr)

		it := q.Iter(ctx)
		defer it.Close()
		for {
			raw, ok := it.Next()
			if !ok {
				break
			}
			doc, err := ds.decodeOne(raw)
			if err != nil {
				pumpErr <- err
				return
			}
			select {
			case docs <- doc:
			case <-ctx.Done():
				return
			}
		}
		if err := it.Err(); err != nil && ctx.Err() == nil {
			pumpErr <- err
		}
	}()

	go func() {
		defer close(done)
		defer ds.findInFlight.Store(false)
		for doc := range docs {
			observer(doc)
		}
		if err := <-pumpErr; err != nil {
			done <- err
		}
	}()

	return done, nil
}

// Count reports the underlying collection's cardinality.
func (ds *DocumentSet[T, P]) Count(ctx context.Context) (int64, error) {
	return ds.collectionHandle().Count(ctx)
}

// Delete performs a direct, untracked single-document deletion by
// identity. Per §4.G this bypasses the tracked set entirely: a tracked
// copy of doc, if any, stays live and must be detached by the caller.
func (ds *DocumentSet[T, P]) Delete(ctx context.Context, doc P) error {
	_, err := ds.collectionHandle().DeleteOne(ctx, bson.M{"_id": doc.DocumentID()})
	return err
}

// DeleteMatching performs a direct, untracked multi-document deletion.
// §9's open question on collection-deletion bypass applies here: any
// tracked copy of a deleted document remains live and, if later saved,
// may resurrect the row as an insert.
func (ds *DocumentSet[T, P]) DeleteMatching(ctx context.Context, filter interface{}) (int64, error) {
	return ds.collectionHandle().DeleteAllMatching(ctx, filter)
}

// DeleteAll deletes every document in the collection, bypassing tracking
// exactly like DeleteMatching(ctx, nil).
func (ds *DocumentSet[T, P]) DeleteAll(ctx context.Context) (int64, error) {
	return ds.DeleteMatching(ctx, nil)
}
