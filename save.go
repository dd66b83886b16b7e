package docset

import (
	"context"
	"fmt"

	"github.com/modernmgo/docset/internal/serializer"
	"github.com/modernmgo/docset/internal/state"
	"github.com/modernmgo/docset/internal/wire"
	"github.com/modernmgo/docset/metrics"
)

// maxBatchSize is the largest slice of entries SaveChanges hands to a
// single insert-many/update-many/delete-many command, matching the
// teacher pack's own bulk-write batching ceiling.
const maxBatchSize = 1000

// pendingEntry pairs a tracked entry with the document it held at the
// moment SaveChanges began walking its store, so a concurrent swap of the
// entry's document can't change which instance gets encoded. The instance
// itself is encoded as it stands at encode time.
type pendingEntry struct {
	entry *state.Entry
	doc   serializer.Document
}

// SaveChanges flushes every Added, Modified and Deleted entry to the
// store, grouped by collection and batched at maxBatchSize, then
// transitions each successfully-committed entry onward: Added/Modified to
// Unchanged, Deleted to Detached. It returns the number of entries
// committed across every collection. A per-collection serializer must
// already be registered (via NewDocumentSet) or the whole call fails with
// ErrSerializerMissing before any command is issued for that collection.
func (c *Context) SaveChanges(ctx context.Context) (int, error) {
	timer := metrics.NewTimer()
	defer func() {
		if c.metrics != nil {
			timer.ObserveDuration(c.metrics.SaveDuration)
		}
		c.recordStats()
	}()

	groups := c.collectPending()

	// Collections are walked in map order, so the Added-Modified-Deleted
	// sequence holds within each collection but not across them: an update
	// in one collection may be issued before an insert in another. Kinds
	// carry no cross-collection ordering guarantee.
	total := 0
	for collection, pending := range groups {
		if _, ok := c.descriptorFor(collection); !ok {
			return total, fmt.Errorf("docset: collection %q: %w", collection, ErrSerializerMissing)
		}

		n, err := c.saveCollection(ctx, collection, pending)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// collectPending snapshots every Added/Modified/Deleted entry and the
// document each currently holds, grouped by collection name.
func (c *Context) collectPending() map[string][]pendingEntry {
	entries := c.manager.GetEntries(state.MaskAdded | state.MaskModified | state.MaskDeleted)

	groups := make(map[string][]pendingEntry)
	for _, e := range entries {
		doc, alive := e.Document()
		if !alive {
			continue
		}
		sdoc, ok := doc.(serializer.Document)
		if !ok {
			continue
		}
		groups[e.CollectionName()] = append(groups[e.CollectionName()], pendingEntry{entry: e, doc: sdoc})
	}
	return groups
}

func (c *Context) saveCollection(ctx context.Context, collection string, pending []pendingEntry) (int, error) {
	coll := c.session.Collection(collection)

	var added, modified, deleted []pendingEntry
	for _, p := range pending {
		switch p.entry.Lifecycle() {
		case state.Added:
			added = append(added, p)
		case state.Modified:
			modified = append(modified, p)
		case state.Deleted:
			deleted = append(deleted, p)
		}
	}

	total := 0

	for _, batch := range batchPending(added) {
		n, err := c.insertBatch(ctx, coll, batch)
		total += n
		if err != nil {
			return total, err
		}
	}
	for _, batch := range batchPending(modified) {
		n, err := c.updateBatch(ctx, coll, batch)
		total += n
		if err != nil {
			return total, err
		}
	}
	for _, batch := range batchPending(deleted) {
		n, err := c.deleteBatch(ctx, coll, batch)
		total += n
		if err != nil {
			return total, err
		}
	}

	return total, nil
}

func batchPending(entries []pendingEntry) [][]pendingEntry {
	if len(entries) == 0 {
		return nil
	}
	var batches [][]pendingEntry
	for len(entries) > 0 {
		n := len(entries)
		if n > maxBatchSize {
			n = maxBatchSize
		}
		batches = append(batches, entries[:n])
		entries = entries[n:]
	}
	return batches
}

func (c *Context) insertBatch(ctx context.Context, coll *wire.Collection, batch []pendingEntry) (int, error) {
	if c.metrics != nil {
		c.metrics.SaveBatchSize.WithLabelValues("insert").Observe(float64(len(batch)))
	}
	docs := make([]interface{}, len(batch))
	for i, p := range batch {
		enc, err := serializer.Encode(p.doc)
		if err != nil {
			return 0, fmt.Errorf("docset: encode %s: %w", p.entry.ID().Hex(), err)
		}
		docs[i] = enc
	}

	report, err := coll.InsertMany(ctx, docs)
	if err != nil {
		return 0, fmt.Errorf("docset: insert into %s: %w", coll.Name(), err)
	}
	return c.settleBatch("insert", batch, report, state.Unchanged)
}

func (c *Context) updateBatch(ctx context.Context, coll *wire.Collection, batch []pendingEntry) (int, error) {
	if c.metrics != nil {
		c.metrics.SaveBatchSize.WithLabelValues("update").Observe(float64(len(batch)))
	}
	ops := make([]wire.ReplaceOne, len(batch))
	for i, p := range batch {
		enc, err := serializer.Encode(p.doc)
		if err != nil {
			return 0, fmt.Errorf("docset: encode %s: %w", p.entry.ID().Hex(), err)
		}
		ops[i] = wire.ReplaceOne{ID: p.entry.ID(), Document: enc}
	}

	report, err := coll.UpdateMany(ctx, ops)
	if err != nil {
		return 0, fmt.Errorf("docset: update in %s: %w", coll.Name(), err)
	}
	return c.settleBatch("update", batch, report, state.Unchanged)
}

func (c *Context) deleteBatch(ctx context.Context, coll *wire.Collection, batch []pendingEntry) (int, error) {
	if c.metrics != nil {
		c.metrics.SaveBatchSize.WithLabelValues("delete").Observe(float64(len(batch)))
	}
	ids := make([]interface{}, len(batch))
	for i, p := range batch {
		ids[i] = p.entry.ID()
	}

	report, err := coll.DeleteMany(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("docset: delete from %s: %w", coll.Name(), err)
	}
	return c.settleBatch("delete", batch, report, state.Detached)
}

// settleBatch transitions every entry in batch not named in report's
// failed-index set to target, leaving failed entries exactly as they
// were so a later SaveChanges retries them (§8 scenario S6: a partial
// batch failure must not silently drop or falsely commit the rejected
// entries).
func (c *Context) settleBatch(operation string, batch []pendingEntry, report *wire.BulkReport, target state.Lifecycle) (int, error) {
	failed := report.FailedIndexes()

	committed := 0
	for i, p := range batch {
		if _, isFailed := failed[i]; isFailed {
			continue
		}
		if err := c.manager.ChangeDocumentState(p.entry, target); err != nil {
			continue
		}
		committed++
	}

	if len(failed) > 0 {
		if c.metrics != nil {
			c.metrics.WriteErrorsTotal.WithLabelValues(operation).Add(float64(len(failed)))
		}
		c.log.Warn().Int("failed", len(failed)).Int("committed", committed).Msg("save batch had partial failures")
		return committed, nil
	}
	return committed, nil
}

// SaveEntry persists a single entry outside the batched pipeline,
// convenient for callers that want one document's write acknowledged
// without waiting for a full SaveChanges sweep. It reports false, nil if
// e's document was already reclaimed.
func (c *Context) SaveEntry(ctx context.Context, e *state.Entry) (bool, error) {
	doc, alive := e.Document()
	if !alive {
		return false, nil
	}
	sdoc, ok := doc.(serializer.Document)
	if !ok {
		return false, fmt.Errorf("docset: entry %s: %w", e.ID().Hex(), ErrInvalidState)
	}

	if _, ok := c.descriptorFor(e.CollectionName()); !ok {
		return false, fmt.Errorf("docset: collection %q: %w", e.CollectionName(), ErrSerializerMissing)
	}

	coll := c.session.Collection(e.CollectionName())
	batch := []pendingEntry{{entry: e, doc: sdoc}}

	switch e.Lifecycle() {
	case state.Added:
		n, err := c.insertBatch(ctx, coll, batch)
		return n == 1, err
	case state.Modified:
		n, err := c.updateBatch(ctx, coll, batch)
		return n == 1, err
	case state.Deleted:
		n, err := c.deleteBatch(ctx, coll, batch)
		return n == 1, err
	default:
		return false, nil
	}
}
