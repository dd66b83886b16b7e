package docset

import (
	"context"
	"fmt"

	"github.com/modernmgo/docset/internal/state"
)

// Reload re-reads e's document from the store via the find-and-modify
// reload command (internal/wire.Collection.Reload), decoding the result
// back through the registered serializer so the refreshed fields land on
// the same tracked instance rather than a detached copy, then resets the
// entry to Unchanged. Reload is last-writer-wins from the store's
// perspective: a reload of a Modified entry discards its pending edits
// along with the modified-property set, and a reload racing a concurrent
// SaveChanges simply reflects whichever write happened to land first on
// the server; Reload never re-attempts or locks out a concurrent save.
func (c *Context) Reload(ctx context.Context, e *state.Entry) error {
	desc, ok := c.descriptorFor(e.CollectionName())
	if !ok {
		return fmt.Errorf("docset: collection %q: %w", e.CollectionName(), ErrSerializerMissing)
	}

	raw, err := c.session.Collection(e.CollectionName()).Reload(ctx, e.ID())
	if err != nil {
		return fmt.Errorf("docset: reload %s: %w", e.ID().Hex(), err)
	}

	if _, err := desc.decode(raw); err != nil {
		return fmt.Errorf("docset: reload %s: %w", e.ID().Hex(), err)
	}

	// The decode path leaves a non-Unchanged entry in its current state so
	// that a concurrent read can't clobber an in-flight instance; a reload
	// is an explicit request for the store image, so it forces the
	// transition itself, clearing any modified-property set with it.
	if err := c.manager.ChangeDocumentState(e, state.Unchanged); err != nil {
		return fmt.Errorf("docset: reload %s: %w", e.ID().Hex(), err)
	}
	return nil
}
