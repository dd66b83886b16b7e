package wire

import "context"

// Iter runs the pipeline and returns a cursor over its results. Pipe is the
// aggregation-shaped half of the pass-through filter surface: like Query, it
// hands the caller's pipeline straight to the driver with no translation.
func (p *Pipe) Iter(ctx context.Context) *Iterator {
	cursor, err := p.coll.raw.Aggregate(ctx, p.pipeline)
	return &Iterator{cursor: cursor, ctx: ctx, err: err}
}
