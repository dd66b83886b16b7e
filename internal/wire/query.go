package wire

import (
	"context"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	mongodrv "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Sort sets the sort order; a leading "-" on a field name means descending.
func (q *Query) Sort(fields ...string) *Query {
	var sort bson.D
	for _, field := range fields {
		order := 1
		if strings.HasPrefix(field, "-") {
			order = -1
			field = field[1:]
		}
		sort = append(sort, bson.E{Key: field, Value: order})
	}
	q.sort = sort
	return q
}

// Limit caps the number of returned documents; 0 means unlimited.
func (q *Query) Limit(n int) *Query {
	q.limit = int64(n)
	return q
}

// Skip sets the number of matching documents to skip.
func (q *Query) Skip(n int) *Query {
	q.skip = int64(n)
	return q
}

// Select restricts the returned fields.
func (q *Query) Select(projection interface{}) *Query {
	q.projection = projection
	return q
}

// One fetches the first matching document as raw BSON.
func (q *Query) One(ctx context.Context) (bson.Raw, error) {
	opCtx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	opts := options.FindOne()
	if q.projection != nil {
		opts.SetProjection(q.projection)
	}
	if q.sort != nil {
		opts.SetSort(q.sort)
	}
	if q.skip > 0 {
		opts.SetSkip(q.skip)
	}

	result := q.coll.raw.FindOne(opCtx, q.filter, opts)
	if result.Err() != nil {
		if result.Err() == mongodrv.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, result.Err()
	}

	var raw bson.Raw
	if err := result.Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Count reports how many documents match the query's filter (ignoring
// Limit/Skip, mirroring the teacher wrapper's Count semantics).
func (q *Query) Count(ctx context.Context) (int64, error) {
	opCtx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()
	return q.coll.raw.CountDocuments(opCtx, q.filter)
}

// Iter opens a cursor over the query's results.
func (q *Query) Iter(ctx context.Context) *Iterator {
	opts := options.Find()
	if q.projection != nil {
		opts.SetProjection(q.projection)
	}
	if q.sort != nil {
		opts.SetSort(q.sort)
	}
	if q.skip > 0 {
		opts.SetSkip(q.skip)
	}
	if q.limit > 0 {
		opts.SetLimit(q.limit)
	}

	cursor, err := q.coll.raw.Find(ctx, q.filter, opts)
	return &Iterator{cursor: cursor, ctx: ctx, err: err}
}
