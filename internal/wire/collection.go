package wire

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	mongodrv "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// InsertMany issues a single insert-many command for docs, in order. The
// returned BulkReport correlates any per-document write errors back to
// their position in docs.
func (c *Collection) InsertMany(ctx context.Context, docs []interface{}) (*BulkReport, error) {
	if len(docs) == 0 {
		return &BulkReport{}, nil
	}

	opCtx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	opts := options.InsertMany().SetOrdered(false)
	result, err := c.raw.InsertMany(opCtx, docs, opts)
	if err != nil {
		if bulkErr, ok := err.(mongodrv.BulkWriteException); ok {
			return bulkReportFromException(len(docs), &bulkErr), nil
		}
		return nil, err
	}

	return &BulkReport{Committed: len(result.InsertedIDs)}, nil
}

// ReplaceOne is one match-by-identity replacement document for UpdateMany.
type ReplaceOne struct {
	ID       interface{}
	Document interface{}
}

// UpdateMany issues a single bulk command containing one replace-one
// operation per entry, matched by _id — the Modified-state shape of §4.H.
func (c *Collection) UpdateMany(ctx context.Context, entries []ReplaceOne) (*BulkReport, error) {
	if len(entries) == 0 {
		return &BulkReport{}, nil
	}

	opCtx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	models := make([]mongodrv.WriteModel, len(entries))
	for i, e := range entries {
		models[i] = mongodrv.NewReplaceOneModel().
			SetFilter(bson.M{"_id": e.ID}).
			SetReplacement(e.Document)
	}

	opts := options.BulkWrite().SetOrdered(false)
	result, err := c.raw.BulkWrite(opCtx, models, opts)
	if err != nil {
		if bulkErr, ok := err.(mongodrv.BulkWriteException); ok {
			return bulkReportFromException(len(entries), &bulkErr), nil
		}
		return nil, err
	}

	return &BulkReport{Committed: int(result.MatchedCount)}, nil
}

// DeleteMany issues a single bulk command containing one delete-one
// operation per identity — the Deleted-state shape of §4.H.
func (c *Collection) DeleteMany(ctx context.Context, ids []interface{}) (*BulkReport, error) {
	if len(ids) == 0 {
		return &BulkReport{}, nil
	}

	opCtx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	models := make([]mongodrv.WriteModel, len(ids))
	for i, id := range ids {
		models[i] = mongodrv.NewDeleteOneModel().SetFilter(bson.M{"_id": id})
	}

	opts := options.BulkWrite().SetOrdered(false)
	result, err := c.raw.BulkWrite(opCtx, models, opts)
	if err != nil {
		if bulkErr, ok := err.(mongodrv.BulkWriteException); ok {
			return bulkReportFromException(len(ids), &bulkErr), nil
		}
		return nil, err
	}

	return &BulkReport{Committed: int(result.DeletedCount)}, nil
}

// bulkReportFromException converts a driver BulkWriteException into the
// positional report the persistence pipeline needs, reporting committed as
// total minus failed since the exception doesn't separately expose it.
func bulkReportFromException(total int, bulkErr *mongodrv.BulkWriteException) *BulkReport {
	report := &BulkReport{}
	for _, we := range bulkErr.WriteErrors {
		report.Errors = append(report.Errors, WriteError{
			Index:   we.Index,
			Code:    we.Code,
			Message: we.Message,
		})
	}
	report.Committed = total - len(report.Errors)
	if report.Committed < 0 {
		report.Committed = 0
	}
	return report
}

// Find creates a pass-through query. A nil filter matches every document.
func (c *Collection) Find(filter interface{}) *Query {
	if filter == nil {
		filter = bson.M{}
	}
	return &Query{coll: c, filter: filter}
}

// FindByID creates a query matching exactly one identity.
func (c *Collection) FindByID(id primitive.ObjectID) *Query {
	return &Query{coll: c, filter: bson.M{"_id": id}}
}

// Count reports the collection's cardinality.
func (c *Collection) Count(ctx context.Context) (int64, error) {
	opCtx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()
	return c.raw.CountDocuments(opCtx, bson.M{})
}

// DeleteOne performs a direct, untracked single-document deletion.
func (c *Collection) DeleteOne(ctx context.Context, filter interface{}) (int64, error) {
	opCtx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()
	result, err := c.raw.DeleteOne(opCtx, filter)
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}

// DeleteAllMatching performs a direct, untracked multi-document deletion.
// Per §4.G this bypasses the state manager entirely: any tracked copy of a
// deleted document stays live and may resurrect the row if later saved.
func (c *Collection) DeleteAllMatching(ctx context.Context, filter interface{}) (int64, error) {
	opCtx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()
	if filter == nil {
		filter = bson.M{}
	}
	result, err := c.raw.DeleteMany(opCtx, filter)
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}

// Reload issues the find-and-modify-with-empty-update command of §6 and
// returns the document exactly as the store now holds it.
func (c *Collection) Reload(ctx context.Context, id primitive.ObjectID) (bson.Raw, error) {
	opCtx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	result := c.raw.FindOneAndUpdate(opCtx, bson.M{"_id": id}, bson.M{"$set": bson.M{}},
		options.FindOneAndUpdate().SetReturnDocument(options.After))
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

// Aggregate creates an aggregation pipeline, the other facet of the
// pass-through filter surface for queries a plain find can't express.
func (c *Collection) Aggregate(pipeline interface{}) *Pipe {
	return &Pipe{coll: c, pipeline: pipeline}
}
