// Package wire is a thin transport layer over the official MongoDB driver.
// It exposes exactly the operations the persistence pipeline and document
// sets need — bulk insert/update/delete, pass-through find, reload — and
// nothing of the driver's wider surface. It never interprets document
// shape: callers hand it already-BSON-able values.
package wire

import (
	"context"
	"time"

	mongodrv "go.mongodb.org/mongo-driver/mongo"
)

// Session owns one driver client and the database it was dialed against.
type Session struct {
	client *mongodrv.Client
	dbName string
}

// Collection is a handle to one named collection within a Session's database.
type Collection struct {
	raw  *mongodrv.Collection
	name string
}

// Name returns the collection's name, as it appears on the wire.
func (c *Collection) Name() string {
	return c.name
}

// Query carries the filter/sort/skip/limit state of a pending find.
type Query struct {
	coll       *Collection
	filter     interface{}
	sort       interface{}
	projection interface{}
	skip       int64
	limit      int64
}

// Iterator pumps a driver cursor one document at a time.
type Iterator struct {
	cursor *mongodrv.Cursor
	ctx    context.Context
	err    error
}

// Pipe carries pending aggregation pipeline state, the pass-through
// counterpart to Query for callers that need a server-side transform the
// filter surface alone can't express.
type Pipe struct {
	coll     *Collection
	pipeline interface{}
}

const defaultOpTimeout = 10 * time.Second

// WriteError is one entry of a bulk command's writeErrors array, correlated
// back to its position in the caller's batch.
type WriteError struct {
	Index   int
	Code    int
	Message string
}

func (e *WriteError) Error() string {
	return e.Message
}

// BulkReport is the outcome of one insert-many/update-many/delete-many
// command: how many operations the server actually committed, and which
// positions (if any) it rejected.
type BulkReport struct {
	Committed int
	Errors    []WriteError
}

// FailedIndexes returns the set of batch positions the server reported as
// failed, for the caller to subtract from its own bookkeeping.
func (r *BulkReport) FailedIndexes() map[int]WriteError {
	m := make(map[int]WriteError, len(r.Errors))
	for _, e := range r.Errors {
		m[e.Index] = e
	}
	return m
}
