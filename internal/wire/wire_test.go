package wire_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/modernmgo/docset/internal/wire"
)

// newTestSession connects to a local test database, skipping the test
// entirely when no reachable MongoDB-compatible server is configured. This
// mirrors the env-var convention the teacher's test harness used
// (MONGODB_TEST_URL), but degrades gracefully instead of failing the suite
// when no server is present.
func newTestSession(t *testing.T) *wire.Session {
	t.Helper()

	url := os.Getenv("MONGODB_TEST_URL")
	if url == "" {
		url = "mongodb://localhost:27018"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	session, err := wire.Connect(ctx, url, "docset_wire_test_"+primitive.NewObjectID().Hex())
	if err != nil {
		t.Skipf("no reachable MongoDB test server: %v", err)
	}
	if err := session.Ping(ctx); err != nil {
		t.Skipf("no reachable MongoDB test server: %v", err)
	}

	t.Cleanup(func() {
		_ = session.DropDatabase(context.Background())
		_ = session.Close(context.Background())
	})
	return session
}

func TestInsertManyCorrelatesWriteErrors(t *testing.T) {
	session := newTestSession(t)
	coll := session.Collection("widgets")
	ctx := context.Background()

	dup := primitive.NewObjectID()
	_, err := coll.InsertMany(ctx, []interface{}{bson.M{"_id": dup, "name": "first"}})
	require.NoError(t, err)

	report, err := coll.InsertMany(ctx, []interface{}{
		bson.M{"_id": primitive.NewObjectID(), "name": "ok-1"},
		bson.M{"_id": dup, "name": "dup"},
		bson.M{"_id": primitive.NewObjectID(), "name": "ok-2"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, report.Committed)
	require.Len(t, report.Errors, 1)
	require.Equal(t, 1, report.Errors[0].Index)
}

func TestUpdateManyAndDeleteMany(t *testing.T) {
	session := newTestSession(t)
	coll := session.Collection("widgets")
	ctx := context.Background()

	id1, id2 := primitive.NewObjectID(), primitive.NewObjectID()
	_, err := coll.InsertMany(ctx, []interface{}{
		bson.M{"_id": id1, "name": "a"},
		bson.M{"_id": id2, "name": "b"},
	})
	require.NoError(t, err)

	report, err := coll.UpdateMany(ctx, []wire.ReplaceOne{
		{ID: id1, Document: bson.M{"_id": id1, "name": "a2"}},
		{ID: id2, Document: bson.M{"_id": id2, "name": "b2"}},
	})
	require.NoError(t, err)
	require.Equal(t, 2, report.Committed)

	raw, err := coll.FindByID(id1).One(ctx)
	require.NoError(t, err)
	require.Equal(t, "a2", raw.Lookup("name").StringValue())

	delReport, err := coll.DeleteMany(ctx, []interface{}{id1, id2})
	require.NoError(t, err)
	require.Equal(t, 2, delReport.Committed)

	count, err := coll.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), count)
}

func TestReloadReturnsCurrentDocument(t *testing.T) {
	session := newTestSession(t)
	coll := session.Collection("widgets")
	ctx := context.Background()

	id := primitive.NewObjectID()
	_, err := coll.InsertMany(ctx, []interface{}{bson.M{"_id": id, "name": "initial"}})
	require.NoError(t, err)

	raw, err := coll.Reload(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "initial", raw.Lookup("name").StringValue())

	_, err = coll.Reload(ctx, primitive.NewObjectID())
	require.ErrorIs(t, err, wire.ErrNotFound)
}

func TestAggregatePassesPipelineThrough(t *testing.T) {
	session := newTestSession(t)
	coll := session.Collection("widgets")
	ctx := context.Background()

	_, err := coll.InsertMany(ctx, []interface{}{
		bson.M{"_id": primitive.NewObjectID(), "name": "keep"},
		bson.M{"_id": primitive.NewObjectID(), "name": "keep"},
		bson.M{"_id": primitive.NewObjectID(), "name": "drop"},
	})
	require.NoError(t, err)

	it := coll.Aggregate([]bson.M{{"$match": bson.M{"name": "keep"}}}).Iter(ctx)
	defer it.Close()
	docs, err := it.All()
	require.NoError(t, err)
	require.Len(t, docs, 2)
}

func TestIteratorAll(t *testing.T) {
	session := newTestSession(t)
	coll := session.Collection("widgets")
	ctx := context.Background()

	_, err := coll.InsertMany(ctx, []interface{}{
		bson.M{"_id": primitive.NewObjectID(), "name": "a"},
		bson.M{"_id": primitive.NewObjectID(), "name": "b"},
		bson.M{"_id": primitive.NewObjectID(), "name": "c"},
	})
	require.NoError(t, err)

	it := coll.Find(nil).Iter(ctx)
	defer it.Close()
	docs, err := it.All()
	require.NoError(t, err)
	require.Len(t, docs, 3)
}
