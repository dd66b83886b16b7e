package wire

import (
	"context"
	"net/url"
	"strings"
	"time"

	mongodrv "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Connect dials the store at connString and returns a Session bound to the
// database named in the connection string's path (or dbNameOverride, if
// non-empty). Retryable writes are disabled so that bulk write error
// indices stay stable and map cleanly back onto the caller's batch.
func Connect(ctx context.Context, connString string, dbNameOverride string) (*Session, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(connString).SetRetryWrites(false)
	client, err := mongodrv.Connect(dialCtx, clientOptions)
	if err != nil {
		return nil, err
	}

	dbName := dbNameOverride
	if dbName == "" {
		dbName = "test"
		if parsed, err := url.Parse(connString); err == nil && parsed.Path != "" {
			if name := strings.TrimPrefix(parsed.Path, "/"); name != "" {
				dbName = name
			}
		}
	}

	return &Session{client: client, dbName: dbName}, nil
}

// Close disconnects the underlying client.
func (s *Session) Close(ctx context.Context) error {
	closeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.client.Disconnect(closeCtx)
}

// Ping verifies the store is reachable.
func (s *Session) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.client.Ping(pingCtx, readpref.Primary())
}

// Collection returns a handle to the named collection, using the default
// collection-naming rule of §6: the name is taken verbatim, with no override.
func (s *Session) Collection(name string) *Collection {
	return &Collection{
		raw:  s.client.Database(s.dbName).Collection(name),
		name: name,
	}
}

// DropDatabase removes the session's entire database. Used by tests to tear
// down an ephemeral database after a run.
func (s *Session) DropDatabase(ctx context.Context) error {
	dropCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return s.client.Database(s.dbName).Drop(dropCtx)
}
