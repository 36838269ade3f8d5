// Package remote implements the backend copy of every synchronized
// collection on MongoDB. It provides a [Store] whose typed [Collection]
// fields expose filtered fetch and single-record upsert, each wrapped in the
// [Retry] policy.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/njoerd114/medsync/internal/model"
)

// collectionAPI is the subset of [mongo.Collection] methods used by
// [Collection]. Defining it as an interface allows mock injection in tests.
type collectionAPI interface {
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	ReplaceOne(ctx context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
}

// keyed is satisfied by every record type in [model].
type keyed interface {
	Key() string
}

// Collection is the remote store for one record type.
type Collection[T keyed] struct {
	coll     collectionAPI
	kind     model.Collection
	attempts int
	timeout  time.Duration
}

// NewCollection creates a Collection over coll. attempts bounds [Retry];
// timeout bounds each individual attempt (zero means no per-attempt bound).
func NewCollection[T keyed](coll collectionAPI, kind model.Collection, attempts int, timeout time.Duration) *Collection[T] {
	return &Collection[T]{coll: coll, kind: kind, attempts: attempts, timeout: timeout}
}

// FetchFiltered returns every remote record inside scope. Errors are returned
// unwrapped; the sync pipeline adds the collection and stage.
func (c *Collection[T]) FetchFiltered(ctx context.Context, scope model.Scope) ([]T, error) {
	filter, ok := scopeFilter(c.kind, scope)
	if !ok {
		return nil, nil
	}

	var out []T
	err := Retry(ctx, c.attempts, func() error {
		actx, cancel := c.attemptContext(ctx)
		defer cancel()

		cur, err := c.coll.Find(actx, filter)
		if err != nil {
			return classify(err)
		}
		var batch []T
		if err := cur.All(actx, &batch); err != nil {
			return classify(err)
		}
		out = batch
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertOne replaces the remote document with rec's id, inserting it if absent.
func (c *Collection[T]) UpsertOne(ctx context.Context, rec T) error {
	err := Retry(ctx, c.attempts, func() error {
		actx, cancel := c.attemptContext(ctx)
		defer cancel()

		_, err := c.coll.ReplaceOne(actx, bson.M{"_id": rec.Key()}, rec, options.Replace().SetUpsert(true))
		return classify(err)
	})
	if err != nil {
		return fmt.Errorf("upserting %s %q: %w", c.kind, rec.Key(), err)
	}
	return nil
}

func (c *Collection[T]) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// classify marks errors that retrying cannot fix as permanent.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return Permanent(err)
	}
	var we mongo.WriteException
	if errors.As(err, &we) && len(we.WriteErrors) > 0 {
		return Permanent(err)
	}
	return err
}

// scopeFilter translates a scope into a query filter for collection c. It
// returns ok=false when the scope can match no documents.
func scopeFilter(c model.Collection, scope model.Scope) (filter bson.M, ok bool) {
	filter = bson.M{}

	if c.OwnedViaMedication() {
		if len(scope.MedicationIDs) == 0 {
			return nil, false
		}
		filter["medication_id"] = bson.M{"$in": scope.MedicationIDs}
	} else {
		filter["owner_id"] = scope.OwnerID
	}

	if c.Windowed() && scope.ScheduledAfter > 0 {
		filter["scheduled_time"] = bson.M{"$gte": scope.ScheduledAfter}
	}
	return filter, true
}

// --- Store -------------------------------------------------------------------

// Options configures [Open].
type Options struct {
	// URI is the MongoDB connection string.
	URI string
	// Database holds one MongoDB collection per synchronized collection.
	Database string
	// Timeout bounds each remote call attempt.
	Timeout time.Duration
	// Attempts bounds retries per remote call.
	Attempts int
}

// Store is the MongoDB-backed remote store.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	log    *slog.Logger

	Medications   *Collection[model.Medication]
	Schedules     *Collection[model.Schedule]
	AdherenceLogs *Collection[model.AdherenceLog]
	Refills       *Collection[model.Refill]
	Reports       *Collection[model.Report]
}

// Open connects to MongoDB and verifies the connection with a ping.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, fmt.Errorf("connecting to remote store: %w", err)
	}

	pingCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging remote store: %w", err)
	}

	db := client.Database(opts.Database)
	logger.Info("remote store connected", "database", opts.Database)

	return &Store{
		client:        client,
		db:            db,
		log:           logger,
		Medications:   NewCollection[model.Medication](db.Collection(string(model.Medications)), model.Medications, opts.Attempts, opts.Timeout),
		Schedules:     NewCollection[model.Schedule](db.Collection(string(model.Schedules)), model.Schedules, opts.Attempts, opts.Timeout),
		AdherenceLogs: NewCollection[model.AdherenceLog](db.Collection(string(model.AdherenceLogs)), model.AdherenceLogs, opts.Attempts, opts.Timeout),
		Refills:       NewCollection[model.Refill](db.Collection(string(model.Refills)), model.Refills, opts.Attempts, opts.Timeout),
		Reports:       NewCollection[model.Report](db.Collection(string(model.Reports)), model.Reports, opts.Attempts, opts.Timeout),
	}, nil
}

// EnsureIndexes creates the indexes backing every scope filter. It is
// idempotent.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	for _, c := range model.AllCollections {
		var keys bson.D
		switch {
		case c.OwnedViaMedication():
			keys = bson.D{{Key: "medication_id", Value: 1}}
		case c.Windowed():
			keys = bson.D{{Key: "owner_id", Value: 1}, {Key: "scheduled_time", Value: 1}}
		default:
			keys = bson.D{{Key: "owner_id", Value: 1}}
		}
		name, err := s.db.Collection(string(c)).Indexes().CreateOne(ctx, mongo.IndexModel{Keys: keys})
		if err != nil {
			return fmt.Errorf("creating index on %s: %w", c, err)
		}
		s.log.Debug("remote index ready", "collection", c, "index", name)
	}
	return nil
}

// Close disconnects from MongoDB.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping connects to uri, verifies the deployment answers, and disconnects.
func Ping(ctx context.Context, uri, database string) error {
	s, err := Open(ctx, Options{URI: uri, Database: database}, slog.New(slog.DiscardHandler))
	if err != nil {
		return err
	}
	return s.Close(context.Background())
}
