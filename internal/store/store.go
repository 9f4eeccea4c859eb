package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrNotFound is returned by FindOne when no record matches the filter.
var ErrNotFound = errors.New("store: not found")

// Store wraps a MongoDB database holding the urls, documents, postings and
// terms collections. One Store value is constructed in main and passed
// through the component graph; index initialization runs once at open.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger *slog.Logger
}

// Open connects to MongoDB, verifies the connection, and ensures all
// collection indexes exist.
func Open(ctx context.Context, uri, database string, logger *slog.Logger) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri).SetAppName("webseek"))
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("mongodb ping: %w", err)
	}

	s := &Store{
		client: client,
		db:     client.Database(database),
		logger: logger.With("component", "store"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}
	s.logger.Info("store opened", "database", database)
	return s, nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) collection(name string) *mongo.Collection {
	return s.db.Collection(name)
}

// BulkOp is a single keyed upsert in a bulk write. Set is applied on every
// write; SetOnInsert only when the record is created.
type BulkOp struct {
	Filter      bson.M
	Set         bson.M
	SetOnInsert bson.M
}

// BulkResult aggregates counts from an unordered bulk write.
type BulkResult struct {
	Matched  int64
	Modified int64
	Upserted int64
}

// Upsert writes a single record keyed by filter. A duplicate-key race
// between concurrent upserts on the same key is retried once without the
// on-insert fields.
func (s *Store) Upsert(ctx context.Context, coll string, filter, set, setOnInsert bson.M) error {
	c := s.collection(coll)
	update := bson.M{"$set": set}
	if len(setOnInsert) > 0 {
		update["$setOnInsert"] = setOnInsert
	}
	_, err := c.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		s.logger.Warn("duplicate key on upsert, retrying without insert fields", "collection", coll)
		_, err = c.UpdateOne(ctx, filter, bson.M{"$set": set})
	}
	if err != nil {
		return fmt.Errorf("upsert %s: %w", coll, err)
	}
	return nil
}

// BulkUpsert submits an unordered batch of upserts. Partial success is
// allowed; the returned counts cover the operations that were applied.
func (s *Store) BulkUpsert(ctx context.Context, coll string, ops []BulkOp) (BulkResult, error) {
	if len(ops) == 0 {
		return BulkResult{}, nil
	}
	models := make([]mongo.WriteModel, 0, len(ops))
	for _, op := range ops {
		update := bson.M{"$set": op.Set}
		if len(op.SetOnInsert) > 0 {
			update["$setOnInsert"] = op.SetOnInsert
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(op.Filter).
			SetUpdate(update).
			SetUpsert(true))
	}
	res, err := s.collection(coll).BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if res == nil {
		return BulkResult{}, fmt.Errorf("bulk upsert %s: %w", coll, err)
	}
	out := BulkResult{
		Matched:  res.MatchedCount,
		Modified: res.ModifiedCount,
		Upserted: res.UpsertedCount,
	}
	if err != nil {
		return out, fmt.Errorf("bulk upsert %s: %w", coll, err)
	}
	return out, nil
}

// FindOne decodes the first record matching filter into out. Pass a nil
// projection to fetch whole records.
func (s *Store) FindOne(ctx context.Context, coll string, filter, projection bson.M, out any) error {
	opts := options.FindOne()
	if projection != nil {
		opts.SetProjection(projection)
	}
	err := s.collection(coll).FindOne(ctx, filter, opts).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("find one %s: %w", coll, err)
	}
	return nil
}

// Find returns a streaming cursor over records matching filter.
func (s *Store) Find(ctx context.Context, coll string, filter, projection bson.M) (*mongo.Cursor, error) {
	opts := options.Find()
	if projection != nil {
		opts.SetProjection(projection)
	}
	cur, err := s.collection(coll).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", coll, err)
	}
	return cur, nil
}

// Count returns the number of records matching filter.
func (s *Store) Count(ctx context.Context, coll string, filter bson.M) (int64, error) {
	n, err := s.collection(coll).CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", coll, err)
	}
	return n, nil
}

// AggregateAvg returns the mean of a numeric field across a collection,
// 0 when the collection is empty.
func (s *Store) AggregateAvg(ctx context.Context, coll, field string) (float64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "avg", Value: bson.D{{Key: "$avg", Value: "$" + field}}},
		}}},
	}
	cur, err := s.collection(coll).Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("aggregate avg %s.%s: %w", coll, field, err)
	}
	defer cur.Close(ctx)

	var row struct {
		Avg float64 `bson:"avg"`
	}
	if !cur.Next(ctx) {
		return 0, cur.Err()
	}
	if err := cur.Decode(&row); err != nil {
		return 0, fmt.Errorf("aggregate avg decode: %w", err)
	}
	return row.Avg, nil
}

// DeleteMany removes all records matching filter and returns the count.
func (s *Store) DeleteMany(ctx context.Context, coll string, filter bson.M) (int64, error) {
	res, err := s.collection(coll).DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("delete many %s: %w", coll, err)
	}
	return res.DeletedCount, nil
}

// FindURLs streams the url field of records matching filter.
func (s *Store) FindURLs(ctx context.Context, coll string, filter bson.M) ([]string, error) {
	cur, err := s.Find(ctx, coll, filter, bson.M{"url": 1})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var urls []string
	for cur.Next(ctx) {
		var row struct {
			URL string `bson:"url"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, fmt.Errorf("decode url: %w", err)
		}
		urls = append(urls, row.URL)
	}
	return urls, cur.Err()
}

// EachDocument streams documents matching filter through fn. Iteration
// stops on the first error fn returns.
func (s *Store) EachDocument(ctx context.Context, filter bson.M, fn func(Document) error) error {
	cur, err := s.Find(ctx, CollDocuments, filter, nil)
	if err != nil {
		return err
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var doc Document
		if err := cur.Decode(&doc); err != nil {
			return fmt.Errorf("decode document: %w", err)
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
	return cur.Err()
}
