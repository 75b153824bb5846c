package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	usageCollection     = "usage"
	mongoDuplicateKey   = 11000
	mongoIndexTimeout   = 30 * time.Second
	timestampIndexName  = "timestamp_-1"
	secondsPerRetainDay = 24 * 60 * 60
)

// ErrPartialWrite indicates that only part of a batch was inserted.
var ErrPartialWrite = errors.New("partial write failure")

// PartialWriteError reports how many entries of a batch failed for
// reasons other than an already stored id.
type PartialWriteError struct {
	TotalEntries int
	FailedCount  int
	Cause        error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("partial usage insert: %d of %d entries failed: %v", e.FailedCount, e.TotalEntries, e.Cause)
}

func (e *PartialWriteError) Unwrap() error {
	return ErrPartialWrite
}

// MongoDBStore implements UsageStore for MongoDB. Retention is enforced by
// a TTL index on timestamp rather than a cleanup loop.
type MongoDBStore struct {
	collection    *mongo.Collection
	retentionDays int
}

// NewMongoDBStore creates the usage collection indexes.
func NewMongoDBStore(ctx context.Context, database *mongo.Database, retentionDays int) (*MongoDBStore, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}
	collection := database.Collection(usageCollection)

	ctx, cancel := context.WithTimeout(ctx, mongoIndexTimeout)
	defer cancel()

	// MongoDB allows one index per key pattern, so the timestamp index
	// carries the TTL when retention is set.
	timestampIndex := options.Index().SetName(timestampIndexName)
	if retentionDays > 0 {
		timestampIndex.SetExpireAfterSeconds(int32(retentionDays * secondsPerRetainDay))
	}
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "timestamp", Value: -1}}, Options: timestampIndex},
		{Keys: bson.D{{Key: "request_id", Value: 1}}},
		{Keys: bson.D{{Key: "provider", Value: 1}, {Key: "model", Value: 1}}},
	}
	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		slog.Warn("failed to create some MongoDB indexes for usage", "error", err)
	}

	return &MongoDBStore{collection: collection, retentionDays: retentionDays}, nil
}

// WriteBatch inserts entries unordered. Entries whose id is already stored
// are skipped, matching the SQL stores.
func (s *MongoDBStore) WriteBatch(ctx context.Context, entries []*UsageEntry) error {
	if len(entries) == 0 {
		return nil
	}

	docs := make([]any, len(entries))
	for i, e := range entries {
		docs[i] = e
	}

	_, err := s.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err == nil {
		return nil
	}

	writeErrs, ok := bulkWriteErrors(err)
	if !ok {
		return fmt.Errorf("failed to insert usage entries: %w", err)
	}
	var failed int
	for _, we := range writeErrs {
		if we.Code != mongoDuplicateKey {
			failed++
		}
	}
	if failed == 0 {
		return nil
	}
	slog.Warn("partial usage insert failure",
		"total", len(entries),
		"failed", failed,
		"succeeded", len(entries)-len(writeErrs),
	)
	return &PartialWriteError{TotalEntries: len(entries), FailedCount: failed, Cause: err}
}

// bulkWriteErrors returns the per-document errors of an InsertMany failure.
// A write concern failure is not reported per document and yields false.
func bulkWriteErrors(err error) ([]mongo.BulkWriteError, bool) {
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) {
		return bwe.WriteErrors, bwe.WriteConcernError == nil
	}
	var bwePtr *mongo.BulkWriteException
	if errors.As(err, &bwePtr) && bwePtr != nil {
		return bwePtr.WriteErrors, bwePtr.WriteConcernError == nil
	}
	return nil, false
}

// Flush is a no-op; writes are synchronous.
func (s *MongoDBStore) Flush(context.Context) error { return nil }

// Close is a no-op; the client belongs to the storage layer.
func (s *MongoDBStore) Close() error { return nil }
