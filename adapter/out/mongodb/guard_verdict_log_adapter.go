package mongodb

import (
	"context"
	"time"

	"phishguard/core/port/out"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	verdictCollection = "verdict_log"
	defaultListLimit  = 50
	maxListLimit      = 500
)

// VerdictLogAdapter implements out.VerdictLogRepository.
type VerdictLogAdapter struct {
	collection *mongo.Collection
	retention  time.Duration
}

var _ out.VerdictLogRepository = (*VerdictLogAdapter)(nil)

// NewVerdictLogAdapter creates the adapter. retention <= 0 keeps entries forever.
func NewVerdictLogAdapter(db *mongo.Database, retention time.Duration) *VerdictLogAdapter {
	return &VerdictLogAdapter{
		collection: db.Collection(verdictCollection),
		retention:  retention,
	}
}

// EnsureIndexes creates the lookup index and, with retention, a TTL index.
func (a *VerdictLogAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "identity", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "category", Value: 1}}},
	}
	if a.retention > 0 {
		indexes = append(indexes, mongo.IndexModel{
			Keys:    bson.D{{Key: "created_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(a.retention.Seconds())),
		})
	}
	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// Append inserts one entry.
func (a *VerdictLogAdapter) Append(ctx context.Context, entry *out.VerdictLogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := a.collection.InsertOne(ctx, entry)
	return err
}

// ListByIdentity returns the newest entries of one identity.
func (a *VerdictLogAdapter) ListByIdentity(ctx context.Context, identity string, limit int) ([]*out.VerdictLogEntry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	findOpts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := a.collection.Find(ctx, bson.M{"identity": identity}, findOpts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var entries []*out.VerdictLogEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
