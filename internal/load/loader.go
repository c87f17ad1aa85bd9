package load

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tillbridge/tillbridge/internal/model"
)

// Loader issues keyed upserts and deletes against one target database. It
// never retries; failures bubble to the engine, which decides whether the
// window is replayed.
type Loader struct {
	DB *mongo.Database
}

// NewLoader creates a Loader writing to the given database.
func NewLoader(db *mongo.Database) *Loader {
	return &Loader{DB: db}
}

// BulkResult summarizes one bulk upsert.
type BulkResult struct {
	Inserted int64
	Modified int64
	Matched  int64
	Failed   int64
}

// Written returns how many documents the batch actually placed in the target.
func (r BulkResult) Written() int64 { return r.Inserted + r.Matched }

// UpsertBatch replaces documents in full, keyed by _id, creating the ones
// that do not exist. The write is unordered so one bad document does not
// fail its batch; per-document failures are logged with their primary key
// and counted in the result rather than returned as an error.
func (l *Loader) UpsertBatch(ctx context.Context, collection string, docs []model.Doc) (BulkResult, error) {
	if len(docs) == 0 {
		return BulkResult{}, nil
	}

	now := time.Now().UTC()
	writes := make([]mongo.WriteModel, 0, len(docs))
	for _, d := range docs {
		if s, ok := d.Body.(model.Stamped); ok {
			s.SetSyncedAt(now)
		}
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.D{{Key: "_id", Value: d.ID}}).
			SetReplacement(d.Body).
			SetUpsert(true))
	}

	res, err := l.DB.Collection(collection).BulkWrite(ctx, writes,
		options.BulkWrite().SetOrdered(false))
	if err != nil {
		var bwe mongo.BulkWriteException
		if errors.As(err, &bwe) && res != nil {
			for _, we := range bwe.WriteErrors {
				id := int64(-1)
				if we.Index >= 0 && we.Index < len(docs) {
					id = docs[we.Index].ID
				}
				log.Warn().
					Str("collection", collection).
					Int64("id", id).
					Int("code", we.Code).
					Str("error", we.Message).
					Msg("document rejected by target")
			}
			return BulkResult{
				Inserted: res.UpsertedCount,
				Modified: res.ModifiedCount,
				Matched:  res.MatchedCount,
				Failed:   int64(len(bwe.WriteErrors)),
			}, nil
		}
		return BulkResult{}, fmt.Errorf("bulk upsert %s: %w", collection, err)
	}

	return BulkResult{
		Inserted: res.UpsertedCount,
		Modified: res.ModifiedCount,
		Matched:  res.MatchedCount,
	}, nil
}

// DeleteByIDs removes documents by primary key in one bulk delete and
// returns how many were actually removed.
func (l *Loader) DeleteByIDs(ctx context.Context, collection string, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	res, err := l.DB.Collection(collection).DeleteMany(ctx,
		bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}})
	if err != nil {
		return 0, fmt.Errorf("bulk delete %s: %w", collection, err)
	}
	return res.DeletedCount, nil
}

// PresentIDs projects the _id of every document in a collection. Used by
// deletion reconciliation; intentionally the cheapest possible read.
func (l *Loader) PresentIDs(ctx context.Context, collection string) ([]int64, error) {
	cur, err := l.DB.Collection(collection).Find(ctx, bson.D{},
		options.Find().SetProjection(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("project ids %s: %w", collection, err)
	}
	defer cur.Close(ctx)

	var ids []int64
	for cur.Next(ctx) {
		var row struct {
			ID int64 `bson:"_id"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, fmt.Errorf("decode id %s: %w", collection, err)
		}
		ids = append(ids, row.ID)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate ids %s: %w", collection, err)
	}
	return ids, nil
}

// InsertSyncLog appends one pass outcome to the sync log collection.
// Outcomes are inserted, never upserted: the log is an audit trail.
func (l *Loader) InsertSyncLog(ctx context.Context, entry model.SyncLog) error {
	if _, err := l.DB.Collection(model.CollSyncLogs).InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("insert sync log: %w", err)
	}
	return nil
}
