package load

import (
	"context"
	"os"
	"sort"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/tillbridge/tillbridge/internal/db"
	"github.com/tillbridge/tillbridge/internal/model"
)

func getTestLoader(t *testing.T) *Loader {
	t.Helper()

	url := os.Getenv("TEST_MONGO_URL")
	if url == "" {
		t.Skip("TEST_MONGO_URL not set, skipping integration tests")
	}

	client, err := db.OpenTarget(context.Background(), url, db.MongoTimeouts{
		Socket:          time.Minute,
		ServerSelection: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to connect to test mongo: %v", err)
	}
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	database := client.Database("tillbridge_test")
	for _, coll := range []string{model.CollProducts, model.CollSyncLogs} {
		if err := database.Collection(coll).Drop(context.Background()); err != nil {
			t.Fatalf("Failed to drop %s: %v", coll, err)
		}
	}
	return NewLoader(database)
}

func productDoc(id int64, name string) model.Doc {
	d := &model.ProductDoc{
		ID:        id,
		ProductID: id,
		Name:      name,
		CreatedAt: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	return model.Doc{ID: id, Body: d}
}

func TestUpsertBatchInsertsAndReplays(t *testing.T) {
	loader := getTestLoader(t)
	ctx := context.Background()

	docs := []model.Doc{productDoc(1, "Widget"), productDoc(2, "Gadget")}

	res, err := loader.UpsertBatch(ctx, model.CollProducts, docs)
	if err != nil {
		t.Fatalf("UpsertBatch() error = %v", err)
	}
	if res.Inserted != 2 || res.Failed != 0 {
		t.Errorf("first batch = %+v, want 2 inserted", res)
	}

	// Replaying the same batch must not create duplicates.
	res, err = loader.UpsertBatch(ctx, model.CollProducts, docs)
	if err != nil {
		t.Fatalf("UpsertBatch() replay error = %v", err)
	}
	if res.Inserted != 0 {
		t.Errorf("replay inserted %d documents, want 0", res.Inserted)
	}
	if res.Matched != 2 {
		t.Errorf("replay matched %d documents, want 2", res.Matched)
	}

	ids, err := loader.PresentIDs(ctx, model.CollProducts)
	if err != nil {
		t.Fatalf("PresentIDs() error = %v", err)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Errorf("PresentIDs() = %v, want [1 2]", ids)
	}
}

func TestUpsertBatchStampsSyncedAt(t *testing.T) {
	loader := getTestLoader(t)
	ctx := context.Background()

	before := time.Now().UTC().Add(-time.Second)
	if _, err := loader.UpsertBatch(ctx, model.CollProducts, []model.Doc{productDoc(7, "Widget")}); err != nil {
		t.Fatalf("UpsertBatch() error = %v", err)
	}

	var got model.ProductDoc
	err := loader.DB.Collection(model.CollProducts).
		FindOne(ctx, bson.D{{Key: "_id", Value: int64(7)}}).Decode(&got)
	if err != nil {
		t.Fatalf("FindOne() error = %v", err)
	}
	if got.SyncedAt.Before(before) {
		t.Errorf("SyncedAt = %v, want stamped at write time", got.SyncedAt)
	}
	if got.Name != "Widget" {
		t.Errorf("Name = %q, want Widget", got.Name)
	}
}

func TestDeleteByIDs(t *testing.T) {
	loader := getTestLoader(t)
	ctx := context.Background()

	docs := []model.Doc{productDoc(1, "a"), productDoc(2, "b"), productDoc(3, "c")}
	if _, err := loader.UpsertBatch(ctx, model.CollProducts, docs); err != nil {
		t.Fatalf("UpsertBatch() error = %v", err)
	}

	deleted, err := loader.DeleteByIDs(ctx, model.CollProducts, []int64{1, 3, 99})
	if err != nil {
		t.Fatalf("DeleteByIDs() error = %v", err)
	}
	if deleted != 2 {
		t.Errorf("DeleteByIDs() removed %d, want 2", deleted)
	}

	ids, err := loader.PresentIDs(ctx, model.CollProducts)
	if err != nil {
		t.Fatalf("PresentIDs() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != 2 {
		t.Errorf("PresentIDs() = %v, want [2]", ids)
	}

	// Deleting nothing is a no-op, not an error.
	if n, err := loader.DeleteByIDs(ctx, model.CollProducts, nil); err != nil || n != 0 {
		t.Errorf("DeleteByIDs(nil) = (%d, %v), want (0, nil)", n, err)
	}
}

func TestInsertSyncLog(t *testing.T) {
	loader := getTestLoader(t)
	ctx := context.Background()

	entry := model.SyncLog{
		DeviceID:      "dev-1",
		EntityType:    model.CollProducts,
		LastSyncTime:  time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
		IsSuccess:     true,
		RecordsSynced: 12,
		LoggedAt:      time.Now().UTC(),
	}
	if err := loader.InsertSyncLog(ctx, entry); err != nil {
		t.Fatalf("InsertSyncLog() error = %v", err)
	}
	// A second identical entry appends; the log is not keyed.
	if err := loader.InsertSyncLog(ctx, entry); err != nil {
		t.Fatalf("InsertSyncLog() second error = %v", err)
	}

	n, err := loader.DB.Collection(model.CollSyncLogs).CountDocuments(ctx, bson.D{})
	if err != nil {
		t.Fatalf("CountDocuments() error = %v", err)
	}
	if n != 2 {
		t.Errorf("sync_logs holds %d entries, want 2", n)
	}
}
