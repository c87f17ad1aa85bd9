package extract

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tillbridge/tillbridge/internal/model"
	"github.com/tillbridge/tillbridge/internal/syncx"
)

// Extractor reads one entity from the source database and materializes it
// into target documents. The engine is generic over this contract; it never
// branches on the entity name.
type Extractor interface {
	// Entity returns the target collection name, which doubles as the
	// checkpoint entity type.
	Entity() string

	// ChangedPage returns documents whose modification marker sorts after
	// the cursor, ascending by (marker, primary key). When limit is
	// positive at most limit documents are returned and a short page
	// means the stream is drained; when limit is zero the entity is a
	// snapshot entity and the full (filtered) set comes back in one call.
	// Every document carries the marker that produced it so the caller
	// can advance its checkpoint.
	ChangedPage(ctx context.Context, since syncx.Marker, limit int) ([]model.Doc, error)

	// LiveIDs returns the primary keys currently considered live in the
	// source. Soft-deleted rows are excluded. Called once per pass for
	// deletion reconciliation.
	LiveIDs(ctx context.Context) ([]int64, error)
}

// SoftDeleter is implemented by entities that flag deletions in place
// instead of removing the row. The ids feed the deletion sweep that runs
// before the insert phase.
type SoftDeleter interface {
	SoftDeletedIDs(ctx context.Context, since syncx.Marker) ([]int64, error)
}

// All returns every extractor in replication order. Categories precede
// products so a new category exists in the target before products embed it.
func All(db *pgxpool.Pool) []Extractor {
	return []Extractor{
		NewCategories(db),
		NewProducts(db),
		NewCustomers(db),
		NewSettings(db),
		NewEmployees(db),
		NewExpenses(db),
		NewTransactions(db),
	}
}

// ByEntity returns the extractor for one collection name, or nil.
func ByEntity(extractors []Extractor, entity string) Extractor {
	for _, ex := range extractors {
		if ex.Entity() == entity {
			return ex
		}
	}
	return nil
}

// queryIDs runs a single-column primary key query.
func queryIDs(ctx context.Context, db *pgxpool.Pool, sql string, args ...any) ([]int64, error) {
	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ids: %w", err)
	}
	return ids, nil
}
