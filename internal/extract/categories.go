package extract

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/tillbridge/tillbridge/internal/model"
	"github.com/tillbridge/tillbridge/internal/syncx"
)

// Categories replicates the category reference table. Cardinality is small,
// so every pass takes a full snapshot of the active rows with no marker
// filter and no paging.
type Categories struct {
	DB *pgxpool.Pool
}

// NewCategories creates the category extractor.
func NewCategories(db *pgxpool.Pool) *Categories {
	return &Categories{DB: db}
}

// Entity returns the target collection name.
func (e *Categories) Entity() string { return model.CollCategories }

// ChangedPage ignores the cursor: categories have no modification marker and
// are re-emitted in full on every pass. The documents carry a zero marker so
// the checkpoint position never advances past real change streams.
func (e *Categories) ChangedPage(ctx context.Context, _ syncx.Marker, _ int) ([]model.Doc, error) {
	rows, err := e.DB.Query(ctx, `
		SELECT "CategoryId", "Name", COALESCE("Description", ''), COALESCE("Type", ''), "IsActive"
		FROM "Categories"
		WHERE "IsActive" = TRUE
		ORDER BY "CategoryId"
	`)
	if err != nil {
		log.Error().Err(err).Msg("failed to query categories")
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var docs []model.Doc
	for rows.Next() {
		var d model.CategoryDoc
		if err := rows.Scan(&d.CategoryID, &d.Name, &d.Description, &d.Type, &d.IsActive); err != nil {
			log.Warn().Err(err).Msg("skipping malformed category row")
			continue
		}
		d.ID = d.CategoryID
		docs = append(docs, model.Doc{ID: d.ID, Body: &d})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return docs, nil
}

// LiveIDs returns the active category ids.
func (e *Categories) LiveIDs(ctx context.Context) ([]int64, error) {
	return queryIDs(ctx, e.DB, `SELECT "CategoryId" FROM "Categories" WHERE "IsActive" = TRUE`)
}
