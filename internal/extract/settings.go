package extract

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/tillbridge/tillbridge/internal/model"
	"github.com/tillbridge/tillbridge/internal/syncx"
)

// Settings replicates the business settings table. The set is tiny and has
// no soft-delete flag; passes read it unpaged but still filter on
// LastModified so an idle system transfers nothing.
type Settings struct {
	DB *pgxpool.Pool
}

// NewSettings creates the business settings extractor.
func NewSettings(db *pgxpool.Pool) *Settings {
	return &Settings{DB: db}
}

// Entity returns the target collection name.
func (e *Settings) Entity() string { return model.CollBusinessSettings }

// ChangedPage returns every setting modified after the cursor time.
func (e *Settings) ChangedPage(ctx context.Context, since syncx.Marker, _ int) ([]model.Doc, error) {
	rows, err := e.DB.Query(ctx, `
		SELECT "Id", "Key", COALESCE("Value", ''), COALESCE("Description", ''),
		       COALESCE("Group", ''), COALESCE("DataType", ''), "IsSystem",
		       "LastModified", COALESCE("ModifiedBy", '')
		FROM "BusinessSettings"
		WHERE "LastModified" > $1
		ORDER BY "LastModified", "Id"
	`, since.Time)
	if err != nil {
		log.Error().Err(err).Msg("failed to query changed business settings")
		return nil, fmt.Errorf("query business settings: %w", err)
	}
	defer rows.Close()

	var docs []model.Doc
	for rows.Next() {
		var d model.BusinessSettingDoc
		if err := rows.Scan(
			&d.SettingID, &d.Key, &d.Value, &d.Description,
			&d.Group, &d.DataType, &d.IsSystem,
			&d.LastModified, &d.ModifiedBy,
		); err != nil {
			log.Warn().Err(err).Msg("skipping malformed business setting row")
			continue
		}

		d.ID = d.SettingID
		d.LastModified = d.LastModified.UTC()

		marker := syncx.Marker{Time: d.LastModified, ID: d.SettingID}
		docs = append(docs, model.Doc{ID: d.ID, Marker: marker, Body: &d})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate business settings: %w", err)
	}
	return docs, nil
}

// LiveIDs returns every setting id; settings are never soft-deleted.
func (e *Settings) LiveIDs(ctx context.Context) ([]int64, error) {
	return queryIDs(ctx, e.DB, `SELECT "Id" FROM "BusinessSettings"`)
}
