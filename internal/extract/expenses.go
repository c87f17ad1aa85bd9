package extract

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tillbridge/tillbridge/internal/model"
	"github.com/tillbridge/tillbridge/internal/syncx"
)

// Expenses replicates the expense journal. Expenses have no soft-delete
// flag; rows disappear from the target only through hard-delete
// reconciliation. Marker semantics match products.
type Expenses struct {
	DB *pgxpool.Pool
}

// NewExpenses creates the expense extractor.
func NewExpenses(db *pgxpool.Pool) *Expenses {
	return &Expenses{DB: db}
}

// Entity returns the target collection name.
func (e *Expenses) Entity() string { return model.CollExpenses }

// ChangedPage returns up to limit changed expenses ordered by
// (marker, ExpenseId).
func (e *Expenses) ChangedPage(ctx context.Context, since syncx.Marker, limit int) ([]model.Doc, error) {
	rows, err := e.DB.Query(ctx, `
		SELECT "ExpenseId", COALESCE("Reason", ''), COALESCE("Amount", 0), "Date",
		       COALESCE("Notes", ''), COALESCE("Category", ''), "IsRecurring",
		       "CreatedAt", "UpdatedAt"
		FROM "Expenses"
		WHERE (COALESCE("UpdatedAt", "CreatedAt"), "ExpenseId") > ($1, $2)
		ORDER BY COALESCE("UpdatedAt", "CreatedAt"), "ExpenseId"
		LIMIT $3
	`, since.Time, since.ID, limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to query changed expenses")
		return nil, fmt.Errorf("query expenses: %w", err)
	}
	defer rows.Close()

	var docs []model.Doc
	for rows.Next() {
		var (
			d      model.ExpenseDoc
			amount decimal.Decimal
		)
		if err := rows.Scan(
			&d.ExpenseID, &d.Reason, &amount, &d.Date,
			&d.Notes, &d.Category, &d.IsRecurring,
			&d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			log.Warn().Err(err).Msg("skipping malformed expense row")
			continue
		}

		d.ID = d.ExpenseID
		d.Amount = model.Decimal128(amount)
		d.Date = d.Date.UTC()
		d.CreatedAt = d.CreatedAt.UTC()
		if d.UpdatedAt != nil {
			u := d.UpdatedAt.UTC()
			d.UpdatedAt = &u
		}

		marker := syncx.Marker{Time: d.CreatedAt, ID: d.ExpenseID}
		if d.UpdatedAt != nil {
			marker.Time = *d.UpdatedAt
		}
		docs = append(docs, model.Doc{ID: d.ID, Marker: marker, Body: &d})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expenses: %w", err)
	}
	return docs, nil
}

// LiveIDs returns every expense id.
func (e *Expenses) LiveIDs(ctx context.Context) ([]int64, error) {
	return queryIDs(ctx, e.DB, `SELECT "ExpenseId" FROM "Expenses"`)
}
