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

// Customers replicates the customer ledger. Marker semantics match products:
// UpdatedAt with CreatedAt fallback, keyset-paged.
type Customers struct {
	DB *pgxpool.Pool
}

// NewCustomers creates the customer extractor.
func NewCustomers(db *pgxpool.Pool) *Customers {
	return &Customers{DB: db}
}

// Entity returns the target collection name.
func (e *Customers) Entity() string { return model.CollCustomers }

// ChangedPage returns up to limit changed customers ordered by
// (marker, CustomerId).
func (e *Customers) ChangedPage(ctx context.Context, since syncx.Marker, limit int) ([]model.Doc, error) {
	rows, err := e.DB.Query(ctx, `
		SELECT "CustomerId", "Name", COALESCE("Phone", ''), COALESCE("Email", ''),
		       COALESCE("Address", ''), "IsActive", COALESCE("Balance", 0),
		       "CreatedAt", "UpdatedAt"
		FROM "Customers"
		WHERE "IsActive" = TRUE
		  AND (COALESCE("UpdatedAt", "CreatedAt"), "CustomerId") > ($1, $2)
		ORDER BY COALESCE("UpdatedAt", "CreatedAt"), "CustomerId"
		LIMIT $3
	`, since.Time, since.ID, limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to query changed customers")
		return nil, fmt.Errorf("query customers: %w", err)
	}
	defer rows.Close()

	var docs []model.Doc
	for rows.Next() {
		var (
			d       model.CustomerDoc
			balance decimal.Decimal
		)
		if err := rows.Scan(
			&d.CustomerID, &d.Name, &d.Phone, &d.Email,
			&d.Address, &d.IsActive, &balance,
			&d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			log.Warn().Err(err).Msg("skipping malformed customer row")
			continue
		}

		d.ID = d.CustomerID
		d.Balance = model.Decimal128(balance)
		d.CreatedAt = d.CreatedAt.UTC()
		if d.UpdatedAt != nil {
			u := d.UpdatedAt.UTC()
			d.UpdatedAt = &u
		}

		marker := syncx.Marker{Time: d.CreatedAt, ID: d.CustomerID}
		if d.UpdatedAt != nil {
			marker.Time = *d.UpdatedAt
		}
		docs = append(docs, model.Doc{ID: d.ID, Marker: marker, Body: &d})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate customers: %w", err)
	}
	return docs, nil
}

// LiveIDs returns the active customer ids.
func (e *Customers) LiveIDs(ctx context.Context) ([]int64, error) {
	return queryIDs(ctx, e.DB, `SELECT "CustomerId" FROM "Customers" WHERE "IsActive" = TRUE`)
}
