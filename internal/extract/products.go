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

// Products replicates the product catalogue. The modification marker is
// UpdatedAt falling back to CreatedAt, so rows that have never been edited
// are picked up the first time their creation enters the window.
type Products struct {
	DB *pgxpool.Pool
}

// NewProducts creates the product extractor.
func NewProducts(db *pgxpool.Pool) *Products {
	return &Products{DB: db}
}

// Entity returns the target collection name.
func (e *Products) Entity() string { return model.CollProducts }

// ChangedPage returns up to limit changed products ordered by
// (marker, ProductId). The keyset cursor includes the primary key so a page
// boundary inside a group of rows sharing one marker never skips rows.
// The category name is embedded by value to break the product<->category
// object cycle of the source model.
func (e *Products) ChangedPage(ctx context.Context, since syncx.Marker, limit int) ([]model.Doc, error) {
	rows, err := e.DB.Query(ctx, `
		SELECT p."ProductId", COALESCE(p."Barcode", ''), p."Name", COALESCE(p."Description", ''),
		       p."CategoryId", c."Name",
		       p."PurchasePrice", p."SalePrice", p."CurrentStock", p."MinimumStock",
		       p."SupplierId", p."IsActive", p."CreatedAt", COALESCE(p."Speed", 0),
		       p."UpdatedAt", COALESCE(p."ImagePath", '')
		FROM "Products" p
		LEFT JOIN "Categories" c ON c."CategoryId" = p."CategoryId"
		WHERE p."IsActive" = TRUE
		  AND (COALESCE(p."UpdatedAt", p."CreatedAt"), p."ProductId") > ($1, $2)
		ORDER BY COALESCE(p."UpdatedAt", p."CreatedAt"), p."ProductId"
		LIMIT $3
	`, since.Time, since.ID, limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to query changed products")
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var docs []model.Doc
	for rows.Next() {
		var (
			d             model.ProductDoc
			categoryName  *string
			purchasePrice decimal.Decimal
			salePrice     decimal.Decimal
		)
		if err := rows.Scan(
			&d.ProductID, &d.Barcode, &d.Name, &d.Description,
			&d.CategoryID, &categoryName,
			&purchasePrice, &salePrice, &d.CurrentStock, &d.MinimumStock,
			&d.SupplierID, &d.IsActive, &d.CreatedAt, &d.Speed,
			&d.UpdatedAt, &d.ImagePath,
		); err != nil {
			log.Warn().Err(err).Msg("skipping malformed product row")
			continue
		}

		d.ID = d.ProductID
		d.PurchasePrice = model.Decimal128(purchasePrice)
		d.SalePrice = model.Decimal128(salePrice)
		d.CreatedAt = d.CreatedAt.UTC()
		if d.UpdatedAt != nil {
			u := d.UpdatedAt.UTC()
			d.UpdatedAt = &u
		}
		if categoryName != nil {
			d.Category = &model.CategoryRef{CategoryID: d.CategoryID, Name: *categoryName}
		}

		docs = append(docs, model.Doc{ID: d.ID, Marker: productMarker(&d), Body: &d})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return docs, nil
}

// LiveIDs returns the active product ids.
func (e *Products) LiveIDs(ctx context.Context) ([]int64, error) {
	return queryIDs(ctx, e.DB, `SELECT "ProductId" FROM "Products" WHERE "IsActive" = TRUE`)
}

func productMarker(d *model.ProductDoc) syncx.Marker {
	at := d.CreatedAt
	if d.UpdatedAt != nil {
		at = *d.UpdatedAt
	}
	return syncx.Marker{Time: at.UTC(), ID: d.ProductID}
}
