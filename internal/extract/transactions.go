package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/tillbridge/tillbridge/internal/model"
	"github.com/tillbridge/tillbridge/internal/syncx"
)

// maxDocBytes is the target store's per-document ceiling. A transaction
// whose embedded line items would push the document past this bound is
// written without them and flagged for a later repair pass.
const maxDocBytes = 15 << 20

// Transactions replicates sales transactions with their line items embedded.
// This is the only entity with an in-place delete flag, so incremental
// passes pair the insert phase with a soft-delete sweep over the same window.
type Transactions struct {
	DB *pgxpool.Pool
}

// NewTransactions creates the transaction extractor.
func NewTransactions(db *pgxpool.Pool) *Transactions {
	return &Transactions{DB: db}
}

// Entity returns the target collection name.
func (e *Transactions) Entity() string { return model.CollTransactions }

// ChangedPage returns up to limit live transactions modified after the
// cursor, ordered by (ModifiedDate, TransactionId), each with all of its
// line items.
func (e *Transactions) ChangedPage(ctx context.Context, since syncx.Marker, limit int) ([]model.Doc, error) {
	rows, err := e.DB.Query(ctx, transactionColumns+`
		FROM "Transactions"
		WHERE "IsDeleted" = FALSE
		  AND ("ModifiedDate", "TransactionId") > ($1, $2)
		ORDER BY "ModifiedDate", "TransactionId"
		LIMIT $3
	`, since.Time, since.ID, limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to query changed transactions")
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	docs, ids, err := collectTransactions(rows)
	if err != nil {
		return nil, err
	}
	if err := e.attachDetails(ctx, docs, ids); err != nil {
		return nil, err
	}
	return docs, nil
}

// HistoryBounds reports the full extent of the transaction history for the
// bulk backfill: earliest and latest business date plus total row count.
// ok is false when the table holds no live rows.
func (e *Transactions) HistoryBounds(ctx context.Context) (first, last time.Time, total int64, ok bool, err error) {
	var minDate, maxDate *time.Time
	err = e.DB.QueryRow(ctx, `
		SELECT MIN("TransactionDate"), MAX("TransactionDate"), COUNT(*)
		FROM "Transactions"
		WHERE "IsDeleted" = FALSE
	`).Scan(&minDate, &maxDate, &total)
	if err != nil {
		return time.Time{}, time.Time{}, 0, false, fmt.Errorf("query transaction history bounds: %w", err)
	}
	if minDate == nil || maxDate == nil || total == 0 {
		return time.Time{}, time.Time{}, 0, false, nil
	}
	return minDate.UTC(), maxDate.UTC(), total, true, nil
}

// HistoryWindow returns every live transaction whose business date falls in
// [from, to), ordered ascending, with line items embedded. The backfill
// walks these windows a week at a time, so the result set stays bounded.
func (e *Transactions) HistoryWindow(ctx context.Context, from, to time.Time) ([]model.Doc, error) {
	rows, err := e.DB.Query(ctx, transactionColumns+`
		FROM "Transactions"
		WHERE "IsDeleted" = FALSE
		  AND "TransactionDate" >= $1 AND "TransactionDate" < $2
		ORDER BY "TransactionDate", "TransactionId"
	`, from, to)
	if err != nil {
		log.Error().Err(err).Msg("failed to query transaction history window")
		return nil, fmt.Errorf("query transaction window: %w", err)
	}
	docs, ids, err := collectTransactions(rows)
	if err != nil {
		return nil, err
	}
	if err := e.attachDetails(ctx, docs, ids); err != nil {
		return nil, err
	}
	return docs, nil
}

// SoftDeletedIDs returns transactions flagged deleted after the cursor time.
// The engine removes these from the target before the insert phase.
func (e *Transactions) SoftDeletedIDs(ctx context.Context, since syncx.Marker) ([]int64, error) {
	return queryIDs(ctx, e.DB, `
		SELECT "TransactionId" FROM "Transactions"
		WHERE "IsDeleted" = TRUE AND "ModifiedDate" > $1
	`, since.Time)
}

// LiveIDs returns the ids of transactions not flagged deleted.
func (e *Transactions) LiveIDs(ctx context.Context) ([]int64, error) {
	return queryIDs(ctx, e.DB, `SELECT "TransactionId" FROM "Transactions" WHERE "IsDeleted" = FALSE`)
}

const transactionColumns = `
		SELECT "TransactionId", "CustomerId", COALESCE("CustomerName", ''),
		       COALESCE("TotalAmount", 0), COALESCE("PaidAmount", 0), "TransactionDate",
		       "TransactionType", "Status", COALESCE("PaymentMethod", ''),
		       "CashierId", COALESCE("CashierName", ''), COALESCE("CashierRole", ''),
		       "CreatedDate", "ModifiedDate"`

// collectTransactions scans transaction rows into documents. Malformed rows
// are logged and skipped; the pass continues without them.
func collectTransactions(rows pgx.Rows) ([]model.Doc, []int64, error) {
	defer rows.Close()

	var (
		docs []model.Doc
		ids  []int64
	)
	for rows.Next() {
		var (
			d           model.TransactionDoc
			totalAmount decimal.Decimal
			paidAmount  decimal.Decimal
			txType      int32
			status      int32
		)
		if err := rows.Scan(
			&d.TransactionID, &d.CustomerID, &d.CustomerName,
			&totalAmount, &paidAmount, &d.TransactionDate,
			&txType, &status, &d.PaymentMethod,
			&d.CashierID, &d.CashierName, &d.CashierRole,
			&d.CreatedDate, &d.ModifiedDate,
		); err != nil {
			log.Warn().Err(err).Msg("skipping malformed transaction row")
			continue
		}

		d.ID = d.TransactionID
		d.TotalAmount = model.Decimal128(totalAmount)
		d.PaidAmount = model.Decimal128(paidAmount)
		d.TransactionType = model.TransactionTypeName(txType)
		d.Status = model.TransactionStatusName(status)
		d.TransactionDate = d.TransactionDate.UTC()
		d.CreatedDate = d.CreatedDate.UTC()
		d.ModifiedDate = d.ModifiedDate.UTC()
		d.Details = []model.TransactionDetailDoc{}

		marker := syncx.Marker{Time: d.ModifiedDate, ID: d.TransactionID}
		docs = append(docs, model.Doc{ID: d.ID, Marker: marker, Body: &d})
		ids = append(ids, d.TransactionID)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return docs, ids, nil
}

// attachDetails loads the line items for a page of transactions in one round
// trip, embeds them, and enforces the document size ceiling.
func (e *Transactions) attachDetails(ctx context.Context, docs []model.Doc, ids []int64) error {
	if len(docs) == 0 {
		return nil
	}

	details, err := e.fetchDetails(ctx, ids)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		tx := doc.Body.(*model.TransactionDoc)
		if d, ok := details[tx.TransactionID]; ok {
			tx.Details = d
		}
		if err := enforceSizeLimit(tx); err != nil {
			return err
		}
	}
	return nil
}

// fetchDetails loads line items for a set of transactions, keyed by
// transaction id.
func (e *Transactions) fetchDetails(ctx context.Context, transactionIDs []int64) (map[int64][]model.TransactionDetailDoc, error) {
	rows, err := e.DB.Query(ctx, `
		SELECT "TransactionDetailId", "TransactionId", "ProductId",
		       COALESCE("Quantity", 0), COALESCE("UnitPrice", 0),
		       COALESCE("PurchasePrice", 0), COALESCE("Discount", 0), COALESCE("Total", 0)
		FROM "TransactionDetails"
		WHERE "TransactionId" = ANY($1)
		ORDER BY "TransactionId", "TransactionDetailId"
	`, transactionIDs)
	if err != nil {
		log.Error().Err(err).Msg("failed to query transaction details")
		return nil, fmt.Errorf("query transaction details: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]model.TransactionDetailDoc, len(transactionIDs))
	for rows.Next() {
		var (
			d             model.TransactionDetailDoc
			transactionID int64
			unitPrice     decimal.Decimal
			purchasePrice decimal.Decimal
			discount      decimal.Decimal
			total         decimal.Decimal
		)
		if err := rows.Scan(
			&d.ID, &transactionID, &d.ProductID,
			&d.Quantity, &unitPrice,
			&purchasePrice, &discount, &total,
		); err != nil {
			log.Warn().Err(err).Msg("skipping malformed transaction detail row")
			continue
		}
		d.UnitPrice = model.Decimal128(unitPrice)
		d.PurchasePrice = model.Decimal128(purchasePrice)
		d.Discount = model.Decimal128(discount)
		d.Total = model.Decimal128(total)
		out[transactionID] = append(out[transactionID], d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction details: %w", err)
	}
	return out, nil
}

// enforceSizeLimit drops the embedded details of a transaction whose BSON
// encoding exceeds the target's per-document ceiling, keeping the parent and
// recording what was removed.
func enforceSizeLimit(tx *model.TransactionDoc) error {
	raw, err := bson.Marshal(tx)
	if err != nil {
		return fmt.Errorf("size-check transaction %d: %w", tx.TransactionID, err)
	}
	if len(raw) <= maxDocBytes {
		return nil
	}

	log.Warn().
		Int64("transaction_id", tx.TransactionID).
		Int("bytes", len(raw)).
		Int("details", len(tx.Details)).
		Msg("transaction document over size limit, dropping embedded details")

	tx.DetailsRemovedForSize = true
	tx.OriginalDetailCount = len(tx.Details)
	tx.Details = []model.TransactionDetailDoc{}
	return nil
}
