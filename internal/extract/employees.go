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

// Employees replicates staff records with their salary history embedded.
//
// Known limitation, kept intentionally: the change filter uses CreatedAt, so
// edits to an existing employee are not replicated after the row is first
// seen. This mirrors the upstream system of record; changing the filter to
// UpdatedAt needs a coordinated fix there first.
type Employees struct {
	DB *pgxpool.Pool
}

// NewEmployees creates the employee extractor.
func NewEmployees(db *pgxpool.Pool) *Employees {
	return &Employees{DB: db}
}

// Entity returns the target collection name.
func (e *Employees) Entity() string { return model.CollEmployees }

// ChangedPage returns every active employee created after the cursor time,
// each carrying its full salary transaction history. The child table has no
// incremental filter: the parent row is rewritten whole whenever it is
// emitted, so the embed must be complete.
func (e *Employees) ChangedPage(ctx context.Context, since syncx.Marker, _ int) ([]model.Doc, error) {
	rows, err := e.DB.Query(ctx, `
		SELECT "EmployeeId", "Username", COALESCE("PasswordHash", ''),
		       COALESCE("FirstName", ''), COALESCE("LastName", ''), COALESCE("Role", ''),
		       "IsActive", COALESCE("MonthlySalary", 0), COALESCE("CurrentBalance", 0),
		       "CreatedAt", "LastLogin"
		FROM "Employees"
		WHERE "IsActive" = TRUE AND "CreatedAt" > $1
		ORDER BY "CreatedAt", "EmployeeId"
	`, since.Time)
	if err != nil {
		log.Error().Err(err).Msg("failed to query changed employees")
		return nil, fmt.Errorf("query employees: %w", err)
	}
	defer rows.Close()

	var (
		docs []model.Doc
		ids  []int64
	)
	for rows.Next() {
		var (
			d              model.EmployeeDoc
			monthlySalary  decimal.Decimal
			currentBalance decimal.Decimal
		)
		if err := rows.Scan(
			&d.EmployeeID, &d.Username, &d.PasswordHash,
			&d.FirstName, &d.LastName, &d.Role,
			&d.IsActive, &monthlySalary, &currentBalance,
			&d.CreatedAt, &d.LastLogin,
		); err != nil {
			log.Warn().Err(err).Msg("skipping malformed employee row")
			continue
		}

		d.ID = d.EmployeeID
		d.MonthlySalary = model.Decimal128(monthlySalary)
		d.CurrentBalance = model.Decimal128(currentBalance)
		d.CreatedAt = d.CreatedAt.UTC()
		if d.LastLogin != nil {
			l := d.LastLogin.UTC()
			d.LastLogin = &l
		}
		d.SalaryTransactions = []model.SalaryTransactionDoc{}

		marker := syncx.Marker{Time: d.CreatedAt, ID: d.EmployeeID}
		docs = append(docs, model.Doc{ID: d.ID, Marker: marker, Body: &d})
		ids = append(ids, d.EmployeeID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate employees: %w", err)
	}
	if len(docs) == 0 {
		return docs, nil
	}

	salaries, err := e.fetchSalaryTransactions(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		emp := doc.Body.(*model.EmployeeDoc)
		if s, ok := salaries[emp.EmployeeID]; ok {
			emp.SalaryTransactions = s
		}
	}
	return docs, nil
}

// fetchSalaryTransactions loads the salary history for a set of employees in
// one round trip, keyed by employee id.
func (e *Employees) fetchSalaryTransactions(ctx context.Context, employeeIDs []int64) (map[int64][]model.SalaryTransactionDoc, error) {
	rows, err := e.DB.Query(ctx, `
		SELECT "Id", "EmployeeId", COALESCE("Amount", 0),
		       COALESCE("TransactionType", ''), "TransactionDate", COALESCE("Notes", '')
		FROM "EmployeeSalaryTransactions"
		WHERE "EmployeeId" = ANY($1)
		ORDER BY "EmployeeId", "TransactionDate", "Id"
	`, employeeIDs)
	if err != nil {
		log.Error().Err(err).Msg("failed to query salary transactions")
		return nil, fmt.Errorf("query salary transactions: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]model.SalaryTransactionDoc, len(employeeIDs))
	for rows.Next() {
		var (
			s          model.SalaryTransactionDoc
			employeeID int64
			amount     decimal.Decimal
		)
		if err := rows.Scan(&s.ID, &employeeID, &amount, &s.TransactionType, &s.TransactionDate, &s.Notes); err != nil {
			log.Warn().Err(err).Msg("skipping malformed salary transaction row")
			continue
		}
		s.Amount = model.Decimal128(amount)
		s.TransactionDate = s.TransactionDate.UTC()
		out[employeeID] = append(out[employeeID], s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate salary transactions: %w", err)
	}
	return out, nil
}

// LiveIDs returns the active employee ids.
func (e *Employees) LiveIDs(ctx context.Context) ([]int64, error) {
	return queryIDs(ctx, e.DB, `SELECT "EmployeeId" FROM "Employees" WHERE "IsActive" = TRUE`)
}
