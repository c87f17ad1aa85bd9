package model

import (
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/tillbridge/tillbridge/internal/syncx"
)

// Target collection names. These are part of the replication contract and
// must not change without coordinating with every downstream consumer.
const (
	CollCategories       = "categories"
	CollProducts         = "products"
	CollCustomers        = "customers"
	CollBusinessSettings = "business_settings"
	CollEmployees        = "employees"
	CollExpenses         = "expenses"
	CollTransactions     = "transactions"
	CollSyncLogs         = "sync_logs"
)

// Doc is one materialized target document together with the change-stream
// position that produced it. The engine advances the per-entity checkpoint
// to the marker of the last acknowledged Doc.
type Doc struct {
	ID     int64
	Marker syncx.Marker
	Body   any
}

// Stamped is implemented by every target document; the loader stamps the
// write time immediately before the bulk upsert.
type Stamped interface {
	SetSyncedAt(t time.Time)
}

// Synced carries the loader write stamp shared by every target document.
type Synced struct {
	SyncedAt time.Time `bson:"syncedAt"`
}

// SetSyncedAt records when the loader wrote the document.
func (s *Synced) SetSyncedAt(t time.Time) { s.SyncedAt = t.UTC() }

// Decimal128 converts an exact decimal into its BSON representation.
// Monetary values are never carried as binary floats.
func Decimal128(d decimal.Decimal) primitive.Decimal128 {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		// shopspring renders plain decimal strings; parse cannot fail on them.
		return primitive.NewDecimal128(0, 0)
	}
	return v
}

// CategoryRef is the by-value category embed inside a product document.
// It deliberately breaks the source's product<->category object cycle:
// products carry only the id and name they need for display.
type CategoryRef struct {
	CategoryID int64  `bson:"categoryId"`
	Name       string `bson:"name"`
}

// CategoryDoc is a row of the `categories` collection.
type CategoryDoc struct {
	ID          int64  `bson:"_id"`
	CategoryID  int64  `bson:"categoryId"`
	Name        string `bson:"name"`
	Description string `bson:"description"`
	Type        string `bson:"type"`
	IsActive    bool   `bson:"isActive"`
	Synced      `bson:",inline"`
}

// ProductDoc is a row of the `products` collection.
type ProductDoc struct {
	ID            int64                `bson:"_id"`
	ProductID     int64                `bson:"productId"`
	Barcode       string               `bson:"barcode"`
	Name          string               `bson:"name"`
	Description   string               `bson:"description"`
	CategoryID    int64                `bson:"categoryId"`
	Category      *CategoryRef         `bson:"category,omitempty"`
	PurchasePrice primitive.Decimal128 `bson:"purchasePrice"`
	SalePrice     primitive.Decimal128 `bson:"salePrice"`
	CurrentStock  float64              `bson:"currentStock"`
	MinimumStock  float64              `bson:"minimumStock"`
	SupplierID    *int64               `bson:"supplierId,omitempty"`
	IsActive      bool                 `bson:"isActive"`
	Speed         float64              `bson:"speed"`
	ImagePath     string               `bson:"imagePath"`
	CreatedAt     time.Time            `bson:"createdAt"`
	UpdatedAt     *time.Time           `bson:"updatedAt,omitempty"`
	Synced        `bson:",inline"`
}

// CustomerDoc is a row of the `customers` collection.
type CustomerDoc struct {
	ID         int64                `bson:"_id"`
	CustomerID int64                `bson:"customerId"`
	Name       string               `bson:"name"`
	Phone      string               `bson:"phone"`
	Email      string               `bson:"email"`
	Address    string               `bson:"address"`
	IsActive   bool                 `bson:"isActive"`
	Balance    primitive.Decimal128 `bson:"balance"`
	CreatedAt  time.Time            `bson:"createdAt"`
	UpdatedAt  *time.Time           `bson:"updatedAt,omitempty"`
	Synced     `bson:",inline"`
}

// BusinessSettingDoc is a row of the `business_settings` collection.
type BusinessSettingDoc struct {
	ID           int64     `bson:"_id"`
	SettingID    int64     `bson:"id"`
	Key          string    `bson:"key"`
	Value        string    `bson:"value"`
	Description  string    `bson:"description"`
	Group        string    `bson:"group"`
	DataType     string    `bson:"dataType"`
	IsSystem     bool      `bson:"isSystem"`
	LastModified time.Time `bson:"lastModified"`
	ModifiedBy   string    `bson:"modifiedBy"`
	Synced       `bson:",inline"`
}

// SalaryTransactionDoc is a salary movement embedded in its employee document.
type SalaryTransactionDoc struct {
	ID              int64                `bson:"id"`
	Amount          primitive.Decimal128 `bson:"amount"`
	TransactionType string               `bson:"transactionType"`
	TransactionDate time.Time            `bson:"transactionDate"`
	Notes           string               `bson:"notes"`
}

// EmployeeDoc is a row of the `employees` collection. Salary transactions are
// embedded so a consumer never observes an employee without them.
type EmployeeDoc struct {
	ID                 int64                  `bson:"_id"`
	EmployeeID         int64                  `bson:"employeeId"`
	Username           string                 `bson:"username"`
	PasswordHash       string                 `bson:"passwordHash"`
	FirstName          string                 `bson:"firstName"`
	LastName           string                 `bson:"lastName"`
	Role               string                 `bson:"role"`
	IsActive           bool                   `bson:"isActive"`
	MonthlySalary      primitive.Decimal128   `bson:"monthlySalary"`
	CurrentBalance     primitive.Decimal128   `bson:"currentBalance"`
	CreatedAt          time.Time              `bson:"createdAt"`
	LastLogin          *time.Time             `bson:"lastLogin,omitempty"`
	SalaryTransactions []SalaryTransactionDoc `bson:"salaryTransactions"`
	Synced             `bson:",inline"`
}

// ExpenseDoc is a row of the `expenses` collection.
type ExpenseDoc struct {
	ID          int64                `bson:"_id"`
	ExpenseID   int64                `bson:"expenseId"`
	Reason      string               `bson:"reason"`
	Amount      primitive.Decimal128 `bson:"amount"`
	Date        time.Time            `bson:"date"`
	Notes       string               `bson:"notes"`
	Category    string               `bson:"category"`
	IsRecurring bool                 `bson:"isRecurring"`
	CreatedAt   time.Time            `bson:"createdAt"`
	UpdatedAt   *time.Time           `bson:"updatedAt,omitempty"`
	Synced      `bson:",inline"`
}

// TransactionDetailDoc is a line item embedded in its transaction document.
type TransactionDetailDoc struct {
	ID            int64                `bson:"id"`
	ProductID     int64                `bson:"productId"`
	Quantity      float64              `bson:"quantity"`
	UnitPrice     primitive.Decimal128 `bson:"unitPrice"`
	PurchasePrice primitive.Decimal128 `bson:"purchasePrice"`
	Discount      primitive.Decimal128 `bson:"discount"`
	Total         primitive.Decimal128 `bson:"total"`
}

// TransactionDoc is a row of the `transactions` collection. Customers are
// referenced by id only; line items are embedded. When the document would
// exceed the target's per-document ceiling the details are dropped and
// DetailsRemovedForSize records that a repair pass is needed.
type TransactionDoc struct {
	ID              int64                  `bson:"_id"`
	TransactionID   int64                  `bson:"transactionId"`
	CustomerID      *int64                 `bson:"customerId,omitempty"`
	CustomerName    string                 `bson:"customerName"`
	TotalAmount     primitive.Decimal128   `bson:"totalAmount"`
	PaidAmount      primitive.Decimal128   `bson:"paidAmount"`
	TransactionDate time.Time              `bson:"transactionDate"`
	TransactionType string                 `bson:"transactionType"`
	Status          string                 `bson:"status"`
	PaymentMethod   string                 `bson:"paymentMethod"`
	CashierID       *int64                 `bson:"cashierId,omitempty"`
	CashierName     string                 `bson:"cashierName"`
	CashierRole     string                 `bson:"cashierRole"`
	CreatedDate     time.Time              `bson:"createdDate"`
	ModifiedDate    time.Time              `bson:"modifiedDate"`
	Details         []TransactionDetailDoc `bson:"details"`

	DetailsRemovedForSize bool `bson:"detailsRemovedForSize,omitempty"`
	OriginalDetailCount   int  `bson:"originalDetailCount,omitempty"`

	Synced `bson:",inline"`
}
