// Package ledger stores transactions, categories and categorization rules,
// and turns scanned receipts into transaction drafts.
package ledger

import (
	"errors"
	"time"

	"github.com/zombor/plannel/internal/reconcile"
)

var (
	// ErrNotFound is returned when a transaction, rule or file does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput is returned when a request fails validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrScanFailed is returned when the receipt scanner fails.
	ErrScanFailed = errors.New("receipt scan failed")
)

// Kind tells expenses and income apart. Categories and transactions share it.
type Kind string

const (
	Expense Kind = "expense"
	Income  Kind = "income"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == Expense || k == Income
}

// Category groups transactions
type Category struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Icon  string `json:"icon"`
	Color string `json:"color"`
	Kind  Kind   `json:"kind"`
}

// Transaction is a committed expense or income
type Transaction struct {
	ID           string           `json:"id"`
	Title        string           `json:"title"`
	CategoryID   string           `json:"category_id"`
	Amount       float64          `json:"amount"`
	Date         time.Time        `json:"date"`
	Type         Kind             `json:"type"`
	Note         string           `json:"note,omitempty"`
	ReceiptFile  string           `json:"receipt_file,omitempty"`
	ContentType  string           `json:"content_type,omitempty"`
	Items        []ReceiptItem    `json:"items,omitempty"`
	AmountSource reconcile.Source `json:"amount_source,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// ReceiptItem is one line of a receipt attached to a transaction
type ReceiptItem struct {
	ID            string  `json:"id"`
	TransactionID string  `json:"transaction_id"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	CategoryID    string  `json:"category_id,omitempty"`
}

// Draft is a scanned receipt waiting for the user to confirm it
type Draft struct {
	ReceiptFile    string           `json:"receipt_file"`
	ContentType    string           `json:"content_type"`
	Merchant       string           `json:"merchant,omitempty"`
	Date           string           `json:"date,omitempty"` // YYYY-MM-DD
	Confidence     float64          `json:"confidence"`
	Language       string           `json:"language,omitempty"`
	CategoryID     string           `json:"category_id,omitempty"`
	Reconciliation reconcile.Result `json:"reconciliation"`
}

// DefaultCategories are created the first time a database is opened.
var DefaultCategories = []Category{
	{ID: "home", Label: "Casa", Icon: "home", Color: "#D97706", Kind: Expense},
	{ID: "food", Label: "Comida", Icon: "restaurant", Color: "#0F766E", Kind: Expense},
	{ID: "gym", Label: "Gym", Icon: "barbell", Color: "#2563EB", Kind: Expense},
	{ID: "transport", Label: "Transporte", Icon: "car", Color: "#7C3AED", Kind: Expense},
	{ID: "leisure", Label: "Ocio", Icon: "game-controller", Color: "#DB2777", Kind: Expense},
	{ID: "salary", Label: "Nomina", Icon: "cash", Color: "#0F766E", Kind: Income},
}

// DefaultRules are created, in this order, the first time a database is
// opened.
var DefaultRules = []struct{ Pattern, CategoryID string }{
	{"mercadona", "food"},
	{"gym", "gym"},
	{"uber", "transport"},
}

const dateLayout = "2006-01-02"
