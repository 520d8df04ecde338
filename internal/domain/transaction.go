package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TxType distinguishes the two transaction stores.
type TxType string

const (
	TxTypeIncome  TxType = "income"
	TxTypeExpense TxType = "expense"
)

// Valid reports whether t is a known transaction type.
func (t TxType) Valid() bool {
	return t == TxTypeIncome || t == TxTypeExpense
}

// Operation is the kind of mutation that produced a transaction event.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

const (
	// DefaultUserID is attributed to transactions that carry no user id.
	DefaultUserID = "default_user"

	// DefaultIncomeCategory is used when an income record has no category.
	DefaultIncomeCategory = "Uncategorized"

	// DefaultItemCategory is used when an expense line item has no category.
	DefaultItemCategory = "General"
)

// RawTransaction is an income or expense document as read from the transaction store.
// Optional fields are pointers so that "missing" and "zero" stay distinguishable.
type RawTransaction struct {
	ID        string    // document id
	Type      TxType    // which store the record came from
	UserID    string    // owner; empty means DefaultUserID
	Timestamp time.Time // "dateTime" on the document

	Name     string           // "name" for income, "transactionName" for expense
	Amount   *decimal.Decimal // income only; expenses derive amount from items
	Category *string          // income category, or expense-level category label

	// CarbonFootprint is the expense-level CO₂ value in kg, when present.
	CarbonFootprint *decimal.Decimal

	// ItemIDs references line items in the item store (expenses only).
	ItemIDs []string
}

// Owner returns the user the transaction belongs to.
func (t *RawTransaction) Owner() string {
	if t == nil || t.UserID == "" {
		return DefaultUserID
	}
	return t.UserID
}

// LineItem is one priced row of an expense.
type LineItem struct {
	ID       string
	Price    *decimal.Decimal
	Quantity *decimal.Decimal
	Category string
}

// Total returns price × quantity with missing price treated as 0 and missing quantity as 1.
func (i *LineItem) Total() decimal.Decimal {
	price := decimal.Zero
	if i.Price != nil {
		price = *i.Price
	}
	qty := decimal.NewFromInt(1)
	if i.Quantity != nil {
		qty = *i.Quantity
	}
	return price.Mul(qty)
}

// CategoryOrDefault returns the item category, falling back to DefaultItemCategory.
func (i *LineItem) CategoryOrDefault() string {
	if i.Category == "" {
		return DefaultItemCategory
	}
	return i.Category
}

// NormalizedTx is the canonical form the aggregation engines work with.
type NormalizedTx struct {
	ID              string
	Type            TxType
	UserID          string
	Timestamp       time.Time
	Description     string
	Amount          decimal.Decimal
	Category        string
	CarbonFootprint decimal.Decimal

	// ByCategory splits Amount by category. Income has a single entry;
	// expenses carry the per-item category sums.
	ByCategory map[string]decimal.Decimal
}

// Contribution returns what this transaction adds to a bucket.
func (n *NormalizedTx) Contribution() Contribution {
	return Contribution{
		Type:       n.Type,
		Amount:     n.Amount,
		CO2Kg:      n.CarbonFootprint,
		ByCategory: CloneAmounts(n.ByCategory),
	}
}
