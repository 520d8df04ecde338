package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Granularity is the bucketing resolution of a period counter.
type Granularity string

const (
	Daily   Granularity = "daily"
	Weekly  Granularity = "weekly"
	Monthly Granularity = "monthly"
)

// Granularities lists every bucket granularity in leaf-to-root order.
var Granularities = []Granularity{Daily, Weekly, Monthly}

// ParseGranularity validates a granularity name.
func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(s); g {
	case Daily, Weekly, Monthly:
		return g, nil
	default:
		return "", fmt.Errorf("unknown granularity %q", s)
	}
}

// Totals are the running scalar sums of a bucket.
type Totals struct {
	Income  decimal.Decimal `json:"income"`
	Expense decimal.Decimal `json:"expense"`
	CO2Kg   decimal.Decimal `json:"co2Kg"`
}

// Breakdowns map category to running sum. No entry is ever ≤ 0.
type Breakdowns struct {
	IncomeByCategory  map[string]decimal.Decimal `json:"incomeByCategory"`
	ExpenseByCategory map[string]decimal.Decimal `json:"expenseByCategory"`
	CO2ByCategory     map[string]decimal.Decimal `json:"co2ByCategory"`
}

// NewBreakdowns returns breakdowns with all maps allocated.
func NewBreakdowns() Breakdowns {
	return Breakdowns{
		IncomeByCategory:  map[string]decimal.Decimal{},
		ExpenseByCategory: map[string]decimal.Decimal{},
		CO2ByCategory:     map[string]decimal.Decimal{},
	}
}

// Contribution is the amount a single transaction has folded into a bucket.
type Contribution struct {
	Type       TxType                     `json:"type"`
	Amount     decimal.Decimal            `json:"amount"`
	CO2Kg      decimal.Decimal            `json:"co2Kg"`
	ByCategory map[string]decimal.Decimal `json:"byCategory"`
}

// Equal reports whether two contributions carry identical values.
func (c Contribution) Equal(o Contribution) bool {
	if c.Type != o.Type || !c.Amount.Equal(o.Amount) || !c.CO2Kg.Equal(o.CO2Kg) {
		return false
	}
	if len(c.ByCategory) != len(o.ByCategory) {
		return false
	}
	for k, v := range c.ByCategory {
		ov, ok := o.ByCategory[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Bucket is the aggregate for one user, one granularity and one period.
type Bucket struct {
	ID          string      `json:"id"`
	UserID      string      `json:"userId"`
	Granularity Granularity `json:"period"`
	PeriodID    string      `json:"periodId"`

	Totals     Totals     `json:"totals"`
	Breakdowns Breakdowns `json:"breakdowns"`

	AppliedTxIDs []string `json:"appliedTxIds"`

	// Applied records each transaction's folded-in contribution, keyed by id.
	Applied map[string]Contribution `json:"applied,omitempty"`

	Insights            *InsightPayload `json:"insights,omitempty"`
	InsightsLastUpdated *time.Time      `json:"insightsLastUpdated,omitempty"`

	LastUpdated time.Time `json:"lastUpdated"`
}

// NewBucket returns an empty bucket for the given key.
func NewBucket(id, userID string, g Granularity, periodID string) *Bucket {
	return &Bucket{
		ID:           id,
		UserID:       userID,
		Granularity:  g,
		PeriodID:     periodID,
		Breakdowns:   NewBreakdowns(),
		AppliedTxIDs: []string{},
		Applied:      map[string]Contribution{},
	}
}

// HasApplied reports whether txID is in the applied set.
func (b *Bucket) HasApplied(txID string) bool {
	for _, id := range b.AppliedTxIDs {
		if id == txID {
			return true
		}
	}
	return false
}

// AddApplied adds txID to the applied set if absent.
func (b *Bucket) AddApplied(txID string) {
	if !b.HasApplied(txID) {
		b.AppliedTxIDs = append(b.AppliedTxIDs, txID)
	}
}

// RemoveApplied drops txID from the applied set and the contribution ledger.
func (b *Bucket) RemoveApplied(txID string) {
	kept := b.AppliedTxIDs[:0]
	for _, id := range b.AppliedTxIDs {
		if id != txID {
			kept = append(kept, id)
		}
	}
	b.AppliedTxIDs = kept
	delete(b.Applied, txID)
}

// Clone returns a deep copy of the bucket.
func (b *Bucket) Clone() *Bucket {
	if b == nil {
		return nil
	}
	c := *b
	c.Breakdowns = Breakdowns{
		IncomeByCategory:  CloneAmounts(b.Breakdowns.IncomeByCategory),
		ExpenseByCategory: CloneAmounts(b.Breakdowns.ExpenseByCategory),
		CO2ByCategory:     CloneAmounts(b.Breakdowns.CO2ByCategory),
	}
	c.AppliedTxIDs = append([]string{}, b.AppliedTxIDs...)
	c.Applied = make(map[string]Contribution, len(b.Applied))
	for k, v := range b.Applied {
		v.ByCategory = CloneAmounts(v.ByCategory)
		c.Applied[k] = v
	}
	if b.Insights != nil {
		c.Insights = b.Insights.Clone()
	}
	if b.InsightsLastUpdated != nil {
		t := *b.InsightsLastUpdated
		c.InsightsLastUpdated = &t
	}
	return &c
}

// CloneAmounts copies a category map. A nil input yields an empty map.
func CloneAmounts(m map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
