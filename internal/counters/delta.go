// Package counters applies incremental deltas from transaction events to period buckets.
package counters

import (
	"github.com/shopspring/decimal"

	"github.com/dvloznov/period-counters/internal/domain"
)

// Delta is the signed change one event makes to one bucket.
type Delta struct {
	TxType domain.TxType
	Amount decimal.Decimal
	CO2Kg  decimal.Decimal

	// ByCategory holds non-zero per-category amount changes.
	ByCategory map[string]decimal.Decimal
}

// IsZero reports whether applying d would leave a bucket unchanged.
func (d Delta) IsZero() bool {
	return d.Amount.IsZero() && d.CO2Kg.IsZero() && len(d.ByCategory) == 0
}

// ComputeDelta returns the change for op: +next on create, -prev on delete and
// next-prev on update. Per-category changes are taken over the union of both
// sides, so a category switch yields -old on the old category and +new on the new one.
func ComputeDelta(op domain.Operation, next, prev *domain.Contribution) Delta {
	switch op {
	case domain.OpCreate:
		prev = nil
	case domain.OpDelete:
		next = nil
	}

	d := Delta{ByCategory: map[string]decimal.Decimal{}}
	if next != nil {
		d.TxType = next.Type
		d.Amount = d.Amount.Add(next.Amount)
		d.CO2Kg = d.CO2Kg.Add(next.CO2Kg)
		for cat, v := range next.ByCategory {
			d.ByCategory[cat] = d.ByCategory[cat].Add(v)
		}
	}
	if prev != nil {
		if d.TxType == "" {
			d.TxType = prev.Type
		}
		d.Amount = d.Amount.Sub(prev.Amount)
		d.CO2Kg = d.CO2Kg.Sub(prev.CO2Kg)
		for cat, v := range prev.ByCategory {
			d.ByCategory[cat] = d.ByCategory[cat].Sub(v)
		}
	}

	for cat, v := range d.ByCategory {
		if v.IsZero() {
			delete(d.ByCategory, cat)
		}
	}
	return d
}

// DistributeCO2 splits co2Delta across categories in proportion to each category's
// share of the total absolute amount change. Categories whose amount change is not
// positive receive nothing, so the result need not sum to co2Delta. This is an
// approximation: expenses carry a single CO₂ figure, not one per item.
func DistributeCO2(co2Delta decimal.Decimal, amountDeltas map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := map[string]decimal.Decimal{}
	if co2Delta.IsZero() {
		return out
	}

	total := decimal.Zero
	for _, v := range amountDeltas {
		total = total.Add(v.Abs())
	}
	if !total.IsPositive() {
		return out
	}

	for cat, v := range amountDeltas {
		if v.IsPositive() {
			out[cat] = v.Mul(co2Delta).Div(total)
		}
	}
	return out
}

// applyCategoryChanges folds changes into m. An existing entry that drops to zero or
// below is removed; a new entry is created only for a positive change.
func applyCategoryChanges(m map[string]decimal.Decimal, changes map[string]decimal.Decimal) {
	for cat, change := range changes {
		if cur, ok := m[cat]; ok {
			next := cur.Add(change)
			if next.IsPositive() {
				m[cat] = next
			} else {
				delete(m, cat)
			}
			continue
		}
		if change.IsPositive() {
			m[cat] = change
		}
	}
}

// applyToBucket adds d to the bucket's totals and breakdowns.
func applyToBucket(b *domain.Bucket, d Delta) {
	if b.Breakdowns.IncomeByCategory == nil {
		b.Breakdowns.IncomeByCategory = map[string]decimal.Decimal{}
	}
	if b.Breakdowns.ExpenseByCategory == nil {
		b.Breakdowns.ExpenseByCategory = map[string]decimal.Decimal{}
	}
	if b.Breakdowns.CO2ByCategory == nil {
		b.Breakdowns.CO2ByCategory = map[string]decimal.Decimal{}
	}

	switch d.TxType {
	case domain.TxTypeIncome:
		b.Totals.Income = b.Totals.Income.Add(d.Amount)
		applyCategoryChanges(b.Breakdowns.IncomeByCategory, d.ByCategory)

	case domain.TxTypeExpense:
		b.Totals.Expense = b.Totals.Expense.Add(d.Amount)
		b.Totals.CO2Kg = b.Totals.CO2Kg.Add(d.CO2Kg)
		applyCategoryChanges(b.Breakdowns.ExpenseByCategory, d.ByCategory)
		applyCategoryChanges(b.Breakdowns.CO2ByCategory, DistributeCO2(d.CO2Kg, d.ByCategory))
	}
}

// Accumulate folds n into b as a first-time create and records its contribution.
// The rebuild path uses it so that recomputed buckets follow the same arithmetic
// as incremental ones.
func Accumulate(b *domain.Bucket, n *domain.NormalizedTx) {
	if b.Applied == nil {
		b.Applied = map[string]domain.Contribution{}
	}
	c := n.Contribution()
	applyToBucket(b, ComputeDelta(domain.OpCreate, &c, nil))
	b.Applied[n.ID] = c
	b.AddApplied(n.ID)
}
