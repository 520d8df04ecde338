package insights

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/period-counters/internal/domain"
)

var (
	hundred         = decimal.NewFromInt(100)
	goodSavingsRate = decimal.NewFromInt(20)
)

// Fallback synthesizes the four sections from the bucket totals alone.
// It never fails and always returns the section sizes the model is asked for.
func Fallback(b *domain.Bucket) domain.InsightSections {
	t := b.Totals
	noun := periodNoun(b.Granularity)
	balance := t.Income.Sub(t.Expense)

	core := make([]string, 0, domain.CoreInsightCount)
	if balance.IsPositive() {
		core = append(core, fmt.Sprintf("Positive balance: %s this %s", spaced(balance), noun))
	} else {
		core = append(core, fmt.Sprintf("Expenses exceed income by %s", spaced(balance.Abs())))
	}
	if t.Income.IsPositive() {
		rate := balance.Div(t.Income).Mul(hundred)
		verdict := "aim for 20%+"
		if rate.GreaterThan(goodSavingsRate) {
			verdict = "excellent"
		}
		core = append(core, fmt.Sprintf("Savings rate: %s%% - %s", rate.StringFixed(1), verdict))
	} else {
		core = append(core, "No income recorded this period")
	}
	if t.CO2Kg.IsPositive() {
		core = append(core, fmt.Sprintf("Carbon footprint: %s kg CO₂ this %s", t.CO2Kg.StringFixed(1), noun))
	} else {
		core = append(core, "No carbon footprint recorded this period")
	}

	spending := []string{fmt.Sprintf("Total %s expenses: %s", noun, spaced(t.Expense))}
	if t.Income.IsPositive() {
		spending = append(spending, "Income: "+spaced(t.Income))
	} else {
		spending = append(spending, "No income recorded")
	}

	carbon := []string{"No carbon impact recorded"}
	if t.CO2Kg.IsPositive() {
		carbon[0] = fmt.Sprintf("Environmental impact: %s kg CO₂", t.CO2Kg.StringFixed(1))
	}
	carbon = append(carbon, "Consider sustainable alternatives for high-impact categories")

	return domain.InsightSections{
		Core:     core,
		Spending: spending,
		Category: []string{
			"Category breakdown available for analysis",
			"Tap categories to see detailed transactions",
		},
		Carbon: carbon,
	}
}

func spaced(v decimal.Decimal) string {
	return Currency + " " + v.StringFixed(2)
}

// ComputeKeyMetrics derives the stored trend ratios. Undefined ratios are 0.
func ComputeKeyMetrics(t domain.Totals) domain.KeyMetrics {
	var m domain.KeyMetrics
	if t.Income.IsPositive() {
		m.SavingsRate = t.Income.Sub(t.Expense).Div(t.Income).Mul(hundred).InexactFloat64()
		m.ExpenseToIncomeRatio = t.Expense.Div(t.Income).InexactFloat64()
	}
	if t.Expense.IsPositive() {
		m.CarbonIntensity = t.CO2Kg.Div(t.Expense).InexactFloat64()
	}
	return m
}
