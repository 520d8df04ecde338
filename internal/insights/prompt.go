package insights

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/period-counters/internal/domain"
)

// TransactionDetail is one resolved transaction line in the prompt context.
type TransactionDetail struct {
	ID          string
	Type        domain.TxType
	Category    string
	Amount      decimal.Decimal
	CO2Kg       decimal.Decimal
	Description string
	Timestamp   time.Time
}

// PromptInput is everything the prompt is built from.
type PromptInput struct {
	Bucket   *domain.Bucket
	Details  []TransactionDetail
	Previous *domain.InsightPayload
}

// periodNoun maps a granularity to the word used in insight sentences.
func periodNoun(g domain.Granularity) string {
	switch g {
	case domain.Daily:
		return "day"
	case domain.Weekly:
		return "week"
	default:
		return "month"
	}
}

func money(v decimal.Decimal) string {
	return Currency + v.StringFixed(2)
}

// BuildPrompt renders the analysis prompt for one bucket.
func BuildPrompt(in PromptInput) string {
	b := in.Bucket
	balance := b.Totals.Income.Sub(b.Totals.Expense)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("You are a personal finance and sustainability analyst. Analyze this user's %s financial data (%s).\n\n",
		b.Granularity, b.PeriodID))

	sb.WriteString("PERIOD DATA:\n")
	sb.WriteString("- Total income: " + money(b.Totals.Income) + "\n")
	sb.WriteString("- Total expenses: " + money(b.Totals.Expense) + "\n")
	sb.WriteString("- Balance: " + money(balance) + "\n")
	sb.WriteString("- Carbon footprint: " + b.Totals.CO2Kg.StringFixed(2) + " kg CO₂\n")
	sb.WriteString(fmt.Sprintf("- Transactions: %d\n\n", len(b.AppliedTxIDs)))

	sb.WriteString("CATEGORY BREAKDOWNS:\n")
	sb.WriteString("- Income by category: " + formatBreakdown(b.Breakdowns.IncomeByCategory, true) + "\n")
	sb.WriteString("- Expenses by category: " + formatBreakdown(b.Breakdowns.ExpenseByCategory, true) + "\n")
	sb.WriteString("- CO₂ by category: " + formatBreakdown(b.Breakdowns.CO2ByCategory, false) + "\n\n")

	sb.WriteString("TRANSACTION DETAILS:\n")
	if len(in.Details) == 0 {
		sb.WriteString("- No transaction details available\n")
	}
	for _, d := range in.Details {
		co2 := "No CO₂"
		if d.CO2Kg.IsPositive() {
			co2 = d.CO2Kg.StringFixed(2) + " kg CO₂"
		}
		sb.WriteString(fmt.Sprintf("- %s: %s | %s | %s | %s\n", d.Type, d.Category, money(d.Amount), co2, d.Description))
	}
	sb.WriteString("\n")

	if p := in.Previous; p != nil {
		sb.WriteString("PREVIOUS PERIOD CONTEXT:\n")
		for _, line := range firstN(p.Core, 2) {
			sb.WriteString("- " + line + "\n")
		}
		for _, line := range firstN(p.Spending, 1) {
			sb.WriteString("- " + line + "\n")
		}
		sb.WriteString("\n")
	}

	noun := periodNoun(b.Granularity)
	sb.WriteString("ANALYSIS REQUIREMENTS:\n" +
		"- Compare against the previous " + noun + " when context is given.\n" +
		"- Point out the largest expense categories and their carbon impact.\n" +
		"- Suggest one concrete way to save money and one to cut emissions.\n" +
		"- Use " + Currency + " for all amounts.\n\n")

	sb.WriteString(fmt.Sprintf("OUTPUT FORMAT:\n"+
		"Return ONLY valid raw JSON with exactly these keys:\n"+
		"{\"core\": [%d strings], \"spending\": [%d strings], \"category\": [%d strings], \"carbon\": [%d strings]}\n"+
		"Each insight is 1 sentence of at most 15 words.\n"+
		"Do NOT wrap the response in code fences.\n"+
		"Output must begin with \"{\" and end with \"}\".\n",
		domain.CoreInsightCount, domain.SpendingInsightCount, domain.CategoryInsightCount, domain.CarbonInsightCount))

	return sb.String()
}

func formatBreakdown(m map[string]decimal.Decimal, isMoney bool) string {
	if len(m) == 0 {
		return "none"
	}
	cats := make([]string, 0, len(m))
	for cat := range m {
		cats = append(cats, cat)
	}
	sort.Strings(cats)

	parts := make([]string, 0, len(cats))
	for _, cat := range cats {
		if isMoney {
			parts = append(parts, cat+": "+money(m[cat]))
		} else {
			parts = append(parts, cat+": "+m[cat].StringFixed(2)+" kg")
		}
	}
	return strings.Join(parts, ", ")
}

func firstN(s []string, n int) []string {
	if len(s) < n {
		return s
	}
	return s[:n]
}
