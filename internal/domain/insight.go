package domain

import "time"

// InsightSource records whether a payload came from the model or the fallback.
type InsightSource string

const (
	InsightSourceModel    InsightSource = "model"
	InsightSourceFallback InsightSource = "fallback"
)

// Section sizes the generator must return.
const (
	CoreInsightCount     = 3
	SpendingInsightCount = 2
	CategoryInsightCount = 2
	CarbonInsightCount   = 2
)

// InsightSections are the four fixed groups of short insight sentences.
type InsightSections struct {
	Core     []string `json:"core"`
	Spending []string `json:"spending"`
	Category []string `json:"category"`
	Carbon   []string `json:"carbon"`
}

// KeyMetrics are derived ratios stored for trend analysis.
type KeyMetrics struct {
	SavingsRate          float64 `json:"savingsRate"`
	CarbonIntensity      float64 `json:"carbonIntensity"`
	ExpenseToIncomeRatio float64 `json:"expenseToIncomeRatio"`
}

// InsightMetadata annotates a generated payload.
type InsightMetadata struct {
	GeneratedAt         time.Time     `json:"generatedAt"`
	Period              Granularity   `json:"period"`
	DataSource          string        `json:"dataSource"`
	TransactionCount    int           `json:"transactionCount"`
	HasPreviousInsights bool          `json:"hasPreviousInsights"`
	AnalysisVersion     string        `json:"analysisVersion"`
	Source              InsightSource `json:"source"`
	TransactionIDs      []string      `json:"transactionIds"`
	KeyMetrics          KeyMetrics    `json:"keyMetrics"`
}

// InsightPayload is what gets persisted onto a bucket.
type InsightPayload struct {
	InsightSections
	Metadata InsightMetadata `json:"metadata"`
}

// Clone returns a deep copy of the payload.
func (p *InsightPayload) Clone() *InsightPayload {
	if p == nil {
		return nil
	}
	c := *p
	c.Core = append([]string(nil), p.Core...)
	c.Spending = append([]string(nil), p.Spending...)
	c.Category = append([]string(nil), p.Category...)
	c.Carbon = append([]string(nil), p.Carbon...)
	c.Metadata.TransactionIDs = append([]string(nil), p.Metadata.TransactionIDs...)
	return &c
}
