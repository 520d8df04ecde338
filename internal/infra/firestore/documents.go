package firestore

import (
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/period-counters/internal/domain"
)

// Amounts are stored as doubles, as the mobile client writes them.

type totalsDoc struct {
	Income  float64 `firestore:"income"`
	Expense float64 `firestore:"expense"`
	CO2Kg   float64 `firestore:"co2Kg"`
}

type breakdownsDoc struct {
	IncomeByCategory  map[string]float64 `firestore:"incomeByCategory"`
	ExpenseByCategory map[string]float64 `firestore:"expenseByCategory"`
	CO2ByCategory     map[string]float64 `firestore:"co2ByCategory"`
}

type contributionDoc struct {
	Type       string             `firestore:"type"`
	Amount     float64            `firestore:"amount"`
	CO2Kg      float64            `firestore:"co2Kg"`
	ByCategory map[string]float64 `firestore:"byCategory"`
}

type keyMetricsDoc struct {
	SavingsRate          float64 `firestore:"savingsRate"`
	CarbonIntensity      float64 `firestore:"carbonIntensity"`
	ExpenseToIncomeRatio float64 `firestore:"expenseToIncomeRatio"`
}

type insightMetadataDoc struct {
	GeneratedAt         time.Time     `firestore:"generatedAt"`
	Period              string        `firestore:"period"`
	DataSource          string        `firestore:"dataSource"`
	TransactionCount    int           `firestore:"transactionCount"`
	HasPreviousInsights bool          `firestore:"hasPreviousInsights"`
	AnalysisVersion     string        `firestore:"analysisVersion"`
	Source              string        `firestore:"source"`
	TransactionIDs      []string      `firestore:"transactionIds"`
	KeyMetrics          keyMetricsDoc `firestore:"keyMetrics"`
}

type insightDoc struct {
	Core     []string           `firestore:"core"`
	Spending []string           `firestore:"spending"`
	Category []string           `firestore:"category"`
	Carbon   []string           `firestore:"carbon"`
	Metadata insightMetadataDoc `firestore:"metadata"`
}

type bucketDoc struct {
	ID                  string                     `firestore:"id"`
	UserID              string                     `firestore:"userId"`
	Period              string                     `firestore:"period"`
	PeriodID            string                     `firestore:"periodId"`
	Totals              totalsDoc                  `firestore:"totals"`
	Breakdowns          breakdownsDoc              `firestore:"breakdowns"`
	AppliedTxIDs        []string                   `firestore:"appliedTxIds"`
	Applied             map[string]contributionDoc `firestore:"applied"`
	Insights            *insightDoc                `firestore:"insights"`
	InsightsLastUpdated *time.Time                 `firestore:"insightsLastUpdated"`
	LastUpdated         time.Time                  `firestore:"lastUpdated"`
}

// transactionDoc covers both income and expense documents. Expenses written by
// older clients carry carbon_footprint instead of carbonFootprint.
type transactionDoc struct {
	UserID          string                   `firestore:"userId"`
	Name            string                   `firestore:"name"`
	DateTime        time.Time                `firestore:"dateTime"`
	Amount          *float64                 `firestore:"amount"`
	Category        *string                  `firestore:"category"`
	CarbonFootprint *float64                 `firestore:"carbonFootprint"`
	LegacyCarbon    *float64                 `firestore:"carbon_footprint"`
	Items           []*firestore.DocumentRef `firestore:"items"`
}

type itemDoc struct {
	Price    *float64 `firestore:"price"`
	Quantity *float64 `firestore:"quantity"`
	Category string   `firestore:"category"`
}

type triggerDoc struct {
	ShouldGenerate  bool       `firestore:"shouldGenerate"`
	PeriodCounterID *string    `firestore:"periodCounterId"`
	LastTriggered   *time.Time `firestore:"lastTriggered,omitempty"`
	LastCompleted   *time.Time `firestore:"lastCompleted,omitempty"`
}

func toFloats(m map[string]decimal.Decimal) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v.InexactFloat64()
	}
	return out
}

func toDecimals(m map[string]float64) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(m))
	for k, v := range m {
		out[k] = decimal.NewFromFloat(v)
	}
	return out
}

func optionalDecimal(v *float64) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := decimal.NewFromFloat(*v)
	return &d
}

func toBucketDoc(b *domain.Bucket) *bucketDoc {
	doc := &bucketDoc{
		ID:       b.ID,
		UserID:   b.UserID,
		Period:   string(b.Granularity),
		PeriodID: b.PeriodID,
		Totals: totalsDoc{
			Income:  b.Totals.Income.InexactFloat64(),
			Expense: b.Totals.Expense.InexactFloat64(),
			CO2Kg:   b.Totals.CO2Kg.InexactFloat64(),
		},
		Breakdowns: breakdownsDoc{
			IncomeByCategory:  toFloats(b.Breakdowns.IncomeByCategory),
			ExpenseByCategory: toFloats(b.Breakdowns.ExpenseByCategory),
			CO2ByCategory:     toFloats(b.Breakdowns.CO2ByCategory),
		},
		AppliedTxIDs:        append([]string{}, b.AppliedTxIDs...),
		Applied:             make(map[string]contributionDoc, len(b.Applied)),
		Insights:            toInsightDoc(b.Insights),
		InsightsLastUpdated: b.InsightsLastUpdated,
		LastUpdated:         b.LastUpdated,
	}
	for id, c := range b.Applied {
		doc.Applied[id] = contributionDoc{
			Type:       string(c.Type),
			Amount:     c.Amount.InexactFloat64(),
			CO2Kg:      c.CO2Kg.InexactFloat64(),
			ByCategory: toFloats(c.ByCategory),
		}
	}
	return doc
}

func fromBucketDoc(id string, doc *bucketDoc) *domain.Bucket {
	b := &domain.Bucket{
		ID:          id,
		UserID:      doc.UserID,
		Granularity: domain.Granularity(doc.Period),
		PeriodID:    doc.PeriodID,
		Totals: domain.Totals{
			Income:  decimal.NewFromFloat(doc.Totals.Income),
			Expense: decimal.NewFromFloat(doc.Totals.Expense),
			CO2Kg:   decimal.NewFromFloat(doc.Totals.CO2Kg),
		},
		Breakdowns: domain.Breakdowns{
			IncomeByCategory:  toDecimals(doc.Breakdowns.IncomeByCategory),
			ExpenseByCategory: toDecimals(doc.Breakdowns.ExpenseByCategory),
			CO2ByCategory:     toDecimals(doc.Breakdowns.CO2ByCategory),
		},
		AppliedTxIDs:        append([]string{}, doc.AppliedTxIDs...),
		Applied:             make(map[string]domain.Contribution, len(doc.Applied)),
		Insights:            fromInsightDoc(doc.Insights),
		InsightsLastUpdated: doc.InsightsLastUpdated,
		LastUpdated:         doc.LastUpdated,
	}
	for txID, c := range doc.Applied {
		b.Applied[txID] = domain.Contribution{
			Type:       domain.TxType(c.Type),
			Amount:     decimal.NewFromFloat(c.Amount),
			CO2Kg:      decimal.NewFromFloat(c.CO2Kg),
			ByCategory: toDecimals(c.ByCategory),
		}
	}
	if b.Insights == nil {
		b.InsightsLastUpdated = nil
	}
	return b
}

// aggregateFields lists the paths a delta write may overwrite.
var aggregateFields = []firestore.FieldPath{
	{"id"}, {"userId"}, {"period"}, {"periodId"},
	{"totals"}, {"breakdowns"}, {"appliedTxIds"}, {"applied"}, {"lastUpdated"},
}

// aggregateData is the merge payload for aggregateFields.
func aggregateData(doc *bucketDoc) map[string]interface{} {
	return map[string]interface{}{
		"id":           doc.ID,
		"userId":       doc.UserID,
		"period":       doc.Period,
		"periodId":     doc.PeriodID,
		"totals":       doc.Totals,
		"breakdowns":   doc.Breakdowns,
		"appliedTxIds": doc.AppliedTxIDs,
		"applied":      doc.Applied,
		"lastUpdated":  doc.LastUpdated,
	}
}

func toInsightDoc(p *domain.InsightPayload) *insightDoc {
	if p == nil {
		return nil
	}
	m := p.Metadata
	return &insightDoc{
		Core:     p.Core,
		Spending: p.Spending,
		Category: p.Category,
		Carbon:   p.Carbon,
		Metadata: insightMetadataDoc{
			GeneratedAt:         m.GeneratedAt,
			Period:              string(m.Period),
			DataSource:          m.DataSource,
			TransactionCount:    m.TransactionCount,
			HasPreviousInsights: m.HasPreviousInsights,
			AnalysisVersion:     m.AnalysisVersion,
			Source:              string(m.Source),
			TransactionIDs:      m.TransactionIDs,
			KeyMetrics:          keyMetricsDoc(m.KeyMetrics),
		},
	}
}

// fromInsightDoc returns nil for the empty insights map older buckets were created with.
func fromInsightDoc(doc *insightDoc) *domain.InsightPayload {
	if doc == nil || (len(doc.Core) == 0 && doc.Metadata.GeneratedAt.IsZero()) {
		return nil
	}
	m := doc.Metadata
	return &domain.InsightPayload{
		InsightSections: domain.InsightSections{
			Core:     doc.Core,
			Spending: doc.Spending,
			Category: doc.Category,
			Carbon:   doc.Carbon,
		},
		Metadata: domain.InsightMetadata{
			GeneratedAt:         m.GeneratedAt,
			Period:              domain.Granularity(m.Period),
			DataSource:          m.DataSource,
			TransactionCount:    m.TransactionCount,
			HasPreviousInsights: m.HasPreviousInsights,
			AnalysisVersion:     m.AnalysisVersion,
			Source:              domain.InsightSource(m.Source),
			TransactionIDs:      m.TransactionIDs,
			KeyMetrics:          domain.KeyMetrics(m.KeyMetrics),
		},
	}
}

func fromTransactionDoc(id string, txType domain.TxType, doc *transactionDoc) *domain.RawTransaction {
	raw := &domain.RawTransaction{
		ID:              id,
		Type:            txType,
		UserID:          doc.UserID,
		Timestamp:       doc.DateTime,
		Name:            doc.Name,
		Amount:          optionalDecimal(doc.Amount),
		Category:        doc.Category,
		CarbonFootprint: optionalDecimal(doc.CarbonFootprint),
	}
	if raw.CarbonFootprint == nil {
		raw.CarbonFootprint = optionalDecimal(doc.LegacyCarbon)
	}
	for _, ref := range doc.Items {
		if ref != nil {
			raw.ItemIDs = append(raw.ItemIDs, itemKey(ref))
		}
	}
	return raw
}

// itemKey keeps the parent collection so that references outside items resolve.
func itemKey(ref *firestore.DocumentRef) string {
	if ref.Parent == nil || ref.Parent.ID == "" || ref.Parent.ID == ItemsCollection {
		return ref.ID
	}
	return ref.Parent.ID + "/" + ref.ID
}

func (r *Repository) itemRef(key string) *firestore.DocumentRef {
	if strings.Contains(key, "/") {
		return r.client.Doc(key)
	}
	return r.client.Collection(ItemsCollection).Doc(key)
}

func fromItemDoc(id string, doc *itemDoc) *domain.LineItem {
	return &domain.LineItem{
		ID:       id,
		Price:    optionalDecimal(doc.Price),
		Quantity: optionalDecimal(doc.Quantity),
		Category: doc.Category,
	}
}

func collectionFor(txType domain.TxType) string {
	if txType == domain.TxTypeIncome {
		return IncomeCollection
	}
	return ExpenseCollection
}
