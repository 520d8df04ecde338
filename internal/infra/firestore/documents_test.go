package firestore

import (
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/period-counters/internal/domain"
)

func f(v float64) *float64 { return &v }

func TestFromTransactionDoc(t *testing.T) {
	ts := time.Date(2024, 3, 4, 1, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		doc       transactionDoc
		wantCO2   string
		wantItems []string
	}{
		{
			name:    "current carbon field",
			doc:     transactionDoc{DateTime: ts, CarbonFootprint: f(2.5), LegacyCarbon: f(9)},
			wantCO2: "2.5",
		},
		{
			name:    "legacy carbon field",
			doc:     transactionDoc{DateTime: ts, LegacyCarbon: f(1.25)},
			wantCO2: "1.25",
		},
		{
			name: "item references",
			doc: transactionDoc{DateTime: ts, Items: []*firestore.DocumentRef{
				{ID: "it1", Parent: &firestore.CollectionRef{ID: ItemsCollection}},
				nil,
				{ID: "it2", Parent: &firestore.CollectionRef{ID: "receipt_items"}},
			}},
			wantItems: []string{"it1", "receipt_items/it2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := fromTransactionDoc("e1", domain.TxTypeExpense, &tt.doc)
			if raw.ID != "e1" || raw.Type != domain.TxTypeExpense || !raw.Timestamp.Equal(ts) {
				t.Fatalf("fromTransactionDoc() identity = %+v", raw)
			}
			if raw.Owner() != domain.DefaultUserID {
				t.Errorf("Owner() = %q, want %q", raw.Owner(), domain.DefaultUserID)
			}
			if tt.wantCO2 != "" {
				if raw.CarbonFootprint == nil || !raw.CarbonFootprint.Equal(decimal.RequireFromString(tt.wantCO2)) {
					t.Errorf("CarbonFootprint = %v, want %s", raw.CarbonFootprint, tt.wantCO2)
				}
			}
			if len(raw.ItemIDs) != len(tt.wantItems) {
				t.Fatalf("ItemIDs = %v, want %v", raw.ItemIDs, tt.wantItems)
			}
			for i := range tt.wantItems {
				if raw.ItemIDs[i] != tt.wantItems[i] {
					t.Errorf("ItemIDs[%d] = %q, want %q", i, raw.ItemIDs[i], tt.wantItems[i])
				}
			}
		})
	}
}

func TestBucketDocRoundTrip(t *testing.T) {
	b := domain.NewBucket("u1_weekly_2024-W10+GMT8", "u1", domain.Weekly, "2024-W10+GMT8")
	b.Totals = domain.Totals{Income: decimal.RequireFromString("200"), Expense: decimal.RequireFromString("50.5"), CO2Kg: decimal.RequireFromString("2")}
	b.Breakdowns.ExpenseByCategory["Food"] = decimal.RequireFromString("50.5")
	b.AppliedTxIDs = []string{"e1"}
	b.Applied["e1"] = domain.Contribution{Type: domain.TxTypeExpense, Amount: decimal.RequireFromString("50.5"), ByCategory: map[string]decimal.Decimal{"Food": decimal.RequireFromString("50.5")}}

	got := fromBucketDoc(b.ID, toBucketDoc(b))
	if got.Granularity != domain.Weekly || got.PeriodID != b.PeriodID {
		t.Fatalf("key = %s/%s", got.Granularity, got.PeriodID)
	}
	if !got.Totals.Expense.Equal(b.Totals.Expense) {
		t.Errorf("Expense = %s, want %s", got.Totals.Expense, b.Totals.Expense)
	}
	if !got.Applied["e1"].Equal(b.Applied["e1"]) {
		t.Errorf("Applied[e1] = %+v", got.Applied["e1"])
	}
	if got.Insights != nil {
		t.Errorf("Insights = %+v, want nil", got.Insights)
	}
}

func TestFromInsightDocEmptyMap(t *testing.T) {
	at := time.Now()
	doc := &bucketDoc{Insights: &insightDoc{}, InsightsLastUpdated: &at}
	got := fromBucketDoc("id", doc)
	if got.Insights != nil || got.InsightsLastUpdated != nil {
		t.Errorf("empty insights map should read as no insights, got %+v", got.Insights)
	}
}

func TestAggregateFieldsExcludeInsights(t *testing.T) {
	data := aggregateData(toBucketDoc(domain.NewBucket("id", "u1", domain.Daily, "p")))
	if len(data) != len(aggregateFields) {
		t.Fatalf("aggregateData has %d keys, aggregateFields has %d", len(data), len(aggregateFields))
	}
	for _, fp := range aggregateFields {
		if _, ok := data[fp[0]]; !ok {
			t.Errorf("aggregateData missing %v", fp)
		}
		if fp[0] == "insights" || fp[0] == "insightsLastUpdated" {
			t.Errorf("aggregate write would touch %v", fp)
		}
	}
}
