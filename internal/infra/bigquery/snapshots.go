package bigquery

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/period-counters/internal/domain"
)

// SnapshotRow is one bucket as exported to period_counter_snapshots.
type SnapshotRow struct {
	BucketID    string `bigquery:"bucket_id"`   // REQUIRED
	UserID      string `bigquery:"user_id"`     // REQUIRED
	Granularity string `bigquery:"granularity"` // REQUIRED
	PeriodID    string `bigquery:"period_id"`   // REQUIRED

	Income  *big.Rat `bigquery:"income"`  // REQUIRED (NUMERIC)
	Expense *big.Rat `bigquery:"expense"` // REQUIRED (NUMERIC)
	CO2Kg   *big.Rat `bigquery:"co2_kg"`  // REQUIRED (NUMERIC)

	Breakdowns bigquery.NullJSON `bigquery:"breakdowns"` // NULLABLE

	TransactionCount int64 `bigquery:"transaction_count"` // REQUIRED

	InsightSource   bigquery.NullString  `bigquery:"insight_source"`   // NULLABLE
	SavingsRate     bigquery.NullFloat64 `bigquery:"savings_rate"`     // NULLABLE
	CarbonIntensity bigquery.NullFloat64 `bigquery:"carbon_intensity"` // NULLABLE

	LastUpdated time.Time `bigquery:"last_updated"` // REQUIRED
	ExportedAt  time.Time `bigquery:"exported_at"`  // REQUIRED
}

// NewSnapshotRow flattens b. Insight fields stay NULL until insights exist.
func NewSnapshotRow(b *domain.Bucket, exportedAt time.Time) (*SnapshotRow, error) {
	breakdowns, err := json.Marshal(b.Breakdowns)
	if err != nil {
		return nil, fmt.Errorf("NewSnapshotRow: encoding breakdowns for %s: %w", b.ID, err)
	}

	row := &SnapshotRow{
		BucketID:         b.ID,
		UserID:           b.UserID,
		Granularity:      string(b.Granularity),
		PeriodID:         b.PeriodID,
		Income:           b.Totals.Income.Rat(),
		Expense:          b.Totals.Expense.Rat(),
		CO2Kg:            b.Totals.CO2Kg.Rat(),
		Breakdowns:       bigquery.NullJSON{JSONVal: string(breakdowns), Valid: true},
		TransactionCount: int64(len(b.AppliedTxIDs)),
		LastUpdated:      b.LastUpdated,
		ExportedAt:       exportedAt,
	}
	if b.Insights != nil {
		m := b.Insights.Metadata
		row.InsightSource = bigquery.NullString{StringVal: string(m.Source), Valid: true}
		row.SavingsRate = bigquery.NullFloat64{Float64: m.KeyMetrics.SavingsRate, Valid: true}
		row.CarbonIntensity = bigquery.NullFloat64{Float64: m.KeyMetrics.CarbonIntensity, Valid: true}
	}
	return row, nil
}

// RebuildRunRow records one rebuild in rebuild_runs.
type RebuildRunRow struct {
	RunID      string                 `bigquery:"run_id"`      // REQUIRED
	UserID     string                 `bigquery:"user_id"`     // REQUIRED
	StartedTS  time.Time              `bigquery:"started_ts"`  // REQUIRED
	FinishedTS bigquery.NullTimestamp `bigquery:"finished_ts"` // NULLABLE
	Processed  int64                  `bigquery:"processed"`   // REQUIRED
	Errors     int64                  `bigquery:"errors"`      // REQUIRED
	Buckets    int64                  `bigquery:"buckets"`     // REQUIRED
	Status     string                 `bigquery:"status"`      // REQUIRED (SUCCESS | PARTIAL)
	Failures   bigquery.NullJSON      `bigquery:"failures"`    // NULLABLE
}
