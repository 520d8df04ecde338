package bigquery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/period-counters/internal/domain"
	"github.com/dvloznov/period-counters/internal/logger"
	"github.com/dvloznov/period-counters/internal/rebuild"
)

const (
	snapshotsTable   = "period_counter_snapshots"
	rebuildRunsTable = "rebuild_runs"
)

// Exporter writes bucket snapshots and rebuild runs to BigQuery. It holds a shared
// client to avoid creating a new connection for each operation.
type Exporter struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

// NewExporter creates an Exporter for projectID.datasetID.
func NewExporter(ctx context.Context, projectID, datasetID string) (*Exporter, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewExporter: creating client: %w", err)
	}
	return &Exporter{client: client, projectID: projectID, datasetID: datasetID}, nil
}

// Close closes the BigQuery client connection.
func (e *Exporter) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

// ExportBuckets merges every bucket into the snapshot table. Failing buckets are
// logged and counted; the number written is returned with the last error.
func (e *Exporter) ExportBuckets(ctx context.Context, buckets []*domain.Bucket) (int, error) {
	log := logger.FromContext(ctx)
	now := time.Now().UTC()

	written := 0
	var lastErr error
	for _, b := range buckets {
		row, err := NewSnapshotRow(b, now)
		if err == nil {
			err = MergeSnapshotWithClient(ctx, e.client, e.table(snapshotsTable), row)
		}
		if err != nil {
			log.Error().Err(err).Str("bucket_id", b.ID).Msg("Failed to export bucket snapshot")
			lastErr = err
			continue
		}
		written++
	}

	log.Info().Int("written", written).Int("total", len(buckets)).Msg("Exported bucket snapshots")
	if lastErr != nil {
		return written, fmt.Errorf("ExportBuckets: %d of %d failed, last: %w", len(buckets)-written, len(buckets), lastErr)
	}
	return written, nil
}

// RecordRebuildRun appends report to rebuild_runs.
func (e *Exporter) RecordRebuildRun(ctx context.Context, report *rebuild.Report) error {
	row, err := NewRebuildRunRow(report)
	if err != nil {
		return err
	}
	inserter := e.client.Dataset(e.datasetID).Table(rebuildRunsTable).Inserter()
	if err := inserter.Put(ctx, row); err != nil {
		return fmt.Errorf("RecordRebuildRun: inserting row: %w", err)
	}
	return nil
}

// ListSnapshots returns the exported history of one user's buckets at granularity g.
func (e *Exporter) ListSnapshots(ctx context.Context, userID string, g domain.Granularity) ([]*SnapshotRow, error) {
	return ListSnapshotsWithClient(ctx, e.client, e.table(snapshotsTable), userID, g)
}

// Migrate applies pending schema migrations.
func (e *Exporter) Migrate(ctx context.Context, appliedBy string) (int, error) {
	return MigrateWithClient(ctx, e.client, e.projectID, e.datasetID, appliedBy)
}

func (e *Exporter) table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", e.projectID, e.datasetID, name)
}

// NewRebuildRunRow converts a rebuild report. Runs with failed dates are PARTIAL.
func NewRebuildRunRow(report *rebuild.Report) (*RebuildRunRow, error) {
	row := &RebuildRunRow{
		RunID:     report.RunID,
		UserID:    report.UserID,
		StartedTS: report.StartedAt,
		Processed: int64(report.Processed),
		Errors:    int64(report.Errors),
		Buckets:   int64(report.Buckets),
		Status:    "SUCCESS",
	}
	if !report.FinishedAt.IsZero() {
		row.FinishedTS = bigquery.NullTimestamp{Timestamp: report.FinishedAt, Valid: true}
	}
	if len(report.Failures) > 0 {
		row.Status = "PARTIAL"
		failures, err := json.Marshal(report.Failures)
		if err != nil {
			return nil, fmt.Errorf("NewRebuildRunRow: encoding failures: %w", err)
		}
		row.Failures = bigquery.NullJSON{JSONVal: string(failures), Valid: true}
	}
	return row, nil
}

// MergeSnapshotWithClient upserts one snapshot row keyed by bucket_id.
func MergeSnapshotWithClient(ctx context.Context, client *bigquery.Client, table string, row *SnapshotRow) error {
	q := client.Query(`
		MERGE ` + table + ` T
		USING (
			SELECT
				@bucket_id AS bucket_id,
				@user_id AS user_id,
				@granularity AS granularity,
				@period_id AS period_id,
				@income AS income,
				@expense AS expense,
				@co2_kg AS co2_kg,
				SAFE.PARSE_JSON(@breakdowns) AS breakdowns,
				@transaction_count AS transaction_count,
				@insight_source AS insight_source,
				@savings_rate AS savings_rate,
				@carbon_intensity AS carbon_intensity,
				@last_updated AS last_updated,
				@exported_at AS exported_at
		) S
		ON T.bucket_id = S.bucket_id
		WHEN MATCHED THEN UPDATE SET
			income = S.income,
			expense = S.expense,
			co2_kg = S.co2_kg,
			breakdowns = S.breakdowns,
			transaction_count = S.transaction_count,
			insight_source = S.insight_source,
			savings_rate = S.savings_rate,
			carbon_intensity = S.carbon_intensity,
			last_updated = S.last_updated,
			exported_at = S.exported_at
		WHEN NOT MATCHED THEN INSERT (
			bucket_id, user_id, granularity, period_id,
			income, expense, co2_kg, breakdowns,
			transaction_count, insight_source, savings_rate, carbon_intensity,
			last_updated, exported_at
		) VALUES (
			S.bucket_id, S.user_id, S.granularity, S.period_id,
			S.income, S.expense, S.co2_kg, S.breakdowns,
			S.transaction_count, S.insight_source, S.savings_rate, S.carbon_intensity,
			S.last_updated, S.exported_at
		)
	`)

	q.Parameters = []bigquery.QueryParameter{
		{Name: "bucket_id", Value: row.BucketID},
		{Name: "user_id", Value: row.UserID},
		{Name: "granularity", Value: row.Granularity},
		{Name: "period_id", Value: row.PeriodID},
		{Name: "income", Value: row.Income},
		{Name: "expense", Value: row.Expense},
		{Name: "co2_kg", Value: row.CO2Kg},
		{Name: "breakdowns", Value: row.Breakdowns.JSONVal},
		{Name: "transaction_count", Value: row.TransactionCount},
		{Name: "insight_source", Value: row.InsightSource},
		{Name: "savings_rate", Value: row.SavingsRate},
		{Name: "carbon_intensity", Value: row.CarbonIntensity},
		{Name: "last_updated", Value: row.LastUpdated},
		{Name: "exported_at", Value: row.ExportedAt},
	}

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("MergeSnapshotWithClient: running merge query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("MergeSnapshotWithClient: waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("MergeSnapshotWithClient: job error: %w", err)
	}

	return nil
}

// ListSnapshotsWithClient reads snapshots ordered by period.
func ListSnapshotsWithClient(ctx context.Context, client *bigquery.Client, table, userID string, g domain.Granularity) ([]*SnapshotRow, error) {
	q := client.Query(`
		SELECT
			bucket_id,
			user_id,
			granularity,
			period_id,
			income,
			expense,
			co2_kg,
			breakdowns,
			transaction_count,
			insight_source,
			savings_rate,
			carbon_intensity,
			last_updated,
			exported_at
		FROM ` + table + `
		WHERE user_id = @user_id
		  AND granularity = @granularity
		ORDER BY period_id ASC
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "granularity", Value: string(g)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListSnapshotsWithClient: reading query: %w", err)
	}

	var rows []*SnapshotRow
	for {
		var row SnapshotRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListSnapshotsWithClient: iterating: %w", err)
		}
		rows = append(rows, &row)
	}
	return rows, nil
}
