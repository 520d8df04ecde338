package bigquery

import (
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/period-counters/internal/domain"
	"github.com/dvloznov/period-counters/internal/rebuild"
)

func TestMigrationFilenamePattern(t *testing.T) {
	tests := []struct {
		filename string
		valid    bool
		version  string
		name     string
	}{
		{"0001_period_counter_snapshots.sql", true, "0001", "period_counter_snapshots"},
		{"001_invalid.sql", false, "", ""},
		{"0001_test", false, "", ""},
		{"0001.sql", false, "", ""},
		{"invalid_0001_test.sql", false, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			m := migrationPattern.FindStringSubmatch(tt.filename)
			if (m != nil) != tt.valid {
				t.Fatalf("match = %v, want %v", m != nil, tt.valid)
			}
			if tt.valid && (m[1] != tt.version || m[2] != tt.name) {
				t.Errorf("got version %q name %q", m[1], m[2])
			}
		})
	}
}

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"m/0002_second.sql": {Data: []byte("CREATE TABLE `{{PROJECT_ID}}.{{DATASET_ID}}.b` (x INT64);")},
		"m/0001_first.sql":  {Data: []byte("CREATE TABLE `{{PROJECT_ID}}.{{DATASET_ID}}.a` (x INT64);")},
		"m/README.md":       {Data: []byte("ignored")},
	}

	got, err := loadMigrations(fsys, "m", "proj", "ds")
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(got) != 2 || got[0].Version != 1 || got[1].Version != 2 {
		t.Fatalf("loadMigrations() = %+v", got)
	}
	if !strings.Contains(got[0].SQL, "`proj.ds.a`") {
		t.Errorf("placeholders not replaced: %s", got[0].SQL)
	}

	other, err := loadMigrations(fsys, "m", "other", "ds2")
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if other[0].Checksum != got[0].Checksum {
		t.Error("checksum should not depend on project or dataset")
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	got, err := LoadMigrations("proj", "ds")
	if err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}
	if len(got) == 0 || got[0].Name != "period_counter_snapshots" {
		t.Fatalf("LoadMigrations() = %+v", got)
	}
}

func TestNewSnapshotRow(t *testing.T) {
	b := domain.NewBucket("u1_monthly_2024-03+GMT8", "u1", domain.Monthly, "2024-03+GMT8")
	b.Totals.Expense = decimal.RequireFromString("12.34")
	b.Breakdowns.ExpenseByCategory["Food"] = decimal.RequireFromString("12.34")
	b.AppliedTxIDs = []string{"e1", "e2"}
	now := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	row, err := NewSnapshotRow(b, now)
	if err != nil {
		t.Fatalf("NewSnapshotRow() error = %v", err)
	}
	if row.Expense.FloatString(2) != "12.34" {
		t.Errorf("Expense = %s", row.Expense.FloatString(2))
	}
	if row.TransactionCount != 2 {
		t.Errorf("TransactionCount = %d", row.TransactionCount)
	}
	if row.InsightSource.Valid || row.SavingsRate.Valid {
		t.Error("insight columns should be NULL without insights")
	}
	if !strings.Contains(row.Breakdowns.JSONVal, `"Food":"12.34"`) {
		t.Errorf("Breakdowns = %s", row.Breakdowns.JSONVal)
	}

	b.Insights = &domain.InsightPayload{Metadata: domain.InsightMetadata{Source: domain.InsightSourceFallback, KeyMetrics: domain.KeyMetrics{SavingsRate: 12.5}}}
	row, err = NewSnapshotRow(b, now)
	if err != nil {
		t.Fatalf("NewSnapshotRow() error = %v", err)
	}
	if row.InsightSource.StringVal != "fallback" || row.SavingsRate.Float64 != 12.5 {
		t.Errorf("insight columns = %+v %+v", row.InsightSource, row.SavingsRate)
	}
}

func TestNewRebuildRunRow(t *testing.T) {
	report := &rebuild.Report{RunID: "r1", UserID: "u1", StartedAt: time.Now(), Processed: 3, Errors: 1,
		Failures: []rebuild.DateFailure{{Date: "2024-03-12", Error: "timeout"}}}

	row, err := NewRebuildRunRow(report)
	if err != nil {
		t.Fatalf("NewRebuildRunRow() error = %v", err)
	}
	if row.Status != "PARTIAL" || !row.Failures.Valid || row.FinishedTS.Valid {
		t.Errorf("NewRebuildRunRow() = %+v", row)
	}
}
