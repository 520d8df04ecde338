package app

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/period-counters/internal/config"
	"github.com/dvloznov/period-counters/internal/counters"
	"github.com/dvloznov/period-counters/internal/domain"
	"github.com/dvloznov/period-counters/internal/store/inmemory"
)

type MockTextModel struct {
	GenerateFunc func(ctx context.Context, prompt string) (string, error)
}

func (m *MockTextModel) Generate(ctx context.Context, prompt string) (string, error) {
	return m.GenerateFunc(ctx, prompt)
}

type recordingObserver struct {
	changed []string
}

func (r *recordingObserver) BucketChanged(ctx context.Context, before, after *domain.Bucket) {
	r.changed = append(r.changed, after.ID)
}

func testConfig() *config.Config {
	return &config.Config{
		Store:         config.StoreMemory,
		DefaultUserID: domain.DefaultUserID,
		Insights:      config.InsightsConfig{Timeout: time.Second},
		Queue:         config.QueueConfig{Workers: 1},
	}
}

func TestNew_MemoryWiring(t *testing.T) {
	ctx := context.Background()
	mem := inmemory.NewStore()
	obs := &recordingObserver{}

	a, err := New(ctx, testConfig(),
		WithStores(Stores{Buckets: mem, Transactions: mem, Items: mem, Triggers: mem}),
		WithObserver(obs),
	)
	require.NoError(t, err)
	defer a.Close()

	amount := decimal.NewFromInt(120)
	category := "Salary"
	raw := &domain.RawTransaction{
		ID:        "i1",
		Type:      domain.TxTypeIncome,
		UserID:    "u1",
		Timestamp: time.Date(2024, 3, 5, 2, 0, 0, 0, time.UTC),
		Amount:    &amount,
		Category:  &category,
	}
	require.NoError(t, mem.PutTransaction(ctx, raw))
	require.NoError(t, a.Counters.HandleTransactionEvent(ctx, counters.TransactionEvent{
		TxType:        domain.TxTypeIncome,
		TransactionID: "i1",
		After:         raw,
	}))

	assert.ElementsMatch(t, []string{
		"u1_daily_2024-03-05+GMT8",
		"u1_weekly_2024-W10+GMT8",
		"u1_monthly_2024-03+GMT8",
	}, obs.changed)

	// Insights are disabled and no model was given, so the fallback runs.
	payload, err := a.Insights.GenerateForBucket(ctx, "u1_daily_2024-03-05+GMT8")
	require.NoError(t, err)
	assert.Equal(t, domain.InsightSourceFallback, payload.Metadata.Source)
}

func TestNew_WithModel(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Insights.Enabled = true

	model := &MockTextModel{GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
		return `{"core":["a","b","c"],"spending":["d","e"],"category":["f","g"],"carbon":["h","i"]}`, nil
	}}
	a, err := New(ctx, cfg, WithModel(model))
	require.NoError(t, err)

	b := domain.NewBucket("u1_daily_2024-03-05+GMT8", "u1", domain.Daily, "2024-03-05+GMT8")
	require.NoError(t, a.Buckets.ReplaceBucket(ctx, b))

	payload, err := a.Insights.GenerateForBucket(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InsightSourceModel, payload.Metadata.Source)
	assert.Equal(t, []string{"a", "b", "c"}, payload.Core)
}
