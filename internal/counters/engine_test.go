package counters

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/period-counters/internal/domain"
	"github.com/dvloznov/period-counters/internal/normalize"
	"github.com/dvloznov/period-counters/internal/period"
	"github.com/dvloznov/period-counters/internal/store"
	"github.com/dvloznov/period-counters/internal/store/inmemory"
)

var gmt8 = time.FixedZone("GMT+8", 8*60*60)

const user = "u1"

type fixture struct {
	store  *inmemory.Store
	engine *Engine
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	s := inmemory.NewStore()
	return &fixture{store: s, engine: NewEngine(s, normalize.New(s), opts...)}
}

func (f *fixture) expense(t *testing.T, id string, ts time.Time, co2 string, items ...*domain.LineItem) *domain.RawTransaction {
	t.Helper()
	var ids []string
	for _, it := range items {
		require.NoError(t, f.store.PutItem(context.Background(), it))
		ids = append(ids, it.ID)
	}
	raw := &domain.RawTransaction{ID: id, Type: domain.TxTypeExpense, UserID: user, Timestamp: ts, ItemIDs: ids}
	if co2 != "" {
		c := decimal.RequireFromString(co2)
		raw.CarbonFootprint = &c
	}
	return raw
}

func income(id string, ts time.Time, amount, category string) *domain.RawTransaction {
	a := decimal.RequireFromString(amount)
	return &domain.RawTransaction{ID: id, Type: domain.TxTypeIncome, UserID: user, Timestamp: ts, Amount: &a, Category: &category}
}

func item(id, price, category string) *domain.LineItem {
	p := decimal.RequireFromString(price)
	return &domain.LineItem{ID: id, Price: &p, Category: category}
}

func (f *fixture) bucket(t *testing.T, g domain.Granularity, ts time.Time) *domain.Bucket {
	t.Helper()
	b, err := f.store.GetBucket(context.Background(), period.DocID(user, g, period.ID(ts, g)))
	require.NoError(t, err)
	return b
}

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func assertNoNonPositive(t *testing.T, b *domain.Bucket) {
	t.Helper()
	for name, m := range map[string]map[string]decimal.Decimal{
		"income":  b.Breakdowns.IncomeByCategory,
		"expense": b.Breakdowns.ExpenseByCategory,
		"co2":     b.Breakdowns.CO2ByCategory,
	} {
		for cat, v := range m {
			assert.True(t, v.IsPositive(), "%s breakdown %s holds %s", name, cat, v)
		}
	}
}

func TestExpenseAndIncomeSameDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := time.Date(2024, 3, 4, 12, 0, 0, 0, gmt8)

	exp := f.expense(t, "e1", day, "2.0", item("i1", "50", "Food"))
	require.NoError(t, f.engine.HandleTransactionEvent(ctx, TransactionEvent{TxType: domain.TxTypeExpense, TransactionID: "e1", After: exp}))
	require.NoError(t, f.engine.HandleTransactionEvent(ctx, TransactionEvent{TxType: domain.TxTypeIncome, TransactionID: "s1", After: income("s1", day.Add(time.Hour), "200", "Salary")}))

	for _, g := range domain.Granularities {
		b := f.bucket(t, g, day)
		assertDec(t, "200", b.Totals.Income, g)
		assertDec(t, "50", b.Totals.Expense, g)
		assertDec(t, "2.0", b.Totals.CO2Kg, g)
		assertDec(t, "50", b.Breakdowns.ExpenseByCategory["Food"], g)
		assertDec(t, "200", b.Breakdowns.IncomeByCategory["Salary"], g)
		assertDec(t, "2", b.Breakdowns.CO2ByCategory["Food"], g)
		assert.ElementsMatch(t, []string{"e1", "s1"}, b.AppliedTxIDs)
		assert.Equal(t, user, b.UserID)
		assert.Equal(t, g, b.Granularity)
	}

	assert.Equal(t, "u1_daily_2024-03-04+GMT8", f.bucket(t, domain.Daily, day).ID)
}

func TestDuplicateCreateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := time.Date(2024, 3, 4, 9, 0, 0, 0, gmt8)
	ev := TransactionEvent{TxType: domain.TxTypeExpense, TransactionID: "e1", After: f.expense(t, "e1", day, "1.5", item("i1", "30", "Food"))}

	require.NoError(t, f.engine.HandleTransactionEvent(ctx, ev))
	first := f.bucket(t, domain.Daily, day)

	require.NoError(t, f.engine.HandleTransactionEvent(ctx, ev))
	second := f.bucket(t, domain.Daily, day)

	assertDec(t, "30", second.Totals.Expense)
	assertDec(t, "1.5", second.Totals.CO2Kg)
	assert.Equal(t, []string{"e1"}, second.AppliedTxIDs)
	assert.Equal(t, first.LastUpdated, second.LastUpdated, "redelivery must not write")
}

func TestDuplicateCreateWithoutLedgerIsSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := time.Date(2024, 3, 4, 9, 0, 0, 0, gmt8)
	id := period.DocID(user, domain.Daily, period.ID(day, domain.Daily))

	legacy := domain.NewBucket(id, user, domain.Daily, period.ID(day, domain.Daily))
	legacy.Totals.Income = decimal.NewFromInt(100)
	legacy.Breakdowns.IncomeByCategory["Salary"] = decimal.NewFromInt(100)
	legacy.AppliedTxIDs = []string{"s1"}
	legacy.Applied = nil
	require.NoError(t, f.store.ReplaceBucket(ctx, legacy))

	_, err := f.engine.ApplyDelta(ctx, user, domain.Daily, period.ID(day, domain.Daily), domain.TxTypeIncome,
		&domain.NormalizedTx{ID: "s1", Type: domain.TxTypeIncome, Amount: decimal.NewFromInt(100), ByCategory: amounts("Salary", "100")},
		domain.OpCreate, nil)
	require.NoError(t, err)

	b := f.bucket(t, domain.Daily, day)
	assertDec(t, "100", b.Totals.Income)
}

func TestStaleCreateAfterUpdateIsSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := time.Date(2024, 3, 4, 9, 0, 0, 0, gmt8)
	created := income("s1", day, "50", "Salary")
	updated := income("s1", day, "80", "Salary")

	require.NoError(t, f.engine.HandleTransactionEvent(ctx, TransactionEvent{TxType: domain.TxTypeIncome, TransactionID: "s1", After: created}))
	require.NoError(t, f.engine.HandleTransactionEvent(ctx, TransactionEvent{TxType: domain.TxTypeIncome, TransactionID: "s1", Before: created, After: updated}))
	assertDec(t, "80", f.bucket(t, domain.Daily, day).Totals.Income)

	// The original create arrives again after the update.
	require.NoError(t, f.engine.HandleTransactionEvent(ctx, TransactionEvent{TxType: domain.TxTypeIncome, TransactionID: "s1", After: created}))

	for _, g := range domain.Granularities {
		b := f.bucket(t, g, day)
		assertDec(t, "80", b.Totals.Income, g)
		assertDec(t, "80", b.Breakdowns.IncomeByCategory["Salary"], g)
		assert.Equal(t, []string{"s1"}, b.AppliedTxIDs)
	}
}

func TestUpdateChangesAmountAndCategory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := time.Date(2024, 3, 4, 9, 0, 0, 0, gmt8)

	before := income("s1", day, "200", "Salary")
	after := income("s1", day, "150", "Bonus")
	require.NoError(t, f.engine.HandleTransactionEvent(ctx, TransactionEvent{TxType: domain.TxTypeIncome, TransactionID: "s1", After: before}))
	require.NoError(t, f.engine.HandleTransactionEvent(ctx, TransactionEvent{TxType: domain.TxTypeIncome, TransactionID: "s1", Before: before, After: after}))

	b := f.bucket(t, domain.Daily, day)
	assertDec(t, "150", b.Totals.Income)
	assert.NotContains(t, b.Breakdowns.IncomeByCategory, "Salary")
	assertDec(t, "150", b.Breakdowns.IncomeByCategory["Bonus"])
	assertNoNonPositive(t, b)
}

func TestDeletePrunesCategories(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := time.Date(2024, 3, 4, 9, 0, 0, 0, gmt8)

	e1 := f.expense(t, "e1", day, "2", item("i1", "50", "Food"))
	e2 := f.expense(t, "e2", day, "1", item("i2", "20", "Transport"))
	require.NoError(t, f.engine.HandleTransactionEvent(ctx, TransactionEvent{TxType: domain.TxTypeExpense, TransactionID: "e1", After: e1}))
	require.NoError(t, f.engine.HandleTransactionEvent(ctx, TransactionEvent{TxType: domain.TxTypeExpense, TransactionID: "e2", After: e2}))
	require.NoError(t, f.engine.HandleTransactionEvent(ctx, TransactionEvent{TxType: domain.TxTypeExpense, TransactionID: "e1", Before: e1}))

	b := f.bucket(t, domain.Daily, day)
	assertDec(t, "20", b.Totals.Expense)
	assertDec(t, "1", b.Totals.CO2Kg)
	assert.NotContains(t, b.Breakdowns.ExpenseByCategory, "Food")
	assertDec(t, "20", b.Breakdowns.ExpenseByCategory["Transport"])
	assert.Equal(t, []string{"e2"}, b.AppliedTxIDs)
	assertNoNonPositive(t, b)

	// A redelivered delete finds nothing to subtract.
	require.NoError(t, f.engine.HandleTransactionEvent(ctx, TransactionEvent{TxType: domain.TxTypeExpense, TransactionID: "e1", Before: e1}))
	assertDec(t, "20", f.bucket(t, domain.Daily, day).Totals.Expense)
}

func TestUpdateAcrossWeekBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	monday := time.Date(2024, 3, 4, 10, 0, 0, 0, gmt8)
	nextSunday := time.Date(2024, 3, 17, 10, 0, 0, 0, gmt8)

	before := f.expense(t, "e1", monday, "2", item("i1", "40", "Food"))
	after := *before
	after.Timestamp = nextSunday

	require.NoError(t, f.engine.HandleTransactionEvent(ctx, TransactionEvent{TxType: domain.TxTypeExpense, TransactionID: "e1", After: before}))
	require.NoError(t, f.engine.HandleTransactionEvent(ctx, TransactionEvent{TxType: domain.TxTypeExpense, TransactionID: "e1", Before: before, After: &after}))

	oldWeek := f.bucket(t, domain.Weekly, monday)
	newWeek := f.bucket(t, domain.Weekly, nextSunday)
	require.NotEqual(t, oldWeek.ID, newWeek.ID)
	assertDec(t, "0", oldWeek.Totals.Expense)
	assertDec(t, "40", newWeek.Totals.Expense)
	assert.Empty(t, oldWeek.AppliedTxIDs)
	assert.Equal(t, []string{"e1"}, newWeek.AppliedTxIDs)

	assertDec(t, "0", f.bucket(t, domain.Daily, monday).Totals.Expense)
	assertDec(t, "40", f.bucket(t, domain.Daily, nextSunday).Totals.Expense)

	month := f.bucket(t, domain.Monthly, monday)
	assertDec(t, "40", month.Totals.Expense)
	assertDec(t, "2", month.Totals.CO2Kg)
}

func TestMoveWithinSameWeek(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	monday := time.Date(2024, 3, 4, 10, 0, 0, 0, gmt8)
	sunday := time.Date(2024, 3, 10, 22, 0, 0, 0, gmt8)

	before := income("s1", monday, "70", "Salary")
	after := income("s1", sunday, "70", "Salary")
	require.NoError(t, f.engine.HandleTransactionEvent(ctx, TransactionEvent{TxType: domain.TxTypeIncome, TransactionID: "s1", After: before}))
	require.NoError(t, f.engine.HandleTransactionEvent(ctx, TransactionEvent{TxType: domain.TxTypeIncome, TransactionID: "s1", Before: before, After: after}))

	assert.Equal(t, f.bucket(t, domain.Weekly, monday).ID, f.bucket(t, domain.Weekly, sunday).ID)
	assertDec(t, "70", f.bucket(t, domain.Weekly, sunday).Totals.Income)
	assertDec(t, "0", f.bucket(t, domain.Daily, monday).Totals.Income)
	assertDec(t, "70", f.bucket(t, domain.Daily, sunday).Totals.Income)
}

func TestConcurrentEventsOnOneBucket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := time.Date(2024, 3, 4, 9, 0, 0, 0, gmt8)

	const n = 40
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", i)
			errs <- f.engine.HandleTransactionEvent(ctx, TransactionEvent{
				TxType: domain.TxTypeIncome, TransactionID: id, After: income(id, day, "2.5", "Salary"),
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for _, g := range domain.Granularities {
		b := f.bucket(t, g, day)
		assertDec(t, "100", b.Totals.Income, g)
		assert.Len(t, b.AppliedTxIDs, n)
	}
}

func TestDeltaWritesPreserveInsights(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := time.Date(2024, 3, 4, 9, 0, 0, 0, gmt8)

	require.NoError(t, f.engine.HandleTransactionEvent(ctx, TransactionEvent{TxType: domain.TxTypeIncome, TransactionID: "s1", After: income("s1", day, "10", "Salary")}))
	b := f.bucket(t, domain.Daily, day)
	payload := &domain.InsightPayload{InsightSections: domain.InsightSections{Core: []string{"a", "b", "c"}}}
	require.NoError(t, f.store.SaveInsights(ctx, b.ID, payload, time.Now()))

	require.NoError(t, f.engine.HandleTransactionEvent(ctx, TransactionEvent{TxType: domain.TxTypeIncome, TransactionID: "s2", After: income("s2", day, "5", "Salary")}))

	b = f.bucket(t, domain.Daily, day)
	assertDec(t, "15", b.Totals.Income)
	require.NotNil(t, b.Insights)
	assert.Equal(t, []string{"a", "b", "c"}, b.Insights.Core)
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingObserver) BucketChanged(ctx context.Context, before, after *domain.Bucket) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, after.ID)
}

func TestObserverNotifiedOnWriteOnly(t *testing.T) {
	obs := &recordingObserver{}
	f := newFixture(t, WithObserver(obs))
	ctx := context.Background()
	day := time.Date(2024, 3, 4, 9, 0, 0, 0, gmt8)
	ev := TransactionEvent{TxType: domain.TxTypeIncome, TransactionID: "s1", After: income("s1", day, "10", "Salary")}

	require.NoError(t, f.engine.HandleTransactionEvent(ctx, ev))
	require.NoError(t, f.engine.HandleTransactionEvent(ctx, ev))

	assert.Len(t, obs.calls, 3)
}

// failingBucketStore is a mock BucketStore whose writes always fail.
type failingBucketStore struct {
	store.BucketStore
	err error
}

func (f *failingBucketStore) UpdateBucket(ctx context.Context, id string, fn store.UpdateFunc) (*domain.Bucket, error) {
	return nil, f.err
}

func TestPersistenceErrorsPropagate(t *testing.T) {
	boom := errors.New("deadline exceeded")
	s := inmemory.NewStore()
	engine := NewEngine(&failingBucketStore{BucketStore: s, err: boom}, normalize.New(s))
	day := time.Date(2024, 3, 4, 9, 0, 0, 0, gmt8)

	err := engine.HandleTransactionEvent(context.Background(), TransactionEvent{
		TxType: domain.TxTypeIncome, TransactionID: "s1", After: income("s1", day, "10", "Salary"),
	})
	require.Error(t, err)

	var perr *domain.PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.True(t, errors.Is(err, boom))
}

func TestResolveOperation(t *testing.T) {
	raw := &domain.RawTransaction{ID: "x"}
	tests := []struct {
		name    string
		ev      TransactionEvent
		want    domain.Operation
		wantErr bool
	}{
		{"explicit", TransactionEvent{Operation: domain.OpDelete}, domain.OpDelete, false},
		{"create", TransactionEvent{After: raw}, domain.OpCreate, false},
		{"update", TransactionEvent{Before: raw, After: raw}, domain.OpUpdate, false},
		{"delete", TransactionEvent{Before: raw}, domain.OpDelete, false},
		{"empty", TransactionEvent{}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.ev.ResolveOperation()
			if (err != nil) != tt.wantErr {
				t.Fatalf("ResolveOperation() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ResolveOperation() = %q, want %q", got, tt.want)
			}
		})
	}
}
