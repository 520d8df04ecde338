package normalize

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/period-counters/internal/domain"
)

// mockItemResolver is a mock implementation of ItemResolver for testing.
type mockItemResolver struct {
	GetItemFunc func(ctx context.Context, id string) (*domain.LineItem, error)
}

func (m *mockItemResolver) GetItem(ctx context.Context, id string) (*domain.LineItem, error) {
	return m.GetItemFunc(ctx, id)
}

type mockTransactionReader struct {
	GetTransactionFunc func(ctx context.Context, txType domain.TxType, id string) (*domain.RawTransaction, error)
}

func (m *mockTransactionReader) GetTransaction(ctx context.Context, txType domain.TxType, id string) (*domain.RawTransaction, error) {
	return m.GetTransactionFunc(ctx, txType, id)
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func str(s string) *string { return &s }

func itemsFrom(items map[string]*domain.LineItem) *mockItemResolver {
	return &mockItemResolver{
		GetItemFunc: func(ctx context.Context, id string) (*domain.LineItem, error) {
			if it, ok := items[id]; ok {
				return it, nil
			}
			return nil, domain.ErrNotFound
		},
	}
}

func TestNormalizeIncome(t *testing.T) {
	tests := []struct {
		name         string
		raw          *domain.RawTransaction
		wantAmount   string
		wantCategory string
	}{
		{
			name:         "amount and category",
			raw:          &domain.RawTransaction{ID: "i1", Type: domain.TxTypeIncome, Amount: dec("200"), Category: str("Salary")},
			wantAmount:   "200",
			wantCategory: "Salary",
		},
		{
			name:         "missing amount defaults to zero",
			raw:          &domain.RawTransaction{ID: "i2", Type: domain.TxTypeIncome, Category: str("Gift")},
			wantAmount:   "0",
			wantCategory: "Gift",
		},
		{
			name:         "missing category",
			raw:          &domain.RawTransaction{ID: "i3", Type: domain.TxTypeIncome, Amount: dec("15.5")},
			wantAmount:   "15.5",
			wantCategory: domain.DefaultIncomeCategory,
		},
	}

	n := New(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := n.Normalize(context.Background(), tt.raw)
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if !got.Amount.Equal(decimal.RequireFromString(tt.wantAmount)) {
				t.Errorf("Amount = %s, want %s", got.Amount, tt.wantAmount)
			}
			if got.Category != tt.wantCategory {
				t.Errorf("Category = %q, want %q", got.Category, tt.wantCategory)
			}
			if !got.CarbonFootprint.IsZero() {
				t.Errorf("income carbon footprint = %s, want 0", got.CarbonFootprint)
			}
			if got.UserID != domain.DefaultUserID {
				t.Errorf("UserID = %q, want %q", got.UserID, domain.DefaultUserID)
			}
		})
	}
}

func TestNormalizeExpense(t *testing.T) {
	items := itemsFrom(map[string]*domain.LineItem{
		"a": {ID: "a", Price: dec("10"), Quantity: dec("3"), Category: "Food"},
		"b": {ID: "b", Price: dec("20"), Category: "Food"},
		"c": {ID: "c", Price: dec("5"), Quantity: dec("2")},
		"d": {ID: "d", Quantity: dec("4"), Category: "Transport"},
	})

	raw := &domain.RawTransaction{
		ID:              "e1",
		Type:            domain.TxTypeExpense,
		UserID:          "u1",
		Timestamp:       time.Date(2024, 3, 4, 2, 0, 0, 0, time.UTC),
		CarbonFootprint: dec("2.0"),
		ItemIDs:         []string{"a", "b", "c", "d", "missing"},
	}

	got, err := New(items).Normalize(context.Background(), raw)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	if !got.Amount.Equal(decimal.NewFromInt(60)) {
		t.Errorf("Amount = %s, want 60", got.Amount)
	}
	if !got.ByCategory["Food"].Equal(decimal.NewFromInt(50)) {
		t.Errorf("Food = %s, want 50", got.ByCategory["Food"])
	}
	if !got.ByCategory[domain.DefaultItemCategory].Equal(decimal.NewFromInt(10)) {
		t.Errorf("General = %s, want 10", got.ByCategory[domain.DefaultItemCategory])
	}
	if !got.ByCategory["Transport"].IsZero() {
		t.Errorf("Transport = %s, want 0 for a missing price", got.ByCategory["Transport"])
	}
	if !got.CarbonFootprint.Equal(decimal.RequireFromString("2")) {
		t.Errorf("CarbonFootprint = %s, want 2", got.CarbonFootprint)
	}
	if got.UserID != "u1" {
		t.Errorf("UserID = %q, want u1", got.UserID)
	}
}

func TestNormalizeExpenseItemErrorsDegrade(t *testing.T) {
	items := &mockItemResolver{
		GetItemFunc: func(ctx context.Context, id string) (*domain.LineItem, error) {
			if id == "ok" {
				return &domain.LineItem{ID: id, Price: dec("7"), Category: "Food"}, nil
			}
			return nil, errors.New("backend unavailable")
		},
	}

	got, err := New(items).Normalize(context.Background(), &domain.RawTransaction{
		ID: "e2", Type: domain.TxTypeExpense, ItemIDs: []string{"broken", "ok"},
	})
	if err != nil {
		t.Fatalf("item failures must not fail normalization: %v", err)
	}
	if !got.Amount.Equal(decimal.NewFromInt(7)) {
		t.Errorf("Amount = %s, want 7", got.Amount)
	}
	if !got.CarbonFootprint.IsZero() {
		t.Errorf("CarbonFootprint = %s, want 0 when absent", got.CarbonFootprint)
	}
}

func TestResolve(t *testing.T) {
	readErr := errors.New("permission denied")
	txs := &mockTransactionReader{
		GetTransactionFunc: func(ctx context.Context, txType domain.TxType, id string) (*domain.RawTransaction, error) {
			if id == "known" {
				return &domain.RawTransaction{ID: id, Type: txType, Amount: dec("1")}, nil
			}
			return nil, readErr
		},
	}
	n := New(nil)

	got, err := n.Resolve(context.Background(), txs, domain.TxTypeIncome, "known")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.ID != "known" {
		t.Errorf("ID = %q", got.ID)
	}

	_, err = n.Resolve(context.Background(), txs, domain.TxTypeExpense, "gone")
	var resErr *domain.ResolutionError
	if !errors.As(err, &resErr) {
		t.Fatalf("expected ResolutionError, got %v", err)
	}
	if !errors.Is(err, readErr) {
		t.Errorf("ResolutionError should wrap the read error")
	}
}
