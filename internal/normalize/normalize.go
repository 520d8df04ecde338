// Package normalize turns raw income and expense documents into the canonical
// form the aggregation engines operate on.
package normalize

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/period-counters/internal/domain"
	"github.com/dvloznov/period-counters/internal/logger"
)

// ItemResolver looks up expense line items.
type ItemResolver interface {
	GetItem(ctx context.Context, id string) (*domain.LineItem, error)
}

// TransactionReader reads a root transaction document.
type TransactionReader interface {
	GetTransaction(ctx context.Context, txType domain.TxType, id string) (*domain.RawTransaction, error)
}

// Normalizer resolves raw records, including expense line items.
type Normalizer struct {
	items ItemResolver
}

// New creates a Normalizer backed by items.
func New(items ItemResolver) *Normalizer {
	return &Normalizer{items: items}
}

// Resolve reads the root document and normalizes it. A failure to read the root
// document is returned as *domain.ResolutionError.
func (n *Normalizer) Resolve(ctx context.Context, txs TransactionReader, txType domain.TxType, id string) (*domain.NormalizedTx, error) {
	raw, err := txs.GetTransaction(ctx, txType, id)
	if err != nil {
		return nil, &domain.ResolutionError{Kind: "transaction", ID: id, Err: err}
	}
	return n.Normalize(ctx, raw)
}

// Normalize converts raw into a NormalizedTx. Line items that fail to resolve are
// logged and skipped, so an expense may carry a partial amount.
func (n *Normalizer) Normalize(ctx context.Context, raw *domain.RawTransaction) (*domain.NormalizedTx, error) {
	if raw == nil {
		return nil, &domain.ResolutionError{Kind: "transaction", Err: errors.New("nil record")}
	}

	out := &domain.NormalizedTx{
		ID:          raw.ID,
		Type:        raw.Type,
		UserID:      raw.Owner(),
		Timestamp:   raw.Timestamp,
		Description: raw.Name,
		Amount:      decimal.Zero,
		ByCategory:  map[string]decimal.Decimal{},
	}

	switch raw.Type {
	case domain.TxTypeIncome:
		if raw.Amount != nil {
			out.Amount = *raw.Amount
		}
		out.Category = domain.DefaultIncomeCategory
		if raw.Category != nil && *raw.Category != "" {
			out.Category = *raw.Category
		}
		out.CarbonFootprint = decimal.Zero
		out.ByCategory[out.Category] = out.Amount

	case domain.TxTypeExpense:
		n.resolveItems(ctx, raw, out)
		out.Category = domain.DefaultItemCategory
		if raw.Category != nil && *raw.Category != "" {
			out.Category = *raw.Category
		}
		out.CarbonFootprint = decimal.Zero
		if raw.CarbonFootprint != nil {
			out.CarbonFootprint = *raw.CarbonFootprint
		}
		if out.Description == "" {
			out.Description = "Expense"
		}

	default:
		return nil, &domain.ResolutionError{Kind: "transaction", ID: raw.ID, Err: errors.New("unknown transaction type " + string(raw.Type))}
	}

	return out, nil
}

func (n *Normalizer) resolveItems(ctx context.Context, raw *domain.RawTransaction, out *domain.NormalizedTx) {
	log := logger.FromContext(ctx)

	for _, itemID := range raw.ItemIDs {
		if itemID == "" {
			continue
		}
		if n.items == nil {
			log.Warn().Str("transaction_id", raw.ID).Str("item_id", itemID).Msg("No item resolver configured, skipping line item")
			continue
		}

		item, err := n.items.GetItem(ctx, itemID)
		if err != nil {
			log.Warn().
				Err(&domain.ResolutionError{Kind: "item", ID: itemID, Err: err}).
				Str("transaction_id", raw.ID).
				Msg("Could not resolve expense item, continuing with partial total")
			continue
		}

		total := item.Total()
		out.Amount = out.Amount.Add(total)
		cat := item.CategoryOrDefault()
		out.ByCategory[cat] = out.ByCategory[cat].Add(total)
	}
}
