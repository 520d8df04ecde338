package firestore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/period-counters/internal/domain"
)

// GetTransaction implements store.TransactionStore.
func (r *Repository) GetTransaction(ctx context.Context, txType domain.TxType, id string) (*domain.RawTransaction, error) {
	snap, err := r.client.Collection(collectionFor(txType)).Doc(id).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("GetTransaction: reading %s %s: %w", txType, id, err)
	}

	var doc transactionDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("GetTransaction: decoding %s %s: %w", txType, id, err)
	}
	return fromTransactionDoc(id, txType, &doc), nil
}

// ListTransactions implements store.TransactionStore. Documents without userId
// belong to the default user, so ownership is filtered after the read.
func (r *Repository) ListTransactions(ctx context.Context, userID string) ([]*domain.RawTransaction, error) {
	return r.listTransactions(ctx, userID, func(q firestore.Query) firestore.Query { return q })
}

// ListTransactionsInRange implements store.TransactionStore.
func (r *Repository) ListTransactionsInRange(ctx context.Context, userID string, start, end time.Time) ([]*domain.RawTransaction, error) {
	return r.listTransactions(ctx, userID, func(q firestore.Query) firestore.Query {
		return q.Where("dateTime", ">=", start).Where("dateTime", "<", end)
	})
}

func (r *Repository) listTransactions(ctx context.Context, userID string, scope func(firestore.Query) firestore.Query) ([]*domain.RawTransaction, error) {
	var result []*domain.RawTransaction
	for _, txType := range []domain.TxType{domain.TxTypeIncome, domain.TxTypeExpense} {
		iter := scope(r.client.Collection(collectionFor(txType)).Query).Documents(ctx)
		for {
			snap, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				iter.Stop()
				return nil, fmt.Errorf("listTransactions: iterating %s: %w", txType, err)
			}

			var doc transactionDoc
			if err := snap.DataTo(&doc); err != nil {
				iter.Stop()
				return nil, fmt.Errorf("listTransactions: decoding %s %s: %w", txType, snap.Ref.ID, err)
			}
			raw := fromTransactionDoc(snap.Ref.ID, txType, &doc)
			if raw.Owner() == userID {
				result = append(result, raw)
			}
		}
		iter.Stop()
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].Timestamp.Before(result[j].Timestamp)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// GetItem implements store.ItemStore.
func (r *Repository) GetItem(ctx context.Context, id string) (*domain.LineItem, error) {
	snap, err := r.itemRef(id).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("GetItem: reading %s: %w", id, err)
	}

	var doc itemDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("GetItem: decoding %s: %w", id, err)
	}
	return fromItemDoc(id, &doc), nil
}
