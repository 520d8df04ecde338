// Package store defines the persistence contracts the engines depend on.
package store

import (
	"context"
	"time"

	"github.com/dvloznov/period-counters/internal/domain"
)

// UpdateFunc receives the current bucket, or nil when the document does not exist yet,
// and returns the bucket to write. Returning a nil bucket and nil error skips the write.
// It may be called more than once when the store retries on contention.
type UpdateFunc func(current *domain.Bucket) (*domain.Bucket, error)

// BucketStore persists period counter buckets.
type BucketStore interface {
	// GetBucket returns the bucket with the given document id or domain.ErrNotFound.
	GetBucket(ctx context.Context, id string) (*domain.Bucket, error)

	// UpdateBucket performs an atomic read-modify-write of one bucket. Only the
	// aggregate fields are written; insights on the stored document are preserved.
	UpdateBucket(ctx context.Context, id string, fn UpdateFunc) (*domain.Bucket, error)

	// ReplaceBucket overwrites the whole document, dropping any stored insights.
	ReplaceBucket(ctx context.Context, b *domain.Bucket) error

	// SaveInsights writes the insight payload and its timestamp, leaving aggregates untouched.
	SaveInsights(ctx context.Context, id string, payload *domain.InsightPayload, at time.Time) error

	// ListBuckets returns buckets matching the filter.
	ListBuckets(ctx context.Context, filter BucketFilter) ([]*domain.Bucket, error)
}

// BucketFilter defines filtering criteria for listing buckets.
type BucketFilter struct {
	UserID      string
	Granularity domain.Granularity
	Limit       int
}

// TransactionStore reads income and expense documents.
type TransactionStore interface {
	// GetTransaction returns one transaction from the store for txType, or domain.ErrNotFound.
	GetTransaction(ctx context.Context, txType domain.TxType, id string) (*domain.RawTransaction, error)

	// ListTransactions returns every income and expense owned by userID.
	ListTransactions(ctx context.Context, userID string) ([]*domain.RawTransaction, error)

	// ListTransactionsInRange returns transactions owned by userID with start <= timestamp < end.
	ListTransactionsInRange(ctx context.Context, userID string, start, end time.Time) ([]*domain.RawTransaction, error)
}

// ItemStore reads expense line items.
type ItemStore interface {
	GetItem(ctx context.Context, id string) (*domain.LineItem, error)
}

// TriggerStore reads and resets manual trigger flags.
type TriggerStore interface {
	GetTrigger(ctx context.Context, name domain.TriggerName) (*domain.Trigger, error)

	// SetTrigger writes the flag document as given.
	SetTrigger(ctx context.Context, t *domain.Trigger) error

	// CompleteTrigger sets shouldGenerate to false and clears the bucket scope.
	CompleteTrigger(ctx context.Context, name domain.TriggerName, at time.Time) error
}
