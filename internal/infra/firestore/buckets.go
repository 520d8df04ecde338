package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dvloznov/period-counters/internal/domain"
	"github.com/dvloznov/period-counters/internal/store"
)

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

// GetBucket implements store.BucketStore.
func (r *Repository) GetBucket(ctx context.Context, id string) (*domain.Bucket, error) {
	return GetBucketWithClient(ctx, r.client, id)
}

// UpdateBucket implements store.BucketStore.
func (r *Repository) UpdateBucket(ctx context.Context, id string, fn store.UpdateFunc) (*domain.Bucket, error) {
	return UpdateBucketWithClient(ctx, r.client, id, fn)
}

// ReplaceBucket implements store.BucketStore.
func (r *Repository) ReplaceBucket(ctx context.Context, b *domain.Bucket) error {
	return ReplaceBucketWithClient(ctx, r.client, b)
}

// SaveInsights implements store.BucketStore.
func (r *Repository) SaveInsights(ctx context.Context, id string, payload *domain.InsightPayload, at time.Time) error {
	return SaveInsightsWithClient(ctx, r.client, id, payload, at)
}

// ListBuckets implements store.BucketStore.
func (r *Repository) ListBuckets(ctx context.Context, filter store.BucketFilter) ([]*domain.Bucket, error) {
	return ListBucketsWithClient(ctx, r.client, filter)
}

// GetBucketWithClient reads one period counter document.
func GetBucketWithClient(ctx context.Context, client *firestore.Client, id string) (*domain.Bucket, error) {
	snap, err := client.Collection(PeriodCountersCollection).Doc(id).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("GetBucket: reading %s: %w", id, err)
	}

	var doc bucketDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("GetBucket: decoding %s: %w", id, err)
	}
	return fromBucketDoc(id, &doc), nil
}

// UpdateBucketWithClient runs fn inside a Firestore transaction. Firestore retries
// the transaction when the document changes underneath it, so fn may run more than
// once. Only aggregate field paths are written.
func UpdateBucketWithClient(ctx context.Context, client *firestore.Client, id string, fn store.UpdateFunc) (*domain.Bucket, error) {
	ref := client.Collection(PeriodCountersCollection).Doc(id)

	var result *domain.Bucket
	err := client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var current *domain.Bucket
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			var doc bucketDoc
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decoding %s: %w", id, err)
			}
			current = fromBucketDoc(id, &doc)
		case isNotFound(err):
		default:
			return fmt.Errorf("reading %s: %w", id, err)
		}

		next, err := fn(current)
		if err != nil {
			return err
		}
		if next == nil {
			result = current
			return nil
		}

		next.ID = id
		if current != nil {
			next.Insights = current.Insights
			next.InsightsLastUpdated = current.InsightsLastUpdated
		} else {
			next.Insights = nil
			next.InsightsLastUpdated = nil
		}
		result = next
		return tx.Set(ref, aggregateData(toBucketDoc(next)), firestore.Merge(aggregateFields...))
	})
	if err != nil {
		return nil, fmt.Errorf("UpdateBucket: %w", err)
	}
	return result.Clone(), nil
}

// ReplaceBucketWithClient overwrites the whole document.
func ReplaceBucketWithClient(ctx context.Context, client *firestore.Client, b *domain.Bucket) error {
	if b == nil || b.ID == "" {
		return errors.New("ReplaceBucket: bucket ID is required")
	}
	if _, err := client.Collection(PeriodCountersCollection).Doc(b.ID).Set(ctx, toBucketDoc(b)); err != nil {
		return fmt.Errorf("ReplaceBucket: writing %s: %w", b.ID, err)
	}
	return nil
}

// SaveInsightsWithClient updates the insight fields of an existing document.
func SaveInsightsWithClient(ctx context.Context, client *firestore.Client, id string, payload *domain.InsightPayload, at time.Time) error {
	_, err := client.Collection(PeriodCountersCollection).Doc(id).Update(ctx, []firestore.Update{
		{Path: "insights", Value: toInsightDoc(payload)},
		{Path: "insightsLastUpdated", Value: at},
	})
	if err != nil {
		if isNotFound(err) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("SaveInsights: writing %s: %w", id, err)
	}
	return nil
}

// ListBucketsWithClient queries period counters ordered by document id.
func ListBucketsWithClient(ctx context.Context, client *firestore.Client, filter store.BucketFilter) ([]*domain.Bucket, error) {
	q := client.Collection(PeriodCountersCollection).Query
	if filter.UserID != "" {
		q = q.Where("userId", "==", filter.UserID)
	}
	if filter.Granularity != "" {
		q = q.Where("period", "==", string(filter.Granularity))
	}
	q = q.OrderBy(firestore.DocumentID, firestore.Asc)
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var buckets []*domain.Bucket
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListBuckets: iterating: %w", err)
		}

		var doc bucketDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("ListBuckets: decoding %s: %w", snap.Ref.ID, err)
		}
		buckets = append(buckets, fromBucketDoc(snap.Ref.ID, &doc))
	}
	return buckets, nil
}
