package firestore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"

	"github.com/dvloznov/period-counters/internal/domain"
	"github.com/dvloznov/period-counters/internal/logger"
)

// Watchers turn collection snapshot listeners into before/after document events,
// the shape the serverless document triggers deliver. The first snapshot only
// primes the cache: documents that already exist when a watch starts are not events.

// TransactionChange is called for every write to an income or expense document.
type TransactionChange func(ctx context.Context, id string, before, after *domain.RawTransaction)

// BucketChange is called for every write to a period counter document.
type BucketChange func(ctx context.Context, id string, before, after *domain.Bucket)

// TriggerChange is called for every write to a trigger flag document.
type TriggerChange func(ctx context.Context, name domain.TriggerName, before, after *domain.Trigger)

// WatchTransactions listens to the collection of txType until ctx is done.
func (r *Repository) WatchTransactions(ctx context.Context, txType domain.TxType, fn TransactionChange) error {
	decode := func(snap *firestore.DocumentSnapshot) (*domain.RawTransaction, error) {
		var doc transactionDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, err
		}
		return fromTransactionDoc(snap.Ref.ID, txType, &doc), nil
	}
	return watch(ctx, r.client.Collection(collectionFor(txType)).Query, decode, fn)
}

// WatchBuckets listens to the period counters collection until ctx is done.
func (r *Repository) WatchBuckets(ctx context.Context, fn BucketChange) error {
	decode := func(snap *firestore.DocumentSnapshot) (*domain.Bucket, error) {
		var doc bucketDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, err
		}
		return fromBucketDoc(snap.Ref.ID, &doc), nil
	}
	return watch(ctx, r.client.Collection(PeriodCountersCollection).Query, decode, fn)
}

// WatchTriggers listens to the triggers collection until ctx is done.
// Documents whose id is not a known trigger are ignored.
func (r *Repository) WatchTriggers(ctx context.Context, fn TriggerChange) error {
	decode := func(snap *firestore.DocumentSnapshot) (*domain.Trigger, error) {
		var doc triggerDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, err
		}
		return fromTriggerDoc(domain.TriggerName(snap.Ref.ID), &doc), nil
	}
	return watch(ctx, r.client.Collection(TriggersCollection).Query, decode, func(ctx context.Context, id string, before, after *domain.Trigger) {
		name := domain.TriggerName(id)
		if !name.Valid() {
			return
		}
		fn(ctx, name, before, after)
	})
}

func watch[T any](ctx context.Context, q firestore.Query, decode func(*firestore.DocumentSnapshot) (*T, error), emit func(ctx context.Context, id string, before, after *T)) error {
	log := logger.FromContext(ctx)
	it := q.Snapshots(ctx)
	defer it.Stop()

	tracker := newChangeTracker[T]()
	for {
		qs, err := it.Next()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return fmt.Errorf("watch: reading snapshot: %w", err)
		}

		for _, ch := range qs.Changes {
			id := ch.Doc.Ref.ID
			if ch.Kind == firestore.DocumentRemoved {
				tracker.remove(ctx, id, emit)
				continue
			}
			v, err := decode(ch.Doc)
			if err != nil {
				log.Warn().Err(err).Str("document_id", id).Msg("Skipping undecodable document")
				continue
			}
			tracker.put(ctx, id, v, emit)
		}
		tracker.primed = true
	}
}

// changeTracker remembers the last seen version of each document so that a
// snapshot change can be reported with its prior state.
type changeTracker[T any] struct {
	seen   map[string]*T
	primed bool
}

func newChangeTracker[T any]() *changeTracker[T] {
	return &changeTracker[T]{seen: make(map[string]*T)}
}

func (c *changeTracker[T]) put(ctx context.Context, id string, after *T, emit func(context.Context, string, *T, *T)) {
	before := c.seen[id]
	c.seen[id] = after
	if c.primed {
		emit(ctx, id, before, after)
	}
}

func (c *changeTracker[T]) remove(ctx context.Context, id string, emit func(context.Context, string, *T, *T)) {
	before, ok := c.seen[id]
	delete(c.seen, id)
	if c.primed && ok {
		emit(ctx, id, before, nil)
	}
}
