package counters

import (
	"context"
	"time"

	"github.com/dvloznov/period-counters/internal/domain"
	"github.com/dvloznov/period-counters/internal/logger"
	"github.com/dvloznov/period-counters/internal/normalize"
	"github.com/dvloznov/period-counters/internal/period"
	"github.com/dvloznov/period-counters/internal/store"
)

// BucketObserver is notified after a delta has been committed to a bucket.
// before is nil when the write created the bucket.
type BucketObserver interface {
	BucketChanged(ctx context.Context, before, after *domain.Bucket)
}

// Engine applies transaction deltas to buckets.
type Engine struct {
	buckets    store.BucketStore
	normalizer *normalize.Normalizer
	observer   BucketObserver
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithObserver registers o to be told about every committed bucket write.
func WithObserver(o BucketObserver) Option {
	return func(e *Engine) { e.observer = o }
}

// WithClock overrides the time source used for lastUpdated.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine writing through buckets.
func NewEngine(buckets store.BucketStore, normalizer *normalize.Normalizer, opts ...Option) *Engine {
	e := &Engine{
		buckets:    buckets,
		normalizer: normalizer,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ApplyDelta folds one transaction change into the bucket (userID, g, periodID) and
// returns the bucket as stored afterwards.
//
// Each bucket keeps the contribution it has recorded for every transaction id. A create
// for an id already recorded or in appliedTxIds is skipped, so a late redelivery cannot
// roll back a newer update. Updates and deletes use the record as their baseline when
// present, and a delete for an id not in appliedTxIds is skipped.
func (e *Engine) ApplyDelta(ctx context.Context, userID string, g domain.Granularity, periodID string, txType domain.TxType, newTx *domain.NormalizedTx, op domain.Operation, oldTx *domain.NormalizedTx) (*domain.Bucket, error) {
	txID := transactionID(newTx, oldTx)
	bucketID := period.DocID(userID, g, periodID)

	log := logger.FromContext(ctx).With().
		Str("bucket_id", bucketID).
		Str("transaction_id", txID).
		Str("operation", string(op)).
		Logger()

	var before *domain.Bucket
	written := false

	after, err := e.buckets.UpdateBucket(ctx, bucketID, func(current *domain.Bucket) (*domain.Bucket, error) {
		before = current
		written = false

		b := current.Clone()
		if b == nil {
			b = domain.NewBucket(bucketID, userID, g, periodID)
		}
		if b.Applied == nil {
			b.Applied = map[string]domain.Contribution{}
		}

		next, prev, effective, skip := plan(b, txID, txType, newTx, op, oldTx)
		if skip {
			return nil, nil
		}

		delta := ComputeDelta(effective, next, prev)
		if delta.TxType == "" {
			delta.TxType = txType
		}
		if delta.IsZero() && ledgerMatches(b, txID, next) {
			return nil, nil
		}

		applyToBucket(b, delta)
		if next != nil {
			b.Applied[txID] = *next
			b.AddApplied(txID)
		} else {
			b.RemoveApplied(txID)
		}
		b.LastUpdated = e.now()
		written = true
		return b, nil
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to apply delta")
		return nil, &domain.PersistenceError{BucketID: bucketID, Op: "write", Err: err}
	}

	if !written {
		log.Debug().Msg("Delta already reflected in bucket, nothing written")
		return after, nil
	}

	log.Info().
		Str("income", after.Totals.Income.String()).
		Str("expense", after.Totals.Expense.String()).
		Str("co2_kg", after.Totals.CO2Kg.String()).
		Msg("Applied delta to bucket")

	if e.observer != nil {
		e.observer.BucketChanged(ctx, before, after)
	}
	return after, nil
}

// plan picks the delta baseline. It returns the contribution to record (nil when the
// transaction leaves the bucket), the baseline to subtract, and the operation to feed
// ComputeDelta. skip means the event is already reflected in b.
func plan(b *domain.Bucket, txID string, txType domain.TxType, newTx *domain.NormalizedTx, op domain.Operation, oldTx *domain.NormalizedTx) (next, prev *domain.Contribution, effective domain.Operation, skip bool) {
	recorded, hasRecord := b.Applied[txID]
	applied := b.HasApplied(txID)

	contribution := func(n *domain.NormalizedTx) *domain.Contribution {
		if n == nil {
			return nil
		}
		c := n.Contribution()
		if c.Type == "" {
			c.Type = txType
		}
		return &c
	}

	switch op {
	case domain.OpCreate, domain.OpUpdate:
		next = contribution(newTx)
		if next == nil {
			return nil, nil, op, true
		}
		switch {
		case op == domain.OpCreate && (hasRecord || applied):
			// A redelivered create may trail a newer update.
			return nil, nil, op, true
		case hasRecord:
			return next, &recorded, domain.OpUpdate, false
		case op == domain.OpUpdate && oldTx != nil:
			return next, contribution(oldTx), domain.OpUpdate, false
		case op == domain.OpUpdate && applied:
			// No baseline to diff against; record the new value without moving totals.
			return next, next, domain.OpUpdate, false
		default:
			return next, nil, domain.OpCreate, false
		}

	case domain.OpDelete:
		switch {
		case hasRecord:
			return nil, &recorded, domain.OpDelete, false
		case applied && oldTx != nil:
			return nil, contribution(oldTx), domain.OpDelete, false
		default:
			return nil, nil, op, true
		}
	}
	return nil, nil, op, true
}

func ledgerMatches(b *domain.Bucket, txID string, next *domain.Contribution) bool {
	recorded, ok := b.Applied[txID]
	if next == nil {
		return !ok && !b.HasApplied(txID)
	}
	return ok && b.HasApplied(txID) && recorded.Equal(*next)
}

func transactionID(newTx, oldTx *domain.NormalizedTx) string {
	if newTx != nil && newTx.ID != "" {
		return newTx.ID
	}
	if oldTx != nil && oldTx.ID != "" {
		return oldTx.ID
	}
	return "unknown"
}
