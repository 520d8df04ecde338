package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/period-counters/internal/counters"
	"github.com/dvloznov/period-counters/internal/domain"
	"github.com/dvloznov/period-counters/internal/insights"
	"github.com/dvloznov/period-counters/internal/logger"
	"github.com/dvloznov/period-counters/internal/triggers"
)

// TransactionHandler applies transaction events.
type TransactionHandler interface {
	HandleTransactionEvent(ctx context.Context, ev counters.TransactionEvent) error
}

// BucketHandler reacts to bucket mutations.
type BucketHandler interface {
	HandleBucketEvent(ctx context.Context, ev insights.BucketEvent) error
}

// TriggerFirer runs manual triggers.
type TriggerFirer interface {
	Fire(ctx context.Context, name domain.TriggerName, bucketID string) (*triggers.Result, error)
}

// Dispatcher routes jobs to the engine that owns them.
type Dispatcher struct {
	Transactions TransactionHandler
	Buckets      BucketHandler
	Triggers     TriggerFirer
}

// Handle is a JobHandler.
func (d *Dispatcher) Handle(ctx context.Context, job *EventJob) error {
	log := logger.FromContext(ctx).With().
		Str("job_id", job.JobID).
		Str("job_type", string(job.Type)).
		Int("retry_count", job.RetryCount).
		Logger()
	ctx = logger.WithContext(ctx, log)

	switch job.Type {
	case JobTypeTransactionEvent:
		if job.Transaction == nil || d.Transactions == nil {
			return fmt.Errorf("Handle: job %s has no transaction handler or payload", job.JobID)
		}
		return d.Transactions.HandleTransactionEvent(ctx, *job.Transaction)

	case JobTypeBucketEvent:
		if job.Bucket == nil || d.Buckets == nil {
			return fmt.Errorf("Handle: job %s has no bucket handler or payload", job.JobID)
		}
		return d.Buckets.HandleBucketEvent(ctx, *job.Bucket)

	case JobTypeTrigger:
		if job.Trigger == nil || d.Triggers == nil {
			return fmt.Errorf("Handle: job %s has no trigger handler or payload", job.JobID)
		}
		_, err := d.Triggers.Fire(ctx, job.Trigger.Name, job.Trigger.BucketID)
		return err

	default:
		return fmt.Errorf("Handle: unknown job type %q", job.Type)
	}
}

// NewTransactionJob wraps a transaction event.
func NewTransactionJob(ev counters.TransactionEvent) *EventJob {
	return &EventJob{Type: JobTypeTransactionEvent, Subject: ev.TransactionID, Transaction: &ev}
}

// NewBucketJob wraps a bucket event.
func NewBucketJob(ev insights.BucketEvent) *EventJob {
	return &EventJob{Type: JobTypeBucketEvent, Subject: ev.BucketID, Bucket: &ev}
}

// NewTriggerJob wraps a trigger request.
func NewTriggerJob(name domain.TriggerName, bucketID string) *EventJob {
	return &EventJob{Type: JobTypeTrigger, Subject: string(name), Trigger: &TriggerRequest{Name: name, BucketID: bucketID}}
}

// BucketPublisher turns committed bucket writes into bucket jobs, so insight
// generation runs after the delta has released the bucket.
type BucketPublisher struct {
	Publisher Publisher

	// Timeout bounds the enqueue when the buffer is full.
	Timeout time.Duration
}

// BucketChanged implements counters.BucketObserver.
func (p *BucketPublisher) BucketChanged(ctx context.Context, before, after *domain.Bucket) {
	if after == nil {
		return
	}
	// The job outlives the request that produced the write.
	pubCtx := context.WithoutCancel(ctx)
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		pubCtx, cancel = context.WithTimeout(pubCtx, p.Timeout)
		defer cancel()
	}

	job := NewBucketJob(insights.BucketEvent{BucketID: after.ID, Before: before, After: after})
	if err := p.Publisher.Publish(pubCtx, job); err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("bucket_id", after.ID).Msg("Failed to enqueue bucket event")
	}
}

var _ counters.BucketObserver = (*BucketPublisher)(nil)
