// Package insights generates and persists human-readable insights for period buckets.
package insights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/dvloznov/period-counters/internal/domain"
	"github.com/dvloznov/period-counters/internal/logger"
	"github.com/dvloznov/period-counters/internal/normalize"
	"github.com/dvloznov/period-counters/internal/store"
)

// Config tunes the orchestrator.
type Config struct {
	Timeout             time.Duration
	Freshness           time.Duration
	MaxTransactionLines int
	RequestsPerSecond   float64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:             DefaultTimeout,
		Freshness:           DefaultFreshness,
		MaxTransactionLines: DefaultMaxTransactionLines,
		RequestsPerSecond:   DefaultRequestsPerSecond,
	}
}

// BulkReport summarizes a RegenerateAll run.
type BulkReport struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// BucketEvent describes a bucket document mutation. Before is nil on creation;
// After is nil on deletion.
type BucketEvent struct {
	BucketID string
	Before   *domain.Bucket
	After    *domain.Bucket
}

// Orchestrator builds context for a bucket, calls the model and persists the result.
type Orchestrator struct {
	buckets    store.BucketStore
	txs        store.TransactionStore
	normalizer *normalize.Normalizer
	model      TextModel
	cfg        Config
	now        func() time.Time
	pipeline   *Pipeline
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates an Orchestrator. A nil model makes every run use the fallback.
func NewOrchestrator(buckets store.BucketStore, txs store.TransactionStore, normalizer *normalize.Normalizer, model TextModel, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		buckets:    buckets,
		txs:        txs,
		normalizer: normalizer,
		model:      model,
		cfg:        cfg,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.pipeline = o.newPipeline()
	return o
}

// GenerateInsights produces and persists insights for b. Insights generated within
// the freshness window are returned as is. Generation failures are absorbed by the
// fallback; only persistence failures are returned.
func (o *Orchestrator) GenerateInsights(ctx context.Context, b *domain.Bucket) (*domain.InsightPayload, error) {
	return o.run(ctx, b, false)
}

func (o *Orchestrator) run(ctx context.Context, b *domain.Bucket, force bool) (*domain.InsightPayload, error) {
	if b == nil {
		return nil, fmt.Errorf("GenerateInsights: nil bucket")
	}

	log := logger.FromContext(ctx).With().
		Str("bucket_id", b.ID).
		Str("granularity", string(b.Granularity)).
		Str("period_id", b.PeriodID).
		Logger()
	ctx = logger.WithContext(ctx, log)

	state := &State{Bucket: b.Clone(), Force: force}
	if err := o.pipeline.Execute(ctx, state); err != nil {
		log.Error().Err(err).Msg("Failed to generate insights")
		return nil, fmt.Errorf("GenerateInsights: %w", err)
	}
	if state.Skipped {
		return b.Insights.Clone(), nil
	}

	log.Info().Str("source", string(state.Source)).Msg("Insights generated")
	return state.Payload, nil
}

// ShouldRegenerate reports whether totals, breakdowns or the applied set differ
// between before and after. It compares their serialized form.
func ShouldRegenerate(before, after *domain.Bucket) bool {
	if before == nil || after == nil {
		return before != after
	}
	return !sameJSON(before.Totals, after.Totals) ||
		!sameJSON(before.Breakdowns, after.Breakdowns) ||
		!sameJSON(before.AppliedTxIDs, after.AppliedTxIDs)
}

func sameJSON(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ja) == string(jb)
}

// HandleBucketEvent regenerates insights when a bucket is created or changes
// significantly. Deletions and insight-only writes are ignored.
func (o *Orchestrator) HandleBucketEvent(ctx context.Context, ev BucketEvent) error {
	log := logger.FromContext(ctx).With().Str("bucket_id", ev.BucketID).Logger()

	after := ev.After
	if after == nil {
		if ev.Before != nil || ev.BucketID == "" {
			log.Debug().Msg("Bucket deleted, no insights to generate")
			return nil
		}
		b, err := o.buckets.GetBucket(ctx, ev.BucketID)
		if err != nil {
			return fmt.Errorf("HandleBucketEvent: loading bucket %s: %w", ev.BucketID, err)
		}
		after = b
	}
	if ev.Before != nil && !ShouldRegenerate(ev.Before, after) {
		log.Debug().Msg("No significant change, keeping insights")
		return nil
	}

	if _, err := o.run(ctx, after, true); err != nil {
		return fmt.Errorf("HandleBucketEvent: %w", err)
	}
	return nil
}

// BucketChanged lets the orchestrator observe delta engine writes directly.
// Errors are logged; the delta has already committed.
func (o *Orchestrator) BucketChanged(ctx context.Context, before, after *domain.Bucket) {
	if after == nil {
		return
	}
	if err := o.HandleBucketEvent(ctx, BucketEvent{BucketID: after.ID, Before: before, After: after}); err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("bucket_id", after.ID).Msg("Failed to refresh insights after bucket change")
	}
}

// GenerateForBucket regenerates insights for one bucket id regardless of freshness.
func (o *Orchestrator) GenerateForBucket(ctx context.Context, bucketID string) (*domain.InsightPayload, error) {
	b, err := o.buckets.GetBucket(ctx, bucketID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("GenerateForBucket: bucket %s: %w", bucketID, domain.ErrNotFound)
		}
		return nil, &domain.PersistenceError{BucketID: bucketID, Op: "read", Err: err}
	}
	payload, err := o.run(ctx, b, true)
	if err != nil {
		return nil, fmt.Errorf("GenerateForBucket: %w", err)
	}
	return payload, nil
}

// RegenerateAll walks every bucket matching filter, skipping fresh ones and pacing
// model calls. Per-bucket failures are counted and the walk continues.
func (o *Orchestrator) RegenerateAll(ctx context.Context, filter store.BucketFilter) (*BulkReport, error) {
	log := logger.FromContext(ctx)

	buckets, err := o.buckets.ListBuckets(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("RegenerateAll: listing buckets: %w", err)
	}

	limit := rate.Inf
	if o.cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(o.cfg.RequestsPerSecond)
	}
	limiter := rate.NewLimiter(limit, 1)

	report := &BulkReport{}
	for _, b := range buckets {
		if o.isFresh(b) {
			report.Skipped++
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			return report, fmt.Errorf("RegenerateAll: %w", err)
		}
		if _, err := o.run(ctx, b, true); err != nil {
			report.Errors++
			continue
		}
		report.Processed++
	}

	log.Info().
		Int("processed", report.Processed).
		Int("skipped", report.Skipped).
		Int("errors", report.Errors).
		Msg("Bulk insight regeneration finished")
	return report, nil
}

func (o *Orchestrator) isFresh(b *domain.Bucket) bool {
	if o.cfg.Freshness <= 0 || b.Insights == nil || b.InsightsLastUpdated == nil {
		return false
	}
	return o.now().Sub(*b.InsightsLastUpdated) < o.cfg.Freshness
}
