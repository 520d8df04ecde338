// Package rebuild recomputes period buckets from the full transaction set.
package rebuild

import (
	"context"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/dvloznov/period-counters/internal/counters"
	"github.com/dvloznov/period-counters/internal/domain"
	"github.com/dvloznov/period-counters/internal/logger"
	"github.com/dvloznov/period-counters/internal/normalize"
	"github.com/dvloznov/period-counters/internal/period"
	"github.com/dvloznov/period-counters/internal/store"
)

// Report summarizes one RebuildAll run.
type Report struct {
	RunID      string        `json:"runId"`
	UserID     string        `json:"userId"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
	Processed  int           `json:"processed"`
	Errors     int           `json:"errors"`
	Buckets    int           `json:"buckets"`
	Failures   []DateFailure `json:"failures,omitempty"`
}

// DateFailure records a date whose rebuild failed.
type DateFailure struct {
	Date  string `json:"date"`
	Error string `json:"error"`
}

// Engine overwrites buckets with values recomputed from source transactions.
type Engine struct {
	txs        store.TransactionStore
	buckets    store.BucketStore
	normalizer *normalize.Normalizer
	now        func() time.Time
}

// NewEngine creates a rebuild Engine.
func NewEngine(txs store.TransactionStore, buckets store.BucketStore, normalizer *normalize.Normalizer) *Engine {
	return &Engine{
		txs:        txs,
		buckets:    buckets,
		normalizer: normalizer,
		now:        time.Now,
	}
}

// RebuildAll recomputes every daily, weekly and monthly bucket that holds at least
// one of userID's transactions. A failing date is logged and counted and the run
// moves on. The returned error is non-nil only when the dates cannot be enumerated.
func (e *Engine) RebuildAll(ctx context.Context, userID string) (*Report, error) {
	report := &Report{
		RunID:     uuid.New().String(),
		UserID:    userID,
		StartedAt: e.now(),
	}

	log := logger.FromContext(ctx).With().
		Str("run_id", report.RunID).
		Str("user_id", userID).
		Logger()
	ctx = logger.WithContext(ctx, log)

	dates, err := e.transactionDates(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("RebuildAll: listing transaction dates: %w", err)
	}
	log.Info().Int("date_count", len(dates)).Msg("Starting period counter rebuild")

	seen := map[string]bool{}
	for _, d := range dates {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("RebuildAll: %w", err)
		}

		written, err := e.rebuildDate(ctx, userID, d, seen)
		report.Buckets += written
		if err != nil {
			report.Errors++
			report.Failures = append(report.Failures, DateFailure{Date: d.String(), Error: err.Error()})
			log.Error().Err(err).Str("date", d.String()).Msg("Failed to rebuild period counters for date")
			continue
		}
		report.Processed++
	}

	report.FinishedAt = e.now()
	log.Info().
		Int("processed", report.Processed).
		Int("errors", report.Errors).
		Int("buckets", report.Buckets).
		Msg("Period counter rebuild finished")
	return report, nil
}

// RebuildDate recomputes the three buckets that contain local date d.
func (e *Engine) RebuildDate(ctx context.Context, userID string, d civil.Date) error {
	_, err := e.rebuildDate(ctx, userID, d, map[string]bool{})
	if err != nil {
		return fmt.Errorf("RebuildDate: %w", err)
	}
	return nil
}

// rebuildDate skips bucket ids already in seen, so that a week or month is
// rebuilt once per run however many of its dates carry transactions.
func (e *Engine) rebuildDate(ctx context.Context, userID string, d civil.Date, seen map[string]bool) (int, error) {
	at := period.Midnight(d)
	written := 0
	for _, g := range domain.Granularities {
		periodID := period.ID(at, g)
		id := period.DocID(userID, g, periodID)
		if seen[id] {
			continue
		}

		start, end := period.Range(at, g)
		b, err := e.BuildBucket(ctx, userID, g, periodID, start, end)
		if err != nil {
			return written, err
		}
		if err := e.buckets.ReplaceBucket(ctx, b); err != nil {
			return written, &domain.PersistenceError{BucketID: id, Op: "replace", Err: err}
		}
		seen[id] = true
		written++
	}
	return written, nil
}

// BuildBucket computes a bucket from the transactions in [start, end) without
// reading or writing any stored bucket.
func (e *Engine) BuildBucket(ctx context.Context, userID string, g domain.Granularity, periodID string, start, end time.Time) (*domain.Bucket, error) {
	log := logger.FromContext(ctx)

	raws, err := e.txs.ListTransactionsInRange(ctx, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("BuildBucket: collecting transactions for %s %s: %w", g, periodID, err)
	}

	b := domain.NewBucket(period.DocID(userID, g, periodID), userID, g, periodID)
	for _, raw := range raws {
		n, err := e.normalizer.Normalize(ctx, raw)
		if err != nil {
			log.Warn().Err(err).Str("transaction_id", raw.ID).Msg("Skipping transaction that could not be normalized")
			continue
		}
		counters.Accumulate(b, n)
	}
	b.LastUpdated = e.now()
	return b, nil
}

func (e *Engine) transactionDates(ctx context.Context, userID string) ([]civil.Date, error) {
	raws, err := e.txs.ListTransactions(ctx, userID)
	if err != nil {
		return nil, err
	}

	set := map[civil.Date]struct{}{}
	for _, raw := range raws {
		if raw.Timestamp.IsZero() {
			continue
		}
		set[period.LocalDate(raw.Timestamp)] = struct{}{}
	}

	dates := make([]civil.Date, 0, len(set))
	for d := range set {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}
