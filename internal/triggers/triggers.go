// Package triggers runs the manual regeneration commands expressed as flag documents.
package triggers

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/period-counters/internal/domain"
	"github.com/dvloznov/period-counters/internal/insights"
	"github.com/dvloznov/period-counters/internal/logger"
	"github.com/dvloznov/period-counters/internal/rebuild"
	"github.com/dvloznov/period-counters/internal/store"
)

// CounterRebuilder recomputes every bucket of a user.
type CounterRebuilder interface {
	RebuildAll(ctx context.Context, userID string) (*rebuild.Report, error)
}

// InsightGenerator regenerates insights for one bucket or many.
type InsightGenerator interface {
	GenerateForBucket(ctx context.Context, bucketID string) (*domain.InsightPayload, error)
	RegenerateAll(ctx context.Context, filter store.BucketFilter) (*insights.BulkReport, error)
}

// Event is a write to a trigger document. Before is nil when the document was created.
type Event struct {
	Name   domain.TriggerName
	Before *domain.Trigger
	After  *domain.Trigger
}

// Result describes what a fired trigger did.
type Result struct {
	Name     domain.TriggerName   `json:"name"`
	Fired    bool                 `json:"fired"`
	Rebuild  *rebuild.Report      `json:"rebuild,omitempty"`
	Insights *insights.BulkReport `json:"insights,omitempty"`
	BucketID string               `json:"bucketId,omitempty"`
}

// Runner reacts to trigger flag edges.
type Runner struct {
	triggers  store.TriggerStore
	rebuilder CounterRebuilder
	generator InsightGenerator
	userID    string
	now       func() time.Time
}

// NewRunner creates a Runner that rebuilds userID's counters.
func NewRunner(triggers store.TriggerStore, rebuilder CounterRebuilder, generator InsightGenerator, userID string) *Runner {
	return &Runner{
		triggers:  triggers,
		rebuilder: rebuilder,
		generator: generator,
		userID:    userID,
		now:       time.Now,
	}
}

// ShouldFire reports a false to true transition of shouldGenerate.
func ShouldFire(before, after *domain.Trigger) bool {
	if after == nil || !after.ShouldGenerate {
		return false
	}
	return before == nil || !before.ShouldGenerate
}

// HandleTriggerEvent runs the command for ev when its flag was just raised, then
// resets the flag. A failed run leaves the flag set and returns the error.
func (r *Runner) HandleTriggerEvent(ctx context.Context, ev Event) (*Result, error) {
	log := logger.FromContext(ctx).With().Str("trigger", string(ev.Name)).Logger()
	ctx = logger.WithContext(ctx, log)

	result := &Result{Name: ev.Name}
	if !ShouldFire(ev.Before, ev.After) {
		log.Debug().Msg("Trigger flag not raised, nothing to do")
		return result, nil
	}
	result.Fired = true

	var err error
	switch ev.Name {
	case domain.TriggerGenerateCounters:
		log.Info().Msg("Rebuilding period counters")
		result.Rebuild, err = r.rebuilder.RebuildAll(ctx, r.userID)

	case domain.TriggerGenerateInsights:
		if id := ev.After.PeriodCounterID; id != "" {
			log.Info().Str("bucket_id", id).Msg("Generating insights for one bucket")
			result.BucketID = id
			_, err = r.generator.GenerateForBucket(ctx, id)
		} else {
			log.Info().Msg("Generating insights for all buckets")
			result.Insights, err = r.generator.RegenerateAll(ctx, store.BucketFilter{})
		}

	case domain.TriggerGenerateBoth:
		log.Info().Msg("Rebuilding period counters with insights")
		result.Rebuild, err = r.rebuilder.RebuildAll(ctx, r.userID)
		if err == nil {
			result.Insights, err = r.generator.RegenerateAll(ctx, store.BucketFilter{})
		}

	default:
		return nil, fmt.Errorf("HandleTriggerEvent: unknown trigger %q", ev.Name)
	}
	if err != nil {
		log.Error().Err(err).Msg("Trigger run failed")
		return result, fmt.Errorf("HandleTriggerEvent: %s: %w", ev.Name, err)
	}

	if err := r.triggers.CompleteTrigger(ctx, ev.Name, r.now()); err != nil {
		return result, fmt.Errorf("HandleTriggerEvent: resetting %s: %w", ev.Name, err)
	}
	log.Info().Msg("Trigger completed")
	return result, nil
}

// Fire raises the flag for name and runs it, as if the document had been toggled.
// bucketID is only meaningful for generate-insights.
func (r *Runner) Fire(ctx context.Context, name domain.TriggerName, bucketID string) (*Result, error) {
	before, err := r.triggers.GetTrigger(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("Fire: reading %s: %w", name, err)
	}

	now := r.now()
	after := *before
	after.Name = name
	after.ShouldGenerate = true
	after.PeriodCounterID = bucketID
	after.LastTriggered = &now
	if err := r.triggers.SetTrigger(ctx, &after); err != nil {
		return nil, fmt.Errorf("Fire: writing %s: %w", name, err)
	}

	// A flag left raised by a failed run is treated as lowered so it can be retried.
	prev := *before
	prev.ShouldGenerate = false
	return r.HandleTriggerEvent(ctx, Event{Name: name, Before: &prev, After: &after})
}
