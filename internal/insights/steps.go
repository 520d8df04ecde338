package insights

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/period-counters/internal/domain"
	"github.com/dvloznov/period-counters/internal/logger"
	"github.com/dvloznov/period-counters/internal/period"
)

// Step is one stage of insight generation for a single bucket.
type Step interface {
	Execute(ctx context.Context, state *State) error
}

// State is shared across the steps of one run.
type State struct {
	Bucket *domain.Bucket
	Force  bool

	// Skipped stops the pipeline after the current step without error.
	Skipped bool

	Details  []TransactionDetail
	Previous *domain.InsightPayload
	Sections domain.InsightSections
	Source   domain.InsightSource
	Payload  *domain.InsightPayload
}

// FreshnessStep skips buckets whose insights are younger than the freshness window.
type FreshnessStep struct{ o *Orchestrator }

func (s *FreshnessStep) Execute(ctx context.Context, state *State) error {
	if !state.Force && s.o.isFresh(state.Bucket) {
		log := logger.FromContext(ctx)
		log.Debug().Time("insights_last_updated", *state.Bucket.InsightsLastUpdated).Msg("Insights are fresh, skipping")
		state.Skipped = true
	}
	return nil
}

// ContextStep resolves transaction details and the previous period's insights
// concurrently. Lookups are best effort and never fail the run.
type ContextStep struct{ o *Orchestrator }

func (s *ContextStep) Execute(ctx context.Context, state *State) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		state.Details = s.o.transactionDetails(gctx, state.Bucket)
		return nil
	})
	g.Go(func() error {
		state.Previous = s.o.previousInsights(gctx, state.Bucket)
		return nil
	})
	return g.Wait()
}

// GenerateStep asks the model for insights and falls back to the deterministic
// generator on any failure.
type GenerateStep struct{ o *Orchestrator }

func (s *GenerateStep) Execute(ctx context.Context, state *State) error {
	log := logger.FromContext(ctx)

	sections, err := s.o.generate(ctx, state)
	if err != nil {
		var genErr *domain.GenerationError
		if !errors.As(err, &genErr) {
			err = &domain.GenerationError{Reason: "model call", Err: err}
		}
		log.Warn().Err(err).Msg("Insight generation failed, using fallback")
		state.Sections = Fallback(state.Bucket)
		state.Source = domain.InsightSourceFallback
		return nil
	}
	state.Sections = *sections
	state.Source = domain.InsightSourceModel
	return nil
}

// AnnotateStep attaches metadata and key metrics.
type AnnotateStep struct{ o *Orchestrator }

func (s *AnnotateStep) Execute(ctx context.Context, state *State) error {
	b := state.Bucket
	state.Payload = &domain.InsightPayload{
		InsightSections: state.Sections,
		Metadata: domain.InsightMetadata{
			GeneratedAt:         s.o.now(),
			Period:              b.Granularity,
			DataSource:          DataSource,
			TransactionCount:    len(b.AppliedTxIDs),
			HasPreviousInsights: state.Previous != nil,
			AnalysisVersion:     AnalysisVersion,
			Source:              state.Source,
			TransactionIDs:      append([]string{}, b.AppliedTxIDs...),
			KeyMetrics:          ComputeKeyMetrics(b.Totals),
		},
	}
	return nil
}

// PersistStep writes the payload onto the bucket.
type PersistStep struct{ o *Orchestrator }

func (s *PersistStep) Execute(ctx context.Context, state *State) error {
	at := state.Payload.Metadata.GeneratedAt
	if err := s.o.buckets.SaveInsights(ctx, state.Bucket.ID, state.Payload, at); err != nil {
		return &domain.PersistenceError{BucketID: state.Bucket.ID, Op: "write insights", Err: err}
	}
	state.Bucket.Insights = state.Payload
	state.Bucket.InsightsLastUpdated = &at
	return nil
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []Step
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...Step) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs the steps until one fails or marks the state skipped.
func (p *Pipeline) Execute(ctx context.Context, state *State) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("insight step %d failed: %w", i+1, err)
		}
		if state.Skipped {
			return nil
		}
	}
	return nil
}

func (o *Orchestrator) newPipeline() *Pipeline {
	return NewPipeline(
		&FreshnessStep{o: o},
		&ContextStep{o: o},
		&GenerateStep{o: o},
		&AnnotateStep{o: o},
		&PersistStep{o: o},
	)
}

// generate runs the model call under the configured timeout.
func (o *Orchestrator) generate(ctx context.Context, state *State) (*domain.InsightSections, error) {
	if o.model == nil {
		return nil, &domain.GenerationError{Reason: "no model configured"}
	}

	callCtx := ctx
	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	prompt := BuildPrompt(PromptInput{Bucket: state.Bucket, Details: state.Details, Previous: state.Previous})
	raw, err := o.model.Generate(callCtx, prompt)
	if err != nil {
		return nil, err
	}
	return ParseSections(raw)
}

// transactionDetails resolves the bucket's transactions, expense store first.
// Unresolvable ids are omitted.
func (o *Orchestrator) transactionDetails(ctx context.Context, b *domain.Bucket) []TransactionDetail {
	log := logger.FromContext(ctx)

	ids := b.AppliedTxIDs
	if n := o.cfg.MaxTransactionLines; n > 0 && len(ids) > n {
		ids = ids[:n]
	}

	details := make([]TransactionDetail, 0, len(ids))
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		raw, err := o.lookupTransaction(ctx, id)
		if err != nil {
			log.Debug().Err(err).Str("transaction_id", id).Msg("Omitting unresolved transaction from insight context")
			continue
		}

		d := TransactionDetail{
			ID:          id,
			Type:        raw.Type,
			Description: raw.Name,
			Timestamp:   raw.Timestamp,
		}
		if raw.Category != nil {
			d.Category = *raw.Category
		}
		if c, ok := b.Applied[id]; ok {
			d.Amount = c.Amount
			d.CO2Kg = c.CO2Kg
			if d.Category == "" {
				d.Category = dominantCategory(c)
			}
		} else if n, err := o.normalizer.Normalize(ctx, raw); err == nil {
			d.Amount = n.Amount
			d.CO2Kg = n.CarbonFootprint
			if d.Category == "" {
				d.Category = n.Category
			}
		}
		if d.Description == "" {
			d.Description = string(raw.Type)
		}
		details = append(details, d)
	}
	return details
}

func (o *Orchestrator) lookupTransaction(ctx context.Context, id string) (*domain.RawTransaction, error) {
	var errs []error
	for _, t := range []domain.TxType{domain.TxTypeExpense, domain.TxTypeIncome} {
		raw, err := o.txs.GetTransaction(ctx, t, id)
		if err == nil {
			return raw, nil
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}

// previousInsights returns the stored insights of the preceding period, if any.
func (o *Orchestrator) previousInsights(ctx context.Context, b *domain.Bucket) *domain.InsightPayload {
	prevID, err := period.Previous(b.Granularity, b.PeriodID)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Debug().Err(err).Msg("Cannot compute previous period")
		return nil
	}
	prev, err := o.buckets.GetBucket(ctx, period.DocID(b.UserID, b.Granularity, prevID))
	if err != nil {
		return nil
	}
	return prev.Insights
}

// dominantCategory picks the largest category of a contribution, ties broken by name.
func dominantCategory(c domain.Contribution) string {
	best := ""
	for cat, v := range c.ByCategory {
		if best == "" || v.GreaterThan(c.ByCategory[best]) || (v.Equal(c.ByCategory[best]) && cat < best) {
			best = cat
		}
	}
	return best
}
