// Package app wires stores, engines and the insight orchestrator from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/period-counters/internal/config"
	"github.com/dvloznov/period-counters/internal/counters"
	"github.com/dvloznov/period-counters/internal/infra/firestore"
	"github.com/dvloznov/period-counters/internal/insights"
	"github.com/dvloznov/period-counters/internal/logger"
	"github.com/dvloznov/period-counters/internal/normalize"
	"github.com/dvloznov/period-counters/internal/rebuild"
	"github.com/dvloznov/period-counters/internal/store"
	"github.com/dvloznov/period-counters/internal/store/inmemory"
	"github.com/dvloznov/period-counters/internal/triggers"
)

// Stores groups the repositories one backend provides.
type Stores struct {
	Buckets      store.BucketStore
	Transactions store.TransactionStore
	Items        store.ItemStore
	Triggers     store.TriggerStore
}

// App holds every engine of the service.
type App struct {
	Config *config.Config
	Stores

	Normalizer *normalize.Normalizer
	Counters   *counters.Engine
	Rebuild    *rebuild.Engine
	Insights   *insights.Orchestrator
	Runner     *triggers.Runner

	closers []func() error
}

// Option configures New.
type Option func(*options)

type options struct {
	observer counters.BucketObserver
	model    insights.TextModel
	stores   *Stores
}

// WithObserver is notified after every committed delta write.
func WithObserver(o counters.BucketObserver) Option {
	return func(opts *options) { opts.observer = o }
}

// WithModel replaces the Gemini model, e.g. in tests.
func WithModel(m insights.TextModel) Option {
	return func(opts *options) { opts.model = m }
}

// WithStores bypasses backend selection.
func WithStores(s Stores) Option {
	return func(opts *options) { opts.stores = &s }
}

// New opens the configured backend and builds the engines on top of it.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg}

	if o.stores != nil {
		a.Stores = *o.stores
	} else if err := a.openStores(ctx); err != nil {
		return nil, err
	}

	model := o.model
	if model == nil && cfg.Insights.Enabled {
		gm, err := insights.NewGeminiModel(ctx, cfg.Insights.Model)
		if err != nil {
			log := logger.FromContext(ctx)
			log.Warn().Err(err).Msg("Gemini unavailable, insights will use the fallback")
		} else {
			model = gm
		}
	}

	a.Normalizer = normalize.New(a.Items)

	var counterOpts []counters.Option
	if o.observer != nil {
		counterOpts = append(counterOpts, counters.WithObserver(o.observer))
	}
	a.Counters = counters.NewEngine(a.Buckets, a.Normalizer, counterOpts...)
	a.Rebuild = rebuild.NewEngine(a.Transactions, a.Buckets, a.Normalizer)
	a.Insights = insights.NewOrchestrator(a.Buckets, a.Transactions, a.Normalizer, model, cfg.OrchestratorConfig())
	a.Runner = triggers.NewRunner(a.Triggers, a.Rebuild, a.Insights, cfg.DefaultUserID)

	return a, nil
}

func (a *App) openStores(ctx context.Context) error {
	switch a.Config.Store {
	case config.StoreFirestore:
		repo, err := firestore.NewRepository(ctx, a.Config.ProjectID, a.Config.CredentialsFile)
		if err != nil {
			return fmt.Errorf("openStores: %w", err)
		}
		a.closers = append(a.closers, repo.Close)
		a.Stores = Stores{Buckets: repo, Transactions: repo, Items: repo, Triggers: repo}
	default:
		mem := inmemory.NewStore()
		a.Stores = Stores{Buckets: mem, Transactions: mem, Items: mem, Triggers: mem}
	}

	log := logger.FromContext(ctx)

	log.Info().Str("store", a.Config.Store).Msg("Stores opened")
	return nil
}

// Close releases backend connections.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
