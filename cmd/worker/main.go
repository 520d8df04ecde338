package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/period-counters/internal/app"
	"github.com/dvloznov/period-counters/internal/config"
	"github.com/dvloznov/period-counters/internal/counters"
	"github.com/dvloznov/period-counters/internal/domain"
	"github.com/dvloznov/period-counters/internal/infra/firestore"
	"github.com/dvloznov/period-counters/internal/insights"
	"github.com/dvloznov/period-counters/internal/jobs"
	"github.com/dvloznov/period-counters/internal/jobs/inmemory"
	"github.com/dvloznov/period-counters/internal/logger"
	"github.com/dvloznov/period-counters/internal/triggers"
)

// The worker listens to the Firestore collections directly and feeds every
// document write through the job queue, standing in for the hosted document
// triggers when running outside the serverless runtime.
func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (default: ./config.yaml if present)")
	flag.Parse()

	bootLog := logger.New()
	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Store != config.StoreFirestore {
		bootLog.Fatal().Str("store", cfg.Store).Msg("The worker requires store: firestore")
	}

	log, err := logger.NewWithConfig(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("Failed to configure logger")
	}

	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	repo, err := firestore.NewRepository(ctx, cfg.ProjectID, cfg.CredentialsFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open Firestore")
	}
	defer repo.Close()

	// Bucket events arrive through the period_counters listener, so the
	// counters engine gets no observer here.
	a, err := app.New(ctx, cfg, app.WithStores(app.Stores{
		Buckets:      repo,
		Transactions: repo,
		Items:        repo,
		Triggers:     repo,
	}))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}

	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.Queue.BufferSize, jobStore, cfg.QueueOptions())
	dispatcher := &jobs.Dispatcher{
		Transactions: a.Counters,
		Buckets:      a.Insights,
		Triggers:     a.Runner,
	}
	if err := jobQueue.Start(ctx, dispatcher.Handle); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	publish := func(ctx context.Context, job *jobs.EventJob) {
		if err := jobQueue.Publish(ctx, job); err != nil {
			log := logger.FromContext(ctx)
			log.Error().Err(err).Str("subject", job.Subject).Msg("Failed to enqueue document event")
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, txType := range []domain.TxType{domain.TxTypeIncome, domain.TxTypeExpense} {
		g.Go(func() error {
			return repo.WatchTransactions(gctx, txType, func(ctx context.Context, id string, before, after *domain.RawTransaction) {
				publish(ctx, jobs.NewTransactionJob(counters.TransactionEvent{
					TxType:        txType,
					TransactionID: id,
					Before:        before,
					After:         after,
				}))
			})
		})
	}
	g.Go(func() error {
		return repo.WatchBuckets(gctx, func(ctx context.Context, id string, before, after *domain.Bucket) {
			if after == nil || !insights.ShouldRegenerate(before, after) {
				return
			}
			publish(ctx, jobs.NewBucketJob(insights.BucketEvent{BucketID: id, Before: before, After: after}))
		})
	})
	g.Go(func() error {
		return repo.WatchTriggers(gctx, func(ctx context.Context, name domain.TriggerName, before, after *domain.Trigger) {
			if !triggers.ShouldFire(before, after) {
				return
			}
			publish(ctx, jobs.NewTriggerJob(name, after.PeriodCounterID))
		})
	})

	log.Info().Str("project_id", cfg.ProjectID).Msg("Worker listening for document changes")

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info().Msg("Shutting down worker service...")
		cancel()
	}()

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("Document listener stopped")
	}
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := jobQueue.Stop(stopCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}

	log.Info().Msg("Worker service stopped")
}
