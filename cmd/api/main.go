package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/period-counters/internal/api/handlers"
	"github.com/dvloznov/period-counters/internal/api/middleware"
	"github.com/dvloznov/period-counters/internal/app"
	"github.com/dvloznov/period-counters/internal/config"
	"github.com/dvloznov/period-counters/internal/jobs"
	"github.com/dvloznov/period-counters/internal/jobs/inmemory"
	"github.com/dvloznov/period-counters/internal/logger"
)

func main() {
	// Parse command-line flags
	var (
		configPath = flag.String("config", "", "Path to a YAML config file (default: ./config.yaml if present)")
		port       = flag.String("port", "", "HTTP server port (overrides server.port)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *port != "" {
		cfg.Server.Port = *port
	}

	log, err := logger.NewWithConfig(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to configure logger")
	}

	ctx := logger.WithContext(context.Background(), log)

	// Job infrastructure comes first so delta writes can enqueue bucket events.
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.Queue.BufferSize, jobStore, cfg.QueueOptions())

	a, err := app.New(ctx, cfg, app.WithObserver(&jobs.BucketPublisher{Publisher: jobQueue, Timeout: 5 * time.Second}))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer a.Close()

	dispatcher := &jobs.Dispatcher{
		Transactions: a.Counters,
		Buckets:      a.Insights,
		Triggers:     a.Runner,
	}

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	log.Info().Int("workers", cfg.Queue.Workers).Msg("Starting job workers")
	if err := jobQueue.Start(workerCtx, dispatcher.Handle); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job workers")
	}

	mux := http.NewServeMux()
	handlers.NewEventsHandler(jobQueue, log).Register(mux)
	handlers.NewBucketsHandler(a.Buckets, log).Register(mux)
	handlers.NewJobsHandler(jobStore, log).Register(mux)
	mux.HandleFunc("GET /health", handlers.Health)

	// Apply middleware
	handler := middleware.Recovery(log)(
		middleware.RequestID(
			middleware.Logger(log)(
				middleware.Auth(cfg.Server.AuthToken)(mux),
			),
		),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Str("store", cfg.Store).Msg("Starting event receiver")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Drain in-flight jobs before cancelling workers
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	log.Info().Msg("Server exited")
}
