package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/period-counters/internal/jobs"
	"github.com/dvloznov/period-counters/internal/logger"
	"github.com/google/uuid"
)

const (
	// DefaultWorkers is the number of concurrent workers started by Start.
	DefaultWorkers = 5
	// DefaultMaxRetries is the redelivery limit of a job that sets none.
	DefaultMaxRetries = 3
	// DefaultBackoff is multiplied by the retry count before each redelivery.
	DefaultBackoff = time.Second
)

// QueueOptions tunes worker concurrency and redelivery.
type QueueOptions struct {
	Workers    int
	MaxRetries int
	Backoff    time.Duration
}

// Queue is an in-memory implementation of job publisher and consumer.
// A job whose handler fails is redelivered with linear backoff until its
// retry limit is reached, mirroring the at-least-once delivery of document
// triggers. Handlers must therefore be idempotent.
type Queue struct {
	jobChan   chan *jobs.EventJob
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.JobStore
	opts      QueueOptions
	closed    bool
}

// NewQueue creates a new in-memory job queue.
// bufferSize determines how many jobs can be queued before Publish blocks.
func NewQueue(bufferSize int, store jobs.JobStore, opts QueueOptions) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	} else if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	return &Queue{
		jobChan:   make(chan *jobs.EventJob, bufferSize),
		closeChan: make(chan struct{}),
		store:     store,
		opts:      opts,
	}
}

// Publish implements the Publisher interface.
func (q *Queue) Publish(ctx context.Context, job *jobs.EventJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return fmt.Errorf("Publish: queue is closed")
	}

	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = q.opts.MaxRetries
	}

	if q.store != nil {
		if err := q.store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("Publish: saving job: %w", err)
		}
	}

	select {
	case q.jobChan <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return fmt.Errorf("Publish: queue is closed")
	}
}

// Start implements the Consumer interface.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return fmt.Errorf("Start: queue is closed")
	}
	q.mu.RUnlock()

	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}

	return nil
}

func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case job := <-q.jobChan:
			if job == nil {
				return
			}

			q.processJob(ctx, job, handler)
		}
	}
}

// processJob executes a single job with retry logic.
func (q *Queue) processJob(ctx context.Context, job *jobs.EventJob, handler jobs.JobHandler) {
	log := logger.FromContext(ctx)

	job.Status = jobs.JobStatusRunning
	now := time.Now().UTC()
	job.StartedAt = &now

	if q.store != nil {
		_ = q.store.SaveJob(ctx, job)
	}

	err := handler(ctx, job)

	completedAt := time.Now().UTC()
	job.CompletedAt = &completedAt

	var redeliver *jobs.EventJob
	var backoff time.Duration
	if err != nil {
		job.Error = err.Error()

		if job.RetryCount < job.MaxRetries {
			job.RetryCount++
			job.Status = jobs.JobStatusRetrying

			backoff = time.Duration(job.RetryCount) * q.opts.Backoff
			log.Warn().Err(err).
				Str("job_id", job.JobID).
				Int("retry_count", job.RetryCount).
				Dur("backoff", backoff).
				Msg("Job failed, scheduling redelivery")

			// The redelivered job is a separate value; the timer never touches job.
			next := *job
			next.Status = jobs.JobStatusPending
			next.StartedAt = nil
			next.CompletedAt = nil
			redeliver = &next
		} else {
			job.Status = jobs.JobStatusFailed
			log.Error().Err(err).
				Str("job_id", job.JobID).
				Str("job_type", string(job.Type)).
				Msg("Job failed permanently")
		}
	} else {
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
	}

	if q.store != nil {
		_ = q.store.SaveJob(ctx, job)
	}

	if redeliver != nil {
		time.AfterFunc(backoff, func() {
			if err := q.Publish(ctx, redeliver); err != nil {
				log.Error().Err(err).Str("job_id", redeliver.JobID).Msg("Failed to redeliver job")
			}
		})
	}
}

// Stop implements the Consumer interface.
// It stops the queue and waits for all in-flight jobs to complete.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the Publisher interface.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
