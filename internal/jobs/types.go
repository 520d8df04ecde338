package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/period-counters/internal/counters"
	"github.com/dvloznov/period-counters/internal/domain"
	"github.com/dvloznov/period-counters/internal/insights"
)

// ErrJobNotFound is returned when a job id is unknown.
var ErrJobNotFound = errors.New("job not found")

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeTransactionEvent applies an income or expense mutation to the counters.
	JobTypeTransactionEvent JobType = "transaction_event"
	// JobTypeBucketEvent refreshes insights after a bucket mutation.
	JobTypeBucketEvent JobType = "bucket_event"
	// JobTypeTrigger runs a manual trigger command.
	JobTypeTrigger JobType = "trigger"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// EventJob is one delivery of a document event. Exactly one payload is set, matching Type.
type EventJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	Type JobType `json:"type"`

	// Subject is the transaction id, bucket id or trigger name the job is about.
	Subject string `json:"subject"`

	Transaction *counters.TransactionEvent `json:"transaction,omitempty"`
	Bucket      *insights.BucketEvent      `json:"bucket,omitempty"`
	Trigger     *TriggerRequest            `json:"trigger,omitempty"`

	// Status is the current status of the job.
	Status JobStatus `json:"status"`

	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when the job started processing.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the job completed (success or failure).
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	// RetryCount is the number of times this job has been redelivered.
	RetryCount int `json:"retry_count"`

	// MaxRetries is the maximum number of redeliveries allowed.
	MaxRetries int `json:"max_retries"`
}

// TriggerRequest raises a manual trigger flag.
type TriggerRequest struct {
	Name     domain.TriggerName `json:"name"`
	BucketID string             `json:"bucket_id,omitempty"`
}

// Job is a generic interface for all job types.
type Job interface {
	// GetID returns the unique job identifier.
	GetID() string

	// GetType returns the job type.
	GetType() JobType

	// GetStatus returns the current job status.
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *EventJob) GetID() string {
	return j.JobID
}

// GetType implements the Job interface.
func (j *EventJob) GetType() JobType {
	return j.Type
}

// GetStatus implements the Job interface.
func (j *EventJob) GetStatus() JobStatus {
	return j.Status
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	// Publish enqueues an event job.
	Publish(ctx context.Context, job *EventJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes a job. A returned error causes redelivery until MaxRetries.
type JobHandler func(ctx context.Context, job *EventJob) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *EventJob) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*EventJob, error)

	// ListJobs retrieves jobs with optional filtering, oldest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*EventJob, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	Type JobType

	Subject string

	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
