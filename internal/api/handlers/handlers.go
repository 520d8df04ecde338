// Package handlers receives document events over HTTP and enqueues them for the
// worker pool.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/period-counters/internal/api/middleware"
	"github.com/dvloznov/period-counters/internal/counters"
	"github.com/dvloznov/period-counters/internal/domain"
	"github.com/dvloznov/period-counters/internal/insights"
	"github.com/dvloznov/period-counters/internal/jobs"
	"github.com/dvloznov/period-counters/internal/store"
)

// maxBodyBytes bounds event request bodies.
const maxBodyBytes = 1 << 20

// transactionDocument is an income or expense document as delivered by the
// trigger runtime. Field names follow the stored documents.
type transactionDocument struct {
	UserID          string           `json:"userId"`
	DateTime        time.Time        `json:"dateTime"`
	Name            string           `json:"name"`
	TransactionName string           `json:"transactionName"`
	Amount          *decimal.Decimal `json:"amount"`
	Category        *string          `json:"category"`
	CarbonFootprint *decimal.Decimal `json:"carbonFootprint"`
	LegacyCarbon    *decimal.Decimal `json:"carbon_footprint"`
	Items           []string         `json:"items"`
}

func (d *transactionDocument) toRaw(id string, txType domain.TxType) *domain.RawTransaction {
	if d == nil {
		return nil
	}
	name := d.Name
	if txType == domain.TxTypeExpense && d.TransactionName != "" {
		name = d.TransactionName
	}
	carbon := d.CarbonFootprint
	if carbon == nil {
		carbon = d.LegacyCarbon
	}
	return &domain.RawTransaction{
		ID:              id,
		Type:            txType,
		UserID:          d.UserID,
		Timestamp:       d.DateTime,
		Name:            name,
		Amount:          d.Amount,
		Category:        d.Category,
		CarbonFootprint: carbon,
		ItemIDs:         d.Items,
	}
}

type transactionEventRequest struct {
	Operation     domain.Operation     `json:"operation"`
	TransactionID string               `json:"transactionId"`
	Before        *transactionDocument `json:"before"`
	After         *transactionDocument `json:"after"`
}

type bucketEventRequest struct {
	BucketID string         `json:"bucketId"`
	Before   *domain.Bucket `json:"before"`
	After    *domain.Bucket `json:"after"`
}

type triggerRequest struct {
	PeriodCounterID string `json:"periodCounterId"`
}

// EventsHandler accepts transaction, bucket and trigger events.
type EventsHandler struct {
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(publisher jobs.Publisher, log zerolog.Logger) *EventsHandler {
	return &EventsHandler{
		publisher: publisher,
		log:       log,
	}
}

// Register mounts the event routes on mux.
func (h *EventsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/events/period_counters", h.BucketEvent)
	mux.HandleFunc("POST /api/events/{type}", h.TransactionEvent)
	mux.HandleFunc("POST /api/triggers/{name}", h.Trigger)
}

// TransactionEvent handles POST /api/events/{income|expense}
func (h *EventsHandler) TransactionEvent(w http.ResponseWriter, r *http.Request) {
	txType := domain.TxType(r.PathValue("type"))
	if !txType.Valid() {
		middleware.WriteError(w, http.StatusNotFound, "Unknown event collection")
		return
	}

	var req transactionEventRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TransactionID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "transactionId is required")
		return
	}

	ev := counters.TransactionEvent{
		Operation:     req.Operation,
		TxType:        txType,
		TransactionID: req.TransactionID,
		Before:        req.Before.toRaw(req.TransactionID, txType),
		After:         req.After.toRaw(req.TransactionID, txType),
	}
	if _, err := ev.ResolveOperation(); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "before or after is required")
		return
	}

	h.enqueue(w, r, jobs.NewTransactionJob(ev))
}

// BucketEvent handles POST /api/events/period_counters
func (h *EventsHandler) BucketEvent(w http.ResponseWriter, r *http.Request) {
	var req bucketEventRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.BucketID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "bucketId is required")
		return
	}

	h.enqueue(w, r, jobs.NewBucketJob(insights.BucketEvent{
		BucketID: req.BucketID,
		Before:   req.Before,
		After:    req.After,
	}))
}

// Trigger handles POST /api/triggers/{name}
func (h *EventsHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	name := domain.TriggerName(r.PathValue("name"))
	if !name.Valid() {
		middleware.WriteError(w, http.StatusNotFound, "Unknown trigger")
		return
	}

	var req triggerRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}

	h.enqueue(w, r, jobs.NewTriggerJob(name, req.PeriodCounterID))
}

func (h *EventsHandler) enqueue(w http.ResponseWriter, r *http.Request, job *jobs.EventJob) {
	if err := h.publisher.Publish(r.Context(), job); err != nil {
		h.log.Error().Err(err).Str("job_type", string(job.Type)).Str("subject", job.Subject).Msg("Failed to enqueue event")
		middleware.WriteError(w, http.StatusServiceUnavailable, "Failed to enqueue event")
		return
	}

	h.log.Info().
		Str("job_id", job.JobID).
		Str("job_type", string(job.Type)).
		Str("subject", job.Subject).
		Msg("Event enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id":  job.JobID,
		"subject": job.Subject,
		"status":  string(job.Status),
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// BucketsHandler serves period bucket documents.
type BucketsHandler struct {
	buckets store.BucketStore
	log     zerolog.Logger
}

// NewBucketsHandler creates a new buckets handler.
func NewBucketsHandler(buckets store.BucketStore, log zerolog.Logger) *BucketsHandler {
	return &BucketsHandler{
		buckets: buckets,
		log:     log,
	}
}

// Register mounts the bucket routes on mux.
func (h *BucketsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/buckets/{id}", h.GetBucket)
}

// GetBucket handles GET /api/buckets/{id}
func (h *BucketsHandler) GetBucket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	b, err := h.buckets.GetBucket(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Bucket not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("bucket_id", id).Msg("Failed to get bucket")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get bucket")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, b)
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store: store,
		log:   log,
	}
}

// Register mounts the job routes on mux.
func (h *JobsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/jobs", h.ListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", h.GetJob)
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	job, err := h.store.GetJob(r.Context(), jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.JobFilter{
		Type:    jobs.JobType(query.Get("type")),
		Subject: query.Get("subject"),
		Status:  jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

// Health handles GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
