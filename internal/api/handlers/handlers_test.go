package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/period-counters/internal/domain"
	"github.com/dvloznov/period-counters/internal/jobs"
	jobsmem "github.com/dvloznov/period-counters/internal/jobs/inmemory"
	"github.com/dvloznov/period-counters/internal/store"
	"github.com/dvloznov/period-counters/internal/store/inmemory"
)

// MockPublisher records published jobs.
type MockPublisher struct {
	PublishFunc func(ctx context.Context, job *jobs.EventJob) error
	Published   []*jobs.EventJob
}

func (m *MockPublisher) Publish(ctx context.Context, job *jobs.EventJob) error {
	if m.PublishFunc != nil {
		if err := m.PublishFunc(ctx, job); err != nil {
			return err
		}
	}
	job.JobID = "job-" + job.Subject
	job.Status = jobs.JobStatusPending
	m.Published = append(m.Published, job)
	return nil
}

func (m *MockPublisher) Close() error { return nil }

func newMux(pub jobs.Publisher, buckets store.BucketStore, jobStore jobs.JobStore) *http.ServeMux {
	log := zerolog.Nop()
	mux := http.NewServeMux()
	NewEventsHandler(pub, log).Register(mux)
	NewBucketsHandler(buckets, log).Register(mux)
	NewJobsHandler(jobStore, log).Register(mux)
	mux.HandleFunc("GET /health", Health)
	return mux
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTransactionEvent(t *testing.T) {
	pub := &MockPublisher{}
	mux := newMux(pub, inmemory.NewStore(), jobsmem.NewStore())

	body := `{
		"transactionId": "e1",
		"after": {
			"userId": "u1",
			"dateTime": "2024-03-05T02:00:00Z",
			"transactionName": "Lunch",
			"carbon_footprint": 1.5,
			"items": ["i1", "i2"]
		}
	}`
	rec := do(t, mux, http.MethodPost, "/api/events/expense", body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	require.Len(t, pub.Published, 1)
	job := pub.Published[0]
	assert.Equal(t, jobs.JobTypeTransactionEvent, job.Type)
	require.NotNil(t, job.Transaction)
	assert.Equal(t, domain.TxTypeExpense, job.Transaction.TxType)
	assert.Nil(t, job.Transaction.Before)

	after := job.Transaction.After
	require.NotNil(t, after)
	assert.Equal(t, "e1", after.ID)
	assert.Equal(t, "Lunch", after.Name)
	assert.Equal(t, []string{"i1", "i2"}, after.ItemIDs)
	require.NotNil(t, after.CarbonFootprint)
	assert.True(t, after.CarbonFootprint.Equal(decimal.RequireFromString("1.5")))

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "job-e1", resp["job_id"])
}

func TestTransactionEvent_Rejections(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{name: "unknown collection", path: "/api/events/transfers", body: `{}`, want: http.StatusNotFound},
		{name: "invalid json", path: "/api/events/income", body: `{`, want: http.StatusBadRequest},
		{name: "missing id", path: "/api/events/income", body: `{"after": {}}`, want: http.StatusBadRequest},
		{name: "no data", path: "/api/events/income", body: `{"transactionId": "i1"}`, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &MockPublisher{}
			mux := newMux(pub, inmemory.NewStore(), jobsmem.NewStore())
			rec := do(t, mux, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code)
			assert.Empty(t, pub.Published)
		})
	}
}

func TestBucketEvent(t *testing.T) {
	pub := &MockPublisher{}
	mux := newMux(pub, inmemory.NewStore(), jobsmem.NewStore())

	rec := do(t, mux, http.MethodPost, "/api/events/period_counters",
		`{"bucketId": "u1_daily_2024-03-05+GMT8", "after": {"id": "u1_daily_2024-03-05+GMT8", "userId": "u1"}}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	require.Len(t, pub.Published, 1)
	job := pub.Published[0]
	assert.Equal(t, jobs.JobTypeBucketEvent, job.Type)
	assert.Nil(t, job.Bucket.Before)
	require.NotNil(t, job.Bucket.After)
	assert.Equal(t, "u1", job.Bucket.After.UserID)
}

func TestTrigger(t *testing.T) {
	pub := &MockPublisher{}
	mux := newMux(pub, inmemory.NewStore(), jobsmem.NewStore())

	rec := do(t, mux, http.MethodPost, "/api/triggers/generate-insights", `{"periodCounterId": "b1"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec = do(t, mux, http.MethodPost, "/api/triggers/generate-both", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec = do(t, mux, http.MethodPost, "/api/triggers/generate-everything", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.Len(t, pub.Published, 2)
	assert.Equal(t, domain.TriggerGenerateInsights, pub.Published[0].Trigger.Name)
	assert.Equal(t, "b1", pub.Published[0].Trigger.BucketID)
	assert.Equal(t, domain.TriggerGenerateBoth, pub.Published[1].Trigger.Name)
	assert.Empty(t, pub.Published[1].Trigger.BucketID)
}

func TestEnqueueFailure(t *testing.T) {
	pub := &MockPublisher{PublishFunc: func(ctx context.Context, job *jobs.EventJob) error {
		return errors.New("queue is closed")
	}}
	mux := newMux(pub, inmemory.NewStore(), jobsmem.NewStore())

	rec := do(t, mux, http.MethodPost, "/api/triggers/generate-period-counters", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetBucket(t *testing.T) {
	ctx := context.Background()
	buckets := inmemory.NewStore()
	b := domain.NewBucket("u1_daily_2024-03-05+GMT8", "u1", domain.Daily, "2024-03-05+GMT8")
	b.Totals.Income = decimal.NewFromInt(200)
	require.NoError(t, buckets.ReplaceBucket(ctx, b))

	mux := newMux(&MockPublisher{}, buckets, jobsmem.NewStore())

	rec := do(t, mux, http.MethodGet, "/api/buckets/u1_daily_2024-03-05+GMT8", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.Bucket
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "u1", got.UserID)
	assert.True(t, got.Totals.Income.Equal(decimal.NewFromInt(200)))

	rec = do(t, mux, http.MethodGet, "/api/buckets/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobs(t *testing.T) {
	ctx := context.Background()
	jobStore := jobsmem.NewStore()
	require.NoError(t, jobStore.SaveJob(ctx, &jobs.EventJob{JobID: "j1", Type: jobs.JobTypeTrigger, Status: jobs.JobStatusFailed}))
	require.NoError(t, jobStore.SaveJob(ctx, &jobs.EventJob{JobID: "j2", Type: jobs.JobTypeBucketEvent, Status: jobs.JobStatusCompleted}))

	mux := newMux(&MockPublisher{}, inmemory.NewStore(), jobStore)

	rec := do(t, mux, http.MethodGet, "/api/jobs?status=failed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Jobs  []jobs.EventJob `json:"jobs"`
		Count int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, "j1", list.Jobs[0].JobID)

	rec = do(t, mux, http.MethodGet, "/api/jobs/j2", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, mux, http.MethodGet, "/api/jobs/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	mux := newMux(&MockPublisher{}, inmemory.NewStore(), jobsmem.NewStore())
	rec := do(t, mux, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}
