package gcsexport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/period-counters/internal/domain"
	"github.com/dvloznov/period-counters/internal/rebuild"
)

// MockObjectStore is an in-memory ObjectStore for testing.
type MockObjectStore struct {
	PutFunc func(ctx context.Context, bucket, object, contentType string, data []byte) error
	objects map[string][]byte
}

func (m *MockObjectStore) Put(ctx context.Context, bucket, object, contentType string, data []byte) error {
	if m.PutFunc != nil {
		return m.PutFunc(ctx, bucket, object, contentType, data)
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[bucket+"/"+object] = data
	return nil
}

func (m *MockObjectStore) Get(ctx context.Context, bucket, object string) ([]byte, error) {
	data, ok := m.objects[bucket+"/"+object]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri        string
		wantBucket string
		wantObject string
		wantErr    bool
	}{
		{"gs://my-bucket/path/to/report.json", "my-bucket", "path/to/report.json", false},
		{"gs://my-bucket", "", "", true},
		{"gs://my-bucket/", "", "", true},
		{"s3://my-bucket/file.json", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, object, err := ParseURI(tt.uri)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseURI() error = %v, wantErr %v", err, tt.wantErr)
			}
			if bucket != tt.wantBucket || object != tt.wantObject {
				t.Errorf("ParseURI() = %q, %q", bucket, object)
			}
		})
	}
}

func TestBaseName(t *testing.T) {
	if got := BaseName("gs://b/rebuild-reports/u1/r.json"); got != "r.json" {
		t.Errorf("BaseName() = %q", got)
	}
}

func TestUploadAndFetchReport(t *testing.T) {
	objects := &MockObjectStore{}
	e := NewExporter(objects, "exports")
	ctx := context.Background()

	report := &rebuild.Report{RunID: "run-1", UserID: "u1", StartedAt: time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC), Processed: 4}
	uri, err := e.UploadReport(ctx, report)
	require.NoError(t, err)
	assert.Equal(t, "gs://exports/rebuild-reports/u1/2024-03-05/run-1.json", uri)

	got, err := e.FetchReport(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, 4, got.Processed)
}

func TestUploadSnapshot(t *testing.T) {
	var gotType string
	objects := &MockObjectStore{PutFunc: func(ctx context.Context, bucket, object, contentType string, data []byte) error {
		gotType = contentType
		return nil
	}}
	e := NewExporter(objects, "exports")
	e.now = func() time.Time { return time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC) }

	uri, err := e.UploadSnapshot(context.Background(), "u1", []*domain.Bucket{domain.NewBucket("b", "u1", domain.Daily, "p")})
	require.NoError(t, err)
	assert.Equal(t, "gs://exports/snapshots/u1/20240305T103000Z.json", uri)
	assert.Equal(t, "application/json", gotType)
}

func TestUploadWithoutBucket(t *testing.T) {
	e := NewExporter(&MockObjectStore{}, "")
	_, err := e.UploadReport(context.Background(), &rebuild.Report{RunID: "r"})
	assert.Error(t, err)
}
