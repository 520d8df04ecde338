package gcsexport

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

// ObjectStore reads and writes whole objects.
type ObjectStore interface {
	// Put writes data to bucket/object.
	Put(ctx context.Context, bucket, object, contentType string, data []byte) error

	// Get reads bucket/object.
	Get(ctx context.Context, bucket, object string) ([]byte, error)
}

// GCSObjectStore is the ObjectStore backed by Google Cloud Storage.
// It assumes Application Default Credentials are configured.
type GCSObjectStore struct {
	client *storage.Client
}

// NewGCSObjectStore creates a storage client.
func NewGCSObjectStore(ctx context.Context) (*GCSObjectStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGCSObjectStore: create storage client: %w", err)
	}
	return &GCSObjectStore{client: client}, nil
}

// Close closes the storage client.
func (s *GCSObjectStore) Close() error {
	return s.client.Close()
}

// Put implements ObjectStore.
func (s *GCSObjectStore) Put(ctx context.Context, bucket, object, contentType string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("Put: write gs://%s/%s: %w", bucket, object, err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("Put: finalize gs://%s/%s: %w", bucket, object, err)
	}
	return nil
}

// Get implements ObjectStore.
func (s *GCSObjectStore) Get(ctx context.Context, bucket, object string) ([]byte, error) {
	r, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("Get: open gs://%s/%s: %w", bucket, object, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("Get: read gs://%s/%s: %w", bucket, object, err)
	}
	return data, nil
}

// ParseURI splits gs://bucket/path/to/object into bucket and object.
func ParseURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// BaseName returns the object's file name, e.g. gs://b/a/r.json gives r.json.
func BaseName(uri string) string {
	_, object, err := ParseURI(uri)
	if err != nil {
		return path.Base(strings.TrimPrefix(uri, "gs://"))
	}
	return path.Base(object)
}
