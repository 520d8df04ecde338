// Package gcsexport uploads rebuild reports and bucket snapshots to Cloud Storage as JSON.
package gcsexport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dvloznov/period-counters/internal/domain"
	"github.com/dvloznov/period-counters/internal/logger"
	"github.com/dvloznov/period-counters/internal/rebuild"
)

const jsonContentType = "application/json"

// Exporter writes JSON documents under a single bucket.
type Exporter struct {
	objects ObjectStore
	bucket  string
	now     func() time.Time
}

// NewExporter creates an Exporter writing to bucket.
func NewExporter(objects ObjectStore, bucket string) *Exporter {
	return &Exporter{objects: objects, bucket: bucket, now: time.Now}
}

// UploadReport stores a rebuild report and returns its gs:// URI.
func (e *Exporter) UploadReport(ctx context.Context, report *rebuild.Report) (string, error) {
	object := fmt.Sprintf("rebuild-reports/%s/%s/%s.json",
		report.UserID, report.StartedAt.UTC().Format("2006-01-02"), report.RunID)
	return e.put(ctx, object, report)
}

// Snapshot is the uploaded form of a bucket listing.
type Snapshot struct {
	UserID     string           `json:"userId"`
	ExportedAt time.Time        `json:"exportedAt"`
	Buckets    []*domain.Bucket `json:"buckets"`
}

// UploadSnapshot stores buckets as one timestamped document and returns its gs:// URI.
func (e *Exporter) UploadSnapshot(ctx context.Context, userID string, buckets []*domain.Bucket) (string, error) {
	at := e.now().UTC()
	object := fmt.Sprintf("snapshots/%s/%s.json", userID, at.Format("20060102T150405Z"))
	return e.put(ctx, object, Snapshot{UserID: userID, ExportedAt: at, Buckets: buckets})
}

// FetchReport reads a report previously written by UploadReport.
func (e *Exporter) FetchReport(ctx context.Context, uri string) (*rebuild.Report, error) {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return nil, fmt.Errorf("FetchReport: %w", err)
	}
	data, err := e.objects.Get(ctx, bucket, object)
	if err != nil {
		return nil, fmt.Errorf("FetchReport: %w", err)
	}

	var report rebuild.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("FetchReport: decoding %s: %w", BaseName(uri), err)
	}
	return &report, nil
}

func (e *Exporter) put(ctx context.Context, object string, v any) (string, error) {
	if e.bucket == "" {
		return "", fmt.Errorf("upload %s: no GCS bucket configured", object)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("upload %s: encoding: %w", object, err)
	}
	if err := e.objects.Put(ctx, e.bucket, object, jsonContentType, data); err != nil {
		return "", fmt.Errorf("upload %s: %w", object, err)
	}

	uri := fmt.Sprintf("gs://%s/%s", e.bucket, object)
	log := logger.FromContext(ctx)
	log.Info().Str("uri", uri).Int("bytes", len(data)).Msg("Uploaded export")
	return uri, nil
}
