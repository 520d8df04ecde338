package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/dvloznov/period-counters/internal/app"
	"github.com/dvloznov/period-counters/internal/config"
	"github.com/dvloznov/period-counters/internal/gcsexport"
	"github.com/dvloznov/period-counters/internal/infra/bigquery"
)

func openApp(ctx context.Context) (*app.App, error) {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	if cfg.Store == config.StoreMemory {
		log.Warn().Msg("Using the in-memory store; nothing will persist after this command")
	}
	return a, nil
}

func openBigQuery(ctx context.Context) (*bigquery.Exporter, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required for BigQuery (use --project or COUNTERS_PROJECT_ID)")
	}
	return bigquery.NewExporter(ctx, cfg.ProjectID, cfg.Export.BigQueryDataset)
}

// openGCS returns the exporter and a close func for its client.
func openGCS(ctx context.Context) (*gcsexport.Exporter, func() error, error) {
	if cfg.Export.GCSBucket == "" {
		return nil, nil, fmt.Errorf("export.gcs_bucket is required (set COUNTERS_EXPORT_GCS_BUCKET)")
	}
	objects, err := gcsexport.NewGCSObjectStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	return gcsexport.NewExporter(objects, cfg.Export.GCSBucket), objects.Close, nil
}

func printJSON(v any) error {
	return writeJSON(os.Stdout, v)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
