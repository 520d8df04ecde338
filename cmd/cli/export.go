package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dvloznov/period-counters/internal/domain"
	"github.com/dvloznov/period-counters/internal/notionsync"
	"github.com/dvloznov/period-counters/internal/store"
)

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a user's buckets to BigQuery, Cloud Storage or Notion",
		Long: `Export snapshots every bucket of a user. --bigquery merges them into the
period_counter_snapshots table; --gcs writes one JSON document to
export.gcs_bucket; --notion upserts one summary row per bucket into
export.notion_database_id. With no target flag BigQuery and Cloud Storage
are written.`,
		RunE: runExport,
	}

	cmd.Flags().String("user", "", "user id (default: default_user_id)")
	cmd.Flags().String("granularity", "", "only buckets of this granularity")
	cmd.Flags().Bool("bigquery", false, "merge snapshots into BigQuery")
	cmd.Flags().Bool("gcs", false, "upload a JSON snapshot to Cloud Storage")
	cmd.Flags().Bool("notion", false, "upsert bucket summaries into a Notion database")
	cmd.Flags().Bool("dry-run", false, "with --notion, log the upserts without writing")

	return cmd
}

func runExport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	userID, _ := cmd.Flags().GetString("user")
	granularity, _ := cmd.Flags().GetString("granularity")
	toBQ, _ := cmd.Flags().GetBool("bigquery")
	toGCS, _ := cmd.Flags().GetBool("gcs")
	toNotion, _ := cmd.Flags().GetBool("notion")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	if !toBQ && !toGCS && !toNotion {
		toBQ, toGCS = true, true
	}
	if userID == "" {
		userID = cfg.DefaultUserID
	}

	filter := store.BucketFilter{UserID: userID}
	if granularity != "" {
		g, err := domain.ParseGranularity(granularity)
		if err != nil {
			return err
		}
		filter.Granularity = g
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	buckets, err := a.Buckets.ListBuckets(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to list buckets: %w", err)
	}

	summary := map[string]any{"user_id": userID, "buckets": len(buckets)}

	if toBQ {
		bq, err := openBigQuery(ctx)
		if err != nil {
			return err
		}
		defer bq.Close()
		written, err := bq.ExportBuckets(ctx, buckets)
		summary["bigquery_written"] = written
		if err != nil {
			log.Error().Err(err).Msg("BigQuery export incomplete")
			summary["bigquery_error"] = err.Error()
		}
	}

	if toGCS {
		exporter, closeGCS, err := openGCS(ctx)
		if err != nil {
			return err
		}
		defer closeGCS()
		uri, err := exporter.UploadSnapshot(ctx, userID, buckets)
		if err != nil {
			return fmt.Errorf("failed to upload snapshot: %w", err)
		}
		summary["gcs_uri"] = uri
	}

	if toNotion {
		if cfg.Export.NotionToken == "" || cfg.Export.NotionDatabaseID == "" {
			return fmt.Errorf("export.notion_token and export.notion_database_id are required for --notion")
		}
		client := notionsync.NewAPIClient(cfg.Export.NotionToken, 0)
		report, err := notionsync.SyncBuckets(ctx, client, cfg.Export.NotionDatabaseID, buckets, dryRun)
		if err != nil {
			return fmt.Errorf("failed to sync Notion: %w", err)
		}
		summary["notion"] = report
	}

	return printJSON(summary)
}
