package main

import (
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/spf13/cobra"
)

func rebuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Recompute every bucket of a user from source transactions",
		Long: `Rebuild walks every local date that has transactions and overwrites the
daily, weekly and monthly buckets covering it. Existing insights on rebuilt
buckets are dropped.

Examples:
  # Rebuild the default user
  counters rebuild

  # Rebuild one user and keep the report
  counters rebuild --user u1 --upload --record`,
		RunE: runRebuild,
	}

	cmd.Flags().String("user", "", "user id (default: default_user_id)")
	cmd.Flags().Bool("upload", false, "upload the report as JSON to export.gcs_bucket")
	cmd.Flags().Bool("record", false, "append the report to the BigQuery rebuild_runs table")

	return cmd
}

func runRebuild(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	userID, _ := cmd.Flags().GetString("user")
	upload, _ := cmd.Flags().GetBool("upload")
	record, _ := cmd.Flags().GetBool("record")
	if userID == "" {
		userID = cfg.DefaultUserID
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.Rebuild.RebuildAll(ctx, userID)
	if err != nil {
		return fmt.Errorf("rebuild failed: %w", err)
	}

	if upload {
		exporter, closeGCS, err := openGCS(ctx)
		if err != nil {
			return err
		}
		defer closeGCS()
		uri, err := exporter.UploadReport(ctx, report)
		if err != nil {
			return fmt.Errorf("failed to upload report: %w", err)
		}
		log.Info().Str("uri", uri).Msg("Rebuild report uploaded")
	}

	if record {
		bq, err := openBigQuery(ctx)
		if err != nil {
			return err
		}
		defer bq.Close()
		if err := bq.RecordRebuildRun(ctx, report); err != nil {
			return fmt.Errorf("failed to record rebuild run: %w", err)
		}
	}

	return printJSON(report)
}

func rebuildDateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebuild-date YYYY-MM-DD",
		Short: "Recompute the buckets covering one local (UTC+8) date",
		Args:  cobra.ExactArgs(1),
		RunE:  runRebuildDate,
	}
	cmd.Flags().String("user", "", "user id (default: default_user_id)")
	return cmd
}

func runRebuildDate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	date, err := civil.ParseDate(args[0])
	if err != nil {
		return fmt.Errorf("invalid date format (use YYYY-MM-DD): %w", err)
	}
	userID, _ := cmd.Flags().GetString("user")
	if userID == "" {
		userID = cfg.DefaultUserID
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Rebuild.RebuildDate(ctx, userID, date); err != nil {
		return fmt.Errorf("rebuild of %s failed: %w", date, err)
	}

	fmt.Printf("Rebuilt buckets for %s on %s\n", userID, date)
	return nil
}
