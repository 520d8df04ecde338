package main

import (
	"github.com/spf13/cobra"

	"github.com/dvloznov/period-counters/internal/domain"
	"github.com/dvloznov/period-counters/internal/store"
)

func insightsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "insights",
		Short: "Generate insights for one bucket or regenerate stale ones in bulk",
		Long: `With --bucket, insights for that bucket are regenerated regardless of age.
Without it, every matching bucket whose insights are older than the freshness
window is regenerated, pacing model calls.

Examples:
  counters insights --bucket default_user_daily_2024-03-05+GMT8
  counters insights --user u1 --granularity monthly`,
		RunE: runInsights,
	}

	cmd.Flags().String("bucket", "", "bucket document id")
	cmd.Flags().String("user", "", "only buckets of this user")
	cmd.Flags().String("granularity", "", "only buckets of this granularity (daily, weekly, monthly)")
	cmd.Flags().Int("limit", 0, "maximum number of buckets to visit")

	return cmd
}

func runInsights(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	bucketID, _ := cmd.Flags().GetString("bucket")
	userID, _ := cmd.Flags().GetString("user")
	granularity, _ := cmd.Flags().GetString("granularity")
	limit, _ := cmd.Flags().GetInt("limit")

	var g domain.Granularity
	if granularity != "" {
		parsed, err := domain.ParseGranularity(granularity)
		if err != nil {
			return err
		}
		g = parsed
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if bucketID != "" {
		payload, err := a.Insights.GenerateForBucket(ctx, bucketID)
		if err != nil {
			return err
		}
		return printJSON(payload)
	}

	report, err := a.Insights.RegenerateAll(ctx, store.BucketFilter{UserID: userID, Granularity: g, Limit: limit})
	if err != nil {
		return err
	}
	return printJSON(report)
}
