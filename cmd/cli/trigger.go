package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dvloznov/period-counters/internal/domain"
)

func triggerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger NAME",
		Short: "Raise a manual trigger flag and run it",
		Long: `Triggers:
  generate-period-counters  rebuild every bucket of the default user
  generate-insights         regenerate insights (one bucket with --bucket, else all)
  generate-both             both of the above

The flag is reset once the run succeeds and stays raised if it fails.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(domain.TriggerGenerateCounters), string(domain.TriggerGenerateInsights), string(domain.TriggerGenerateBoth)},
		RunE:      runTrigger,
	}
	cmd.Flags().String("bucket", "", "period counter id for generate-insights")
	return cmd
}

func runTrigger(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	name := domain.TriggerName(args[0])
	if !name.Valid() {
		return fmt.Errorf("unknown trigger %q", args[0])
	}
	bucketID, _ := cmd.Flags().GetString("bucket")

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.Runner.Fire(ctx, name, bucketID)
	if err != nil {
		return fmt.Errorf("trigger %s failed: %w", name, err)
	}
	return printJSON(result)
}
