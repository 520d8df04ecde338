package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dvloznov/period-counters/internal/config"
	"github.com/dvloznov/period-counters/internal/logger"
)

var (
	cfgFile string
	cfg     *config.Config
	log     zerolog.Logger

	rootCmd = &cobra.Command{
		Use:   "counters",
		Short: "Operate the period counters engine",
		Long: `counters rebuilds daily, weekly and monthly period buckets from source
transactions, regenerates their insights, fires manual triggers and exports
snapshots to BigQuery and Cloud Storage.`,
		PersistentPreRunE: initConfig,
		SilenceUsage:      true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml if present)")
	rootCmd.PersistentFlags().String("store", "", "store backend (memory, firestore)")
	rootCmd.PersistentFlags().String("project", "", "GCP project ID")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (console, json)")

	rootCmd.AddCommand(rebuildCmd())
	rootCmd.AddCommand(rebuildDateCmd())
	rootCmd.AddCommand(insightsCmd())
	rootCmd.AddCommand(triggerCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(periodCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reportCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig(cmd *cobra.Command, _ []string) error {
	v := config.New()

	flags := cmd.Root().PersistentFlags()
	bindings := map[string]string{
		"store":          "store",
		"project_id":     "project",
		"logging.level":  "log-level",
		"logging.format": "log-format",
	}
	for key, flag := range bindings {
		if f := flags.Lookup(flag); f != nil && f.Changed {
			v.Set(key, f.Value.String())
		}
	}

	if err := config.ReadFile(v, cfgFile); err != nil {
		return err
	}
	loaded, err := config.Decode(v)
	if err != nil {
		return err
	}
	cfg = loaded

	log, err = logger.NewWithConfig(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	cmd.SetContext(logger.WithContext(cmd.Context(), log))
	return nil
}
