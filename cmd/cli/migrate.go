package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending BigQuery schema migrations",
		Long: `Migrate creates the schema_migrations table if needed and applies every
embedded migration whose version has not been recorded yet, in order.`,
		RunE: runMigrate,
	}
	cmd.Flags().String("applied-by", "counters-cli", "name recorded with each applied migration")
	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	appliedBy, _ := cmd.Flags().GetString("applied-by")

	bq, err := openBigQuery(ctx)
	if err != nil {
		return err
	}
	defer bq.Close()

	applied, err := bq.Migrate(ctx, appliedBy)
	if err != nil {
		return fmt.Errorf("migration failed after %d applied: %w", applied, err)
	}

	if applied == 0 {
		fmt.Println("✓ Database is up to date")
	} else {
		fmt.Printf("✓ Applied %d migration(s)\n", applied)
	}
	return nil
}
