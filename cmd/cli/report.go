package main

import (
	"github.com/spf13/cobra"

	"github.com/dvloznov/period-counters/internal/gcsexport"
)

func reportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report gs://BUCKET/OBJECT",
		Short: "Print a rebuild report previously uploaded with rebuild --upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			objects, err := gcsexport.NewGCSObjectStore(ctx)
			if err != nil {
				return err
			}
			defer objects.Close()

			report, err := gcsexport.NewExporter(objects, cfg.Export.GCSBucket).FetchReport(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
}
