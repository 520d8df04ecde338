package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dvloznov/period-counters/internal/domain"
	"github.com/dvloznov/period-counters/internal/period"
)

type periodLine struct {
	Granularity domain.Granularity `json:"granularity"`
	PeriodID    string             `json:"periodId"`
	DocID       string             `json:"docId"`
	Previous    string             `json:"previous"`
	Start       time.Time          `json:"start"`
	End         time.Time          `json:"end"`
}

func periodCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "period [RFC3339 timestamp]",
		Short: "Print the period ids and UTC ranges covering a timestamp",
		Long: `Period prints the daily, weekly and monthly ids (UTC+8 calendar) of the
given instant, or of now when omitted.

Example:
  counters period 2024-03-04T16:30:00Z`,
		Args: cobra.MaximumNArgs(1),
		RunE: runPeriod,
	}
	cmd.Flags().String("user", "", "user id used for document ids (default: default_user_id)")
	return cmd
}

func runPeriod(cmd *cobra.Command, args []string) error {
	at := time.Now()
	if len(args) == 1 {
		parsed, err := time.Parse(time.RFC3339, args[0])
		if err != nil {
			return fmt.Errorf("invalid timestamp (use RFC3339): %w", err)
		}
		at = parsed
	}
	userID, _ := cmd.Flags().GetString("user")
	if userID == "" {
		userID = cfg.DefaultUserID
	}

	lines, err := describePeriods(at, userID)
	if err != nil {
		return err
	}
	return printJSON(lines)
}

func describePeriods(at time.Time, userID string) ([]periodLine, error) {
	lines := make([]periodLine, 0, len(domain.Granularities))
	for _, g := range domain.Granularities {
		id := period.ID(at, g)
		prev, err := period.Previous(g, id)
		if err != nil {
			return nil, fmt.Errorf("describePeriods: %w", err)
		}
		start, end := period.Range(at, g)
		lines = append(lines, periodLine{
			Granularity: g,
			PeriodID:    id,
			DocID:       period.DocID(userID, g, id),
			Previous:    prev,
			Start:       start.UTC(),
			End:         end.UTC(),
		})
	}
	return lines, nil
}
