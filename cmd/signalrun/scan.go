package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/marketwise/signalrun/internal/domain"
)

func scanCmd() *cobra.Command {
	var (
		flagTickers    []string
		flagTimeframe  string
		flagDirection  string
		flagBudgetSecs int
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan a ticker universe and print the ranked report as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(flagTickers) == 0 {
				return fmt.Errorf("--tickers is required")
			}
			tf, err := domain.ParseTimeframe(flagTimeframe)
			if err != nil {
				return err
			}
			direction, err := domain.ParseDirection(flagDirection)
			if err != nil {
				return err
			}

			rt, err := buildRuntime()
			if err != nil {
				return err
			}

			budget := time.Duration(flagBudgetSecs) * time.Second
			report, err := rt.scanner.Scan(cmd.Context(), flagTickers, tf, direction, budget)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}

	cmd.Flags().StringSliceVar(&flagTickers, "tickers", nil, "tickers to scan (comma separated)")
	cmd.Flags().StringVar(&flagTimeframe, "timeframe", string(domain.Timeframe1d), "bar interval (1m, 5m, 15m, 1h, 1d)")
	cmd.Flags().StringVar(&flagDirection, "direction", string(domain.DirectionAll), "filter candidates by side (long, short, all)")
	cmd.Flags().IntVar(&flagBudgetSecs, "budget-secs", 0, "wall-clock budget, 0 uses the configured default")
	return cmd
}
