package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/marketwise/signalrun/internal/domain"
)

func evaluateCmd() *cobra.Command {
	var flagTimeframe string

	cmd := &cobra.Command{
		Use:   "evaluate TICKER",
		Short: "Evaluate one ticker and print the decision as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tf, err := domain.ParseTimeframe(flagTimeframe)
			if err != nil {
				return err
			}

			rt, err := buildRuntime()
			if err != nil {
				return err
			}

			decision, err := rt.engine.Evaluate(cmd.Context(), args[0], tf)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(decision)
		},
	}

	cmd.Flags().StringVar(&flagTimeframe, "timeframe", string(domain.Timeframe1d), "bar interval (1m, 5m, 15m, 1h, 1d)")
	return cmd
}
