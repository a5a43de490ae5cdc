package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"x402arcade/internal/app"
)

var (
	simulateCount       int
	simulateAmount      string
	simulateFailureRate float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Sign and settle synthetic payments against an in-memory pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateFailureRate < 0 || simulateFailureRate > 1 {
			return errors.New("--failure-rate must be within [0, 1]")
		}

		opts := app.SimulateOptions{
			Count:       simulateCount,
			Amount:      simulateAmount,
			FailureRate: simulateFailureRate,
		}
		return getApp().Simulate(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().IntVar(&simulateCount, "count", 5, "Number of payments to settle")
	simulateCmd.Flags().StringVar(&simulateAmount, "amount", "", "Payment amount in atomic units (defaults to config)")
	simulateCmd.Flags().Float64Var(&simulateFailureRate, "failure-rate", 0, "Injected broadcast failure probability")
}
