package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"x402arcade/internal/app"
)

var (
	reportFrom    string
	reportTo      string
	reportPNGPath string
	reportCSVPath string
	reportDays    int
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Export daily settlement volume as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ReportOptions{
			PNGPath: reportPNGPath,
			CSVPath: reportCSVPath,
			Days:    reportDays,
		}

		if reportFrom != "" {
			from, err := time.Parse(time.RFC3339, reportFrom)
			if err != nil {
				return fmt.Errorf("invalid --from value: %w", err)
			}
			opts.From = &from
		}

		if reportTo != "" {
			to, err := time.Parse(time.RFC3339, reportTo)
			if err != nil {
				return fmt.Errorf("invalid --to value: %w", err)
			}
			opts.To = &to
		}

		return getApp().Report(cmd.Context(), opts)
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportFrom, "from", "", "Start timestamp (RFC3339, inclusive)")
	reportCmd.Flags().StringVar(&reportTo, "to", "", "End timestamp (RFC3339, exclusive)")
	reportCmd.Flags().StringVar(&reportPNGPath, "png", "", "Path to write PNG chart")
	reportCmd.Flags().StringVar(&reportCSVPath, "csv", "", "Path to write CSV data")
	reportCmd.Flags().IntVar(&reportDays, "days", 0, "Window size in days when --from is omitted (default 30)")
}
