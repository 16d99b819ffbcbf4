package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"charge-telemetry-alerts/internal/app"
)

var (
	showLimit   int
	showSummary bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent protocol events",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:   showLimit,
			Summary: showSummary,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of events to display")
	showCmd.Flags().BoolVar(&showSummary, "summary", false, "Show per-connection summaries instead of events")
}
