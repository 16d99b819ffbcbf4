package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"charge-telemetry-alerts/internal/app"
)

var (
	prepareSource string
	prepareOutput string
)

var prepareCmd = &cobra.Command{
	Use:   "prepare",
	Short: "Convert the event log into a training feature CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		if prepareOutput == "" {
			return errors.New("--out must be provided")
		}

		opts := app.PrepareOptions{
			SourcePath: prepareSource,
			OutputPath: prepareOutput,
		}
		return getApp().Prepare(cmd.Context(), opts)
	},
}

func init() {
	prepareCmd.Flags().StringVar(&prepareSource, "source", "", "Event log to read (defaults to sink.events_path)")
	prepareCmd.Flags().StringVar(&prepareOutput, "out", "", "Path to write the feature CSV")
}
