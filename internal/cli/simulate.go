package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"charge-telemetry-alerts/internal/app"
	"charge-telemetry-alerts/internal/station"
)

var (
	simulateScenario string
	simulateSamples  int
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a station simulator against the endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !station.ValidScenario(simulateScenario) {
			return fmt.Errorf("unknown scenario %q (one of: %s)", simulateScenario, strings.Join(station.Scenarios(), ", "))
		}

		opts := app.SimulateOptions{
			Scenario:   simulateScenario,
			MaxSamples: simulateSamples,
		}
		return getApp().Simulate(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateScenario, "scenario", station.ScenarioNormal, "Fault-injection scenario")
	simulateCmd.Flags().IntVar(&simulateSamples, "samples", 0, "Stop after this many metrics samples (0 = unlimited)")
}
