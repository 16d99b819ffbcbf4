package app

import (
	"context"
	"os/signal"
	"syscall"

	"charge-telemetry-alerts/internal/prepare"
	"charge-telemetry-alerts/internal/station"
)

// Simulate runs the station simulator against the configured endpoint.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sim := station.New(station.Options{
		ServerURL:       a.Config.Station.ServerURL,
		Token:           a.Config.Station.Token,
		FirmwareVersion: a.Config.Station.FirmwareVersion,
		Interval:        a.Config.Station.Interval,
		ResponseTimeout: a.Config.Station.ResponseTimeout,
		Scenario:        opts.Scenario,
		MaxSamples:      opts.MaxSamples,
	}, a.Logger)

	return sim.Run(ctx)
}

// Prepare converts the recorded event log into a training feature CSV.
func (a *App) Prepare(_ context.Context, opts PrepareOptions) error {
	src := opts.SourcePath
	if src == "" {
		src = a.Config.Sink.EventsPath
	}

	_, err := prepare.Run(src, opts.OutputPath, a.Logger)
	return err
}
