package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"charge-telemetry-alerts/internal/alerting"
	"charge-telemetry-alerts/internal/config"
	"charge-telemetry-alerts/internal/metrics"
	"charge-telemetry-alerts/internal/rules"
	"charge-telemetry-alerts/internal/scoring"
	"charge-telemetry-alerts/internal/server"
	"charge-telemetry-alerts/internal/sink"
	"charge-telemetry-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store, err := storage.NewStore(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	closer := func() {
		_ = store.Close()
	}
	return store, closer, nil
}

// Serve runs the telemetry-ingestion endpoint until interrupted.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	events, err := sink.NewJSONL(a.Config.Sink.EventsPath)
	if err != nil {
		return err
	}
	defer events.Close()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; event mirroring disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	var eventSink sink.Sink = events
	if store != nil {
		eventSink = sink.NewFanout(events, store)
	}

	registry := prometheus.NewRegistry()
	stats := metrics.New(registry)

	scorer := scoring.Load(a.Config.Scoring.ArtifactPath, a.Logger)
	engine := rules.NewEngine(a.Config.Rules)

	srv := server.New(server.Options{
		ListenAddr:      a.Config.Server.ListenAddr,
		Path:            a.Config.Server.Path,
		MetricsPath:     a.Config.Server.MetricsPath,
		ShutdownTimeout: a.Config.Server.ShutdownTimeout,
	}, engine, scorer, eventSink, stats, a.newNotifier(), registry, a.Logger)

	a.Logger.Info().Msg("starting telemetry endpoint")
	err = srv.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("endpoint terminated with error")
		return err
	}

	a.Logger.Info().Msg("telemetry endpoint stopped")
	return nil
}

// SimulateOptions configure a station simulation run.
type SimulateOptions struct {
	Scenario   string
	MaxSamples int
}

// PrepareOptions configure the feature-preparation job.
type PrepareOptions struct {
	SourcePath string
	OutputPath string
}

// ExportOptions hold parameters for exporting metrics history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit   int
	Summary bool
}
