package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"charge-telemetry-alerts/internal/logging"
	"charge-telemetry-alerts/internal/rules"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Server   ServerConfig   `mapstructure:"server"`
	Rules    rules.Limits   `mapstructure:"rules"`
	Scoring  ScoringConfig  `mapstructure:"scoring"`
	Sink     SinkConfig     `mapstructure:"sink"`
	Database DatabaseConfig `mapstructure:"database"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Station  StationConfig  `mapstructure:"station"`
	Export   ExportConfig   `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ServerConfig governs the station-facing listener.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	Path            string        `mapstructure:"path"`
	MetricsPath     string        `mapstructure:"metrics_path"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ScoringConfig points at the frozen anomaly-scoring artifact.
type ScoringConfig struct {
	ArtifactPath string `mapstructure:"artifact_path"`
}

// SinkConfig configures the append-only event log.
type SinkConfig struct {
	EventsPath string `mapstructure:"events_path"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity for the optional
// mirrored event store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// AlertingConfig defines operator notification routing for stop commands.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram notification parameters.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// StationConfig parameterises the built-in station simulator.
type StationConfig struct {
	ServerURL       string        `mapstructure:"server_url"`
	Token           string        `mapstructure:"token"`
	FirmwareVersion string        `mapstructure:"firmware_version"`
	Interval        time.Duration `mapstructure:"interval"`
	ResponseTimeout time.Duration `mapstructure:"response_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CHARGEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "chargewatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("server.listen_addr", "localhost:8765")
	v.SetDefault("server.path", "/")
	v.SetDefault("server.metrics_path", "/metrics")
	v.SetDefault("server.shutdown_timeout", "5s")

	limits := rules.DefaultLimits()
	v.SetDefault("rules.max_power_kw", limits.MaxPowerKW)
	v.SetDefault("rules.max_current_a", limits.MaxCurrentA)
	v.SetDefault("rules.spike_tolerance", limits.SpikeTolerance)
	v.SetDefault("rules.voltage_min", limits.VoltageMin)
	v.SetDefault("rules.voltage_max", limits.VoltageMax)
	v.SetDefault("rules.max_gap_ms", limits.MaxGapMS)
	v.SetDefault("rules.allowed_firmware", limits.AllowedFirmware)

	v.SetDefault("scoring.artifact_path", "data/ai_model.json")

	v.SetDefault("sink.events_path", "data/events.jsonl")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("station.server_url", "ws://localhost:8765/")
	v.SetDefault("station.token", "demo-token")
	v.SetDefault("station.firmware_version", "1.2.3")
	v.SetDefault("station.interval", "2s")
	v.SetDefault("station.response_timeout", "5s")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr must be set")
	}
	if c.Sink.EventsPath == "" {
		return fmt.Errorf("sink.events_path must be set")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Station.Interval <= 0 {
		return fmt.Errorf("station.interval must be greater than zero")
	}
	if c.Rules.SpikeTolerance < 1 {
		return fmt.Errorf("rules.spike_tolerance must be at least 1")
	}
	if c.Rules.VoltageMin >= c.Rules.VoltageMax {
		return fmt.Errorf("rules.voltage_min must be below rules.voltage_max")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token must be set")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id must be set")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
