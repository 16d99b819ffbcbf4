package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.ListenAddr != "localhost:8765" {
		t.Fatalf("listen_addr %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Fatalf("shutdown_timeout %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Rules.MaxPowerKW != 22.0 || cfg.Rules.SpikeTolerance != 1.2 {
		t.Fatalf("rule defaults %+v", cfg.Rules)
	}
	if len(cfg.Rules.AllowedFirmware) != 2 {
		t.Fatalf("allowed_firmware %v", cfg.Rules.AllowedFirmware)
	}
	if cfg.Sink.EventsPath != "data/events.jsonl" {
		t.Fatalf("events_path %q", cfg.Sink.EventsPath)
	}
	if cfg.Alerting.Enabled {
		t.Fatal("alerting should default to disabled")
	}
	if cfg.Station.Interval != 2*time.Second {
		t.Fatalf("station interval %v", cfg.Station.Interval)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := strings.Join([]string{
		"server:",
		"  listen_addr: 0.0.0.0:9000",
		"rules:",
		"  max_power_kw: 50",
		"  allowed_firmware:",
		"    - 2.0.0",
		"station:",
		"  interval: 500ms",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != "0.0.0.0:9000" {
		t.Fatalf("listen_addr %q", cfg.Server.ListenAddr)
	}
	if cfg.Rules.MaxPowerKW != 50 {
		t.Fatalf("max_power_kw %v", cfg.Rules.MaxPowerKW)
	}
	if len(cfg.Rules.AllowedFirmware) != 1 || cfg.Rules.AllowedFirmware[0] != "2.0.0" {
		t.Fatalf("allowed_firmware %v", cfg.Rules.AllowedFirmware)
	}
	if cfg.Station.Interval != 500*time.Millisecond {
		t.Fatalf("station interval %v", cfg.Station.Interval)
	}
	// Defaults still apply where the file is silent.
	if cfg.Export.MaxDataPoints != 100000 {
		t.Fatalf("max_data_points %d", cfg.Export.MaxDataPoints)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		return cfg
	}

	cases := map[string]func(*Config){
		"empty listen addr":    func(c *Config) { c.Server.ListenAddr = "" },
		"empty events path":    func(c *Config) { c.Sink.EventsPath = "" },
		"zero max points":      func(c *Config) { c.Export.MaxDataPoints = 0 },
		"zero interval":        func(c *Config) { c.Station.Interval = 0 },
		"tolerance below one":  func(c *Config) { c.Rules.SpikeTolerance = 0.5 },
		"inverted voltage":     func(c *Config) { c.Rules.VoltageMin, c.Rules.VoltageMax = 260, 190 },
		"telegram no token":    func(c *Config) { c.Alerting.Telegram.Enabled = true; c.Alerting.Telegram.ChatID = "x" },
		"telegram no chat id":  func(c *Config) { c.Alerting.Telegram.Enabled = true; c.Alerting.Telegram.BotToken = "x" },
	}
	for name, mutate := range cases {
		cfg := base()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected a validation error", name)
		}
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 500}}
	if got := cfg.ResolveMaxPoints(0); got != 500 {
		t.Fatalf("default %d", got)
	}
	if got := cfg.ResolveMaxPoints(20); got != 20 {
		t.Fatalf("override %d", got)
	}
}
