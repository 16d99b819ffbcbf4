// Package station implements a protocol-peer simulator: a charging
// station that authenticates, starts a session, streams metrics with
// optional fault injection, and obeys stop commands.
package station

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"charge-telemetry-alerts/internal/protocol"
)

// Fault-injection scenarios.
const (
	ScenarioNormal             = "normal"
	ScenarioPowerSpike         = "power_spike"
	ScenarioNonMonotonicEnergy = "non_monotonic_energy"
	ScenarioTimestampDrift     = "timestamp_drift"
	ScenarioWeakEncryption     = "weak_encryption"
	ScenarioUnauthorized       = "unauthorized"
	ScenarioFirmwareMismatch   = "firmware_mismatch"
)

// Scenarios lists every supported scenario name.
func Scenarios() []string {
	return []string{
		ScenarioNormal,
		ScenarioPowerSpike,
		ScenarioNonMonotonicEnergy,
		ScenarioTimestampDrift,
		ScenarioWeakEncryption,
		ScenarioUnauthorized,
		ScenarioFirmwareMismatch,
	}
}

// ValidScenario reports whether name is a known scenario.
func ValidScenario(name string) bool {
	for _, s := range Scenarios() {
		if s == name {
			return true
		}
	}
	return false
}

// Options parameterise a simulation run.
type Options struct {
	ServerURL       string
	Token           string
	FirmwareVersion string
	Interval        time.Duration
	ResponseTimeout time.Duration
	Scenario        string
	MaxSamples      int
}

// Simulator drives one station connection.
type Simulator struct {
	opts   Options
	logger zerolog.Logger
	rng    *rand.Rand
}

// New constructs a simulator.
func New(opts Options, logger zerolog.Logger) *Simulator {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = 5 * time.Second
	}
	if opts.Scenario == "" {
		opts.Scenario = ScenarioNormal
	}
	return &Simulator{
		opts:   opts,
		logger: logger.With().Str("component", "station").Str("scenario", opts.Scenario).Logger(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run connects, performs the handshake, and streams metrics until a stop
// command arrives, the sample budget runs out, or the context ends.
func (s *Simulator) Run(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.opts.ServerURL, nil)
	if err != nil {
		return fmt.Errorf("dial server: %w", err)
	}
	defer conn.Close()
	s.logger.Info().Str("url", s.opts.ServerURL).Msg("connected")

	frames := make(chan []byte, 8)
	go func() {
		defer close(frames)
		for {
			_, data, readErr := conn.ReadMessage()
			if readErr != nil {
				return
			}
			frames <- data
		}
	}()

	token := s.opts.Token
	if s.opts.Scenario == ScenarioUnauthorized {
		token = ""
	}
	firmware := s.opts.FirmwareVersion
	if s.opts.Scenario == ScenarioFirmwareMismatch {
		firmware = "0.9.0"
	}

	if err := sendEnvelope(conn, protocol.TypeAuth, map[string]any{"token": token}); err != nil {
		return err
	}
	if err := sendEnvelope(conn, protocol.TypeFirmware, map[string]any{"version": firmware}); err != nil {
		return err
	}
	if err := sendEnvelope(conn, protocol.TypeStart, map[string]any{}); err != nil {
		return err
	}

	stopped, err := s.streamMetrics(ctx, conn, frames)
	if err != nil {
		return err
	}
	if !stopped {
		if err := sendEnvelope(conn, protocol.TypeStop, map[string]any{}); err != nil {
			return err
		}
		s.logger.Info().Msg("session stopped by station")
	}
	return nil
}

func (s *Simulator) streamMetrics(ctx context.Context, conn *websocket.Conn, frames <-chan []byte) (bool, error) {
	const (
		baseVoltage = 230.0
		baseCurrent = 16.0
	)

	energy := 0.0
	seq := int64(0)

	for {
		if s.opts.MaxSamples > 0 && seq >= int64(s.opts.MaxSamples) {
			return false, nil
		}
		seq++
		ts := time.Now().UnixMilli()

		voltage := baseVoltage + s.rng.Float64()*6 - 3
		current := baseCurrent + s.rng.Float64()*3 - 1.5
		power := voltage * current / 1000.0
		if power < 0 {
			power = 0
		}

		if s.opts.Scenario == ScenarioPowerSpike && seq == 6 {
			power = 40.0
		}
		if s.opts.Scenario == ScenarioNonMonotonicEnergy && (seq == 7 || seq == 8) {
			energy -= 1.5
		} else {
			energy += power * s.opts.Interval.Seconds() / 3600.0
		}
		if s.opts.Scenario == ScenarioTimestampDrift && seq == 5 {
			ts += 30000
		}

		payload := map[string]any{
			"ts":         ts,
			"voltage":    round2(voltage),
			"current":    round2(current),
			"power_kw":   round2(power),
			"energy_kwh": round3(energy),
			"temp_c":     round1(28 + s.rng.Float64()*3 - 1),
			"enc":        s.opts.Scenario != ScenarioWeakEncryption,
			"seq":        seq,
		}
		if err := sendEnvelope(conn, protocol.TypeMetrics, payload); err != nil {
			return false, err
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return true, nil
			}
			var cmd protocol.Command
			if err := json.Unmarshal(frame, &cmd); err == nil &&
				cmd.Type == protocol.TypeCommand && cmd.Cmd == protocol.CmdStopCharge {
				s.logger.Warn().Str("reason", cmd.Reason).Msg("stop command received")
				return true, nil
			}
		case <-time.After(s.opts.ResponseTimeout):
			// No response is not fatal; keep streaming.
		}

		interval := s.opts.Interval
		if s.opts.Scenario == ScenarioTimestampDrift && seq == 4 {
			interval = 4 * s.opts.Interval
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(interval):
		}
	}
}

func sendEnvelope(conn *websocket.Conn, msgType string, payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	if err := conn.WriteJSON(protocol.Envelope{Type: msgType, Payload: raw}); err != nil {
		return fmt.Errorf("send %s: %w", msgType, err)
	}
	return nil
}

func round1(v float64) float64 { return roundTo(v, 10) }
func round2(v float64) float64 { return roundTo(v, 100) }
func round3(v float64) float64 { return roundTo(v, 1000) }

func roundTo(v float64, factor float64) float64 {
	if v >= 0 {
		return float64(int64(v*factor+0.5)) / factor
	}
	return float64(int64(v*factor-0.5)) / factor
}
