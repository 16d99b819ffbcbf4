// Package session implements the per-connection protocol: the message
// state machine, the metrics evaluation cycle, and the stop/teardown
// decision. One Session owns one connection's state; nothing here is
// shared across connections.
package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"charge-telemetry-alerts/internal/alerting"
	"charge-telemetry-alerts/internal/features"
	"charge-telemetry-alerts/internal/metrics"
	"charge-telemetry-alerts/internal/protocol"
	"charge-telemetry-alerts/internal/rules"
	"charge-telemetry-alerts/internal/scoring"
	"charge-telemetry-alerts/internal/sink"
)

// Conn is the transport surface a session drives. The server wraps a
// websocket connection; tests supply fakes.
type Conn interface {
	// Read blocks until the next inbound frame or a terminal transport error.
	Read() ([]byte, error)
	// Send writes one outbound frame as JSON. A failed send is equivalent
	// to a closed connection.
	Send(v any) error
	Close() error
	RemoteAddr() string
}

// Session is the server-side state for one station connection.
type Session struct {
	id       int64
	conn     Conn
	engine   *rules.Engine
	scorer   scoring.Scorer
	events   sink.Sink
	stats    *metrics.Stats
	notifier alerting.Notifier
	logger   zerolog.Logger
	tracker  *features.Tracker

	authed     bool
	firmwareOK bool
	started    bool
	terminated bool
	baseline   rules.Baseline
}

// New builds a session for an accepted connection. The notifier may be
// nil when no operator channel is configured.
func New(id int64, conn Conn, engine *rules.Engine, scorer scoring.Scorer, events sink.Sink, stats *metrics.Stats, notifier alerting.Notifier, logger zerolog.Logger) *Session {
	return &Session{
		id:       id,
		conn:     conn,
		engine:   engine,
		scorer:   scorer,
		events:   events,
		stats:    stats,
		notifier: notifier,
		logger:   logger.With().Str("component", "session").Int64("conn_id", id).Logger(),
		tracker:  features.NewTracker(),
		// A station that never reports firmware is not penalised for it.
		firmwareOK: true,
	}
}

// ID returns the connection identifier.
func (s *Session) ID() int64 {
	return s.id
}

// Run drives the session until the peer disconnects, the station sends
// STOP, or the server terminates the connection after a stop command.
// Every exit path emits a terminal DISCONNECT event.
func (s *Session) Run(ctx context.Context) {
	s.logger.Info().Str("peer", s.conn.RemoteAddr()).Msg("connection accepted")
	s.record(ctx, sink.Connect(s.id, s.conn.RemoteAddr()))

	defer func() {
		s.record(ctx, sink.Disconnect(s.id))
		s.logger.Info().Msg("connection closed")
	}()

	for {
		data, err := s.conn.Read()
		if err != nil {
			if !s.terminated {
				s.logger.Debug().Err(err).Msg("transport read ended")
			}
			return
		}

		env, err := protocol.ParseEnvelope(data)
		if err != nil {
			s.logger.Warn().Msg("invalid frame received")
			s.record(ctx, sink.Error(s.id, "INVALID_JSON"))
			continue
		}

		s.stats.MessageReceived(env.Type)

		switch env.Type {
		case protocol.TypeAuth:
			s.handleAuth(env)
		case protocol.TypeFirmware:
			s.handleFirmware(env)
		case protocol.TypeStart:
			s.started = true
			s.logger.Info().Msg("session start")
		case protocol.TypeMetrics:
			if done := s.handleMetrics(ctx, env); done {
				return
			}
		case protocol.TypeStop:
			s.logger.Info().Msg("session stop by station")
			s.record(ctx, sink.Stop(s.id))
			s.terminated = true
			_ = s.conn.Close()
			return
		default:
			s.logger.Warn().Str("type", env.Type).Msg("unknown message type")
		}
	}
}

// handleAuth records the authentication outcome. The flag is informational
// only: metrics processing is deliberately not gated on it, matching the
// permissive protocol this endpoint speaks. An invalid token is logged,
// never answered with a command.
func (s *Session) handleAuth(env protocol.Envelope) {
	ok, anomaly := s.engine.CheckAuth(protocol.ParseAuth(env.Payload))
	s.authed = ok
	if anomaly != nil {
		s.stats.AnomalyDetected(anomaly.Code)
		s.logger.Warn().Str("code", anomaly.Code).Str("sev", anomaly.Severity).Msg(anomaly.Message)
	}
}

// handleFirmware mirrors handleAuth: log-only enforcement.
func (s *Session) handleFirmware(env protocol.Envelope) {
	ok, anomaly := s.engine.CheckFirmware(protocol.ParseFirmware(env.Payload))
	s.firmwareOK = ok
	if anomaly != nil {
		s.stats.AnomalyDetected(anomaly.Code)
		s.logger.Warn().Str("code", anomaly.Code).Str("sev", anomaly.Severity).Msg(anomaly.Message)
	}
}

// handleMetrics runs one evaluation cycle. It returns true when the
// session is over: either a stop command was issued or the send failed.
func (s *Session) handleMetrics(ctx context.Context, env protocol.Envelope) bool {
	payload := protocol.ParseMetrics(env.Payload)

	enriched := s.tracker.Observe(features.Reading{
		TimestampMS: payload.TimestampMS,
		PowerKW:     payload.PowerKW,
		EnergyKWh:   payload.EnergyKWh,
	})

	// Rules evaluate the raw payload; only the scorer sees the enrichment.
	anomalies := s.engine.CheckEncryption(payload)
	if a := s.engine.CheckMetrics(payload, &s.baseline); a != nil {
		anomalies = append(anomalies, *a)
	}

	if len(anomalies) == 0 && s.scorer.Predict(featureVector(payload, enriched)) {
		anomalies = append(anomalies, rules.Anomaly{
			Code:     rules.CodeAIDetected,
			Severity: rules.SeverityMedium,
			Message:  "model flagged an anomalous pattern",
		})
	}

	stop := false
	for _, a := range anomalies {
		s.stats.AnomalyDetected(a.Code)
		s.logger.Warn().Str("code", a.Code).Str("sev", a.Severity).Msg(a.Message)
		if a.IsStop() {
			stop = true
		}
	}

	action := sink.ActionAck
	if stop {
		action = sink.ActionStopCharge
	}

	// The cycle is recorded before any response goes out.
	s.record(ctx, sink.Metrics(s.id, enrichedFields(payload, enriched), anomalies, action))

	if stop {
		s.stats.StopIssued()
		s.logger.Warn().Str("reason", anomalies[0].Code).Msg("issuing stop command")
		s.notifyStop(anomalies)
		_ = s.conn.Send(protocol.NewStopCharge(anomalies[0].Code))
		// Close immediately so the station gets no window to keep
		// transmitting after being told to stop.
		s.terminated = true
		_ = s.conn.Close()
		return true
	}

	if err := s.conn.Send(protocol.NewAck()); err != nil {
		s.logger.Debug().Err(err).Msg("ack send failed")
		return true
	}

	// Previous-sample state advances only on a completed non-stop cycle.
	s.tracker.Commit()
	return false
}

// notifyStop dispatches the operator notification asynchronously so a
// slow channel never delays the stop command or the teardown.
func (s *Session) notifyStop(anomalies []rules.Anomaly) {
	if s.notifier == nil {
		return
	}
	note := alerting.Notification{
		At:        time.Now(),
		ConnID:    s.id,
		Reason:    anomalies[0].Code,
		Anomalies: anomalies,
		Peer:      s.conn.RemoteAddr(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.notifier.Notify(ctx, note); err != nil {
			s.logger.Error().Err(err).Msg("stop notification failed")
		}
	}()
}

func (s *Session) record(ctx context.Context, event sink.Event) {
	if err := s.events.Record(ctx, event); err != nil {
		s.logger.Error().Err(err).Str("event", event.Type).Msg("event sink write failed")
	}
}

// enrichedFields merges the present raw fields with the derived features.
// This is the record shape persisted for every metrics cycle.
func enrichedFields(p protocol.MetricsPayload, e features.Enriched) map[string]any {
	out := p.Fields()
	out["dt"] = e.DTValue()
	out["d_power"] = e.DPowerValue()
	out["d_energy"] = e.DEnergyValue()
	out["power_ma3"] = e.PowerMA3
	out["power_z"] = e.PowerZ
	return out
}

// featureVector flattens the enriched sample for the scorer. Absent or
// non-numeric fields coerce to zero.
func featureVector(p protocol.MetricsPayload, e features.Enriched) map[string]float64 {
	vec := map[string]float64{
		"dt":        e.DTValue(),
		"d_power":   e.DPowerValue(),
		"d_energy":  e.DEnergyValue(),
		"power_ma3": e.PowerMA3,
		"power_z":   e.PowerZ,
	}
	for name, value := range p.Fields() {
		switch v := value.(type) {
		case float64:
			vec[name] = v
		case int64:
			vec[name] = float64(v)
		case bool:
			if v {
				vec[name] = 1
			}
		}
	}
	return vec
}
