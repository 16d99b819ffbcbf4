package session

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"charge-telemetry-alerts/internal/alerting"
	"charge-telemetry-alerts/internal/protocol"
	"charge-telemetry-alerts/internal/rules"
	"charge-telemetry-alerts/internal/scoring"
	"charge-telemetry-alerts/internal/sink"
)

// scriptConn feeds a fixed sequence of inbound frames and records every
// outbound send. Run is synchronous, so no locking is needed.
type scriptConn struct {
	frames [][]byte
	next   int
	sent   []any
	closed bool
}

func (c *scriptConn) Read() ([]byte, error) {
	if c.closed || c.next >= len(c.frames) {
		return nil, io.EOF
	}
	f := c.frames[c.next]
	c.next++
	return f, nil
}

func (c *scriptConn) Send(v any) error {
	c.sent = append(c.sent, v)
	return nil
}

func (c *scriptConn) Close() error {
	c.closed = true
	return nil
}

func (c *scriptConn) RemoteAddr() string { return "192.0.2.10:51234" }

type alwaysAnomalous struct{}

func (alwaysAnomalous) Predict(map[string]float64) bool { return true }

type captureNotifier struct {
	notes chan alerting.Notification
}

func (n *captureNotifier) Notify(_ context.Context, note alerting.Notification) error {
	n.notes <- note
	return nil
}

func frame(msgType, payload string) []byte {
	return []byte(fmt.Sprintf(`{"type":%q,"payload":%s}`, msgType, payload))
}

func metricsFrame(voltage, current, power, energy float64, ts, seq int64) []byte {
	p := fmt.Sprintf(`{"voltage":%g,"current":%g,"power_kw":%g,"energy_kwh":%g,"enc":true,"ts":%d,"seq":%d}`,
		voltage, current, power, energy, ts, seq)
	return frame(protocol.TypeMetrics, p)
}

func runSession(t *testing.T, conn *scriptConn, scorer scoring.Scorer, notifier alerting.Notifier) *sink.Memory {
	t.Helper()
	events := sink.NewMemory()
	sess := New(7, conn, rules.NewEngine(rules.Limits{}), scorer, events, nil, notifier, zerolog.Nop())
	sess.Run(context.Background())
	return events
}

func eventTypes(events []sink.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func TestRunNormalCycleAcks(t *testing.T) {
	conn := &scriptConn{frames: [][]byte{
		frame(protocol.TypeAuth, `{"token":"demo-token"}`),
		frame(protocol.TypeFirmware, `{"version":"1.2.3"}`),
		frame(protocol.TypeStart, `{}`),
		metricsFrame(230, 16, 3.6, 1.0, 1000, 1),
		metricsFrame(230, 16, 3.7, 1.1, 3000, 2),
	}}

	events := runSession(t, conn, scoring.Disabled(), nil)

	if len(conn.sent) != 2 {
		t.Fatalf("expected 2 acks, got %d: %v", len(conn.sent), conn.sent)
	}
	for _, v := range conn.sent {
		ack, ok := v.(protocol.Ack)
		if !ok || !ack.OK {
			t.Fatalf("expected positive ack, got %+v", v)
		}
	}

	got := eventTypes(events.Events())
	want := []string{sink.EventConnect, sink.EventMetrics, sink.EventMetrics, sink.EventDisconnect}
	if len(got) != len(want) {
		t.Fatalf("event stream %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event stream %v, want %v", got, want)
		}
	}
	for _, e := range events.Events() {
		if e.ConnID != 7 {
			t.Fatalf("event carries conn_id %d, want 7", e.ConnID)
		}
	}
}

func TestRunPowerSpikeStopsCharge(t *testing.T) {
	conn := &scriptConn{frames: [][]byte{
		metricsFrame(230, 16, 3.6, 1.0, 1000, 1),
		metricsFrame(230, 16, 40.0, 1.1, 3000, 2),
		// Never read: the session closes after the stop command.
		metricsFrame(230, 16, 3.6, 1.2, 5000, 3),
	}}

	events := runSession(t, conn, scoring.Disabled(), nil)

	if !conn.closed {
		t.Fatal("connection should be closed after a stop command")
	}
	last := conn.sent[len(conn.sent)-1]
	cmd, ok := last.(protocol.Command)
	if !ok {
		t.Fatalf("last frame should be a command, got %+v", last)
	}
	if cmd.Cmd != protocol.CmdStopCharge || cmd.Reason != rules.CodePowerSpike {
		t.Fatalf("expected STOP_CHARGE for POWER_SPIKE, got %+v", cmd)
	}

	recorded := events.Events()
	got := eventTypes(recorded)
	want := []string{sink.EventConnect, sink.EventMetrics, sink.EventMetrics, sink.EventDisconnect}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event stream %v, want %v", got, want)
		}
	}

	stopCycle := recorded[2]
	if stopCycle.Action != sink.ActionStopCharge {
		t.Fatalf("stop cycle action %q, want STOP_CHARGE", stopCycle.Action)
	}
	if len(stopCycle.Anomalies) != 1 || stopCycle.Anomalies[0].Code != rules.CodePowerSpike {
		t.Fatalf("stop cycle anomalies %+v, want POWER_SPIKE", stopCycle.Anomalies)
	}
}

func TestRunWeakEncryptionAcksAndContinues(t *testing.T) {
	plaintext := frame(protocol.TypeMetrics,
		`{"voltage":230,"current":16,"power_kw":3.6,"energy_kwh":1.0,"enc":false,"ts":1000,"seq":1}`)
	conn := &scriptConn{frames: [][]byte{
		plaintext,
		metricsFrame(230, 16, 3.6, 1.1, 3000, 2),
	}}

	events := runSession(t, conn, scoring.Disabled(), nil)

	if conn.closed {
		t.Fatal("a LOW severity anomaly must not terminate the session")
	}
	if len(conn.sent) != 2 {
		t.Fatalf("expected 2 acks, got %d", len(conn.sent))
	}

	cycle := events.Events()[1]
	if cycle.Action != sink.ActionAck {
		t.Fatalf("action %q, want ACK", cycle.Action)
	}
	if len(cycle.Anomalies) != 1 || cycle.Anomalies[0].Code != rules.CodeWeakEncryption {
		t.Fatalf("anomalies %+v, want WEAK_ENCRYPTION", cycle.Anomalies)
	}
}

func TestRunEncryptionAnomalyOrdersFirstInStopReason(t *testing.T) {
	spikePlaintext := frame(protocol.TypeMetrics,
		`{"voltage":230,"current":16,"power_kw":40.0,"energy_kwh":1.0,"enc":false,"ts":1000,"seq":1}`)
	conn := &scriptConn{frames: [][]byte{spikePlaintext}}

	events := runSession(t, conn, scoring.Disabled(), nil)

	cmd, ok := conn.sent[len(conn.sent)-1].(protocol.Command)
	if !ok {
		t.Fatalf("expected a command, got %+v", conn.sent)
	}
	if cmd.Reason != rules.CodeWeakEncryption {
		t.Fatalf("stop reason is the first listed anomaly, got %q", cmd.Reason)
	}

	cycle := events.Events()[1]
	if len(cycle.Anomalies) != 2 ||
		cycle.Anomalies[0].Code != rules.CodeWeakEncryption ||
		cycle.Anomalies[1].Code != rules.CodePowerSpike {
		t.Fatalf("anomalies %+v, want [WEAK_ENCRYPTION POWER_SPIKE]", cycle.Anomalies)
	}
}

func TestRunInvalidFrameKeepsSessionOpen(t *testing.T) {
	conn := &scriptConn{frames: [][]byte{
		[]byte("{not json"),
		metricsFrame(230, 16, 3.6, 1.0, 1000, 1),
	}}

	events := runSession(t, conn, scoring.Disabled(), nil)

	got := eventTypes(events.Events())
	want := []string{sink.EventConnect, sink.EventError, sink.EventMetrics, sink.EventDisconnect}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event stream %v, want %v", got, want)
		}
	}
	if events.Events()[1].Error != "INVALID_JSON" {
		t.Fatalf("error code %q, want INVALID_JSON", events.Events()[1].Error)
	}
	if len(conn.sent) != 1 {
		t.Fatalf("the metrics message after the bad frame should still be acked, got %v", conn.sent)
	}
}

func TestRunStationStop(t *testing.T) {
	conn := &scriptConn{frames: [][]byte{
		frame(protocol.TypeStop, `{}`),
	}}

	events := runSession(t, conn, scoring.Disabled(), nil)

	if !conn.closed {
		t.Fatal("connection should close on station STOP")
	}
	got := eventTypes(events.Events())
	want := []string{sink.EventConnect, sink.EventStop, sink.EventDisconnect}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event stream %v, want %v", got, want)
		}
	}
}

func TestRunScorerFlagsOnlyCleanSamples(t *testing.T) {
	// The scorer claims everything is anomalous, but the plaintext sample
	// already carries a rule anomaly, so the model is not consulted there.
	plaintext := frame(protocol.TypeMetrics,
		`{"voltage":230,"current":16,"power_kw":3.6,"energy_kwh":1.0,"enc":false,"ts":1000,"seq":1}`)
	conn := &scriptConn{frames: [][]byte{
		plaintext,
		metricsFrame(230, 16, 3.7, 1.1, 3000, 2),
	}}

	events := runSession(t, conn, alwaysAnomalous{}, nil)

	recorded := events.Events()
	first, second := recorded[1], recorded[2]
	if len(first.Anomalies) != 1 || first.Anomalies[0].Code != rules.CodeWeakEncryption {
		t.Fatalf("first cycle anomalies %+v, want WEAK_ENCRYPTION only", first.Anomalies)
	}
	if len(second.Anomalies) != 1 || second.Anomalies[0].Code != rules.CodeAIDetected {
		t.Fatalf("second cycle anomalies %+v, want AI_DETECTED", second.Anomalies)
	}
	if second.Anomalies[0].Severity != rules.SeverityMedium {
		t.Fatalf("AI_DETECTED severity %q, want MEDIUM", second.Anomalies[0].Severity)
	}
	if second.Action != sink.ActionAck {
		t.Fatalf("AI_DETECTED is MEDIUM and must not stop the charge, got action %q", second.Action)
	}
}

func TestRunDisabledScorerNeverFlags(t *testing.T) {
	conn := &scriptConn{frames: [][]byte{
		metricsFrame(230, 16, 3.6, 1.0, 1000, 1),
		metricsFrame(230, 16, 3.7, 1.1, 3000, 2),
		metricsFrame(230, 16, 3.8, 1.2, 5000, 3),
	}}

	events := runSession(t, conn, scoring.Disabled(), nil)

	for _, e := range events.Events() {
		for _, a := range e.Anomalies {
			if a.Code == rules.CodeAIDetected {
				t.Fatalf("disabled scorer produced %+v", a)
			}
		}
	}
}

func TestRunStopNotifiesOperator(t *testing.T) {
	notifier := &captureNotifier{notes: make(chan alerting.Notification, 1)}
	conn := &scriptConn{frames: [][]byte{
		metricsFrame(230, 50, 3.6, 1.0, 1000, 1),
	}}

	runSession(t, conn, scoring.Disabled(), notifier)

	select {
	case note := <-notifier.notes:
		if note.Reason != rules.CodeCurrentSpike {
			t.Fatalf("notification reason %q, want CURRENT_SPIKE", note.Reason)
		}
		if note.ConnID != 7 {
			t.Fatalf("notification conn_id %d, want 7", note.ConnID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stop notification never arrived")
	}
}

func TestRunRepeatedAuthAndUnknownTypesAreHarmless(t *testing.T) {
	conn := &scriptConn{frames: [][]byte{
		frame(protocol.TypeAuth, `{"token":"demo-token"}`),
		frame(protocol.TypeAuth, `{"token":"demo-token"}`),
		frame("PING", `{}`),
		metricsFrame(230, 16, 3.6, 1.0, 1000, 1),
	}}

	events := runSession(t, conn, scoring.Disabled(), nil)

	if conn.closed {
		t.Fatal("duplicate AUTH or an unknown type must not terminate the session")
	}
	got := eventTypes(events.Events())
	want := []string{sink.EventConnect, sink.EventMetrics, sink.EventDisconnect}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event stream %v, want %v", got, want)
		}
	}
	if len(conn.sent) != 1 {
		t.Fatalf("only the metrics message is answered, got %v", conn.sent)
	}
}

func TestRunBadAuthIsLogOnly(t *testing.T) {
	conn := &scriptConn{frames: [][]byte{
		frame(protocol.TypeAuth, `{"token":""}`),
		metricsFrame(230, 16, 3.6, 1.0, 1000, 1),
	}}

	events := runSession(t, conn, scoring.Disabled(), nil)

	if conn.closed {
		t.Fatal("a rejected token must not terminate the session")
	}
	if len(conn.sent) != 1 {
		t.Fatalf("metrics after a rejected token should still be acked, got %v", conn.sent)
	}
	got := eventTypes(events.Events())
	want := []string{sink.EventConnect, sink.EventMetrics, sink.EventDisconnect}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event stream %v, want %v", got, want)
		}
	}
}
