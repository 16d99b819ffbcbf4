// Package sink defines the append-only protocol event log and its
// implementations. The event stream is the system's only persisted record
// of what each connection did and why.
package sink

import (
	"context"
	"time"

	"charge-telemetry-alerts/internal/rules"
)

// Event types recorded to the sink.
const (
	EventConnect    = "CONNECT"
	EventError      = "ERROR"
	EventMetrics    = "METRICS"
	EventStop       = "STOP"
	EventDisconnect = "DISCONNECT"
)

// Actions recorded on METRICS events.
const (
	ActionAck        = "ACK"
	ActionStopCharge = "STOP_CHARGE"
)

// Event is one append-only record: receive time, connection, event type,
// and the type-specific fields. Records are never rewritten.
type Event struct {
	TS        float64         `json:"ts"`
	ConnID    int64           `json:"conn_id"`
	Type      string          `json:"type"`
	Peer      string          `json:"peer,omitempty"`
	Error     string          `json:"error,omitempty"`
	Payload   map[string]any  `json:"payload,omitempty"`
	Anomalies []rules.Anomaly `json:"anomalies,omitempty"`
	Action    string          `json:"action,omitempty"`
}

// Sink appends protocol events. Writes are best-effort from the session's
// point of view: a failure is logged by the caller and never ends the
// session.
type Sink interface {
	Record(ctx context.Context, event Event) error
	Close() error
}

func now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// Connect records a newly accepted connection.
func Connect(connID int64, peer string) Event {
	return Event{TS: now(), ConnID: connID, Type: EventConnect, Peer: peer}
}

// Error records a recoverable protocol-input error.
func Error(connID int64, code string) Event {
	return Event{TS: now(), ConnID: connID, Type: EventError, Error: code}
}

// Metrics records one full evaluation cycle: the enriched payload, every
// anomaly found, and the action taken.
func Metrics(connID int64, payload map[string]any, anomalies []rules.Anomaly, action string) Event {
	return Event{TS: now(), ConnID: connID, Type: EventMetrics, Payload: payload, Anomalies: anomalies, Action: action}
}

// Stop records a station-initiated session stop.
func Stop(connID int64) Event {
	return Event{TS: now(), ConnID: connID, Type: EventStop}
}

// Disconnect records session termination. Every termination path emits
// exactly one of these.
func Disconnect(connID int64) Event {
	return Event{TS: now(), ConnID: connID, Type: EventDisconnect}
}
