package protocol

import (
	"encoding/json"
	"fmt"
)

// Message types a station may send over the session transport.
const (
	TypeAuth     = "AUTH"
	TypeFirmware = "FIRMWARE"
	TypeStart    = "START"
	TypeMetrics  = "METRICS"
	TypeStop     = "STOP"
)

// Outbound frame types.
const (
	TypeAck     = "ACK"
	TypeCommand = "CMD"
)

// CmdStopCharge instructs the station to stop charging immediately.
const CmdStopCharge = "STOP_CHARGE"

// Envelope is the line-delimited wire frame: a type tag plus a
// type-specific payload object.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Ack acknowledges a processed message.
type Ack struct {
	Type string `json:"type"`
	OK   bool   `json:"ok"`
}

// Command is a server-issued instruction to the station.
type Command struct {
	Type   string `json:"type"`
	Cmd    string `json:"cmd"`
	Reason string `json:"reason"`
}

// NewAck builds the standard positive acknowledgement frame.
func NewAck() Ack {
	return Ack{Type: TypeAck, OK: true}
}

// NewStopCharge builds a STOP_CHARGE command carrying the anomaly code
// that triggered it.
func NewStopCharge(reason string) Command {
	return Command{Type: TypeCommand, Cmd: CmdStopCharge, Reason: reason}
}

// ParseEnvelope decodes a raw inbound frame. A decode failure means the
// frame was not valid JSON or not shaped like an envelope.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("parse envelope: %w", err)
	}
	return env, nil
}
