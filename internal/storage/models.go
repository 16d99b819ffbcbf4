package storage

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// EventRecord is a persisted protocol event row. Payload and Anomalies
// keep the sink's JSON shapes verbatim.
type EventRecord struct {
	ID         int64
	RecordedAt float64
	ConnID     int64
	Type       string
	Peer       *string
	Error      *string
	Payload    json.RawMessage
	Anomalies  json.RawMessage
	Action     *string
	CreatedAt  time.Time
}

// ConnectionSummary aggregates one connection's metrics history. Energy
// figures stay exact through decimal arithmetic.
type ConnectionSummary struct {
	ConnID         int64
	MetricsCount   int64
	AnomalousCount int64
	EnergyKWh      decimal.Decimal
	PeakPowerKW    decimal.Decimal
}
