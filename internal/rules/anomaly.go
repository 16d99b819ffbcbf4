package rules

// Severity tiers for anomalies. Only SeverityHigh triggers the stop
// protocol; the rest are informational.
const (
	SeverityLow    = "LOW"
	SeverityMedium = "MEDIUM"
	SeverityHigh   = "HIGH"
)

// Anomaly codes emitted by the rule engine.
const (
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeFirmwareMismatch   = "FIRMWARE_MISMATCH"
	CodeWeakEncryption     = "WEAK_ENCRYPTION"
	CodePowerSpike         = "POWER_SPIKE"
	CodeCurrentSpike       = "CURRENT_SPIKE"
	CodeVoltageOutOfRange  = "VOLTAGE_OUT_OF_RANGE"
	CodeNonMonotonicEnergy = "NON_MONOTONIC_ENERGY"
	CodeLatencySpike       = "LATENCY_SPIKE"
	CodeOutOfOrder         = "OUT_OF_ORDER"
	CodeAIDetected         = "AI_DETECTED"
)

// Anomaly is a single finding from an evaluation cycle. Anomalies are
// values, not persisted entities.
type Anomaly struct {
	Code     string `json:"code"`
	Severity string `json:"sev"`
	Message  string `json:"msg"`
}

// IsStop reports whether this anomaly on its own requires a stop command.
func (a Anomaly) IsStop() bool {
	return a.Severity == SeverityHigh
}
