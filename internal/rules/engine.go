package rules

import (
	"fmt"

	"charge-telemetry-alerts/internal/protocol"
)

// Limits parameterise the physical and temporal consistency rules.
type Limits struct {
	MaxPowerKW      float64  `mapstructure:"max_power_kw"`
	MaxCurrentA     float64  `mapstructure:"max_current_a"`
	SpikeTolerance  float64  `mapstructure:"spike_tolerance"`
	VoltageMin      float64  `mapstructure:"voltage_min"`
	VoltageMax      float64  `mapstructure:"voltage_max"`
	MaxGapMS        int64    `mapstructure:"max_gap_ms"`
	AllowedFirmware []string `mapstructure:"allowed_firmware"`
}

// DefaultLimits returns the nominal AC-station limits.
func DefaultLimits() Limits {
	return Limits{
		MaxPowerKW:      22.0,
		MaxCurrentA:     32.0,
		SpikeTolerance:  1.2,
		VoltageMin:      190.0,
		VoltageMax:      260.0,
		MaxGapMS:        15000,
		AllowedFirmware: []string{"1.2.3", "1.2.4"},
	}
}

// Baseline is the last known-good sample state a connection's consistency
// rules compare against. It is owned by the session and advanced only when
// a sample passes every metrics rule, so a station that keeps sending bad
// samples keeps re-triggering against the same baseline.
type Baseline struct {
	Energy      *float64
	TimestampMS *int64
	Seq         *int64
}

// Engine evaluates payloads against the configured limits. It holds no
// per-connection state of its own; one instance is shared by all sessions.
type Engine struct {
	limits   Limits
	firmware map[string]struct{}
}

// NewEngine builds an engine, filling zero-valued limits with defaults.
func NewEngine(limits Limits) *Engine {
	def := DefaultLimits()
	if limits.MaxPowerKW <= 0 {
		limits.MaxPowerKW = def.MaxPowerKW
	}
	if limits.MaxCurrentA <= 0 {
		limits.MaxCurrentA = def.MaxCurrentA
	}
	if limits.SpikeTolerance <= 0 {
		limits.SpikeTolerance = def.SpikeTolerance
	}
	if limits.VoltageMin <= 0 && limits.VoltageMax <= 0 {
		limits.VoltageMin = def.VoltageMin
		limits.VoltageMax = def.VoltageMax
	}
	if limits.MaxGapMS <= 0 {
		limits.MaxGapMS = def.MaxGapMS
	}
	if len(limits.AllowedFirmware) == 0 {
		limits.AllowedFirmware = def.AllowedFirmware
	}

	firmware := make(map[string]struct{}, len(limits.AllowedFirmware))
	for _, v := range limits.AllowedFirmware {
		firmware[v] = struct{}{}
	}
	return &Engine{limits: limits, firmware: firmware}
}

// CheckAuth accepts any non-empty token. Token cryptography is out of
// scope; this is a presence check only.
func (e *Engine) CheckAuth(p protocol.AuthPayload) (bool, *Anomaly) {
	if p.Token == "" {
		return false, &Anomaly{
			Code:     CodeUnauthorized,
			Severity: SeverityHigh,
			Message:  "authentication token missing or empty",
		}
	}
	return true, nil
}

// CheckFirmware validates the reported version against the allow-set.
func (e *Engine) CheckFirmware(p protocol.FirmwarePayload) (bool, *Anomaly) {
	if _, ok := e.firmware[p.Version]; !ok {
		return false, &Anomaly{
			Code:     CodeFirmwareMismatch,
			Severity: SeverityMedium,
			Message:  fmt.Sprintf("unexpected firmware version: %q", p.Version),
		}
	}
	return true, nil
}

// CheckEncryption flags unencrypted telemetry. It never blocks; an absent
// flag is treated as encrypted.
func (e *Engine) CheckEncryption(p protocol.MetricsPayload) []Anomaly {
	if p.Encrypted != nil && !*p.Encrypted {
		return []Anomaly{{
			Code:     CodeWeakEncryption,
			Severity: SeverityLow,
			Message:  "telemetry sent without encryption",
		}}
	}
	return nil
}

// CheckMetrics evaluates the consistency rules in fixed order and returns
// the first match only. When no rule fires, the baseline advances to this
// sample; when one fires, the baseline keeps its last known-good values.
func (e *Engine) CheckMetrics(p protocol.MetricsPayload, base *Baseline) *Anomaly {
	power := orZero(p.PowerKW)
	current := orZero(p.Current)
	voltage := orZero(p.Voltage)
	energy := orZero(p.EnergyKWh)
	ts := orZeroInt(p.TimestampMS)
	seq := orZeroInt(p.Seq)

	if power > e.limits.MaxPowerKW*e.limits.SpikeTolerance {
		return &Anomaly{
			Code:     CodePowerSpike,
			Severity: SeverityHigh,
			Message:  fmt.Sprintf("power %.2fkW above limit", power),
		}
	}
	if current > e.limits.MaxCurrentA*e.limits.SpikeTolerance {
		return &Anomaly{
			Code:     CodeCurrentSpike,
			Severity: SeverityHigh,
			Message:  fmt.Sprintf("current %.2fA above limit", current),
		}
	}
	if voltage < e.limits.VoltageMin || voltage > e.limits.VoltageMax {
		return &Anomaly{
			Code:     CodeVoltageOutOfRange,
			Severity: SeverityMedium,
			Message:  fmt.Sprintf("voltage %.2fV outside [%.1f, %.1f]", voltage, e.limits.VoltageMin, e.limits.VoltageMax),
		}
	}
	if base.Energy != nil && energy < *base.Energy-1e-6 {
		return &Anomaly{
			Code:     CodeNonMonotonicEnergy,
			Severity: SeverityHigh,
			Message:  fmt.Sprintf("energy %.3f below previous %.3f", energy, *base.Energy),
		}
	}
	if base.TimestampMS != nil && ts-*base.TimestampMS > e.limits.MaxGapMS {
		return &Anomaly{
			Code:     CodeLatencySpike,
			Severity: SeverityMedium,
			Message:  fmt.Sprintf("message gap above %dms", e.limits.MaxGapMS),
		}
	}
	if base.Seq != nil && seq != *base.Seq+1 {
		return &Anomaly{
			Code:     CodeOutOfOrder,
			Severity: SeverityMedium,
			Message:  fmt.Sprintf("sequence %d after %d", seq, *base.Seq),
		}
	}

	base.Energy = &energy
	base.TimestampMS = &ts
	base.Seq = &seq
	return nil
}

func orZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func orZeroInt(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
