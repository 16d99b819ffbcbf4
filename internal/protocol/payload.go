package protocol

import (
	"encoding/json"
	"strconv"
)

// AuthPayload carries the station's authentication token.
type AuthPayload struct {
	Token string `json:"token"`
}

// FirmwarePayload reports the station's firmware version.
type FirmwarePayload struct {
	Version string `json:"version"`
}

// MetricsPayload is one telemetry sample. Fields are pointers because a
// station may omit values or send garbage; anything that does not coerce
// to the expected type is treated as absent rather than failing the frame.
type MetricsPayload struct {
	Voltage     *float64
	Current     *float64
	PowerKW     *float64
	EnergyKWh   *float64
	TempC       *float64
	Encrypted   *bool
	TimestampMS *int64
	Seq         *int64
}

// ParseAuth decodes an AUTH payload. A null or missing token decodes to
// the empty string.
func ParseAuth(raw json.RawMessage) AuthPayload {
	var p AuthPayload
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &p)
	}
	return p
}

// ParseFirmware decodes a FIRMWARE payload.
func ParseFirmware(raw json.RawMessage) FirmwarePayload {
	var p FirmwarePayload
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &p)
	}
	return p
}

// ParseMetrics decodes a METRICS payload with lenient per-field coercion.
func ParseMetrics(raw json.RawMessage) MetricsPayload {
	var fields map[string]any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &fields)
	}

	var p MetricsPayload
	p.Voltage = coerceFloat(fields["voltage"])
	p.Current = coerceFloat(fields["current"])
	p.PowerKW = coerceFloat(fields["power_kw"])
	p.EnergyKWh = coerceFloat(fields["energy_kwh"])
	p.TempC = coerceFloat(fields["temp_c"])
	p.Encrypted = coerceBool(fields["enc"])
	p.TimestampMS = coerceInt(fields["ts"])
	p.Seq = coerceInt(fields["seq"])
	return p
}

// Fields returns the sample as a flat map holding only the fields that
// were present, keyed by their wire names. Derived features are merged on
// top of this map before the record reaches the event sink or the scorer.
func (p MetricsPayload) Fields() map[string]any {
	out := make(map[string]any, 8)
	if p.Voltage != nil {
		out["voltage"] = *p.Voltage
	}
	if p.Current != nil {
		out["current"] = *p.Current
	}
	if p.PowerKW != nil {
		out["power_kw"] = *p.PowerKW
	}
	if p.EnergyKWh != nil {
		out["energy_kwh"] = *p.EnergyKWh
	}
	if p.TempC != nil {
		out["temp_c"] = *p.TempC
	}
	if p.Encrypted != nil {
		out["enc"] = *p.Encrypted
	}
	if p.TimestampMS != nil {
		out["ts"] = *p.TimestampMS
	}
	if p.Seq != nil {
		out["seq"] = *p.Seq
	}
	return out
}

func coerceFloat(v any) *float64 {
	switch t := v.(type) {
	case float64:
		return &t
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return &f
		}
	case bool:
		f := 0.0
		if t {
			f = 1.0
		}
		return &f
	}
	return nil
}

func coerceInt(v any) *int64 {
	switch t := v.(type) {
	case float64:
		i := int64(t)
		return &i
	case string:
		if i, err := strconv.ParseInt(t, 10, 64); err == nil {
			return &i
		}
	}
	return nil
}

func coerceBool(v any) *bool {
	switch t := v.(type) {
	case bool:
		return &t
	case float64:
		b := t != 0
		return &b
	}
	return nil
}
