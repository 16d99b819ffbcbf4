package protocol

import (
	"encoding/json"
	"testing"
)

func TestParseMetricsCoercion(t *testing.T) {
	raw := json.RawMessage(`{
		"voltage": "231.5",
		"current": 16,
		"power_kw": true,
		"energy_kwh": "garbage",
		"enc": 0,
		"ts": "2000",
		"seq": 3.9
	}`)

	p := ParseMetrics(raw)

	if p.Voltage == nil || *p.Voltage != 231.5 {
		t.Fatalf("numeric string should coerce, got %v", p.Voltage)
	}
	if p.Current == nil || *p.Current != 16 {
		t.Fatalf("number should pass through, got %v", p.Current)
	}
	if p.PowerKW == nil || *p.PowerKW != 1 {
		t.Fatalf("true should coerce to 1, got %v", p.PowerKW)
	}
	if p.EnergyKWh != nil {
		t.Fatalf("non-numeric string should be treated as absent, got %v", *p.EnergyKWh)
	}
	if p.Encrypted == nil || *p.Encrypted {
		t.Fatalf("0 should coerce to false, got %v", p.Encrypted)
	}
	if p.TimestampMS == nil || *p.TimestampMS != 2000 {
		t.Fatalf("integer string should coerce, got %v", p.TimestampMS)
	}
	if p.Seq == nil || *p.Seq != 3 {
		t.Fatalf("fractional number should truncate, got %v", p.Seq)
	}
}

func TestParseMetricsEmptyPayload(t *testing.T) {
	for _, raw := range []json.RawMessage{nil, json.RawMessage(`{}`), json.RawMessage(`null`)} {
		p := ParseMetrics(raw)
		if p.Voltage != nil || p.Encrypted != nil || p.Seq != nil {
			t.Fatalf("all fields should be absent for %q, got %+v", raw, p)
		}
		if got := p.Fields(); len(got) != 0 {
			t.Fatalf("Fields for %q should be empty, got %v", raw, got)
		}
	}
}

func TestFieldsKeepsOnlyPresent(t *testing.T) {
	p := ParseMetrics(json.RawMessage(`{"power_kw": 3.6, "enc": false, "seq": 4}`))
	fields := p.Fields()

	if len(fields) != 3 {
		t.Fatalf("expected 3 fields, got %v", fields)
	}
	if fields["power_kw"] != 3.6 {
		t.Fatalf("power_kw = %v", fields["power_kw"])
	}
	if fields["enc"] != false {
		t.Fatalf("enc = %v", fields["enc"])
	}
	if fields["seq"] != int64(4) {
		t.Fatalf("seq = %v", fields["seq"])
	}
	if _, ok := fields["voltage"]; ok {
		t.Fatal("absent voltage should not appear")
	}
}

func TestParseAuthAndFirmware(t *testing.T) {
	if got := ParseAuth(json.RawMessage(`{"token":"abc"}`)).Token; got != "abc" {
		t.Fatalf("token %q", got)
	}
	if got := ParseAuth(nil).Token; got != "" {
		t.Fatalf("missing payload should yield empty token, got %q", got)
	}
	if got := ParseFirmware(json.RawMessage(`{"version":"1.2.3"}`)).Version; got != "1.2.3" {
		t.Fatalf("version %q", got)
	}
}

func TestParseEnvelope(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"type":"METRICS","payload":{"seq":1}}`))
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if env.Type != TypeMetrics {
		t.Fatalf("type %q", env.Type)
	}

	if _, err := ParseEnvelope([]byte("{truncated")); err == nil {
		t.Fatal("expected an error for malformed input")
	}
}
