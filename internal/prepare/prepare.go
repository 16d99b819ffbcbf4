// Package prepare turns the recorded event stream into a training CSV:
// metrics rows per connection, re-enriched with the same derived features
// the online path computes, labelled by the anomaly codes found at ingest
// time. Unlike the online path, every row's previous-sample state is
// committed unconditionally.
package prepare

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/rs/zerolog"

	"charge-telemetry-alerts/internal/features"
	"charge-telemetry-alerts/internal/sink"
)

// Row is one training sample.
type Row struct {
	TSServer  float64
	TSMillis  int64
	ConnID    int64
	Voltage   float64
	Current   float64
	PowerKW   float64
	EnergyKWh float64
	TempC     float64
	Enc       int
	Seq       int64
	DT        *float64
	DPower    *float64
	DEnergy   *float64
	PowerMA3  float64
	PowerZ    float64
	Label     string
	Codes     string
}

var csvHeader = []string{
	"ts_server", "ts_ms", "conn_id", "voltage", "current", "power_kw", "energy_kwh",
	"temp_c", "enc", "seq", "dt", "d_power", "d_energy", "power_ma3", "power_z",
	"label", "codes",
}

// Run reads the JSONL event log and writes the feature CSV, returning the
// number of rows produced.
func Run(srcPath, dstPath string, logger zerolog.Logger) (int, error) {
	log := logger.With().Str("component", "prepare").Logger()

	events, skipped, err := ReadEvents(srcPath)
	if err != nil {
		return 0, err
	}
	if skipped > 0 {
		log.Warn().Int("lines", skipped).Msg("skipped unparseable event lines")
	}

	rows := BuildRows(events)
	if err := WriteCSV(dstPath, rows); err != nil {
		return 0, err
	}

	log.Info().Int("rows", len(rows)).Str("dst", dstPath).Msg("feature CSV written")
	return len(rows), nil
}

// ReadEvents scans a JSONL event log leniently: unparseable lines are
// counted and skipped, never fatal.
func ReadEvents(path string) ([]sink.Event, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open event log: %w", err)
	}
	defer file.Close()

	var (
		events  []sink.Event
		skipped int
	)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event sink.Event
		if err := json.Unmarshal(line, &event); err != nil {
			skipped++
			continue
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, skipped, fmt.Errorf("scan event log: %w", err)
	}
	return events, skipped, nil
}

// BuildRows filters metrics events with a complete raw field set, orders
// them per connection by (station timestamp, sequence), and recomputes
// the derived features.
func BuildRows(events []sink.Event) []Row {
	grouped := make(map[int64][]Row)
	connOrder := make([]int64, 0)

	for _, event := range events {
		if event.Type != sink.EventMetrics {
			continue
		}
		row, ok := rawRow(event)
		if !ok {
			continue
		}
		if _, seen := grouped[event.ConnID]; !seen {
			connOrder = append(connOrder, event.ConnID)
		}
		grouped[event.ConnID] = append(grouped[event.ConnID], row)
	}

	sort.Slice(connOrder, func(i, j int) bool { return connOrder[i] < connOrder[j] })

	var rows []Row
	for _, connID := range connOrder {
		group := grouped[connID]
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].TSMillis != group[j].TSMillis {
				return group[i].TSMillis < group[j].TSMillis
			}
			return group[i].Seq < group[j].Seq
		})

		tracker := features.NewTracker()
		for _, row := range group {
			ts := row.TSMillis
			power := row.PowerKW
			energy := row.EnergyKWh
			enriched := tracker.Observe(features.Reading{
				TimestampMS: &ts,
				PowerKW:     &power,
				EnergyKWh:   &energy,
			})
			tracker.Commit()

			if enriched.DTms != nil {
				dt := float64(*enriched.DTms)
				row.DT = &dt
			}
			row.DPower = enriched.DPower
			row.DEnergy = enriched.DEnergy
			row.PowerMA3 = enriched.PowerMA3
			row.PowerZ = enriched.PowerZ
			rows = append(rows, row)
		}
	}
	return rows
}

// WriteCSV renders rows with the fixed training header. Absent deltas
// become empty cells.
func WriteCSV(path string, rows []Row) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create feature csv: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	for _, row := range rows {
		record := []string{
			formatFloat(row.TSServer),
			strconv.FormatInt(row.TSMillis, 10),
			strconv.FormatInt(row.ConnID, 10),
			formatFloat(row.Voltage),
			formatFloat(row.Current),
			formatFloat(row.PowerKW),
			formatFloat(row.EnergyKWh),
			formatFloat(row.TempC),
			strconv.Itoa(row.Enc),
			strconv.FormatInt(row.Seq, 10),
			formatOptional(row.DT),
			formatOptional(row.DPower),
			formatOptional(row.DEnergy),
			formatFloat(row.PowerMA3),
			formatFloat(row.PowerZ),
			row.Label,
			row.Codes,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	return writer.Error()
}

// rawRow extracts the raw sample fields from a metrics event. Rows with
// an incomplete field set are not usable for training.
func rawRow(event sink.Event) (Row, bool) {
	p := event.Payload

	voltage, ok1 := numField(p, "voltage")
	current, ok2 := numField(p, "current")
	power, ok3 := numField(p, "power_kw")
	energy, ok4 := numField(p, "energy_kwh")
	temp, ok5 := numField(p, "temp_c")
	ts, ok6 := numField(p, "ts")
	seq, ok7 := numField(p, "seq")
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7) {
		return Row{}, false
	}

	enc := 0
	if v, ok := p["enc"].(bool); ok && v {
		enc = 1
	}

	codes := ""
	for _, a := range event.Anomalies {
		if codes != "" {
			codes += ","
		}
		codes += a.Code
	}
	label := "NORMAL"
	if codes != "" {
		label = "ANOMALY"
	}

	return Row{
		TSServer:  event.TS,
		TSMillis:  int64(ts),
		ConnID:    event.ConnID,
		Voltage:   voltage,
		Current:   current,
		PowerKW:   power,
		EnergyKWh: energy,
		TempC:     temp,
		Enc:       enc,
		Seq:       int64(seq),
		Label:     label,
		Codes:     codes,
	}, true
}

func numField(p map[string]any, key string) (float64, bool) {
	v, ok := p[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}
