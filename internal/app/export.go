package app

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"charge-telemetry-alerts/internal/storage"
)

// metricsPoint is one plotted metrics event.
type metricsPoint struct {
	At        time.Time
	ConnID    int64
	PowerKW   float64
	PowerMA3  float64
	PowerZ    float64
	Anomalies int
	Action    string
}

// Export renders stored metrics history as CSV and/or a PNG power chart.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-24 * time.Hour)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	records, err := store.ListMetricsBetween(ctx, unixSeconds(from), unixSeconds(to))
	if err != nil {
		return err
	}

	points := toPoints(records)
	if len(points) == 0 {
		a.Logger.Info().Msg("no metrics events found for export window")
		return nil
	}

	downsampled := downsamplePoints(points, opts.MaxPoints)
	a.Logger.Info().Int("total", len(points)).Int("exported", len(downsampled)).Msg("exporting metrics events")

	if opts.CSVPath != "" {
		if err := writePointsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writePointsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}
	return nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func toPoints(records []storage.EventRecord) []metricsPoint {
	points := make([]metricsPoint, 0, len(records))
	for _, record := range records {
		var payload struct {
			PowerKW  float64 `json:"power_kw"`
			PowerMA3 float64 `json:"power_ma3"`
			PowerZ   float64 `json:"power_z"`
		}
		if len(record.Payload) > 0 {
			if err := json.Unmarshal(record.Payload, &payload); err != nil {
				continue
			}
		}

		var anomalies []json.RawMessage
		if len(record.Anomalies) > 0 {
			_ = json.Unmarshal(record.Anomalies, &anomalies)
		}

		action := ""
		if record.Action != nil {
			action = *record.Action
		}

		sec, frac := math.Modf(record.RecordedAt)
		points = append(points, metricsPoint{
			At:        time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC(),
			ConnID:    record.ConnID,
			PowerKW:   payload.PowerKW,
			PowerMA3:  payload.PowerMA3,
			PowerZ:    payload.PowerZ,
			Anomalies: len(anomalies),
			Action:    action,
		})
	}
	return points
}

func downsamplePoints(points []metricsPoint, max int) []metricsPoint {
	if max <= 0 || len(points) <= max {
		return points
	}

	result := make([]metricsPoint, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writePointsCSV(path string, points []metricsPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"time", "conn_id", "power_kw", "power_ma3", "power_z", "anomalies", "action"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, p := range points {
		record := []string{
			p.At.Format(time.RFC3339),
			strconv.FormatInt(p.ConnID, 10),
			strconv.FormatFloat(p.PowerKW, 'f', 3, 64),
			strconv.FormatFloat(p.PowerMA3, 'f', 3, 64),
			strconv.FormatFloat(p.PowerZ, 'f', 3, 64),
			strconv.Itoa(p.Anomalies),
			p.Action,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	return writer.Error()
}

func writePointsPNG(path string, points []metricsPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(points))
	power := make([]float64, len(points))
	average := make([]float64, len(points))
	zscore := make([]float64, len(points))

	for i, p := range points {
		x[i] = p.At
		power[i] = p.PowerKW
		average[i] = p.PowerMA3
		zscore[i] = p.PowerZ
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Power (kW)",
			ValueFormatter: valueFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Power z-score",
			ValueFormatter: valueFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Power",
				XValues: x,
				YValues: power,
			},
			chart.TimeSeries{
				Name:    "Moving avg (3)",
				XValues: x,
				YValues: average,
			},
			chart.TimeSeries{
				Name:    "z-score",
				XValues: x,
				YValues: zscore,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
