package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"charge-telemetry-alerts/internal/storage"
)

// Show prints recent events, or per-connection summaries with --summary.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show events")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Summary {
		return a.showSummary(ctx, store)
	}

	records, err := store.ListRecentEvents(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no events found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tConn\tType\tAction\tAnomalies\tError")

	for _, record := range records {
		codes := ""
		if len(record.Anomalies) > 0 {
			var anomalies []struct {
				Code string `json:"code"`
			}
			if err := json.Unmarshal(record.Anomalies, &anomalies); err == nil {
				parts := make([]string, 0, len(anomalies))
				for _, a := range anomalies {
					parts = append(parts, a.Code)
				}
				codes = strings.Join(parts, ",")
			}
		}

		action := ""
		if record.Action != nil {
			action = *record.Action
		}
		errMsg := ""
		if record.Error != nil {
			errMsg = sanitizeInline(*record.Error)
		}

		sec, frac := math.Modf(record.RecordedAt)
		at := time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC()
		fmt.Fprintf(
			writer,
			"%s\t%d\t%s\t%s\t%s\t%s\n",
			at.Format(time.RFC3339),
			record.ConnID,
			record.Type,
			action,
			codes,
			errMsg,
		)
	}

	writer.Flush()
	return nil
}

func (a *App) showSummary(ctx context.Context, store storage.EventStore) error {
	summaries, err := store.SummarizeConnections(ctx)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Fprintln(os.Stdout, "no connections found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Conn\tMetrics\tAnomalous\tEnergy (kWh)\tPeak power (kW)")
	for _, s := range summaries {
		fmt.Fprintf(
			writer,
			"%d\t%d\t%d\t%s\t%s\n",
			s.ConnID,
			s.MetricsCount,
			s.AnomalousCount,
			s.EnergyKWh.StringFixed(3),
			s.PeakPowerKW.StringFixed(2),
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

// Prune deletes persisted events older than the retention window.
func (a *App) Prune(ctx context.Context, olderThan time.Duration) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot prune events")
	}
	if closeStore != nil {
		defer closeStore()
	}

	cutoff := time.Now().Add(-olderThan)
	if err := store.DeleteEventsBefore(ctx, cutoff); err != nil {
		return err
	}
	a.Logger.Info().Time("cutoff", cutoff).Msg("pruned historical events")
	return nil
}
