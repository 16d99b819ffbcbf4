package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"charge-telemetry-alerts/internal/sink"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	createEventsSQL = `CREATE TABLE IF NOT EXISTS events (
        id          BIGSERIAL PRIMARY KEY,
        recorded_at DOUBLE PRECISION NOT NULL,
        conn_id     BIGINT NOT NULL,
        event_type  TEXT NOT NULL,
        peer        TEXT,
        error       TEXT,
        payload     JSONB,
        anomalies   JSONB,
        action      TEXT,
        created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE INDEX IF NOT EXISTS events_conn_idx ON events (conn_id, id);
    CREATE INDEX IF NOT EXISTS events_type_time_idx ON events (event_type, recorded_at);`

	insertEventSQL = `INSERT INTO events (
        recorded_at,
        conn_id,
        event_type,
        peer,
        error,
        payload,
        anomalies,
        action
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    );`

	listRecentEventsSQL = `SELECT
        id,
        recorded_at,
        conn_id,
        event_type,
        peer,
        error,
        payload,
        anomalies,
        action,
        created_at
    FROM events
    ORDER BY id DESC
    LIMIT $1;`

	listMetricsBetweenSQL = `SELECT
        id,
        recorded_at,
        conn_id,
        event_type,
        peer,
        error,
        payload,
        anomalies,
        action,
        created_at
    FROM events
    WHERE event_type = 'METRICS'
      AND recorded_at >= $1
      AND recorded_at < $2
    ORDER BY recorded_at;`

	summarizeConnectionsSQL = `SELECT
        conn_id,
        COUNT(*) FILTER (WHERE event_type = 'METRICS'),
        COUNT(*) FILTER (WHERE event_type = 'METRICS'
            AND jsonb_array_length(COALESCE(anomalies, '[]'::jsonb)) > 0),
        COALESCE(MAX((payload->>'energy_kwh')::numeric), 0)::text,
        COALESCE(MAX((payload->>'power_kw')::numeric), 0)::text
    FROM events
    GROUP BY conn_id
    ORDER BY conn_id;`

	deleteEventsBeforeSQL = `DELETE FROM events WHERE created_at < $1;`
)

// EventStore defines the query surface over the persisted event stream.
type EventStore interface {
	ListRecentEvents(ctx context.Context, limit int) ([]EventRecord, error)
	ListMetricsBetween(ctx context.Context, from, to float64) ([]EventRecord, error)
	SummarizeConnections(ctx context.Context) ([]ConnectionSummary, error)
}

// Store persists and queries protocol events. It doubles as an event
// sink so the server can mirror the JSONL log into PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store and bootstraps the schema.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, createEventsSQL); err != nil {
		return nil, fmt.Errorf("create events schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Record appends one protocol event, satisfying sink.Sink.
func (s *Store) Record(ctx context.Context, event sink.Event) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var payload any
	if len(event.Payload) > 0 {
		data, marshalErr := json.Marshal(event.Payload)
		if marshalErr != nil {
			return fmt.Errorf("marshal event payload: %w", marshalErr)
		}
		payload = data
	}

	var anomalies any
	if event.Type == sink.EventMetrics {
		if event.Anomalies == nil {
			anomalies = []byte("[]")
		} else {
			data, marshalErr := json.Marshal(event.Anomalies)
			if marshalErr != nil {
				return fmt.Errorf("marshal event anomalies: %w", marshalErr)
			}
			anomalies = data
		}
	}

	_, execErr := pool.Exec(ctx, insertEventSQL,
		event.TS,
		event.ConnID,
		event.Type,
		nullable(event.Peer),
		nullable(event.Error),
		payload,
		anomalies,
		nullable(event.Action),
	)
	if execErr != nil {
		return fmt.Errorf("insert event: %w", execErr)
	}
	return nil
}

// ListRecentEvents returns the newest events first.
func (s *Store) ListRecentEvents(ctx context.Context, limit int) ([]EventRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentEventsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent events: %w", queryErr)
	}
	defer rows.Close()

	return collectEvents(rows, limit)
}

// ListMetricsBetween returns metrics events in a receive-time window,
// oldest first.
func (s *Store) ListMetricsBetween(ctx context.Context, from, to float64) ([]EventRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listMetricsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list metrics between: %w", queryErr)
	}
	defer rows.Close()

	return collectEvents(rows, 0)
}

// SummarizeConnections aggregates metrics counts and energy totals per
// connection.
func (s *Store) SummarizeConnections(ctx context.Context) ([]ConnectionSummary, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, summarizeConnectionsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("summarize connections: %w", queryErr)
	}
	defer rows.Close()

	summaries := make([]ConnectionSummary, 0)
	for rows.Next() {
		var (
			summary   ConnectionSummary
			energyStr string
			powerStr  string
		)
		if err := rows.Scan(&summary.ConnID, &summary.MetricsCount, &summary.AnomalousCount, &energyStr, &powerStr); err != nil {
			return nil, err
		}

		energy, parseErr := decimal.NewFromString(energyStr)
		if parseErr != nil {
			return nil, fmt.Errorf("parse energy total: %w", parseErr)
		}
		power, parseErr := decimal.NewFromString(powerStr)
		if parseErr != nil {
			return nil, fmt.Errorf("parse peak power: %w", parseErr)
		}
		summary.EnergyKWh = energy
		summary.PeakPowerKW = power
		summaries = append(summaries, summary)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return summaries, nil
}

// DeleteEventsBefore prunes historical events.
func (s *Store) DeleteEventsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteEventsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete events before: %w", execErr)
	}
	return nil
}

func collectEvents(rows pgx.Rows, sizeHint int) ([]EventRecord, error) {
	records := make([]EventRecord, 0, sizeHint)
	for rows.Next() {
		record, scanErr := scanEvent(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, record)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanEvent(rows pgx.Rows) (EventRecord, error) {
	var (
		record    EventRecord
		peer      sql.NullString
		errMsg    sql.NullString
		payload   []byte
		anomalies []byte
		action    sql.NullString
	)

	if err := rows.Scan(
		&record.ID,
		&record.RecordedAt,
		&record.ConnID,
		&record.Type,
		&peer,
		&errMsg,
		&payload,
		&anomalies,
		&action,
		&record.CreatedAt,
	); err != nil {
		return EventRecord{}, err
	}

	if peer.Valid {
		v := peer.String
		record.Peer = &v
	}
	if errMsg.Valid {
		v := errMsg.String
		record.Error = &v
	}
	if action.Valid {
		v := action.String
		record.Action = &v
	}
	record.Payload = payload
	record.Anomalies = anomalies
	return record, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

var (
	_ sink.Sink  = (*Store)(nil)
	_ EventStore = (*Store)(nil)
)
