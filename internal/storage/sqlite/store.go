// Package sqlite persists gateway telemetry events in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/louisbranch/undertow/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/undertow/internal/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements storage.TelemetryStore on SQLite.
type Store struct {
	db *sql.DB
}

var _ storage.TelemetryStore = (*Store)(nil)

// Open opens the database at path, creating it and applying migrations as
// needed. ":memory:" works for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlitemigrate.Apply(db, migrationsFS, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// AppendTelemetryEvent records one event.
func (s *Store) AppendTelemetryEvent(ctx context.Context, event storage.TelemetryEvent) error {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO telemetry_events (ts, kind, session_id, namespace, detail) VALUES (?, ?, ?, ?, ?)`,
		ts.UTC().UnixMilli(), event.Kind, event.SessionID, event.Namespace, event.Detail,
	)
	if err != nil {
		return fmt.Errorf("append telemetry event: %w", err)
	}
	return nil
}

// RecentTelemetryEvents returns up to limit events, newest first.
func (s *Store) RecentTelemetryEvents(ctx context.Context, limit int) ([]storage.TelemetryEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, kind, session_id, namespace, detail FROM telemetry_events ORDER BY ts DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query telemetry events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []storage.TelemetryEvent
	for rows.Next() {
		var event storage.TelemetryEvent
		var ts int64
		if err := rows.Scan(&ts, &event.Kind, &event.SessionID, &event.Namespace, &event.Detail); err != nil {
			return nil, fmt.Errorf("scan telemetry event: %w", err)
		}
		event.Timestamp = time.UnixMilli(ts).UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate telemetry events: %w", err)
	}
	return events, nil
}
