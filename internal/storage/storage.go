// Package storage defines the persistence contracts of the gateway. Only
// operational telemetry is persisted; message payloads never touch disk.
package storage

import (
	"context"
	"time"
)

// TelemetryEvent is one operational event: a session lifecycle transition, a
// transport upgrade, or a bus publish failure.
type TelemetryEvent struct {
	Timestamp time.Time
	Kind      string
	SessionID string
	Namespace string
	Detail    string
}

// TelemetryStore persists telemetry events.
type TelemetryStore interface {
	// AppendTelemetryEvent records one event.
	AppendTelemetryEvent(ctx context.Context, event TelemetryEvent) error
	// RecentTelemetryEvents returns up to limit events, newest first.
	RecentTelemetryEvents(ctx context.Context, limit int) ([]TelemetryEvent, error)
}
