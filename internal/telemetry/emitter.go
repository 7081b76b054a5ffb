// Package telemetry records operational gateway events: session lifecycle
// transitions, transport upgrades, and bus publish failures.
package telemetry

import (
	"context"
	"log"
	"time"

	"github.com/louisbranch/undertow/internal/storage"
)

// Event kinds recorded by the gateway.
const (
	EventSessionOpened     = "session.opened"
	EventSessionClosed     = "session.closed"
	EventTransportUpgraded = "transport.upgraded"
	EventPublishFailed     = "bus.publish_failed"
)

// Emitter records telemetry events. A nil emitter or nil store is a no-op,
// so callers never need to guard their emit sites.
type Emitter struct {
	store storage.TelemetryStore
	clock func() time.Time
}

// NewEmitter creates an emitter backed by the given store.
func NewEmitter(store storage.TelemetryStore) *Emitter {
	return &Emitter{store: store, clock: time.Now}
}

// Emit records one event, filling a missing timestamp.
func (e *Emitter) Emit(ctx context.Context, event storage.TelemetryEvent) error {
	if e == nil || e.store == nil {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now()
	}
	return e.store.AppendTelemetryEvent(ctx, event)
}

// SessionOpened records a new session and its initial transport kind.
func (e *Emitter) SessionOpened(ctx context.Context, sessionID, transportKind string) {
	e.emitLogged(ctx, storage.TelemetryEvent{
		Kind:      EventSessionOpened,
		SessionID: sessionID,
		Detail:    transportKind,
	})
}

// SessionClosed records a session's end and its close reason.
func (e *Emitter) SessionClosed(ctx context.Context, sessionID, reason string) {
	e.emitLogged(ctx, storage.TelemetryEvent{
		Kind:      EventSessionClosed,
		SessionID: sessionID,
		Detail:    reason,
	})
}

// TransportUpgraded records a successful transport upgrade.
func (e *Emitter) TransportUpgraded(ctx context.Context, sessionID string) {
	e.emitLogged(ctx, storage.TelemetryEvent{
		Kind:      EventTransportUpgraded,
		SessionID: sessionID,
	})
}

// PublishFailed records a broadcast that could not reach the bus.
func (e *Emitter) PublishFailed(ctx context.Context, namespace, detail string) {
	e.emitLogged(ctx, storage.TelemetryEvent{
		Kind:      EventPublishFailed,
		Namespace: namespace,
		Detail:    detail,
	})
}

func (e *Emitter) emitLogged(ctx context.Context, event storage.TelemetryEvent) {
	if err := e.Emit(ctx, event); err != nil {
		log.Printf("telemetry: emit %s failed err=%v", event.Kind, err)
	}
}

func (e *Emitter) now() time.Time {
	if e.clock == nil {
		return time.Now().UTC()
	}
	return e.clock().UTC()
}
