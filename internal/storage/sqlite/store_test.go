package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/louisbranch/undertow/internal/storage"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAppendAndReadBack(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	events := []storage.TelemetryEvent{
		{Timestamp: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC), Kind: "session.opened", SessionID: "s1", Detail: "kind=polling"},
		{Timestamp: time.Date(2026, 8, 1, 10, 5, 0, 0, time.UTC), Kind: "transport.upgraded", SessionID: "s1"},
		{Timestamp: time.Date(2026, 8, 1, 10, 9, 0, 0, time.UTC), Kind: "session.closed", SessionID: "s1", Detail: "client-close"},
	}
	for _, event := range events {
		if err := s.AppendTelemetryEvent(ctx, event); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := s.RecentTelemetryEvents(ctx, 10)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("events = %d, want 3", len(got))
	}
	if got[0].Kind != "session.closed" || got[2].Kind != "session.opened" {
		t.Fatalf("unexpected order: %q first, %q last", got[0].Kind, got[2].Kind)
	}
	if !got[0].Timestamp.Equal(events[2].Timestamp) {
		t.Fatalf("timestamp = %v, want %v", got[0].Timestamp, events[2].Timestamp)
	}
}

func TestAppendFillsMissingTimestamp(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	before := time.Now().Add(-time.Second)
	if err := s.AppendTelemetryEvent(ctx, storage.TelemetryEvent{Kind: "bus.publish_failed"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := s.RecentTelemetryEvents(ctx, 1)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("events = %d, want 1", len(got))
	}
	if got[0].Timestamp.Before(before) {
		t.Fatalf("timestamp %v was not filled in", got[0].Timestamp)
	}
}

func TestRecentHonorsLimit(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := s.AppendTelemetryEvent(ctx, storage.TelemetryEvent{Kind: "session.opened"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	got, err := s.RecentTelemetryEvents(ctx, 2)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("events = %d, want 2", len(got))
	}
}
