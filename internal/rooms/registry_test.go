package rooms

import (
	"sort"
	"testing"

	"github.com/louisbranch/undertow/internal/errors"
)

func sorted(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}

func TestJoinIsIdempotent(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 3; i++ {
		if err := r.Join("s1", "lobby"); err != nil {
			t.Fatalf("join: %v", err)
		}
	}
	members := r.Members("lobby")
	if len(members) != 1 || members[0] != "s1" {
		t.Fatalf("members = %v, want [s1]", members)
	}
	joined := r.Rooms("s1")
	if len(joined) != 1 || joined[0] != "lobby" {
		t.Fatalf("rooms = %v, want [lobby]", joined)
	}
}

func TestLeaveIsIdempotentAndDeletesEmptyRoom(t *testing.T) {
	r := NewRegistry()
	if err := r.Join("s1", "lobby"); err != nil {
		t.Fatalf("join: %v", err)
	}

	r.Leave("s1", "lobby")
	if r.RoomExists("lobby") {
		t.Fatal("expected lobby to be deleted after last member left")
	}

	// Leaving again must not panic or recreate the room.
	r.Leave("s1", "lobby")
	if r.RoomExists("lobby") {
		t.Fatal("expected lobby to stay deleted")
	}
}

func TestJoinValidatesInput(t *testing.T) {
	r := NewRegistry()
	if err := r.Join("s1", "  "); !errors.IsCode(err, errors.CodeRoomNameEmpty) {
		t.Fatalf("error = %v, want ROOM_NAME_EMPTY", err)
	}
	if err := r.Join("", "lobby"); !errors.IsCode(err, errors.CodeSessionNotFound) {
		t.Fatalf("error = %v, want SESSION_NOT_FOUND", err)
	}
}

func TestResolveTargetsDeduplicatesAcrossRooms(t *testing.T) {
	r := NewRegistry()
	mustJoin(t, r, "s1", "lobby")
	mustJoin(t, r, "s1", "game")
	mustJoin(t, r, "s2", "game")

	targets := r.ResolveTargets([]string{"lobby", "game"}, nil)
	if got := sorted(targets); len(got) != 2 || got[0] != "s1" || got[1] != "s2" {
		t.Fatalf("targets = %v, want [s1 s2]", got)
	}
}

func TestResolveTargetsHonorsExclusions(t *testing.T) {
	r := NewRegistry()
	mustJoin(t, r, "s1", "lobby")
	mustJoin(t, r, "s2", "lobby")

	targets := r.ResolveTargets([]string{"lobby"}, []string{"s1"})
	if len(targets) != 1 || targets[0] != "s2" {
		t.Fatalf("targets = %v, want [s2]", targets)
	}
}

func TestRemoveSessionCascades(t *testing.T) {
	r := NewRegistry()
	mustJoin(t, r, "s1", "lobby")
	mustJoin(t, r, "s1", "game")
	mustJoin(t, r, "s2", "game")

	r.RemoveSession("s1")

	if r.RoomExists("lobby") {
		t.Fatal("expected lobby deleted once its only member was removed")
	}
	if got := r.Members("game"); len(got) != 1 || got[0] != "s2" {
		t.Fatalf("game members = %v, want [s2]", got)
	}
	if got := r.Rooms("s1"); len(got) != 0 {
		t.Fatalf("rooms for removed session = %v, want none", got)
	}
	if targets := r.ResolveTargets([]string{"lobby", "game"}, nil); len(targets) != 1 || targets[0] != "s2" {
		t.Fatalf("targets = %v, want [s2]", targets)
	}
}

func TestJoinLeaveNetEffect(t *testing.T) {
	r := NewRegistry()
	ops := []struct {
		join bool
		room string
	}{
		{true, "lobby"}, {true, "lobby"}, {false, "lobby"},
		{true, "lobby"}, {false, "lobby"}, {false, "lobby"},
	}
	for _, op := range ops {
		if op.join {
			mustJoin(t, r, "s1", op.room)
		} else {
			r.Leave("s1", op.room)
		}
	}
	if r.RoomExists("lobby") {
		t.Fatal("net effect of sequence is not-a-member, room must not exist")
	}
}

func mustJoin(t *testing.T, r *Registry, sessionID, room string) {
	t.Helper()
	if err := r.Join(sessionID, room); err != nil {
		t.Fatalf("join %s -> %s: %v", sessionID, room, err)
	}
}
