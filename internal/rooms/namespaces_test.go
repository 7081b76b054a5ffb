package rooms

import (
	"sync"
	"testing"

	"github.com/louisbranch/undertow/internal/errors"
)

func TestEnsureCreatesOnce(t *testing.T) {
	table := NewTable()
	a := table.Ensure("chat")
	b := table.Ensure("chat")
	if a != b {
		t.Fatal("expected the same namespace instance")
	}
	if a.Name() != "chat" {
		t.Fatalf("name = %q, want %q", a.Name(), "chat")
	}
}

func TestEnsureDefaultsEmptyName(t *testing.T) {
	table := NewTable()
	ns := table.Ensure("   ")
	if ns.Name() != DefaultNamespace {
		t.Fatalf("name = %q, want %q", ns.Name(), DefaultNamespace)
	}
	if table.Lookup("") != ns {
		t.Fatal("expected empty lookup to resolve to default namespace")
	}
}

func TestNamespacesAreIsolated(t *testing.T) {
	table := NewTable()
	chat := table.Ensure("chat")
	game := table.Ensure("game")

	chat.AddSession("s1")
	if err := chat.Registry().Join("s1", "lobby"); err != nil {
		t.Fatalf("join: %v", err)
	}

	if game.HasSession("s1") {
		t.Fatal("session leaked across namespaces")
	}
	if targets := game.Registry().ResolveTargets([]string{"lobby"}, nil); len(targets) != 0 {
		t.Fatalf("targets = %v, want none in isolated namespace", targets)
	}
}

func TestRemoveSessionClearsRooms(t *testing.T) {
	table := NewTable()
	chat := table.Ensure("chat")
	chat.AddSession("s1")
	if err := chat.Registry().Join("s1", "lobby"); err != nil {
		t.Fatalf("join: %v", err)
	}

	chat.RemoveSession("s1")

	if chat.HasSession("s1") {
		t.Fatal("expected session removed from namespace")
	}
	if chat.Registry().RoomExists("lobby") {
		t.Fatal("expected room cleanup on session removal")
	}
}

func TestJoinRequiresConnectedSession(t *testing.T) {
	table := NewTable()
	ns := table.Ensure("chat")

	if err := ns.Join("ghost", "lobby"); !errors.IsCode(err, errors.CodeSessionNotFound) {
		t.Fatalf("error = %v, want SESSION_NOT_FOUND", err)
	}
	if ns.Registry().RoomExists("lobby") {
		t.Fatal("join by a disconnected session created a room")
	}
}

func TestJoinCannotResurrectRemovedSession(t *testing.T) {
	table := NewTable()
	ns := table.Ensure("chat")

	// A join racing the session's removal must never leave the destroyed
	// session behind in a room, whichever side wins.
	for i := 0; i < 500; i++ {
		ns.AddSession("s1")
		if err := ns.Join("s1", "games"); err != nil {
			t.Fatalf("iteration %d: join: %v", i, err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = ns.Join("s1", "games")
		}()
		go func() {
			defer wg.Done()
			ns.RemoveSession("s1")
		}()
		wg.Wait()

		if targets := ns.Registry().ResolveTargets([]string{"games"}, nil); len(targets) != 0 {
			t.Fatalf("iteration %d: removed session still resolvable: %v", i, targets)
		}
		if ns.Registry().RoomExists("games") {
			t.Fatalf("iteration %d: room outlived its only member", i)
		}
		if got := ns.Registry().Rooms("s1"); len(got) != 0 {
			t.Fatalf("iteration %d: removed session still tracks rooms %v", i, got)
		}
	}
}

func TestLookupMissingNamespace(t *testing.T) {
	table := NewTable()
	if ns := table.Lookup("ghost"); ns != nil {
		t.Fatalf("expected nil for unknown namespace, got %v", ns.Name())
	}
}
