package rooms

import (
	"strings"
	"sync"

	"github.com/louisbranch/undertow/internal/errors"
)

// DefaultNamespace is the namespace used when a packet carries none.
const DefaultNamespace = "/"

// Namespace is an isolation boundary: its registry and session set are
// invisible to every other namespace sharing the same transport.
type Namespace struct {
	name     string
	registry *Registry

	mu       sync.Mutex
	sessions map[string]struct{}
}

// Name returns the namespace name.
func (n *Namespace) Name() string { return n.name }

// Registry returns the namespace's room registry.
func (n *Namespace) Registry() *Registry { return n.registry }

// AddSession registers a session as connected to the namespace.
func (n *Namespace) AddSession(sessionID string) {
	n.mu.Lock()
	n.sessions[sessionID] = struct{}{}
	n.mu.Unlock()
}

// Join adds a connected session to a room. The liveness check and the
// registry insert happen under the namespace lock, so a join can never race
// RemoveSession into re-inserting a destroyed session: it either lands
// before the removal (and is cleaned up with the rest of the session's
// rooms) or fails with a session-not-found error after it.
func (n *Namespace) Join(sessionID, room string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.sessions[sessionID]; !ok {
		return errors.New(errors.CodeSessionNotFound, "session is not connected to the namespace").
			WithMetadata("session_id", sessionID)
	}
	return n.registry.Join(sessionID, room)
}

// Leave removes the session from a room. Leaving never resurrects state, so
// it goes straight to the registry.
func (n *Namespace) Leave(sessionID, room string) {
	n.registry.Leave(sessionID, room)
}

// RemoveSession drops the session from the namespace and from every room in
// its registry. Both happen under the namespace lock; once RemoveSession
// returns, no Join can bring the session back.
func (n *Namespace) RemoveSession(sessionID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.sessions, sessionID)
	n.registry.RemoveSession(sessionID)
}

// HasSession reports whether the session is connected to the namespace.
func (n *Namespace) HasSession(sessionID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.sessions[sessionID]
	return ok
}

// Sessions returns the ids of every session connected to the namespace.
func (n *Namespace) Sessions() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sessions))
	for id := range n.sessions {
		out = append(out, id)
	}
	return out
}

// SessionCount returns the number of sessions connected to the namespace.
func (n *Namespace) SessionCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sessions)
}

// Table owns every namespace of one node.
type Table struct {
	mu         sync.Mutex
	namespaces map[string]*Namespace
}

// NewTable creates an empty namespace table.
func NewTable() *Table {
	return &Table{namespaces: make(map[string]*Namespace)}
}

// Ensure returns the namespace with the given name, creating it on first
// use. Empty names resolve to DefaultNamespace.
func (t *Table) Ensure(name string) *Namespace {
	name = normalizeName(name)

	t.mu.Lock()
	defer t.mu.Unlock()
	ns, ok := t.namespaces[name]
	if !ok {
		ns = &Namespace{
			name:     name,
			registry: NewRegistry(),
			sessions: make(map[string]struct{}),
		}
		t.namespaces[name] = ns
	}
	return ns
}

// Lookup returns the namespace or nil when it was never created.
func (t *Table) Lookup(name string) *Namespace {
	name = normalizeName(name)

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.namespaces[name]
}

// Names returns the names of all namespaces created so far.
func (t *Table) Names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.namespaces))
	for name := range t.namespaces {
		out = append(out, name)
	}
	return out
}

func normalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultNamespace
	}
	return name
}
