package server

import (
	"sync"

	"github.com/louisbranch/undertow/internal/adapter"
)

// sessionTable tracks every live connection on this node, keyed by session
// id. It is the broadcaster's view of local delivery targets.
type sessionTable struct {
	mu    sync.Mutex
	conns map[string]*conn
}

var _ adapter.Locals = (*sessionTable)(nil)

func newSessionTable() *sessionTable {
	return &sessionTable{conns: make(map[string]*conn)}
}

func (t *sessionTable) add(c *conn) {
	t.mu.Lock()
	t.conns[c.sess.ID()] = c
	t.mu.Unlock()
}

func (t *sessionTable) get(id string) (*conn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.conns[id]
	return c, ok
}

func (t *sessionTable) remove(id string) {
	t.mu.Lock()
	delete(t.conns, id)
	t.mu.Unlock()
}

func (t *sessionTable) all() []*conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*conn, 0, len(t.conns))
	for _, c := range t.conns {
		out = append(out, c)
	}
	return out
}

func (t *sessionTable) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

// Session resolves a session id to its non-blocking write side.
func (t *sessionTable) Session(id string) (adapter.SessionSink, bool) {
	c, ok := t.get(id)
	if !ok {
		return nil, false
	}
	return c.sess, true
}
