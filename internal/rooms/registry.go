// Package rooms tracks which sessions belong to which broadcast groups.
//
// The registry is the single source of truth for broadcast targeting: other
// components resolve targets per broadcast call and never cache membership.
package rooms

import (
	"hash/fnv"
	"strings"
	"sync"

	"github.com/louisbranch/undertow/internal/errors"
)

// shardCount fixes the number of lock buckets room names hash onto, so
// broadcasts to unrelated rooms do not serialize on one registry lock.
const shardCount = 32

type shard struct {
	mu      sync.Mutex
	members map[string]map[string]struct{}
}

// Registry tracks room membership for one namespace. It is pure
// bookkeeping: it does not know which sessions are live, so joins must go
// through Namespace.Join, which gates them on the namespace's session set.
//
// Join, Leave, and RemoveSession are safe for concurrent use across
// sessions.
type Registry struct {
	shards [shardCount]shard

	mu       sync.Mutex
	sessions map[string]map[string]struct{}
}

// NewRegistry creates an empty room registry.
func NewRegistry() *Registry {
	r := &Registry{sessions: make(map[string]map[string]struct{})}
	for i := range r.shards {
		r.shards[i].members = make(map[string]map[string]struct{})
	}
	return r
}

func (r *Registry) shardFor(room string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(room))
	return &r.shards[h.Sum32()%shardCount]
}

// Join adds the session to the room, creating the room on first join.
// Joining a room the session already belongs to is a no-op.
func (r *Registry) Join(sessionID, room string) error {
	sessionID = strings.TrimSpace(sessionID)
	room = strings.TrimSpace(room)
	if sessionID == "" {
		return errors.New(errors.CodeSessionNotFound, "session id is required")
	}
	if room == "" {
		return errors.New(errors.CodeRoomNameEmpty, "room name is required")
	}

	s := r.shardFor(room)
	s.mu.Lock()
	set, ok := s.members[room]
	if !ok {
		set = make(map[string]struct{})
		s.members[room] = set
	}
	set[sessionID] = struct{}{}
	s.mu.Unlock()

	r.mu.Lock()
	joined, ok := r.sessions[sessionID]
	if !ok {
		joined = make(map[string]struct{})
		r.sessions[sessionID] = joined
	}
	joined[room] = struct{}{}
	r.mu.Unlock()
	return nil
}

// Leave removes the session from the room. Leaving a room the session is
// not in is a no-op. The room is deleted when its last member leaves.
func (r *Registry) Leave(sessionID, room string) {
	sessionID = strings.TrimSpace(sessionID)
	room = strings.TrimSpace(room)
	if sessionID == "" || room == "" {
		return
	}

	s := r.shardFor(room)
	s.mu.Lock()
	if set, ok := s.members[room]; ok {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(s.members, room)
		}
	}
	s.mu.Unlock()

	r.mu.Lock()
	if joined, ok := r.sessions[sessionID]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(r.sessions, sessionID)
		}
	}
	r.mu.Unlock()
}

// ResolveTargets returns the deduplicated union of the rooms' member sets,
// minus the excluded session ids.
func (r *Registry) ResolveTargets(roomNames []string, except []string) []string {
	excluded := make(map[string]struct{}, len(except))
	for _, id := range except {
		excluded[id] = struct{}{}
	}

	seen := make(map[string]struct{})
	var targets []string
	for _, room := range roomNames {
		room = strings.TrimSpace(room)
		if room == "" {
			continue
		}
		s := r.shardFor(room)
		s.mu.Lock()
		for id := range s.members[room] {
			if _, skip := excluded[id]; skip {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			targets = append(targets, id)
		}
		s.mu.Unlock()
	}
	return targets
}

// RemoveSession removes the session from every room it belongs to,
// deleting rooms that become empty. Called when a session is destroyed.
func (r *Registry) RemoveSession(sessionID string) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return
	}

	r.mu.Lock()
	joined := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	for room := range joined {
		s := r.shardFor(room)
		s.mu.Lock()
		if set, ok := s.members[room]; ok {
			delete(set, sessionID)
			if len(set) == 0 {
				delete(s.members, room)
			}
		}
		s.mu.Unlock()
	}
}

// Rooms returns the rooms the session currently belongs to.
func (r *Registry) Rooms(sessionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	joined := r.sessions[sessionID]
	out := make([]string, 0, len(joined))
	for room := range joined {
		out = append(out, room)
	}
	return out
}

// Members returns the current member set of a room. A missing room yields
// an empty slice.
func (r *Registry) Members(room string) []string {
	s := r.shardFor(room)
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.members[room]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// RoomExists reports whether the room currently has any members.
func (r *Registry) RoomExists(room string) bool {
	s := r.shardFor(room)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.members[room]
	return ok
}
