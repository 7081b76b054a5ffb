// Package ack correlates outbound packets with their acknowledgment replies.
package ack

import (
	"sync"
	"time"

	"github.com/louisbranch/undertow/internal/errors"
	"github.com/louisbranch/undertow/internal/platform/timeouts"
)

// ErrTimeout is delivered when the acknowledgment deadline elapses first.
var ErrTimeout = errors.New(errors.CodeAckTimeout, "acknowledgment deadline elapsed")

// ErrSessionClosed is delivered to every pending entry of a closing session.
var ErrSessionClosed = errors.New(errors.CodeSessionClosed, "session closed before acknowledgment")

// Result is the outcome of one correlated call: either the reply payload or
// a timeout/closure error.
type Result struct {
	Data any
	Err  error
}

type entry struct {
	ch    chan Result
	timer *time.Timer
}

// Correlator matches outbound correlation ids to inbound replies.
//
// Ids are unique among a session's outstanding entries only; a completed
// id may be reissued later.
type Correlator struct {
	mu      sync.Mutex
	nextID  map[string]uint64
	pending map[string]map[uint64]*entry
}

// NewCorrelator creates an empty correlator.
func NewCorrelator() *Correlator {
	return &Correlator{
		nextID:  make(map[string]uint64),
		pending: make(map[string]map[uint64]*entry),
	}
}

// Register records a pending acknowledgment for the session and returns its
// correlation id together with the channel delivering the eventual result.
// The channel receives exactly one Result: the reply, a timeout, or a
// session-closed error. A non-positive timeout falls back to the default.
func (c *Correlator) Register(sessionID string, timeout time.Duration) (uint64, <-chan Result) {
	if timeout <= 0 {
		timeout = timeouts.AckDefault
	}

	c.mu.Lock()
	c.nextID[sessionID]++
	id := c.nextID[sessionID]
	e := &entry{ch: make(chan Result, 1)}
	byID, ok := c.pending[sessionID]
	if !ok {
		byID = make(map[uint64]*entry)
		c.pending[sessionID] = byID
	}
	byID[id] = e
	// Armed while still holding the lock so Resolve never observes an
	// entry without its timer.
	e.timer = time.AfterFunc(timeout, func() {
		c.expire(sessionID, id)
	})
	c.mu.Unlock()

	return id, e.ch
}

// Resolve completes the pending entry with the reply payload. A reply for
// an unknown or already-completed id reports false and is otherwise a
// no-op; it must never resurrect a finished call.
func (c *Correlator) Resolve(sessionID string, id uint64, data any) bool {
	e := c.take(sessionID, id)
	if e == nil {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.ch <- Result{Data: data}
	return true
}

// FailSession completes every pending entry of the session with
// ErrSessionClosed. Called once when the session is destroyed.
func (c *Correlator) FailSession(sessionID string) {
	c.mu.Lock()
	byID := c.pending[sessionID]
	delete(c.pending, sessionID)
	delete(c.nextID, sessionID)
	c.mu.Unlock()

	for _, e := range byID {
		if e.timer != nil {
			e.timer.Stop()
		}
		e.ch <- Result{Err: ErrSessionClosed}
	}
}

// PendingCount returns the number of outstanding entries for the session.
func (c *Correlator) PendingCount(sessionID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending[sessionID])
}

func (c *Correlator) expire(sessionID string, id uint64) {
	e := c.take(sessionID, id)
	if e == nil {
		return
	}
	e.ch <- Result{Err: ErrTimeout}
}

func (c *Correlator) take(sessionID string, id uint64) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	byID := c.pending[sessionID]
	e, ok := byID[id]
	if !ok {
		return nil
	}
	delete(byID, id)
	if len(byID) == 0 {
		delete(c.pending, sessionID)
	}
	return e
}
