// Package session models one logical client connection: lifecycle state,
// liveness heartbeat, and a bounded outbound queue with backpressure.
package session

import (
	"log"
	"sync"
	"time"

	"github.com/louisbranch/undertow/internal/errors"
	"github.com/louisbranch/undertow/internal/platform/timeouts"
	"github.com/louisbranch/undertow/internal/protocol"
	"github.com/louisbranch/undertow/internal/transport"
)

// State is the session's position in its lifecycle.
type State int32

const (
	// StateConnecting means the handshake has not completed.
	StateConnecting State = iota
	// StateActive means the session is live and exchanging packets.
	StateActive
	// StateClosing means shutdown has begun.
	StateClosing
	// StateClosed is terminal. Close hooks have run exactly once.
	StateClosed
)

var stateNames = [...]string{"connecting", "active", "closing", "closed"}

// String returns the lifecycle name of the state.
func (s State) String() string {
	if s < StateConnecting || s > StateClosed {
		return "state(?)"
	}
	return stateNames[s]
}

// CloseReason explains why a session ended.
type CloseReason string

const (
	ReasonHeartbeatTimeout CloseReason = "heartbeat-timeout"
	ReasonSlowConsumer     CloseReason = "slow-consumer"
	ReasonTransportError   CloseReason = "transport-error"
	ReasonClientClose      CloseReason = "client-close"
	ReasonServerShutdown   CloseReason = "server-shutdown"
)

// ErrClosed rejects writes once the session has left the Active state.
var ErrClosed = errors.New(errors.CodeSessionClosed, "session closed")

// Sink is where the write pump lands frames, typically the transport
// negotiator.
type Sink interface {
	Send(frames ...transport.Frame) error
}

// Config tunes one session. Zero values fall back to defaults.
type Config struct {
	// HeartbeatInterval is how often the server pings the client.
	HeartbeatInterval time.Duration
	// HeartbeatTimeout is the grace period past the interval without any
	// inbound traffic before the session dies.
	HeartbeatTimeout time.Duration
	// QueueHighWater caps the outbound queue in bytes.
	QueueHighWater int
	// SlowDropLimit is how many non-blocking writes may be dropped before
	// the session is force-closed as a slow consumer.
	SlowDropLimit int
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = timeouts.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = timeouts.HeartbeatTimeout
	}
	if c.QueueHighWater <= 0 {
		c.QueueHighWater = 1 << 20
	}
	if c.SlowDropLimit <= 0 {
		c.SlowDropLimit = 16
	}
	return c
}

// Session is one logical client connection. Writes go through a bounded
// queue drained by a single pump goroutine, so one slow client never blocks
// a broadcast caller that opted into TryWrite.
type Session struct {
	id   string
	cfg  Config
	sink Sink

	mu           sync.Mutex
	space        *sync.Cond
	state        State
	queue        []transport.Frame
	queuedBytes  int
	drops        int
	slow         bool
	lastActivity time.Time
	reason       CloseReason
	hooks        []func(CloseReason)

	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

// New creates a session in the Connecting state. Activate starts its
// heartbeat and write pump after the handshake succeeds.
func New(id string, sink Sink, cfg Config) *Session {
	s := &Session{
		id:           id,
		cfg:          cfg.withDefaults(),
		sink:         sink,
		state:        StateConnecting,
		lastActivity: time.Now(),
		notify:       make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	s.space = sync.NewCond(&s.mu)
	return s
}

// ID returns the session's opaque id.
func (s *Session) ID() string { return s.id }

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reason returns the close reason, empty until the session closes.
func (s *Session) Reason() CloseReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Slow reports whether non-blocking writes have been dropped.
func (s *Session) Slow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slow
}

// Done is closed when the session reaches Closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// OnClose registers a hook to run when the session closes. Hooks run exactly
// once, after the state becomes Closed. Registering on an already-closed
// session runs the hook immediately.
func (s *Session) OnClose(hook func(CloseReason)) {
	s.mu.Lock()
	if s.state == StateClosed {
		reason := s.reason
		s.mu.Unlock()
		hook(reason)
		return
	}
	s.hooks = append(s.hooks, hook)
	s.mu.Unlock()
}

// Activate moves the session to Active and starts the heartbeat and write
// pump. Call once, after the handshake succeeds.
func (s *Session) Activate() {
	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return
	}
	s.state = StateActive
	s.lastActivity = time.Now()
	s.mu.Unlock()

	go s.pump()
	go s.heartbeat()
}

// Touch refreshes the liveness deadline. Call on every inbound frame.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity returns the time of the most recent inbound traffic.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Write enqueues frames, blocking while the queue is over its high-water
// mark. A write larger than the whole mark is admitted alone rather than
// blocking forever.
func (s *Session) Write(frames ...transport.Frame) error {
	size := frameBytes(frames)

	s.mu.Lock()
	for s.state == StateActive && s.queuedBytes > 0 && s.queuedBytes+size > s.cfg.QueueHighWater {
		s.space.Wait()
	}
	if s.state != StateActive {
		s.mu.Unlock()
		return ErrClosed
	}
	s.enqueueLocked(frames, size)
	s.mu.Unlock()
	return nil
}

// TryWrite enqueues frames without blocking. A write that would cross the
// high-water mark is dropped, the session is flagged slow, and once the drop
// limit is hit the session closes as a slow consumer. Reports whether the
// frames were enqueued.
func (s *Session) TryWrite(frames ...transport.Frame) bool {
	size := frameBytes(frames)

	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return false
	}
	if s.queuedBytes > 0 && s.queuedBytes+size > s.cfg.QueueHighWater {
		s.slow = true
		s.drops++
		drops := s.drops
		s.mu.Unlock()
		if drops >= s.cfg.SlowDropLimit {
			log.Printf("session: closing slow consumer id=%s drops=%d", s.id, drops)
			s.Close(ReasonSlowConsumer)
		}
		return false
	}
	s.enqueueLocked(frames, size)
	s.mu.Unlock()
	return true
}

// Close moves the session to Closed and runs the close hooks. The first
// reason wins; later calls are no-ops.
func (s *Session) Close(reason CloseReason) {
	s.once.Do(func() {
		s.mu.Lock()
		s.state = StateClosing
		s.reason = reason
		s.queue = nil
		s.queuedBytes = 0
		s.state = StateClosed
		hooks := s.hooks
		s.hooks = nil
		s.mu.Unlock()

		s.space.Broadcast()
		close(s.done)

		for _, hook := range hooks {
			hook(reason)
		}
	})
}

func (s *Session) enqueueLocked(frames []transport.Frame, size int) {
	s.queue = append(s.queue, frames...)
	s.queuedBytes += size
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// pump drains the queue onto the sink. A sink failure closes the session as
// a transport error.
func (s *Session) pump() {
	for {
		select {
		case <-s.notify:
		case <-s.done:
			return
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			frames := s.queue
			s.queue = nil
			s.queuedBytes = 0
			s.mu.Unlock()
			s.space.Broadcast()

			if err := s.sink.Send(frames...); err != nil {
				log.Printf("session: write failed id=%s err=%v", s.id, err)
				s.Close(ReasonTransportError)
				return
			}
		}
	}
}

// heartbeat pings the client every interval and enforces the liveness
// deadline. Any inbound traffic refreshes the deadline via Touch.
func (s *Session) heartbeat() {
	ping, _, err := protocol.Encode(protocol.Packet{Type: protocol.Ping})
	if err != nil {
		log.Printf("session: encode heartbeat ping id=%s err=%v", s.id, err)
		s.Close(ReasonTransportError)
		return
	}

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			idle := time.Since(s.lastActivity)
			s.mu.Unlock()
			if idle > s.cfg.HeartbeatInterval+s.cfg.HeartbeatTimeout {
				log.Printf("session: heartbeat timeout id=%s idle=%s", s.id, idle)
				s.Close(ReasonHeartbeatTimeout)
				return
			}
			s.TryWrite(transport.Frame{Data: ping})
		case <-s.done:
			return
		}
	}
}

func frameBytes(frames []transport.Frame) int {
	total := 0
	for _, frame := range frames {
		total += len(frame.Data)
	}
	return total
}
