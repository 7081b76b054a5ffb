package transport

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/louisbranch/undertow/internal/errors"
	"github.com/louisbranch/undertow/internal/platform/timeouts"
	"github.com/louisbranch/undertow/internal/protocol"
)

// State is the negotiator's position in the connection lifecycle.
type State int

const (
	// StateConnecting means the handshake has not been sent yet.
	StateConnecting State = iota
	// StateOpen means the fallback transport is live.
	StateOpen
	// StateProbing means a candidate transport is being validated.
	StateProbing
	// StateUpgraded means the candidate took over as the active transport.
	StateUpgraded
	// StateClosing means shutdown has begun.
	StateClosing
	// StateClosed is terminal.
	StateClosed
)

var stateNames = [...]string{"connecting", "open", "probing", "upgraded", "closing", "closed"}

// String returns the lifecycle name of the state.
func (s State) String() string {
	if s < StateConnecting || s > StateClosed {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Probe payloads ride inside ping packets on the candidate transport: the
// client validates the channel with "probe" and commits with "upgrade".
const (
	probePayload   = "probe"
	upgradePayload = "upgrade"
)

// ErrHandshakeFailed means the initial open could not be delivered; no
// session exists for the connection.
var ErrHandshakeFailed = errors.New(errors.CodeHandshakeFailed, "transport handshake failed")

// Negotiator owns one connection's transport state machine. It merges the
// active transport's inbound frames onto a single stream, answers upgrade
// probes on a candidate transport, and drains the fallback's backlog onto
// the candidate before switching so no frame is lost or reordered.
//
// Send holds the negotiator lock for the duration of the underlying write,
// which is what makes the switch atomic to concurrent writers.
type Negotiator struct {
	mu         sync.Mutex
	state      State
	current    Transport
	candidate  Transport
	probeTimer *time.Timer

	upgradeHook func(Kind)

	recv   chan Frame
	closed chan CloseEvent
	done   chan struct{}
	once   sync.Once
}

// NewNegotiator wraps the connection's initial transport.
func NewNegotiator(initial Transport) *Negotiator {
	n := &Negotiator{
		state:   StateConnecting,
		current: initial,
		recv:    make(chan Frame, 16),
		closed:  make(chan CloseEvent, 1),
		done:    make(chan struct{}),
	}
	go n.pump(initial)
	return n
}

// Open delivers the handshake packet on the initial transport. Failure
// wraps ErrHandshakeFailed and means no session is created.
func (n *Negotiator) Open(handshake protocol.Handshake) error {
	primary, _, err := protocol.Encode(protocol.Packet{Type: protocol.Open, Data: handshake})
	if err != nil {
		return fmt.Errorf("%w: encode handshake: %v", ErrHandshakeFailed, err)
	}
	if err := n.Send(Frame{Data: primary}); err != nil {
		return fmt.Errorf("%w: send handshake: %v", ErrHandshakeFailed, err)
	}

	n.mu.Lock()
	if n.state == StateConnecting {
		n.state = StateOpen
	}
	n.mu.Unlock()
	return nil
}

// Send writes frames to the active transport. The frames of one call never
// straddle a transport switch.
func (n *Negotiator) Send(frames ...Frame) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == StateClosing || n.state == StateClosed {
		return ErrClosed
	}
	return n.current.Send(frames...)
}

// Receive returns the merged inbound frame stream.
func (n *Negotiator) Receive() <-chan Frame { return n.recv }

// Closed delivers the single close event.
func (n *Negotiator) Closed() <-chan CloseEvent { return n.closed }

// State reports the current lifecycle state.
func (n *Negotiator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// CurrentKind reports the kind of the active transport.
func (n *Negotiator) CurrentKind() Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current.Kind()
}

// OnUpgrade registers a hook called once after an upgrade commits. Set it
// before any candidate is attached.
func (n *Negotiator) OnUpgrade(hook func(Kind)) {
	n.mu.Lock()
	n.upgradeHook = hook
	n.mu.Unlock()
}

// Attach offers a candidate transport for upgrade. The negotiator answers
// the client's probe on the candidate only; until the upgrade commits, the
// fallback stays active. A probe that never completes within the timeout
// closes the candidate and leaves the session on the fallback.
func (n *Negotiator) Attach(candidate Transport) error {
	n.mu.Lock()
	if n.state != StateOpen {
		state := n.state
		n.mu.Unlock()
		_ = candidate.Close()
		return fmt.Errorf("upgrade rejected in state %s", state)
	}
	n.state = StateProbing
	n.candidate = candidate
	n.probeTimer = time.AfterFunc(timeouts.ProbeTimeout, func() {
		n.abortProbe(candidate)
	})
	n.mu.Unlock()

	go n.probeLoop(candidate)
	return nil
}

// Close shuts down every attached transport. Safe to call more than once.
func (n *Negotiator) Close() error {
	n.mu.Lock()
	if n.state == StateClosed {
		n.mu.Unlock()
		return nil
	}
	n.state = StateClosing
	current := n.current
	candidate := n.candidate
	n.candidate = nil
	if n.probeTimer != nil {
		n.probeTimer.Stop()
		n.probeTimer = nil
	}
	n.mu.Unlock()

	if candidate != nil {
		_ = candidate.Close()
	}
	err := current.Close()
	n.finish(CloseEvent{Reason: "closed"})
	return err
}

// pump forwards a transport's inbound frames while it is (or becomes) the
// active transport. A close of the active transport closes the negotiator;
// a close of a replaced transport is ignored.
func (n *Negotiator) pump(t Transport) {
	for {
		select {
		case frame := <-t.Receive():
			select {
			case n.recv <- frame:
			case <-n.done:
				return
			}
		case event := <-t.Closed():
			n.mu.Lock()
			isCurrent := n.current == t
			n.mu.Unlock()
			if isCurrent {
				n.finish(event)
			}
			return
		case <-n.done:
			return
		}
	}
}

// probeLoop handles candidate frames until the upgrade commits or fails.
func (n *Negotiator) probeLoop(candidate Transport) {
	for {
		select {
		case frame := <-candidate.Receive():
			packet, err := protocol.Decode(frame.Data, nil)
			if err != nil {
				log.Printf("transport: dropping undecodable frame during probe err=%v", err)
				continue
			}
			switch {
			case packet.Type == protocol.Ping && packet.Data == probePayload:
				primary, _, err := protocol.Encode(protocol.Packet{Type: protocol.Pong, Data: probePayload})
				if err != nil {
					log.Printf("transport: encode probe reply err=%v", err)
					continue
				}
				if err := candidate.Send(Frame{Data: primary}); err != nil {
					log.Printf("transport: probe reply failed err=%v", err)
				}
			case packet.Type == protocol.Ping && packet.Data == upgradePayload:
				n.commitUpgrade(candidate)
				go n.pump(candidate)
				return
			default:
				log.Printf("transport: unexpected %s packet before upgrade commit", packet.Type)
			}
		case <-candidate.Closed():
			n.abortProbe(candidate)
			return
		case <-n.done:
			return
		}
	}
}

// commitUpgrade pauses the fallback, moves its buffered outbound frames onto
// the candidate, then switches. Concurrent Send calls block on the lock
// until the switch is complete.
func (n *Negotiator) commitUpgrade(candidate Transport) {
	n.mu.Lock()
	if n.state != StateProbing || n.candidate != candidate {
		n.mu.Unlock()
		return
	}
	if n.probeTimer != nil {
		n.probeTimer.Stop()
		n.probeTimer = nil
	}
	old := n.current

	var backlog []Frame
	if polling, ok := old.(*Polling); ok {
		polling.Pause()
		backlog = polling.DrainOutbound()
	}
	if len(backlog) > 0 {
		if err := candidate.Send(backlog...); err != nil {
			log.Printf("transport: draining %d frames onto upgrade failed err=%v", len(backlog), err)
		}
	}

	n.current = candidate
	n.candidate = nil
	n.state = StateUpgraded
	hook := n.upgradeHook
	n.mu.Unlock()

	_ = old.Close()
	log.Printf("transport: upgraded to kind=%s", candidate.Kind())
	if hook != nil {
		hook(candidate.Kind())
	}
}

// abortProbe discards a candidate that timed out or died mid-probe. The
// fallback transport stays active; this is a degraded capability, not an
// error.
func (n *Negotiator) abortProbe(candidate Transport) {
	n.mu.Lock()
	if n.state != StateProbing || n.candidate != candidate {
		n.mu.Unlock()
		return
	}
	n.state = StateOpen
	n.candidate = nil
	if n.probeTimer != nil {
		n.probeTimer.Stop()
		n.probeTimer = nil
	}
	n.mu.Unlock()

	_ = candidate.Close()
	log.Printf("transport: upgrade probe abandoned, staying on kind=%s", n.CurrentKind())
}

func (n *Negotiator) finish(event CloseEvent) {
	n.once.Do(func() {
		n.mu.Lock()
		n.state = StateClosed
		n.mu.Unlock()
		n.closed <- event
		close(n.done)
	})
}
