package adapter

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/undertow/internal/errors"
	"github.com/louisbranch/undertow/internal/protocol"
	"github.com/louisbranch/undertow/internal/rooms"
	"github.com/louisbranch/undertow/internal/transport"
)

// SessionSink delivers encoded frames to one local session without blocking
// the broadcast caller.
type SessionSink interface {
	TryWrite(frames ...transport.Frame) bool
}

// Locals resolves a session id to its local write side. Implemented by the
// gateway's session table.
type Locals interface {
	Session(id string) (SessionSink, bool)
}

// Broadcaster routes one node's broadcasts: local delivery through the room
// registry plus best-effort republication on the bus for peer nodes. Local
// delivery never depends on the bus being reachable.
type Broadcaster struct {
	nodeID     string
	bus        Bus
	namespaces *rooms.Table
	locals     Locals
	tracer     trace.Tracer

	publishFailures atomic.Uint64
	onPublishFail   func(namespace string, err error)

	mu      sync.Mutex
	cancels []func()
}

// NewBroadcaster wires a broadcaster for one node. The node id must be
// unique across the cluster; it is how the node recognizes the bus echo of
// its own publishes.
func NewBroadcaster(nodeID string, bus Bus, namespaces *rooms.Table, locals Locals) *Broadcaster {
	return &Broadcaster{
		nodeID:     nodeID,
		bus:        bus,
		namespaces: namespaces,
		locals:     locals,
		tracer:     otel.Tracer("github.com/louisbranch/undertow/internal/adapter"),
	}
}

// Broadcast delivers the packet to every member of the target rooms in the
// namespace, minus the excluded sessions, locally and on peer nodes. Empty
// rooms target the whole namespace. A bus publish failure is logged and
// counted but never surfaces to the caller; only an unencodable packet is an
// error.
func (b *Broadcaster) Broadcast(ctx context.Context, namespace string, roomNames, except []string, packet protocol.Packet) error {
	ctx, span := b.tracer.Start(ctx, "adapter.Broadcast", trace.WithAttributes(
		attribute.String("namespace", namespace),
		attribute.Int("rooms", len(roomNames)),
	))
	defer span.End()

	primary, attachments, err := protocol.Encode(packet)
	if err != nil {
		return errors.Wrap(errors.CodeDecodeFailed, "encode broadcast packet", err)
	}

	delivered := b.deliverLocal(namespace, roomNames, except, primary, attachments)
	span.SetAttributes(attribute.Int("delivered_local", delivered))

	envelope, err := json.Marshal(Envelope{
		Origin:      b.nodeID,
		Namespace:   namespace,
		Rooms:       roomNames,
		Except:      except,
		Packet:      primary,
		Attachments: attachments,
	})
	if err != nil {
		return errors.Wrap(errors.CodePublishFailure, "marshal broadcast envelope", err)
	}

	if err := b.bus.Publish(ctx, ChannelFor(namespace), envelope); err != nil {
		b.publishFailures.Add(1)
		log.Printf("adapter: publish failed node=%s namespace=%s err=%v", b.nodeID, namespace, err)
		if b.onPublishFail != nil {
			b.onPublishFail(namespace, err)
		}
	}
	return nil
}

// OnPublishFailure registers an observer for failed bus publishes. Set it
// before the broadcaster starts handling traffic.
func (b *Broadcaster) OnPublishFailure(fn func(namespace string, err error)) {
	b.onPublishFail = fn
}

// Subscribe attaches the node to the bus channel of a namespace. Envelopes
// originated by this node are discarded; everything else is delivered to
// local targets exactly as a local broadcast would be.
func (b *Broadcaster) Subscribe(ctx context.Context, namespace string) error {
	cancel, err := b.bus.Subscribe(ctx, ChannelFor(namespace), func(payload []byte) {
		var envelope Envelope
		if err := json.Unmarshal(payload, &envelope); err != nil {
			log.Printf("adapter: dropping malformed envelope node=%s err=%v", b.nodeID, err)
			return
		}
		if envelope.Origin == b.nodeID {
			return
		}
		b.deliverLocal(envelope.Namespace, envelope.Rooms, envelope.Except, envelope.Packet, envelope.Attachments)
	})
	if err != nil {
		return errors.Wrap(errors.CodeBusUnavailable, "subscribe broadcast channel", err).
			WithMetadata("channel", ChannelFor(namespace))
	}

	b.mu.Lock()
	b.cancels = append(b.cancels, cancel)
	b.mu.Unlock()
	return nil
}

// PublishFailures reports how many publishes have failed since start.
func (b *Broadcaster) PublishFailures() uint64 {
	return b.publishFailures.Load()
}

// Close cancels every bus subscription.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	cancels := b.cancels
	b.cancels = nil
	b.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// deliverLocal writes the frames to every resolved local target and returns
// how many sessions accepted them.
func (b *Broadcaster) deliverLocal(namespace string, roomNames, except []string, primary []byte, attachments [][]byte) int {
	ns := b.namespaces.Lookup(namespace)
	if ns == nil {
		return 0
	}

	var targets []string
	if len(roomNames) == 0 {
		targets = filterExcept(ns.Sessions(), except)
	} else {
		targets = ns.Registry().ResolveTargets(roomNames, except)
	}

	frames := make([]transport.Frame, 0, 1+len(attachments))
	frames = append(frames, transport.Frame{Data: primary})
	for _, attachment := range attachments {
		frames = append(frames, transport.Frame{Binary: true, Data: attachment})
	}

	delivered := 0
	for _, id := range targets {
		sink, ok := b.locals.Session(id)
		if !ok {
			continue
		}
		if sink.TryWrite(frames...) {
			delivered++
		}
	}
	return delivered
}

func filterExcept(ids, except []string) []string {
	if len(except) == 0 {
		return ids
	}
	excluded := make(map[string]struct{}, len(except))
	for _, id := range except {
		excluded[id] = struct{}{}
	}
	out := ids[:0]
	for _, id := range ids {
		if _, skip := excluded[id]; !skip {
			out = append(out, id)
		}
	}
	return out
}
