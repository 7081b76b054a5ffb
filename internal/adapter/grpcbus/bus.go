package grpcbus

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/louisbranch/undertow/internal/adapter"
	"github.com/louisbranch/undertow/internal/errors"
	platformgrpc "github.com/louisbranch/undertow/internal/platform/grpc"
	"github.com/louisbranch/undertow/internal/platform/timeouts"
)

var _ adapter.Bus = (*Bus)(nil)

// defaultRetryDelay paces re-subscription after a peer stream drops.
const defaultRetryDelay = 5 * time.Second

// Bus is the gRPC-backed broadcast bus for one node. Register attaches its
// PeerBus service to the node's gRPC server; Subscribe starts one worker per
// configured peer per channel that keeps a subscription stream alive with a
// fixed retry delay.
type Bus struct {
	peers  []string
	dialer platformgrpc.Dialer
	server *server
	retry  time.Duration

	mu       sync.Mutex
	nextID   int
	handlers map[string]map[int]func([]byte)
	workers  map[string]struct{}

	done chan struct{}
	once sync.Once
}

// New creates a bus that will subscribe to the given peer addresses. A nil
// dialer uses the standard gRPC dialer.
func New(peers []string, dialer platformgrpc.Dialer) *Bus {
	b := &Bus{
		peers:    peers,
		dialer:   dialer,
		retry:    defaultRetryDelay,
		handlers: make(map[string]map[int]func([]byte)),
		workers:  make(map[string]struct{}),
		done:     make(chan struct{}),
	}
	b.server = newServer(b.publishLocal)
	return b
}

// Register attaches the PeerBus and health services to the node's server.
func (b *Bus) Register(srv *grpc.Server) {
	srv.RegisterService(&serviceDesc, b.server)
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	grpc_health_v1.RegisterHealthServer(srv, healthServer)
}

// Publish delivers the payload to this node's subscribers and to every peer
// stream currently attached to this node.
func (b *Bus) Publish(_ context.Context, channel string, payload []byte) error {
	if channel == "" {
		return errors.New(errors.CodeChannelInvalid, "channel is required")
	}
	b.publishLocal(channel, payload)
	return nil
}

// Subscribe registers a handler and makes sure every configured peer is
// being followed for the channel.
func (b *Bus) Subscribe(_ context.Context, channel string, handler func([]byte)) (func(), error) {
	if channel == "" {
		return nil, errors.New(errors.CodeChannelInvalid, "channel is required")
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.handlers[channel] == nil {
		b.handlers[channel] = make(map[int]func([]byte))
	}
	b.handlers[channel][id] = handler

	if _, running := b.workers[channel]; !running {
		b.workers[channel] = struct{}{}
		for _, peer := range b.peers {
			go b.peerWorker(peer, channel)
		}
	}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.handlers[channel], id)
		if len(b.handlers[channel]) == 0 {
			delete(b.handlers, channel)
		}
		b.mu.Unlock()
	}
	return cancel, nil
}

// Close stops every peer worker. In-flight streams end on their next
// receive.
func (b *Bus) Close() {
	b.once.Do(func() { close(b.done) })
}

func (b *Bus) publishLocal(channel string, payload []byte) {
	b.dispatch(channel, payload)
	b.server.fanOut(channel, payload)
}

func (b *Bus) dispatch(channel string, payload []byte) {
	b.mu.Lock()
	handlers := make([]func([]byte), 0, len(b.handlers[channel]))
	for _, handler := range b.handlers[channel] {
		handlers = append(handlers, handler)
	}
	b.mu.Unlock()

	for _, handler := range handlers {
		handler(payload)
	}
}

// peerWorker keeps one subscription stream to one peer alive, re-dialing
// with a fixed delay whenever it drops.
func (b *Bus) peerWorker(peer, channel string) {
	for {
		select {
		case <-b.done:
			return
		default:
		}

		if err := b.runSubscription(peer, channel); err != nil {
			log.Printf("grpcbus: peer subscription lost peer=%s channel=%s err=%v", peer, channel, err)
		}

		select {
		case <-b.done:
			return
		case <-time.After(b.retry):
		}
	}
}

func (b *Bus) runSubscription(peer, channel string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-b.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	conn, err := platformgrpc.DialWithHealth(ctx, b.dialer, peer, timeouts.GRPCDial, nil, platformgrpc.DefaultPeerDialOptions()...)
	if err != nil {
		return fmt.Errorf("dial peer %s: %w", peer, err)
	}
	defer func() { _ = conn.Close() }()

	stream, err := conn.NewStream(ctx, &serviceDesc.Streams[0], "/"+ServiceName+"/Subscribe", grpc.CallContentSubtype(codecName))
	if err != nil {
		return fmt.Errorf("open subscribe stream: %w", err)
	}
	if err := stream.SendMsg(&SubscribeRequest{Channel: channel}); err != nil {
		return fmt.Errorf("send subscribe request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("close send side: %w", err)
	}

	log.Printf("grpcbus: following peer=%s channel=%s", peer, channel)
	for {
		var msg Message
		if err := stream.RecvMsg(&msg); err != nil {
			return fmt.Errorf("receive from peer %s: %w", peer, err)
		}
		b.dispatch(channel, msg.Payload)
	}
}
