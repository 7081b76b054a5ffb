package grpcbus

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/louisbranch/undertow/internal/errors"
	platformgrpc "github.com/louisbranch/undertow/internal/platform/grpc"
)

func serveBus(t *testing.T, bus *Bus) *bufconn.Listener {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	bus.Register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	t.Cleanup(bus.Close)
	return lis
}

func bufDialer(listeners map[string]*bufconn.Listener) platformgrpc.Dialer {
	return platformgrpc.DialerFunc(func(ctx context.Context, addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
		lis, ok := listeners[addr]
		if !ok {
			return nil, fmt.Errorf("unknown peer %q", addr)
		}
		opts = append(opts, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
		return grpc.DialContext(ctx, "passthrough:///"+addr, opts...)
	})
}

func TestLocalPublishReachesLocalSubscriber(t *testing.T) {
	bus := New(nil, nil)
	t.Cleanup(bus.Close)

	got := make(chan []byte, 1)
	cancel, err := bus.Subscribe(context.Background(), "undertow.chat", func(payload []byte) {
		got <- payload
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if err := bus.Publish(context.Background(), "undertow.chat", []byte("hello")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case payload := <-got:
		if string(payload) != "hello" {
			t.Fatalf("payload = %q, want hello", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("local subscriber never received the payload")
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	bus := New(nil, nil)
	t.Cleanup(bus.Close)

	got := make(chan []byte, 1)
	cancel, err := bus.Subscribe(context.Background(), "undertow.chat", func(payload []byte) {
		got <- payload
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()

	if err := bus.Publish(context.Background(), "undertow.chat", []byte("after cancel")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case payload := <-got:
		t.Fatalf("cancelled subscriber received %q", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannelValidation(t *testing.T) {
	bus := New(nil, nil)
	t.Cleanup(bus.Close)

	if err := bus.Publish(context.Background(), "", nil); !errors.IsCode(err, errors.CodeChannelInvalid) {
		t.Fatalf("publish error = %v, want CHANNEL_INVALID", err)
	}
	if _, err := bus.Subscribe(context.Background(), "", nil); !errors.IsCode(err, errors.CodeChannelInvalid) {
		t.Fatalf("subscribe error = %v, want CHANNEL_INVALID", err)
	}
}

func TestCrossNodePublishReachesPeerSubscriber(t *testing.T) {
	busA := New(nil, nil)
	lisA := serveBus(t, busA)

	busB := New([]string{"node-a"}, bufDialer(map[string]*bufconn.Listener{"node-a": lisA}))
	busB.retry = 50 * time.Millisecond
	t.Cleanup(busB.Close)

	got := make(chan []byte, 16)
	cancel, err := busB.Subscribe(context.Background(), "undertow.chat", func(payload []byte) {
		got <- payload
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	// The peer stream attaches asynchronously; publish until it lands.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if err := busA.Publish(context.Background(), "undertow.chat", []byte("cross-node")); err != nil {
			t.Fatalf("publish: %v", err)
		}
		select {
		case payload := <-got:
			if string(payload) != "cross-node" {
				t.Fatalf("payload = %q, want cross-node", payload)
			}
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
	t.Fatal("peer subscriber never received the payload")
}

func TestDirectPublishRPC(t *testing.T) {
	bus := New(nil, nil)
	lis := serveBus(t, bus)

	got := make(chan []byte, 1)
	cancel, err := bus.Subscribe(context.Background(), "undertow.chat", func(payload []byte) {
		got <- payload
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	dialer := bufDialer(map[string]*bufconn.Listener{"node-a": lis})
	ctx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	conn, err := dialer.DialContext(ctx, "node-a", platformgrpc.DefaultPeerDialOptions()...)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	req := &PublishRequest{Channel: "undertow.chat", Payload: []byte("rpc push")}
	if err := conn.Invoke(ctx, "/"+ServiceName+"/Publish", req, &PublishResponse{}, grpc.CallContentSubtype(codecName)); err != nil {
		t.Fatalf("invoke publish: %v", err)
	}

	select {
	case payload := <-got:
		if string(payload) != "rpc push" {
			t.Fatalf("payload = %q, want rpc push", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("publish RPC never reached the local subscriber")
	}
}
