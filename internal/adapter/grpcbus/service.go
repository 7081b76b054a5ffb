package grpcbus

import (
	"context"
	"log"
	"sync"

	"google.golang.org/grpc"

	"github.com/louisbranch/undertow/internal/errors"
)

// ServiceName is the fully-qualified PeerBus service name.
const ServiceName = "undertow.v1.PeerBus"

// PublishRequest asks a node to deliver a payload to its subscribers.
type PublishRequest struct {
	Channel string `json:"channel"`
	Payload []byte `json:"payload"`
}

// PublishResponse acknowledges a publish.
type PublishResponse struct{}

// SubscribeRequest opens a server stream of messages for one channel.
type SubscribeRequest struct {
	Channel string `json:"channel"`
}

// Message is one payload delivered on a subscription stream.
type Message struct {
	Payload []byte `json:"payload"`
}

// peerBus is the server-side contract behind the hand-written descriptor.
type peerBus interface {
	Publish(ctx context.Context, req *PublishRequest) (*PublishResponse, error)
	Subscribe(req *SubscribeRequest, stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*peerBus)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Publish", Handler: publishHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
	},
	Metadata: "undertow/peerbus.json",
}

func publishHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(PublishRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(peerBus).Publish(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Publish"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(peerBus).Publish(ctx, req.(*PublishRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	req := new(SubscribeRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(peerBus).Subscribe(req, stream)
}

// streamBufferSize bounds how far one slow peer stream may lag before its
// messages are dropped.
const streamBufferSize = 64

// server fans payloads out to every peer stream subscribed to this node and
// hands direct Publish RPCs to the owning bus.
type server struct {
	onPublish func(channel string, payload []byte)

	mu      sync.Mutex
	nextID  int
	streams map[string]map[int]chan []byte
}

func newServer(onPublish func(string, []byte)) *server {
	return &server{
		onPublish: onPublish,
		streams:   make(map[string]map[int]chan []byte),
	}
}

// Publish delivers a payload pushed by a remote caller as if it had been
// published locally on this node.
func (s *server) Publish(_ context.Context, req *PublishRequest) (*PublishResponse, error) {
	if req.Channel == "" {
		return nil, errors.HandleError(errors.New(errors.CodeChannelInvalid, "channel is required"), "")
	}
	s.onPublish(req.Channel, req.Payload)
	return &PublishResponse{}, nil
}

// Subscribe streams every payload published on this node for the channel
// until the peer goes away.
func (s *server) Subscribe(req *SubscribeRequest, stream grpc.ServerStream) error {
	if req.Channel == "" {
		return errors.HandleError(errors.New(errors.CodeChannelInvalid, "channel is required"), "")
	}

	ch := make(chan []byte, streamBufferSize)
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	if s.streams[req.Channel] == nil {
		s.streams[req.Channel] = make(map[int]chan []byte)
	}
	s.streams[req.Channel][id] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.streams[req.Channel], id)
		if len(s.streams[req.Channel]) == 0 {
			delete(s.streams, req.Channel)
		}
		s.mu.Unlock()
	}()

	ctx := stream.Context()
	for {
		select {
		case payload := <-ch:
			if err := stream.SendMsg(&Message{Payload: payload}); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// fanOut pushes a payload to every stream subscribed to the channel. A peer
// whose stream buffer is full misses the payload rather than stalling the
// publisher.
func (s *server) fanOut(channel string, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.streams[channel] {
		select {
		case ch <- payload:
		default:
			log.Printf("grpcbus: dropping payload for lagging peer stream=%d channel=%s", id, channel)
		}
	}
}
