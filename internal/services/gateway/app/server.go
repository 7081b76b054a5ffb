package server

import (
	"context"
	goerrors "errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	gogrpc "google.golang.org/grpc"

	"github.com/louisbranch/undertow/internal/ack"
	"github.com/louisbranch/undertow/internal/adapter"
	"github.com/louisbranch/undertow/internal/adapter/grpcbus"
	"github.com/louisbranch/undertow/internal/errors"
	"github.com/louisbranch/undertow/internal/platform/id"
	"github.com/louisbranch/undertow/internal/platform/timeouts"
	"github.com/louisbranch/undertow/internal/protocol"
	"github.com/louisbranch/undertow/internal/rooms"
	"github.com/louisbranch/undertow/internal/session"
	"github.com/louisbranch/undertow/internal/storage/sqlite"
	"github.com/louisbranch/undertow/internal/telemetry"
)

// Config defines the inputs for the gateway process.
//
// Leaving GRPCAddr and Peers empty runs a single node on an in-process bus;
// leaving JWTSecret empty disables the auth gate, which is the test
// configuration.
type Config struct {
	HTTPAddr          string
	GRPCAddr          string
	NodeID            string
	Peers             []string
	JWTSecret         string
	SQLitePath        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the gateway HTTP process and, when peers are configured, the
// gRPC peer bus for cross-node broadcasts.
type Server struct {
	httpAddr        string
	grpcAddr        string
	nodeID          string
	shutdownTimeout time.Duration

	httpServer *http.Server
	grpcServer *gogrpc.Server
	peerBus    *grpcbus.Bus

	namespaces  *rooms.Table
	sessions    *sessionTable
	acks        *ack.Correlator
	broadcaster *adapter.Broadcaster
	telemetry   *telemetry.Emitter
	store       *sqlite.Store
	authorizer  Authorizer

	mu         sync.Mutex
	subscribed map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer builds a configured gateway server.
func NewServer(config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, goerrors.New("http address is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}

	nodeID := strings.TrimSpace(config.NodeID)
	if nodeID == "" {
		generated, err := id.NewID()
		if err != nil {
			return nil, fmt.Errorf("generate node id: %w", err)
		}
		nodeID = generated
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		httpAddr:        httpAddr,
		grpcAddr:        strings.TrimSpace(config.GRPCAddr),
		nodeID:          nodeID,
		shutdownTimeout: config.ShutdownTimeout,
		namespaces:      rooms.NewTable(),
		sessions:        newSessionTable(),
		acks:            ack.NewCorrelator(),
		subscribed:      make(map[string]struct{}),
		ctx:             ctx,
		cancel:          cancel,
	}

	var bus adapter.Bus
	if s.grpcAddr != "" || len(config.Peers) > 0 {
		s.peerBus = grpcbus.New(config.Peers, nil)
		s.grpcServer = gogrpc.NewServer()
		s.peerBus.Register(s.grpcServer)
		bus = s.peerBus
	} else {
		bus = adapter.NewLocalBus()
	}
	s.broadcaster = adapter.NewBroadcaster(nodeID, bus, s.namespaces, s.sessions)

	if secret := strings.TrimSpace(config.JWTSecret); secret != "" {
		s.authorizer = NewJWTAuthorizer([]byte(secret))
	}

	if path := strings.TrimSpace(config.SQLitePath); path != "" {
		store, err := sqlite.Open(path)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("open telemetry store: %w", err)
		}
		s.store = store
		s.telemetry = telemetry.NewEmitter(store)
	}
	s.broadcaster.OnPublishFailure(func(namespace string, err error) {
		s.telemetry.PublishFailed(s.ctx, namespace, err.Error())
	})

	s.httpServer = &http.Server{
		Addr:              httpAddr,
		Handler:           s.newHandler(),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}
	return s, nil
}

// Run creates and serves a gateway until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return fmt.Errorf("init gateway server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve gateway: %w", err)
	}
	return nil
}

// NodeID returns the node's cluster-unique id.
func (s *Server) NodeID() string { return s.nodeID }

// Handler returns the HTTP handler, for httptest servers.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// ListenAndServe runs the HTTP server, and the peer bus server when
// configured, until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return goerrors.New("gateway server is nil")
	}
	if ctx == nil {
		return goerrors.New("context is required")
	}

	serveErr := make(chan error, 2)
	if s.grpcServer != nil && s.grpcAddr != "" {
		lis, err := net.Listen("tcp", s.grpcAddr)
		if err != nil {
			return fmt.Errorf("listen peer bus %s: %w", s.grpcAddr, err)
		}
		log.Printf("gateway peer bus listening on %s node=%s", s.grpcAddr, s.nodeID)
		go func() {
			serveErr <- s.grpcServer.Serve(lis)
		}()
	}

	log.Printf("gateway server listening on %s node=%s", s.httpAddr, s.nodeID)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.closeAllSessions(session.ReasonServerShutdown)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if s.grpcServer != nil {
			s.grpcServer.GracefulStop()
		}
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if goerrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve gateway: %w", err)
	}
}

// Call sends an event to one session and waits for its acknowledgment. A
// non-positive timeout falls back to the default ack deadline.
func (s *Server) Call(ctx context.Context, sessionID string, data any, timeout time.Duration) (any, error) {
	c, ok := s.sessions.get(sessionID)
	if !ok {
		return nil, errors.New(errors.CodeSessionNotFound, "session not found").
			WithMetadata("session_id", sessionID)
	}

	ackID, result := s.acks.Register(sessionID, timeout)
	packet := protocol.Packet{
		Type:      protocol.Event,
		Namespace: c.namespace,
		AckID:     &ackID,
		Data:      data,
	}
	if err := c.writePacket(packet); err != nil {
		return nil, fmt.Errorf("write call event: %w", err)
	}

	select {
	case res := <-result:
		return res.Data, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Broadcast delivers an event packet to the target rooms of a namespace,
// locally and on peer nodes.
func (s *Server) Broadcast(ctx context.Context, namespace string, roomNames, except []string, data any) error {
	name := s.namespaces.Ensure(namespace).Name()
	return s.broadcaster.Broadcast(ctx, name, roomNames, except, protocol.Packet{
		Type:      protocol.Event,
		Namespace: name,
		Data:      data,
	})
}

// Close releases server resources. Sessions still open are closed as a
// server shutdown.
func (s *Server) Close() {
	if s == nil {
		return
	}
	s.closeAllSessions(session.ReasonServerShutdown)
	s.cancel()
	s.broadcaster.Close()
	if s.peerBus != nil {
		s.peerBus.Close()
	}
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("gateway: close telemetry store err=%v", err)
		}
	}
}

// ensureNamespace returns the namespace, subscribing the node to its bus
// channel on first use.
func (s *Server) ensureNamespace(name string) *rooms.Namespace {
	ns := s.namespaces.Ensure(name)

	s.mu.Lock()
	_, done := s.subscribed[ns.Name()]
	if !done {
		s.subscribed[ns.Name()] = struct{}{}
	}
	s.mu.Unlock()

	if !done {
		if err := s.broadcaster.Subscribe(s.ctx, ns.Name()); err != nil {
			log.Printf("gateway: namespace subscription failed namespace=%s err=%v", ns.Name(), err)
		}
	}
	return ns
}

func (s *Server) closeAllSessions(reason session.CloseReason) {
	for _, c := range s.sessions.all() {
		c.closeWithNotice(reason)
	}
}
