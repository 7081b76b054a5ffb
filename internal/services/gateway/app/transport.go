package server

import (
	"context"
	goerrors "errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	"github.com/louisbranch/undertow/internal/errors"
	"github.com/louisbranch/undertow/internal/platform/i18n"
	"github.com/louisbranch/undertow/internal/platform/id"
	"github.com/louisbranch/undertow/internal/platform/timeouts"
	"github.com/louisbranch/undertow/internal/protocol"
	"github.com/louisbranch/undertow/internal/session"
	"github.com/louisbranch/undertow/internal/transport"
)

// sidParam carries the session id on polling requests and upgrade dials.
const sidParam = "sid"

// nsParam selects the namespace a new session connects to.
const nsParam = "ns"

// maxPollBodyBytes caps one polling POST body: a full payload of maximum
// frames plus separator overhead.
const maxPollBodyBytes = 4 * maxFramePayloadBytes

type userIDContextKey struct{}

func (s *Server) newHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wsHandler := websocket.Handler(s.handleWebSocket)
	mux.HandleFunc("/realtime", func(w http.ResponseWriter, r *http.Request) {
		if isWebSocketRequest(r) {
			if strings.TrimSpace(r.URL.Query().Get(sidParam)) == "" {
				userID, ok := s.authorize(w, r)
				if !ok {
					return
				}
				r = r.WithContext(context.WithValue(r.Context(), userIDContextKey{}, userID))
			}
			wsHandler.ServeHTTP(w, r)
			return
		}

		switch r.Method {
		case http.MethodGet:
			s.handlePollingGet(w, r)
		case http.MethodPost:
			s.handlePollingPost(w, r)
		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	return mux
}

func isWebSocketRequest(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// authorize enforces the auth gate before a session exists. A nil authorizer
// leaves access open.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	if s.authorizer == nil {
		return "", true
	}

	token := tokenFromRequest(r)
	if token == "" {
		log.Printf("gateway: unauthorized: missing token remote=%s", r.RemoteAddr)
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return "", false
	}
	userID, err := s.authorizer.Authenticate(r.Context(), token)
	if err != nil || strings.TrimSpace(userID) == "" {
		log.Printf("gateway: unauthorized remote=%s err=%v", r.RemoteAddr, err)
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return "", false
	}
	return strings.TrimSpace(userID), true
}

// tokenFromRequest pulls the bearer token from the Authorization header,
// falling back to the token query parameter because browser WebSocket
// clients cannot set headers.
func tokenFromRequest(r *http.Request) string {
	if auth := strings.TrimSpace(r.Header.Get("Authorization")); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// handlePollingGet answers a long poll. A request without a session id
// creates a new polling session whose first payload is the handshake.
func (s *Server) handlePollingGet(w http.ResponseWriter, r *http.Request) {
	sid := strings.TrimSpace(r.URL.Query().Get(sidParam))

	var c *conn
	if sid == "" {
		userID, ok := s.authorize(w, r)
		if !ok {
			return
		}
		p := transport.NewPolling()
		created, err := s.createSession(r, p, p, []string{string(transport.KindWebSocket)}, userID)
		if err != nil {
			log.Printf("gateway: polling session creation failed err=%v", err)
			http.Error(w, "session creation failed", http.StatusInternalServerError)
			return
		}
		c = created
	} else {
		existing, ok := s.sessions.get(sid)
		if !ok {
			http.Error(w, "unknown session", http.StatusNotFound)
			return
		}
		if existing.polling == nil {
			http.Error(w, "session has no polling transport", http.StatusBadRequest)
			return
		}
		c = existing
	}

	frames, err := c.polling.WaitOutbound(pollDone(r.Context(), c.polling))
	if err != nil {
		switch {
		case goerrors.Is(err, transport.ErrPollBusy):
			http.Error(w, "poll already in flight", http.StatusConflict)
		case goerrors.Is(err, transport.ErrClosed):
			http.Error(w, "session closed", http.StatusGone)
		default:
			http.Error(w, "poll failed", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(transport.EncodePayload(frames))
}

// handlePollingPost ingests client frames for an existing polling session.
func (s *Server) handlePollingPost(w http.ResponseWriter, r *http.Request) {
	sid := strings.TrimSpace(r.URL.Query().Get(sidParam))
	if sid == "" {
		http.Error(w, "session id is required", http.StatusBadRequest)
		return
	}
	c, ok := s.sessions.get(sid)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	if c.polling == nil {
		http.Error(w, "session has no polling transport", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPollBodyBytes))
	if err != nil {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}
	if err := c.polling.SubmitPayload(body); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleWebSocket serves an accepted websocket connection: either a fresh
// websocket-first session, or an upgrade candidate for an existing polling
// session. The handler must not return while the connection is in use.
func (s *Server) handleWebSocket(wsConn *websocket.Conn) {
	r := wsConn.Request()
	sid := strings.TrimSpace(r.URL.Query().Get(sidParam))
	ws := transport.NewWebSocket(wsConn)

	if sid == "" {
		userID, _ := r.Context().Value(userIDContextKey{}).(string)
		if _, err := s.createSession(r, ws, nil, nil, userID); err != nil {
			log.Printf("gateway: websocket session creation failed err=%v", err)
			_ = ws.Close()
			return
		}
		<-ws.Done()
		return
	}

	c, ok := s.sessions.get(sid)
	if !ok {
		primary, _, err := protocol.Encode(protocol.Packet{
			Type: protocol.Error,
			Data: protocol.ErrorData{Code: string(errors.CodeSessionNotFound), Message: "unknown session"},
		})
		if err == nil {
			_ = ws.Send(transport.Frame{Data: primary})
		}
		_ = ws.Close()
		return
	}

	if err := c.neg.Attach(ws); err != nil {
		log.Printf("gateway: upgrade rejected session=%s err=%v", sid, err)
		return
	}
	<-ws.Done()
}

// createSession wires a new connection: negotiator, session, namespace
// membership, close cascade, handshake, and the read loop.
func (s *Server) createSession(r *http.Request, initial transport.Transport, polling *transport.Polling, upgrades []string, userID string) (*conn, error) {
	sid, err := id.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}

	neg := transport.NewNegotiator(initial)
	sess := session.New(sid, neg, session.Config{})
	ns := s.ensureNamespace(r.URL.Query().Get(nsParam))

	c := &conn{
		server:    s,
		sess:      sess,
		neg:       neg,
		polling:   polling,
		namespace: ns.Name(),
		locale:    i18n.ResolveLocale(r),
		userID:    userID,
	}
	ns.AddSession(sid)
	// Every session belongs to a room named after its own id, so broadcasts
	// can target a single session the same way they target any room.
	if err := ns.Join(sid, sid); err != nil {
		ns.RemoveSession(sid)
		sess.Close(session.ReasonTransportError)
		return nil, fmt.Errorf("join self room: %w", err)
	}
	s.sessions.add(c)

	neg.OnUpgrade(func(kind transport.Kind) {
		log.Printf("gateway: session upgraded id=%s kind=%s", sid, kind)
		s.telemetry.TransportUpgraded(s.ctx, sid)
	})
	sess.OnClose(func(reason session.CloseReason) {
		ns.RemoveSession(sid)
		s.acks.FailSession(sid)
		s.sessions.remove(sid)
		_ = neg.Close()
		s.telemetry.SessionClosed(s.ctx, sid, string(reason))
		log.Printf("gateway: session closed id=%s reason=%s", sid, reason)
	})

	if upgrades == nil {
		upgrades = []string{}
	}
	if err := neg.Open(protocol.Handshake{
		SessionID:      sid,
		PingIntervalMs: uint(timeouts.HeartbeatInterval / time.Millisecond),
		PingTimeoutMs:  uint(timeouts.HeartbeatTimeout / time.Millisecond),
		Upgrades:       upgrades,
	}); err != nil {
		sess.Close(session.ReasonTransportError)
		return nil, err
	}

	sess.Activate()
	go c.readLoop()

	s.telemetry.SessionOpened(s.ctx, sid, string(initial.Kind()))
	c.sendWelcome()
	log.Printf("gateway: session opened id=%s kind=%s namespace=%s", sid, initial.Kind(), ns.Name())
	return c, nil
}

// pollDone bounds one long poll: it fires on the poll-wait deadline or when
// the client abandons the request.
func pollDone(ctx context.Context, p *transport.Polling) <-chan struct{} {
	done := make(chan struct{})
	wait := p.PollWait()
	go func() {
		defer close(done)
		select {
		case <-wait:
		case <-ctx.Done():
		}
	}()
	return done
}
