package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/net/websocket"
)

// frameCodec maps a Frame to a text or binary websocket message, keeping the
// binary flag intact across the wire.
var frameCodec = websocket.Codec{Marshal: marshalFrame, Unmarshal: unmarshalFrame}

func marshalFrame(v any) ([]byte, byte, error) {
	frame, ok := v.(Frame)
	if !ok {
		return nil, 0, websocket.ErrNotSupported
	}
	if frame.Binary {
		return frame.Data, websocket.BinaryFrame, nil
	}
	return frame.Data, websocket.TextFrame, nil
}

func unmarshalFrame(data []byte, payloadType byte, v any) error {
	frame, ok := v.(*Frame)
	if !ok {
		return websocket.ErrNotSupported
	}
	frame.Binary = payloadType == websocket.BinaryFrame
	frame.Data = data
	return nil
}

// WebSocket adapts a *websocket.Conn to the Transport interface. A reader
// goroutine owns the connection's receive side; Send serializes writers.
type WebSocket struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	recv   chan Frame
	closed chan CloseEvent
	done   chan struct{}
	once   sync.Once
}

// NewWebSocket wraps an accepted (or dialed) websocket connection and starts
// its reader.
func NewWebSocket(conn *websocket.Conn) *WebSocket {
	t := &WebSocket{
		conn:   conn,
		recv:   make(chan Frame, 16),
		closed: make(chan CloseEvent, 1),
		done:   make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// Kind reports KindWebSocket.
func (t *WebSocket) Kind() Kind { return KindWebSocket }

// Send writes the frames in order. Frames from concurrent callers never
// interleave mid-packet because the whole call holds the write lock.
func (t *WebSocket) Send(frames ...Frame) error {
	select {
	case <-t.done:
		return ErrClosed
	default:
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	for _, frame := range frames {
		if err := frameCodec.Send(t.conn, frame); err != nil {
			return fmt.Errorf("websocket send: %w", err)
		}
	}
	return nil
}

// Receive returns the inbound frame stream.
func (t *WebSocket) Receive() <-chan Frame { return t.recv }

// Done is closed when the transport finishes. HTTP handlers block on it so
// the websocket library does not tear the connection down early.
func (t *WebSocket) Done() <-chan struct{} { return t.done }

// Closed delivers the single close event.
func (t *WebSocket) Closed() <-chan CloseEvent { return t.closed }

// Close tears the connection down. Safe to call more than once.
func (t *WebSocket) Close() error {
	t.finish(CloseEvent{Reason: "closed"})
	return t.conn.Close()
}

func (t *WebSocket) readLoop() {
	for {
		var frame Frame
		if err := frameCodec.Receive(t.conn, &frame); err != nil {
			if errors.Is(err, io.EOF) {
				t.finish(CloseEvent{Reason: "client-close"})
			} else {
				t.finish(CloseEvent{Reason: "transport-error", Err: err})
			}
			_ = t.conn.Close()
			return
		}
		select {
		case t.recv <- frame:
		case <-t.done:
			return
		}
	}
}

func (t *WebSocket) finish(event CloseEvent) {
	t.once.Do(func() {
		t.closed <- event
		close(t.done)
	})
}
