// Package transport moves encoded packet frames between a client and the
// gateway. Two kinds exist: an HTTP long-polling fallback and a WebSocket,
// with an in-place upgrade path from the former to the latter.
package transport

import "errors"

// Kind identifies a transport implementation.
type Kind string

const (
	// KindPolling is the HTTP long-poll fallback transport.
	KindPolling Kind = "polling"
	// KindWebSocket is the persistent duplex transport.
	KindWebSocket Kind = "websocket"
)

// Frame is one wire frame: either the JSON primary frame of a packet or one
// raw binary attachment.
type Frame struct {
	Binary bool
	Data   []byte
}

// CloseEvent reports why a transport stopped delivering frames.
type CloseEvent struct {
	Reason string
	Err    error
}

// ErrClosed is returned by Send once a transport has shut down.
var ErrClosed = errors.New("transport closed")

// Transport carries frames in both directions until closed. Receive and
// Closed stay selectable for the lifetime of the value; Closed delivers
// exactly one event.
type Transport interface {
	Kind() Kind
	Send(frames ...Frame) error
	Receive() <-chan Frame
	Closed() <-chan CloseEvent
	Close() error
}
