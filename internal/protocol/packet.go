// Package protocol defines the wire packet model and its codec.
//
// A packet travels as one JSON primary frame optionally followed by raw
// binary attachment frames. Binary values inside the payload are lifted out
// before encoding and restored after decoding so that the primary frame stays
// valid JSON on every transport.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Type tags a packet with its protocol role.
type Type int

const (
	// Open carries the handshake payload for a new session.
	Open Type = iota
	// Close announces an orderly shutdown of the session.
	Close
	// Ping is a liveness probe.
	Ping
	// Pong answers a liveness probe.
	Pong
	// Event carries application data.
	Event
	// Ack answers an Event that requested acknowledgment.
	Ack
	// Error reports a protocol-level failure to the peer.
	Error
)

var typeNames = [...]string{"open", "close", "ping", "pong", "event", "ack", "error"}

// String returns the wire name of the type.
func (t Type) String() string {
	if t < Open || t > Error {
		return fmt.Sprintf("type(%d)", int(t))
	}
	return typeNames[t]
}

// Valid reports whether t is a known packet type.
func (t Type) Valid() bool {
	return t >= Open && t <= Error
}

// MarshalJSON encodes the type as its wire name.
func (t Type) MarshalJSON() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("marshal packet type: unknown type %d", int(t))
	}
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a wire name into the type.
func (t *Type) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("unmarshal packet type: %w", err)
	}
	for i, candidate := range typeNames {
		if candidate == name {
			*t = Type(i)
			return nil
		}
	}
	return fmt.Errorf("unmarshal packet type: unknown type %q", name)
}

// Packet is one decoded protocol unit.
//
// AckID is set only on Event packets that expect a reply and on the Ack
// packets answering them. Attachments counts the binary frames that follow
// the primary frame on the wire.
type Packet struct {
	Type        Type
	Namespace   string
	AckID       *uint64
	Attachments int
	Data        any
}

// Handshake is the payload of the Open packet sent once per connection.
type Handshake struct {
	SessionID      string   `json:"session_id"`
	PingIntervalMs uint     `json:"ping_interval_ms"`
	PingTimeoutMs  uint     `json:"ping_timeout_ms"`
	Upgrades       []string `json:"upgrades"`
}

// CloseReasonData is the payload of a server-issued Close packet.
type CloseReasonData struct {
	Reason string `json:"reason"`
}

// ErrorData is the payload of an Error packet.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
