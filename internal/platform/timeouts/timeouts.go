// Package timeouts defines shared timeout constants used across the gateway.
// Centralizing these values prevents drift between the transport, session,
// and peer-bus layers and makes the durations discoverable.
package timeouts

import "time"

// GRPCDial caps the wait time when dialing a gRPC peer node.
const GRPCDial = 2 * time.Second

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// HeartbeatInterval is the default cadence of server-issued liveness pings.
const HeartbeatInterval = 25 * time.Second

// HeartbeatTimeout is the default grace period after HeartbeatInterval
// before an unresponsive session is closed.
const HeartbeatTimeout = 20 * time.Second

// ProbeTimeout caps how long a transport upgrade probe may stay unanswered
// before the session stays on its fallback transport.
const ProbeTimeout = 5 * time.Second

// AckDefault is the default deadline for request/response correlation when
// the caller does not supply one.
const AckDefault = 10 * time.Second

// PollWait is how long a long-poll request is held open waiting for
// outbound frames before returning an empty batch.
const PollWait = 25 * time.Second
