// Package errors provides structured error handling with i18n support.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Handshake errors
	CodeHandshakeFailed       Code = "HANDSHAKE_FAILED"
	CodeHandshakeUnauthorized Code = "HANDSHAKE_UNAUTHORIZED"

	// Packet errors
	CodeDecodeFailed       Code = "DECODE_FAILED"
	CodeAttachmentMismatch Code = "ATTACHMENT_MISMATCH"
	CodePayloadTooLarge    Code = "PAYLOAD_TOO_LARGE"
	CodeUnsupportedPacket  Code = "UNSUPPORTED_PACKET"

	// Session errors
	CodeHeartbeatTimeout Code = "HEARTBEAT_TIMEOUT"
	CodeSlowConsumer     Code = "SLOW_CONSUMER"
	CodeSessionClosed    Code = "SESSION_CLOSED"
	CodeSessionNotFound  Code = "SESSION_NOT_FOUND"

	// Acknowledgment errors
	CodeAckTimeout Code = "ACK_TIMEOUT"

	// Room and namespace errors
	CodeRoomNameEmpty    Code = "ROOM_NAME_EMPTY"
	CodeNamespaceUnknown Code = "NAMESPACE_UNKNOWN"

	// Broadcast adapter errors
	CodePublishFailure Code = "PUBLISH_FAILURE"
	CodeBusUnavailable Code = "BUS_UNAVAILABLE"
	CodeChannelInvalid Code = "CHANNEL_INVALID"

	// Rate limiting
	CodeRateLimited Code = "RATE_LIMITED"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeDecodeFailed,
		CodeAttachmentMismatch,
		CodePayloadTooLarge,
		CodeUnsupportedPacket,
		CodeRoomNameEmpty,
		CodeChannelInvalid:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow operation
	case CodeHandshakeFailed,
		CodeSessionClosed:
		return codes.FailedPrecondition

	// Unauthenticated - identity could not be established
	case CodeHandshakeUnauthorized:
		return codes.Unauthenticated

	// DeadlineExceeded - timers fired before the peer responded
	case CodeHeartbeatTimeout,
		CodeAckTimeout:
		return codes.DeadlineExceeded

	// ResourceExhausted - backpressure and rate limits
	case CodeSlowConsumer,
		CodeRateLimited:
		return codes.ResourceExhausted

	// Unavailable - distributed bus failures
	case CodePublishFailure,
		CodeBusUnavailable:
		return codes.Unavailable

	// NotFound - resource doesn't exist
	case CodeNotFound,
		CodeSessionNotFound,
		CodeNamespaceUnknown:
		return codes.NotFound

	default:
		return codes.Internal
	}
}
