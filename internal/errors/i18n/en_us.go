package i18n

// Error codes must match the codes defined in internal/errors/codes.go.
// These are duplicated as strings to avoid an import cycle.
const (
	CodeUnknown               = "UNKNOWN"
	CodeHandshakeFailed       = "HANDSHAKE_FAILED"
	CodeHandshakeUnauthorized = "HANDSHAKE_UNAUTHORIZED"
	CodeDecodeFailed          = "DECODE_FAILED"
	CodeAttachmentMismatch    = "ATTACHMENT_MISMATCH"
	CodePayloadTooLarge       = "PAYLOAD_TOO_LARGE"
	CodeUnsupportedPacket     = "UNSUPPORTED_PACKET"
	CodeHeartbeatTimeout      = "HEARTBEAT_TIMEOUT"
	CodeSlowConsumer          = "SLOW_CONSUMER"
	CodeSessionClosed         = "SESSION_CLOSED"
	CodeSessionNotFound       = "SESSION_NOT_FOUND"
	CodeAckTimeout            = "ACK_TIMEOUT"
	CodeRoomNameEmpty         = "ROOM_NAME_EMPTY"
	CodeNamespaceUnknown      = "NAMESPACE_UNKNOWN"
	CodePublishFailure        = "PUBLISH_FAILURE"
	CodeBusUnavailable        = "BUS_UNAVAILABLE"
	CodeChannelInvalid        = "CHANNEL_INVALID"
	CodeRateLimited           = "RATE_LIMITED"
	CodeNotFound              = "NOT_FOUND"
)

var enUSCatalog = &Catalog{
	messages: map[Code]string{
		CodeUnknown: "Something went wrong",

		// Handshake errors
		CodeHandshakeFailed:       "Connection handshake failed",
		CodeHandshakeUnauthorized: "Authentication is required to connect",

		// Packet errors
		CodeDecodeFailed:       "The packet could not be decoded",
		CodeAttachmentMismatch: "Expected {{.Expected}} binary attachments, got {{.Got}}",
		CodePayloadTooLarge:    "Payload exceeds the allowed size",
		CodeUnsupportedPacket:  "Unsupported packet type {{.Type}}",

		// Session errors
		CodeHeartbeatTimeout: "Connection closed after missed heartbeats",
		CodeSlowConsumer:     "Connection closed because messages were not being consumed",
		CodeSessionClosed:    "The session is closed",
		CodeSessionNotFound:  "Unknown session",

		// Acknowledgment errors
		CodeAckTimeout: "The acknowledgment deadline elapsed",

		// Room and namespace errors
		CodeRoomNameEmpty:    "Room name cannot be empty",
		CodeNamespaceUnknown: "Unknown namespace {{.Namespace}}",

		// Broadcast adapter errors
		CodePublishFailure: "Cross-node delivery is degraded",
		CodeBusUnavailable: "The broadcast backend is unavailable",
		CodeChannelInvalid: "Invalid broadcast channel name",

		// Rate limiting
		CodeRateLimited: "Too many packets, slow down",

		// Storage errors
		CodeNotFound: "Not found",
	},
}
