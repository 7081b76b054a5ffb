package server

import (
	"encoding/json"
	goerrors "errors"
	"log"
	"time"

	"github.com/louisbranch/undertow/internal/errors"
	"github.com/louisbranch/undertow/internal/protocol"
	"github.com/louisbranch/undertow/internal/session"
	"github.com/louisbranch/undertow/internal/transport"
)

const (
	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3
	maxAttachmentsPerEvent = 16
)

// Reserved event names handled by the gateway instead of being broadcast.
const (
	eventRoomJoin  = "room.join"
	eventRoomLeave = "room.leave"
	eventWelcome   = "system.welcome"
)

// conn binds one client connection: its transport negotiator, its session,
// and the namespace it lives in. The read loop is the only reader of the
// negotiator's inbound stream.
type conn struct {
	server    *Server
	sess      *session.Session
	neg       *transport.Negotiator
	polling   *transport.Polling
	namespace string
	locale    string
	userID    string

	// Packet reassembly: a primary frame that declared attachments waits
	// here until the binary frames arrive.
	pendingPrimary  []byte
	attachments     [][]byte
	wantAttachments int
}

// readLoop consumes the merged inbound frame stream until the transport or
// the session closes.
func (c *conn) readLoop() {
	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		select {
		case frame := <-c.neg.Receive():
			if len(frame.Data) > maxFramePayloadBytes {
				c.writeError(nil, errors.CodePayloadTooLarge, "frame payload too large")
				c.resetReassembly()
				continue
			}

			now := time.Now()
			if now.Sub(windowStart) >= time.Second {
				windowStart = now
				framesInWindow = 0
			}
			framesInWindow++
			if framesInWindow > maxFramesPerSecond {
				c.writeError(nil, errors.CodeRateLimited, "frame rate limit exceeded")
				c.sess.Close(session.ReasonClientClose)
				return
			}

			packet, complete, err := c.reassemble(frame)
			if err != nil {
				decodeErrors++
				c.writeError(nil, decodeErrorCode(err), "invalid frame")
				if decodeErrors >= maxDecodeErrorsPerConn {
					log.Printf("gateway: decode error budget exhausted session=%s err=%v", c.sess.ID(), err)
					c.sess.Close(session.ReasonClientClose)
					return
				}
				continue
			}
			if !complete {
				continue
			}
			decodeErrors = 0
			c.dispatch(packet)

		case event := <-c.neg.Closed():
			reason := session.ReasonTransportError
			if event.Reason == "client-close" {
				reason = session.ReasonClientClose
			}
			if event.Err != nil {
				log.Printf("gateway: transport closed session=%s reason=%s err=%v", c.sess.ID(), event.Reason, event.Err)
			}
			c.sess.Close(reason)
			return

		case <-c.sess.Done():
			return
		}
	}
}

// reassemble folds a frame into the current packet. Primary frames that
// declare attachments park until the binary frames arrive; everything else
// decodes immediately.
func (c *conn) reassemble(frame transport.Frame) (protocol.Packet, bool, error) {
	if c.wantAttachments > 0 {
		if !frame.Binary {
			c.resetReassembly()
			return protocol.Packet{}, false, errors.New(errors.CodeAttachmentMismatch, "expected binary attachment frame")
		}
		c.attachments = append(c.attachments, frame.Data)
		if len(c.attachments) < c.wantAttachments {
			return protocol.Packet{}, false, nil
		}
		primary, attachments := c.pendingPrimary, c.attachments
		c.resetReassembly()
		packet, err := protocol.Decode(primary, attachments)
		if err != nil {
			return protocol.Packet{}, false, err
		}
		return packet, true, nil
	}

	if frame.Binary {
		return protocol.Packet{}, false, errors.New(errors.CodeAttachmentMismatch, "binary frame without a pending packet")
	}

	var head struct {
		Attachments int `json:"attachments"`
	}
	if err := json.Unmarshal(frame.Data, &head); err != nil {
		return protocol.Packet{}, false, errors.Wrap(errors.CodeDecodeFailed, "parse primary frame", err)
	}
	if head.Attachments < 0 || head.Attachments > maxAttachmentsPerEvent {
		return protocol.Packet{}, false, errors.New(errors.CodeAttachmentMismatch, "attachment count out of range")
	}
	if head.Attachments > 0 {
		c.pendingPrimary = frame.Data
		c.wantAttachments = head.Attachments
		c.attachments = make([][]byte, 0, head.Attachments)
		return protocol.Packet{}, false, nil
	}

	packet, err := protocol.Decode(frame.Data, nil)
	if err != nil {
		return protocol.Packet{}, false, err
	}
	return packet, true, nil
}

func (c *conn) resetReassembly() {
	c.pendingPrimary = nil
	c.attachments = nil
	c.wantAttachments = 0
}

// dispatch routes one decoded packet by its type tag.
func (c *conn) dispatch(packet protocol.Packet) {
	c.sess.Touch()

	switch packet.Type {
	case protocol.Ping:
		if err := c.writePacket(protocol.Packet{Type: protocol.Pong, Data: packet.Data}); err != nil {
			log.Printf("gateway: pong write failed session=%s err=%v", c.sess.ID(), err)
		}
	case protocol.Pong:
		// Heartbeat answer; Touch above is all it needed.
	case protocol.Close:
		c.sess.Close(session.ReasonClientClose)
	case protocol.Event:
		c.handleEvent(packet)
	case protocol.Ack:
		if packet.AckID == nil {
			c.writeError(nil, errors.CodeDecodeFailed, "ack packet requires ack_id")
			return
		}
		if !c.server.acks.Resolve(c.sess.ID(), *packet.AckID, packet.Data) {
			log.Printf("gateway: dropping late ack session=%s ack_id=%d", c.sess.ID(), *packet.AckID)
		}
	default:
		c.writeError(packet.AckID, errors.CodeUnsupportedPacket, "packet type not accepted from clients")
	}
}

// handleEvent interprets reserved room events locally and broadcasts
// everything else to the event's target rooms, excluding the sender.
func (c *conn) handleEvent(packet protocol.Packet) {
	body, ok := packet.Data.(map[string]any)
	if !ok {
		c.writeError(packet.AckID, errors.CodeDecodeFailed, "event body must be an object")
		return
	}
	name, _ := body["event"].(string)

	switch name {
	case eventRoomJoin:
		room, _ := body["room"].(string)
		ns := c.server.namespaces.Ensure(c.namespace)
		if err := ns.Join(c.sess.ID(), room); err != nil {
			c.writeError(packet.AckID, errors.GetCode(err), "join room")
			return
		}
		c.ackStatus(packet.AckID, map[string]any{"status": "ok", "room": room})
	case eventRoomLeave:
		room, _ := body["room"].(string)
		c.server.namespaces.Ensure(c.namespace).Leave(c.sess.ID(), room)
		c.ackStatus(packet.AckID, map[string]any{"status": "ok", "room": room})
	default:
		targets := stringSlice(body["rooms"])
		out := protocol.Packet{Type: protocol.Event, Namespace: c.namespace, Data: body}
		if err := c.server.broadcaster.Broadcast(c.server.ctx, c.namespace, targets, []string{c.sess.ID()}, out); err != nil {
			c.writeError(packet.AckID, errors.GetCode(err), "broadcast event")
			return
		}
		c.ackStatus(packet.AckID, map[string]any{"status": "ok"})
	}
}

// ackStatus answers an event that asked for acknowledgment. Events without
// an ack id get no reply.
func (c *conn) ackStatus(ackID *uint64, data any) {
	if ackID == nil {
		return
	}
	if err := c.writePacket(protocol.Packet{Type: protocol.Ack, Namespace: c.namespace, AckID: ackID, Data: data}); err != nil {
		log.Printf("gateway: ack write failed session=%s err=%v", c.sess.ID(), err)
	}
}

// writePacket encodes and enqueues one packet on the session's outbound
// queue.
func (c *conn) writePacket(packet protocol.Packet) error {
	primary, attachments, err := protocol.Encode(packet)
	if err != nil {
		return err
	}
	frames := make([]transport.Frame, 0, 1+len(attachments))
	frames = append(frames, transport.Frame{Data: primary})
	for _, attachment := range attachments {
		frames = append(frames, transport.Frame{Binary: true, Data: attachment})
	}
	return c.sess.Write(frames...)
}

// writeError emits a coded error packet to the client, with the message
// localized for the session's negotiated locale. Best effort; a session
// already closing drops it.
func (c *conn) writeError(ackID *uint64, code errors.Code, message string) {
	packet := protocol.Packet{
		Type:      protocol.Error,
		Namespace: c.namespace,
		AckID:     ackID,
		Data: protocol.ErrorData{
			Code:    string(code),
			Message: errors.UserMessage(errors.New(code, message), c.locale),
		},
	}
	if err := c.writePacket(packet); err != nil {
		log.Printf("gateway: error write failed session=%s code=%s err=%v", c.sess.ID(), code, err)
	}
}

// closeWithNotice tells the client the session is ending, then closes it.
// Used for server-initiated closes; the close packet bypasses the session
// queue so it still goes out when the pump is already stopping.
func (c *conn) closeWithNotice(reason session.CloseReason) {
	primary, _, err := protocol.Encode(protocol.Packet{
		Type:      protocol.Close,
		Namespace: c.namespace,
		Data:      protocol.CloseReasonData{Reason: string(reason)},
	})
	if err == nil {
		_ = c.neg.Send(transport.Frame{Data: primary})
	}
	c.sess.Close(reason)
}

// decodeErrorCode maps a reassembly or codec failure onto a wire error
// code.
func decodeErrorCode(err error) errors.Code {
	if code := errors.GetCode(err); code != errors.CodeUnknown {
		return code
	}
	if goerrors.Is(err, protocol.ErrAttachmentMismatch) {
		return errors.CodeAttachmentMismatch
	}
	return errors.CodeDecodeFailed
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
