package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrDecode reports a malformed primary frame. The packet is lost; the
// session-closing policy is the caller's choice.
var ErrDecode = errors.New("malformed packet frame")

// ErrAttachmentMismatch reports that the number of binary frames supplied
// does not match the count declared by the primary frame.
var ErrAttachmentMismatch = errors.New("attachment count mismatch")

// placeholderKey marks a lifted binary value inside the payload tree. The
// key is reserved: user payloads containing an object with this exact shape
// are not distinguishable from a placeholder. This is a documented protocol
// constraint, not a security boundary.
const placeholderKey = "_placeholder"

type wireFrame struct {
	Type        Type            `json:"type"`
	Namespace   string          `json:"namespace,omitempty"`
	AckID       *uint64         `json:"ack_id,omitempty"`
	Attachments int             `json:"attachments,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// Encode serializes a packet into its primary JSON frame plus the ordered
// binary attachments lifted out of the payload. Encode never mutates the
// packet: containers on the path to a binary value are copied during the
// walk.
func Encode(p Packet) (primary []byte, attachments [][]byte, err error) {
	if !p.Type.Valid() {
		return nil, nil, fmt.Errorf("encode packet: unknown type %d", int(p.Type))
	}

	data, attachments := liftBinary(p.Data, nil)

	frame := wireFrame{
		Type:        p.Type,
		Namespace:   p.Namespace,
		AckID:       p.AckID,
		Attachments: len(attachments),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, nil, fmt.Errorf("encode packet data: %w", err)
		}
		frame.Data = raw
	}

	primary, err = json.Marshal(frame)
	if err != nil {
		return nil, nil, fmt.Errorf("encode packet frame: %w", err)
	}
	return primary, attachments, nil
}

// Decode parses a primary frame and restores lifted binary values from the
// supplied attachment frames. The attachment slice must contain exactly the
// number of frames the primary frame declares.
func Decode(primary []byte, attachments [][]byte) (Packet, error) {
	var frame wireFrame
	if err := json.Unmarshal(primary, &frame); err != nil {
		return Packet{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if !frame.Type.Valid() {
		return Packet{}, fmt.Errorf("%w: unknown type %d", ErrDecode, int(frame.Type))
	}
	if frame.Attachments < 0 || frame.Attachments != len(attachments) {
		return Packet{}, fmt.Errorf("%w: declared %d, got %d", ErrAttachmentMismatch, frame.Attachments, len(attachments))
	}

	var data any
	if len(frame.Data) > 0 {
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return Packet{}, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		restored, used, err := restoreBinary(data, attachments)
		if err != nil {
			return Packet{}, err
		}
		if used != len(attachments) {
			return Packet{}, fmt.Errorf("%w: %d attachments supplied, %d referenced", ErrAttachmentMismatch, len(attachments), used)
		}
		data = restored
	} else if len(attachments) > 0 {
		return Packet{}, fmt.Errorf("%w: %d attachments without payload", ErrAttachmentMismatch, len(attachments))
	}

	return Packet{
		Type:        frame.Type,
		Namespace:   frame.Namespace,
		AckID:       frame.AckID,
		Attachments: frame.Attachments,
		Data:        data,
	}, nil
}

// liftBinary walks the payload tree depth-first, replacing each []byte with
// a placeholder object and appending the buffer to the attachment list.
// Placeholder indexes follow encounter order; Decode resolves them by index,
// so map iteration order does not affect correctness.
func liftBinary(value any, attachments [][]byte) (any, [][]byte) {
	switch v := value.(type) {
	case []byte:
		idx := len(attachments)
		attachments = append(attachments, v)
		return map[string]any{placeholderKey: true, "num": idx}, attachments
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key], attachments = liftBinary(item, attachments)
		}
		return out, attachments
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i], attachments = liftBinary(item, attachments)
		}
		return out, attachments
	default:
		return value, attachments
	}
}

// restoreBinary walks a decoded payload tree replacing placeholder objects
// with their attachment buffers. It returns the number of distinct
// placeholders resolved so Decode can verify full consumption.
func restoreBinary(value any, attachments [][]byte) (any, int, error) {
	switch v := value.(type) {
	case map[string]any:
		if isPlaceholder(v) {
			num, ok := placeholderIndex(v)
			if !ok || num < 0 || num >= len(attachments) {
				return nil, 0, fmt.Errorf("%w: placeholder index out of range", ErrAttachmentMismatch)
			}
			return attachments[num], 1, nil
		}
		out := make(map[string]any, len(v))
		used := 0
		for key, item := range v {
			restored, n, err := restoreBinary(item, attachments)
			if err != nil {
				return nil, 0, err
			}
			out[key] = restored
			used += n
		}
		return out, used, nil
	case []any:
		out := make([]any, len(v))
		used := 0
		for i, item := range v {
			restored, n, err := restoreBinary(item, attachments)
			if err != nil {
				return nil, 0, err
			}
			out[i] = restored
			used += n
		}
		return out, used, nil
	default:
		return value, 0, nil
	}
}

func isPlaceholder(v map[string]any) bool {
	if len(v) != 2 {
		return false
	}
	flag, ok := v[placeholderKey].(bool)
	if !ok || !flag {
		return false
	}
	_, hasNum := v["num"]
	return hasNum
}

func placeholderIndex(v map[string]any) (int, bool) {
	switch num := v["num"].(type) {
	case float64:
		return int(num), true
	case int:
		return num, true
	default:
		return 0, false
	}
}
