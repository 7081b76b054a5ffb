package transport

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/louisbranch/undertow/internal/platform/timeouts"
)

// payloadSeparator joins frames inside one polling payload. It cannot appear
// in JSON text, so no escaping is needed.
const payloadSeparator = '\x1e'

// binaryMarker prefixes base64-encoded binary frames in a polling payload.
const binaryMarker = 'b'

// ErrPollBusy rejects a second concurrent poll for the same transport; the
// protocol allows exactly one outstanding GET per session.
var ErrPollBusy = errors.New("poll already in flight")

// Polling is the HTTP long-poll fallback transport. The gateway's HTTP
// handler feeds POST bodies in through SubmitPayload and drains outbound
// frames through WaitOutbound; everything else talks to it via the Transport
// interface.
type Polling struct {
	mu       sync.Mutex
	outbound []Frame
	paused   bool
	polling  bool

	notify chan struct{}
	recv   chan Frame
	closed chan CloseEvent
	done   chan struct{}
	once   sync.Once
}

// NewPolling creates an idle polling transport.
func NewPolling() *Polling {
	return &Polling{
		notify: make(chan struct{}, 1),
		recv:   make(chan Frame, 16),
		closed: make(chan CloseEvent, 1),
		done:   make(chan struct{}),
	}
}

// Kind reports KindPolling.
func (t *Polling) Kind() Kind { return KindPolling }

// Send buffers the frames for the next poll. While the transport is paused
// for an upgrade the frames stay buffered so DrainOutbound can move them.
func (t *Polling) Send(frames ...Frame) error {
	t.mu.Lock()
	select {
	case <-t.done:
		t.mu.Unlock()
		return ErrClosed
	default:
	}
	t.outbound = append(t.outbound, frames...)
	t.mu.Unlock()

	t.wake()
	return nil
}

// Receive returns the inbound frame stream.
func (t *Polling) Receive() <-chan Frame { return t.recv }

// Closed delivers the single close event.
func (t *Polling) Closed() <-chan CloseEvent { return t.closed }

// Close shuts the transport down and releases any waiting poll.
func (t *Polling) Close() error {
	t.finish(CloseEvent{Reason: "closed"})
	return nil
}

// Fail closes the transport with an error, releasing any waiting poll.
func (t *Polling) Fail(err error) {
	t.finish(CloseEvent{Reason: "transport-error", Err: err})
}

// WaitOutbound blocks until at least one outbound frame is buffered, the
// transport pauses or closes, or done is closed, then drains everything
// buffered. A nil, nil return means the poll should answer with an empty
// payload. Only one call may be outstanding at a time.
func (t *Polling) WaitOutbound(done <-chan struct{}) ([]Frame, error) {
	t.mu.Lock()
	if t.polling {
		t.mu.Unlock()
		return nil, ErrPollBusy
	}
	t.polling = true
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.polling = false
		t.mu.Unlock()
	}()

	for {
		t.mu.Lock()
		if t.paused {
			t.mu.Unlock()
			return nil, nil
		}
		if len(t.outbound) > 0 {
			frames := t.outbound
			t.outbound = nil
			t.mu.Unlock()
			return frames, nil
		}
		t.mu.Unlock()

		select {
		case <-t.notify:
		case <-t.done:
			return nil, ErrClosed
		case <-done:
			return nil, nil
		}
	}
}

// SubmitPayload decodes a client POST body and delivers its frames inbound.
func (t *Polling) SubmitPayload(body []byte) error {
	frames, err := DecodePayload(body)
	if err != nil {
		return err
	}
	for _, frame := range frames {
		select {
		case t.recv <- frame:
		case <-t.done:
			return ErrClosed
		}
	}
	return nil
}

// Pause stops handing frames to polls so an upgrade can drain them. Any
// blocked poll is released with an empty payload.
func (t *Polling) Pause() {
	t.mu.Lock()
	t.paused = true
	t.mu.Unlock()
	t.wake()
}

// DrainOutbound takes every buffered outbound frame. Called after Pause to
// move the backlog onto the replacement transport.
func (t *Polling) DrainOutbound() []Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	frames := t.outbound
	t.outbound = nil
	return frames
}

// PollWait returns a channel that fires when a poll has held long enough and
// should answer with whatever is buffered, typically nothing.
func (t *Polling) PollWait() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		timer := time.NewTimer(timeouts.PollWait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-t.done:
		}
		close(done)
	}()
	return done
}

func (t *Polling) wake() {
	select {
	case t.notify <- struct{}{}:
	default:
	}
}

func (t *Polling) finish(event CloseEvent) {
	t.once.Do(func() {
		t.closed <- event
		close(t.done)
	})
}

// EncodePayload joins frames into one polling payload. Binary frames are
// base64-encoded behind a marker byte; text frames ride as-is.
func EncodePayload(frames []Frame) []byte {
	var buf bytes.Buffer
	for i, frame := range frames {
		if i > 0 {
			buf.WriteByte(payloadSeparator)
		}
		if frame.Binary {
			buf.WriteByte(binaryMarker)
			buf.WriteString(base64.StdEncoding.EncodeToString(frame.Data))
			continue
		}
		buf.Write(frame.Data)
	}
	return buf.Bytes()
}

// DecodePayload splits a polling payload back into frames.
func DecodePayload(payload []byte) ([]Frame, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	parts := bytes.Split(payload, []byte{payloadSeparator})
	frames := make([]Frame, 0, len(parts))
	for _, part := range parts {
		if len(part) > 0 && part[0] == binaryMarker {
			data, err := base64.StdEncoding.DecodeString(string(part[1:]))
			if err != nil {
				return nil, fmt.Errorf("decode binary polling frame: %w", err)
			}
			frames = append(frames, Frame{Binary: true, Data: data})
			continue
		}
		frames = append(frames, Frame{Data: part})
	}
	return frames, nil
}
