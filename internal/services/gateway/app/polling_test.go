package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/louisbranch/undertow/internal/protocol"
	"github.com/louisbranch/undertow/internal/transport"
)

// pollGet drains one long poll and decodes its frames into packets.
func pollGet(t *testing.T, ts *httptest.Server, query string) []protocol.Packet {
	t.Helper()
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(ts.URL + "/realtime" + query)
	if err != nil {
		t.Fatalf("poll get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("poll status = %d, want 200", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read poll body: %v", err)
	}
	frames, err := transport.DecodePayload(body)
	if err != nil {
		t.Fatalf("decode poll payload: %v", err)
	}

	var packets []protocol.Packet
	var primary []byte
	var attachments [][]byte
	want := 0
	for _, frame := range frames {
		if primary == nil {
			var head struct {
				Attachments int `json:"attachments"`
			}
			if err := json.Unmarshal(frame.Data, &head); err != nil {
				t.Fatalf("parse primary frame: %v", err)
			}
			if head.Attachments == 0 {
				packet, err := protocol.Decode(frame.Data, nil)
				if err != nil {
					t.Fatalf("decode packet: %v", err)
				}
				packets = append(packets, packet)
				continue
			}
			primary = frame.Data
			want = head.Attachments
			continue
		}
		attachments = append(attachments, frame.Data)
		if len(attachments) == want {
			packet, err := protocol.Decode(primary, attachments)
			if err != nil {
				t.Fatalf("decode packet: %v", err)
			}
			packets = append(packets, packet)
			primary, attachments, want = nil, nil, 0
		}
	}
	return packets
}

// pollPost submits client packets to an existing polling session.
func pollPost(t *testing.T, ts *httptest.Server, sid string, packets ...protocol.Packet) {
	t.Helper()
	var frames []transport.Frame
	for _, packet := range packets {
		frames = append(frames, packetFrames(t, packet)...)
	}
	resp, err := http.Post(
		ts.URL+"/realtime?sid="+sid,
		"application/octet-stream",
		bytes.NewReader(transport.EncodePayload(frames)),
	)
	if err != nil {
		t.Fatalf("poll post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("post status = %d, want 200", resp.StatusCode)
	}
}

// openPollingSession creates a polling session and returns its id plus any
// packets beyond the handshake that rode in the first payload.
func openPollingSession(t *testing.T, ts *httptest.Server) (string, []protocol.Packet) {
	t.Helper()
	packets := pollGet(t, ts, "")
	if len(packets) == 0 || packets[0].Type != protocol.Open {
		t.Fatalf("first poll did not start with a handshake: %+v", packets)
	}
	handshake, ok := packets[0].Data.(map[string]any)
	if !ok {
		t.Fatalf("handshake payload type %T", packets[0].Data)
	}
	sid, _ := handshake["session_id"].(string)
	if sid == "" {
		t.Fatalf("handshake has no session id")
	}
	return sid, packets[1:]
}

// waitForPacket polls until a packet of the wanted type shows up.
func waitForPacket(t *testing.T, ts *httptest.Server, sid string, pending []protocol.Packet, want protocol.Type) protocol.Packet {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		for _, packet := range pending {
			if packet.Type == want {
				return packet
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("no %s packet arrived", want)
		}
		pending = pollGet(t, ts, "?sid="+sid)
	}
}

func TestPollingHandshakeAdvertisesUpgrade(t *testing.T) {
	_, ts := newGateway(t, Config{})

	packets := pollGet(t, ts, "")
	if len(packets) == 0 || packets[0].Type != protocol.Open {
		t.Fatalf("expected handshake, got %+v", packets)
	}
	handshake := packets[0].Data.(map[string]any)
	upgrades, _ := handshake["upgrades"].([]any)
	if len(upgrades) != 1 || upgrades[0] != "websocket" {
		t.Fatalf("upgrades = %v, want [websocket]", upgrades)
	}
}

func TestPollingPingPong(t *testing.T) {
	_, ts := newGateway(t, Config{})

	sid, pending := openPollingSession(t, ts)
	waitForPacket(t, ts, sid, pending, protocol.Event) // welcome

	pollPost(t, ts, sid, protocol.Packet{Type: protocol.Ping, Data: "probe-alive"})
	pong := waitForPacket(t, ts, sid, nil, protocol.Pong)
	if pong.Data != "probe-alive" {
		t.Fatalf("pong payload = %v, want probe-alive", pong.Data)
	}
}

func TestPollingUnknownSession(t *testing.T) {
	_, ts := newGateway(t, Config{})

	resp, err := http.Get(ts.URL + "/realtime?sid=missing")
	if err != nil {
		t.Fatalf("poll get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestPollingPostRequiresSession(t *testing.T) {
	_, ts := newGateway(t, Config{})

	resp, err := http.Post(ts.URL+"/realtime", "application/octet-stream", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestUpgradeFromPollingToWebSocket(t *testing.T) {
	srv, ts := newGateway(t, Config{})

	sid, pending := openPollingSession(t, ts)
	waitForPacket(t, ts, sid, pending, protocol.Event) // welcome

	ws := dialWS(t, ts, "?sid="+sid)

	sendPacket(t, ws, protocol.Packet{Type: protocol.Ping, Data: "probe"})
	pong := recvPacket(t, ws)
	if pong.Type != protocol.Pong || pong.Data != "probe" {
		t.Fatalf("probe reply = %s %v, want pong probe", pong.Type, pong.Data)
	}

	sendPacket(t, ws, protocol.Packet{Type: protocol.Ping, Data: "upgrade"})

	deadline := time.Now().Add(2 * time.Second)
	for {
		c, ok := srv.sessions.get(sid)
		if !ok {
			t.Fatalf("session disappeared during upgrade")
		}
		if c.neg.State() == transport.StateUpgraded {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("upgrade did not commit, state=%s", c.neg.State())
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Traffic now flows over the websocket in both directions.
	sendPacket(t, ws, protocol.Packet{Type: protocol.Ping, Data: "after"})
	reply := recvPacket(t, ws)
	if reply.Type != protocol.Pong || reply.Data != "after" {
		t.Fatalf("post-upgrade reply = %s %v, want pong after", reply.Type, reply.Data)
	}
}

func TestUpgradeProbeLeavesPollingActive(t *testing.T) {
	srv, ts := newGateway(t, Config{})

	sid, pending := openPollingSession(t, ts)
	waitForPacket(t, ts, sid, pending, protocol.Event) // welcome

	ws := dialWS(t, ts, "?sid="+sid)
	sendPacket(t, ws, protocol.Packet{Type: protocol.Ping, Data: "probe"})
	recvPacket(t, ws)

	// Candidate dies before committing; the session stays on polling.
	_ = ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		c, ok := srv.sessions.get(sid)
		if !ok {
			t.Fatalf("session died with the abandoned candidate")
		}
		if c.neg.State() == transport.StateOpen {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("negotiator state = %s, want open", c.neg.State())
		}
		time.Sleep(10 * time.Millisecond)
	}

	pollPost(t, ts, sid, protocol.Packet{Type: protocol.Ping, Data: "still-here"})
	pong := waitForPacket(t, ts, sid, nil, protocol.Pong)
	if pong.Data != "still-here" {
		t.Fatalf("pong payload = %v, want still-here", pong.Data)
	}
}
