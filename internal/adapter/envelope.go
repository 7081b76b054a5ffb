package adapter

import "encoding/json"

// Envelope is the bus payload for one broadcast: the already-encoded primary
// frame plus its binary attachments, and enough routing detail for the
// receiving node to resolve its own local targets. Origin lets nodes discard
// the echo of their own publishes.
type Envelope struct {
	Origin      string          `json:"origin"`
	Namespace   string          `json:"namespace"`
	Rooms       []string        `json:"rooms,omitempty"`
	Except      []string        `json:"except,omitempty"`
	Packet      json.RawMessage `json:"packet"`
	Attachments [][]byte        `json:"attachments,omitempty"`
}
