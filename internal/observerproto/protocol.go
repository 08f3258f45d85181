package observerproto

import "arenanet/internal/replication"

// Version is the observer protocol version, separate from the UDP wire
// protocol.
const Version = "0.1"

// Client -> Server. First message on the observer WS connection; it can be
// re-sent to change settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	IntervalMs      int    `json:"interval_ms"`
	// Entities asks for the per-entity list in every tick message.
	Entities bool `json:"entities"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string    `json:"protocol_version"`
	SessionID       string    `json:"session_id"`
	Role            string    `json:"role"`
	Params          NetParams `json:"net_params"`
	Kinds           []string  `json:"kinds"`
}

type NetParams struct {
	FrameRateHz int    `json:"frame_rate_hz"`
	NetTickMs   int    `json:"net_tick_ms"`
	MaxClients  int    `json:"max_clients"`
	Port        int    `json:"port"`
	Compression string `json:"compression"`
}

// Server -> Client. Sent at the subscriber's interval.
type TickMsg struct {
	Type            string              `json:"type"`
	ProtocolVersion string              `json:"protocol_version"`
	Frame           uint64              `json:"frame"`
	Metrics         replication.Metrics `json:"metrics"`
	Peers           []PeerState         `json:"peers"`
	Entities        []EntityState       `json:"entities,omitempty"`
}

type PeerState struct {
	ID    string `json:"id"`
	Addr  string `json:"addr"`
	Name  string `json:"name"`
	State string `json:"state"`
}

type EntityState struct {
	ID            uint16      `json:"id"`
	Kind          string      `json:"kind"`
	Owner         string      `json:"owner,omitempty"`
	Authoritative bool        `json:"authoritative"`
	Pos           *[3]float32 `json:"pos,omitempty"`
}
