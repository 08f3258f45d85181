package udp

import (
	"net/netip"
	"sort"
	"time"
)

// Conn is one row of the connection table.
type Conn struct {
	Addr     netip.AddrPort
	LastRecv time.Time
	LastSent time.Time
	Ready    bool
}

// AddPeer registers a server-side peer in the loading state. Re-adding a
// known peer is a no-op.
func (t *Transport) AddPeer(addr netip.AddrPort) *Conn {
	addr = normalize(addr)
	if c, ok := t.peers[addr]; ok {
		return c
	}
	now := t.clk.Now()
	c := &Conn{Addr: addr, LastRecv: now, LastSent: now}
	t.peers[addr] = c
	return c
}

func (t *Transport) SetReady(addr netip.AddrPort, ready bool) bool {
	c, ok := t.peers[normalize(addr)]
	if !ok {
		return false
	}
	c.Ready = ready
	return true
}

func (t *Transport) RemovePeer(addr netip.AddrPort) bool {
	addr = normalize(addr)
	if _, ok := t.peers[addr]; !ok {
		return false
	}
	delete(t.peers, addr)
	return true
}

func (t *Transport) Peer(addr netip.AddrPort) (Conn, bool) {
	c, ok := t.peers[normalize(addr)]
	if !ok {
		return Conn{}, false
	}
	return *c, true
}

// Peers returns a copy of the table ordered by address.
func (t *Transport) Peers() []Conn {
	out := make([]Conn, 0, len(t.peers))
	for _, c := range t.peers {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr.String() < out[j].Addr.String() })
	return out
}

// ResetReadiness drops every peer back to loading, e.g. on map change.
func (t *Transport) ResetReadiness() {
	for _, c := range t.peers {
		c.Ready = false
	}
}

// Host is the client's connection to the server.
func (t *Transport) Host() (Conn, bool) {
	if t.host == nil {
		return Conn{}, false
	}
	return *t.host, true
}

// Connected reports whether the client has heard from the host.
func (t *Transport) Connected() bool { return t.connected && !t.hostLost }
