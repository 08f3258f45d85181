package udp

import (
	"net/netip"
	"time"
)

// Enqueue schedules payload for the next Flush. The slice is retained, so
// callers must not reuse it.
func (t *Transport) Enqueue(payload []byte, target Target) {
	t.queue = append(t.queue, outbound{payload: payload, target: target})
}

// Pending is the number of payloads waiting for Flush.
func (t *Transport) Pending() int { return len(t.queue) }

func (t *Transport) destinations(tg Target) []*Conn {
	if t.role == RoleClient {
		if t.host == nil {
			return nil
		}
		if tg.Mode == ModeBroadcastExcept && tg.Peer == t.host.Addr {
			return nil
		}
		return []*Conn{t.host}
	}
	switch tg.Mode {
	case ModeUnicast:
		if c, ok := t.peers[normalize(tg.Peer)]; ok {
			return []*Conn{c}
		}
		// Refusals and farewells go to addresses outside the table.
		return []*Conn{{Addr: normalize(tg.Peer)}}
	default:
		skip := normalize(tg.Peer)
		out := make([]*Conn, 0, len(t.peers))
		for _, c := range t.peers {
			if !c.Ready {
				continue
			}
			if tg.Mode == ModeBroadcastExcept && c.Addr == skip {
				continue
			}
			out = append(out, c)
		}
		return out
	}
}

// Flush sends everything queued, then keepalives to idle ready peers.
func (t *Transport) Flush() error {
	if t.conn == nil {
		t.queue = t.queue[:0]
		return ErrNotListening
	}
	now := t.clk.Now()
	for _, o := range t.queue {
		dst := t.destinations(o.target)
		if len(dst) == 0 {
			continue
		}
		frame, err := t.codec.Compress(o.payload)
		if err != nil {
			t.log.Printf("compress %d bytes: %v", len(o.payload), err)
			continue
		}
		for _, c := range dst {
			t.write(frame, c, now)
		}
	}
	t.queue = t.queue[:0]

	if t.role == RoleClient {
		if t.connected && t.host != nil && now.Sub(t.host.LastSent) > t.cfg.Keepalive {
			t.write(t.empty, t.host, now)
		}
		return nil
	}
	for _, c := range t.peers {
		if c.Ready && now.Sub(c.LastSent) > t.cfg.Keepalive {
			t.write(t.empty, c, now)
		}
	}
	return nil
}

func (t *Transport) write(frame []byte, c *Conn, now time.Time) {
	if _, err := t.conn.WriteToUDPAddrPort(frame, c.Addr); err != nil {
		t.stats.WriteErrors++
		return
	}
	c.LastSent = now
	t.stats.DatagramsOut++
	t.stats.BytesOut += uint64(len(frame))
}

// Drain returns every datagram received since the previous call. It never
// blocks.
func (t *Transport) Drain() []Datagram {
	var out []Datagram
	now := t.clk.Now()
	for {
		select {
		case in := <-t.inbox:
			if d, ok := t.accept(in, now); ok {
				out = append(out, d)
			}
		default:
			return out
		}
	}
}

func (t *Transport) accept(in inbound, now time.Time) (Datagram, bool) {
	t.stats.DatagramsIn++
	t.stats.BytesIn += uint64(len(in.b))

	if t.role == RoleClient {
		// Only the host talks to a client.
		if t.host == nil || in.from != t.host.Addr {
			return Datagram{}, false
		}
		t.host.LastRecv = now
		if !t.connected {
			t.connected = true
			t.log.Printf("connected to %s after %d attempt(s)", in.from, t.attempts)
		}
	} else if c, ok := t.peers[in.from]; ok {
		c.LastRecv = now
	}

	payload, err := t.codec.Decompress(in.b)
	if err != nil {
		t.stats.BadFrames++
		t.log.Printf("drop datagram from %s: %v", in.from, err)
		return Datagram{}, false
	}
	if len(payload) == 0 {
		return Datagram{}, false
	}
	return Datagram{Payload: payload, From: in.from}, true
}

// Service evaluates timeouts and, for a connecting client, hello retries.
func (t *Transport) Service() []Event {
	now := t.clk.Now()
	var events []Event
	switch t.role {
	case RoleServer:
		for addr, c := range t.peers {
			limit := t.cfg.Timeout
			if !c.Ready {
				limit *= 2
			}
			if now.Sub(c.LastRecv) > limit {
				delete(t.peers, addr)
				events = append(events, Event{Kind: EventTimeout, Peer: addr})
			}
		}
	case RoleClient:
		if t.host == nil || t.hostLost || t.failed {
			return nil
		}
		if t.connected {
			if now.Sub(t.host.LastRecv) > t.cfg.Timeout {
				t.hostLost = true
				events = append(events, Event{Kind: EventTimeout, Peer: t.host.Addr})
			}
			return events
		}
		if t.attempts > 0 && now.Sub(t.lastAttempt) < t.cfg.RetryInterval {
			return nil
		}
		if t.attempts >= t.cfg.MaxAttempts {
			t.failed = true
			return []Event{{Kind: EventConnectFailed, Peer: t.host.Addr}}
		}
		t.attempts++
		t.lastAttempt = now
		frame, err := t.codec.Compress(t.hello)
		if err != nil {
			t.log.Printf("compress hello: %v", err)
			return nil
		}
		t.write(frame, t.host, now)
	}
	return events
}

// Attempts is the number of hellos sent so far.
func (t *Transport) Attempts() int { return t.attempts }

// HostAddr is the client's server address, zero on a server.
func (t *Transport) HostAddr() netip.AddrPort {
	if t.host == nil {
		return netip.AddrPort{}
	}
	return t.host.Addr
}
