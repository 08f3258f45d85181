package replication

import (
	"net/netip"
	"testing"
	"time"

	"arenanet/internal/clock"
	"arenanet/internal/session"
	"arenanet/internal/transport/memnet"
	"arenanet/internal/transport/udp"
	"arenanet/internal/wire"
)

const dummyKind Kind = 1

// dummy is a minimal replicable: a uint16 value plus one-byte critical
// events. Spawn body: Uint16 val. Controller body: Uint16 val, Uint8 n,
// n x Uint8 events.
type dummy struct {
	id   EntityID
	auth bool

	val     uint16
	sentVal uint16
	pending []uint8
	dirty   bool

	observed []uint16
	events   []uint8
	nilTicks int

	deleted    bool
	killed     bool
	remoteGone bool
}

func (p *dummy) ID() EntityID             { return p.id }
func (p *dummy) SetID(id EntityID)        { p.id = id }
func (p *dummy) Kind() Kind               { return dummyKind }
func (p *dummy) Authoritative() bool      { return p.auth }
func (p *dummy) SetAuthoritative(a bool)  { p.auth = a }
func (p *dummy) Dirty() bool              { return p.dirty }
func (p *dummy) WriteSpawn(w *wire.Packet) { w.AddUint16(p.val) }

func (p *dummy) emit(ev uint8) { p.pending = append(p.pending, ev) }

func (p *dummy) TickAuthoritative(f *Frame) (Update, bool) {
	body := wire.NewPacket().AddUint16(p.val).AddUint8(uint8(len(p.pending)))
	for _, ev := range p.pending {
		body.AddUint8(ev)
	}
	critical := len(p.pending) > 0
	p.pending = nil
	p.dirty = p.val != p.sentVal
	val := p.val
	return Update{Body: body, Critical: critical, Sent: func() { p.sentVal = val }}, true
}

func (p *dummy) TickObserved(f *Frame, r *wire.Reader) error {
	if r == nil {
		p.nilTicks++
		return nil
	}
	v, err := r.Uint16()
	if err != nil {
		return err
	}
	n, err := r.Uint8()
	if err != nil {
		return err
	}
	for i := 0; i < int(n); i++ {
		ev, err := r.Uint8()
		if err != nil {
			return err
		}
		p.events = append(p.events, ev)
	}
	if !p.auth {
		p.val = v
		p.observed = append(p.observed, v)
	}
	return nil
}

func (p *dummy) Deleted(killed, remote bool) {
	p.deleted = true
	p.killed = killed
	p.remoteGone = remote
}

func decodeDummy(created *[]*dummy) SpawnDecoder {
	return func(f *Frame, r *wire.Reader) (Replicable, error) {
		v, err := r.Uint16()
		if err != nil {
			return nil, err
		}
		p := &dummy{val: v, sentVal: v}
		if created != nil {
			*created = append(*created, p)
		}
		return p, nil
	}
}

type node struct {
	tr      *udp.Transport
	o       *Orchestrator
	created []*dummy
	chats   []string
}

type harness struct {
	t   *testing.T
	net *memnet.Network
	clk *clock.Manual
	cfg Config
	srv *node
	all []*node
	gone map[netip.AddrPort]session.Reason
}

var serverAddr = netip.MustParseAddrPort("10.0.0.1:1337")

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Seed = 42
	return cfg
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{t: t, net: memnet.New(), clk: clock.NewManual(time.Unix(1000, 0)), cfg: cfg, gone: map[netip.AddrPort]session.Reason{}}
	conn, err := h.net.Listen(serverAddr)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	h.srv = h.node(conn, udp.RoleServer, netip.AddrPort{}, nil, Hooks{
		Disconnected: func(peer netip.AddrPort, reason session.Reason) { h.gone[peer] = reason },
	})
	return h
}

func (h *harness) node(conn *memnet.Conn, role udp.Role, host netip.AddrPort, hello []byte, hooks Hooks) *node {
	h.t.Helper()
	tr, err := udp.New(udp.DefaultConfig(), h.clk, nil)
	if err != nil {
		h.t.Fatalf("udp.New: %v", err)
	}
	if err := tr.Attach(conn, role, host, hello); err != nil {
		h.t.Fatalf("Attach: %v", err)
	}
	h.t.Cleanup(func() { _ = tr.Close() })
	n := &node{tr: tr}
	reg := NewRegistry()
	if err := reg.Register(dummyKind, "dummy", decodeDummy(&n.created)); err != nil {
		h.t.Fatalf("Register: %v", err)
	}
	hooks.OnChat = func(from netip.AddrPort, name, text string) { n.chats = append(n.chats, name+": "+text) }
	cfg := h.cfg
	cfg.Seed += int64(len(h.all))
	n.o = New(cfg, tr, reg, hooks, h.clk, nil)
	h.all = append(h.all, n)
	return n
}

func (h *harness) client(name string) *node { return h.clientWith(name, Hooks{}) }

func (h *harness) clientWith(name string, hooks Hooks) *node {
	h.t.Helper()
	conn, err := h.net.Listen(netip.AddrPortFrom(netip.MustParseAddr("10.0.1.1"), 0))
	if err != nil {
		h.t.Fatalf("listen: %v", err)
	}
	return h.node(conn, udp.RoleClient, serverAddr, session.Hello(name), hooks)
}

// frames advances the clock by dt and steps every node, n times. The network
// settles after each node so delivery order does not depend on scheduling.
func (h *harness) frames(n int, dt time.Duration) {
	for i := 0; i < n; i++ {
		h.clk.Advance(dt)
		for _, nd := range h.all {
			nd.o.Step(nil)
			h.net.Settle()
		}
	}
}

const frameDT = 16 * time.Millisecond

func (h *harness) join(name string) *node { return h.joinWith(name, Hooks{}) }

func (h *harness) joinWith(name string, hooks Hooks) *node {
	h.t.Helper()
	c := h.clientWith(name, hooks)
	h.load(c)
	return c
}

// load waits for c to reach loading, marks it loaded and checks the server
// took it into the broadcast set.
func (h *harness) load(c *node) {
	h.t.Helper()
	for i := 0; i < 20 && c.o.Session().ClientState() != session.Loading; i++ {
		h.frames(1, frameDT)
	}
	if err := c.o.Session().MarkLoaded(); err != nil {
		h.t.Fatalf("MarkLoaded: %v", err)
	}
	h.frames(4, frameDT)
	if st := h.srv.o.Session().State(c.tr.LocalAddr()); st != session.Ready {
		h.t.Fatalf("server sees %s as %s", c.tr.LocalAddr(), st)
	}
}

func dummyOn(n *node, id EntityID) *dummy {
	e, ok := n.o.Entities().Get(id)
	if !ok {
		return nil
	}
	return e.(*dummy)
}
