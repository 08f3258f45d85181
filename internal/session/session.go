package session

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/netip"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"arenanet/internal/clock"
	"arenanet/internal/transport/udp"
	"arenanet/internal/wire"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Loading
	Ready
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	default:
		return "disconnected"
	}
}

// Signal is a terminal client condition surfaced to the host application.
type Signal int

const (
	SignalServerFull Signal = iota + 1
	SignalHostLeft
	SignalTimeout
	SignalConnectFailed
)

func (s Signal) String() string {
	switch s {
	case SignalServerFull:
		return "server_full"
	case SignalHostLeft:
		return "host_left"
	case SignalTimeout:
		return "timeout"
	case SignalConnectFailed:
		return "connect_failed"
	default:
		return "unknown"
	}
}

// Reason says why a peer went away. A client reports its host with the
// reason of the signal it raised.
type Reason string

const (
	ReasonLeft          Reason = "left"
	ReasonTimeout       Reason = "timeout"
	ReasonServerFull    Reason = "server_full"
	ReasonConnectFailed Reason = "connect_failed"
)

func (s Signal) reason() Reason {
	switch s {
	case SignalHostLeft:
		return ReasonLeft
	case SignalTimeout:
		return ReasonTimeout
	case SignalServerFull:
		return ReasonServerFull
	default:
		return ReasonConnectFailed
	}
}

var ErrWrongState = errors.New("session: operation not valid in current state")

// Link is the slice of the transport the lifecycle and the orchestrator drive.
// *udp.Transport implements it.
type Link interface {
	Role() udp.Role
	Service() []udp.Event
	Drain() []udp.Datagram
	Enqueue(payload []byte, target udp.Target)
	Flush() error
	AddPeer(addr netip.AddrPort) *udp.Conn
	SetReady(addr netip.AddrPort, ready bool) bool
	RemovePeer(addr netip.AddrPort) bool
	Peer(addr netip.AddrPort) (udp.Conn, bool)
	Peers() []udp.Conn
	ResetReadiness()
	HostAddr() netip.AddrPort
	Stats() udp.Stats
}

type Config struct {
	MaxClients    int
	RetryInterval time.Duration
}

type Hooks struct {
	// Setup returns the body that follows the SETUP tag for a newly accepted
	// or reset peer. Nil means an empty body.
	Setup func(peer netip.AddrPort, name string) *wire.Packet
	Ready func(peer netip.AddrPort)
	// Disconnected fires when a server drops a client and when a client
	// loses or leaves its host.
	Disconnected func(peer netip.AddrPort, reason Reason)
	// Journal sees every server-side lifecycle transition.
	Journal func(Entry)
}

// Entry is one lifecycle transition of a client, as the server saw it.
type Entry struct {
	Time  time.Time `json:"time"`
	ID    string    `json:"id"`
	Peer  string    `json:"peer"`
	Name  string    `json:"name"`
	Event string    `json:"event"`
}

// PeerInfo describes one accepted client.
type PeerInfo struct {
	Addr   netip.AddrPort
	ID     uuid.UUID
	Name   string
	State  State
	Joined time.Time
}

// Session is the connection lifecycle for one side of the link. It is not
// safe for concurrent use; the orchestrator calls it from the frame loop.
type Session struct {
	link  Link
	cfg   Config
	hooks Hooks
	clk   clock.Clock
	log   *log.Logger

	server bool
	peers  map[netip.AddrPort]*PeerInfo

	state     State
	signals   []Signal
	acked     bool
	lastReady time.Time
}

const defaultName = "player"

func NewServer(link Link, cfg Config, hooks Hooks, clk clock.Clock, logger *log.Logger) *Session {
	s := newSession(link, cfg, hooks, clk, logger)
	s.server = true
	s.peers = map[netip.AddrPort]*PeerInfo{}
	return s
}

// NewClient expects link to be connecting already (see Hello).
func NewClient(link Link, cfg Config, hooks Hooks, clk clock.Clock, logger *log.Logger) *Session {
	s := newSession(link, cfg, hooks, clk, logger)
	s.state = Connecting
	return s
}

func newSession(link Link, cfg Config, hooks Hooks, clk clock.Clock, logger *log.Logger) *Session {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = 8
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 250 * time.Millisecond
	}
	return &Session{link: link, cfg: cfg, hooks: hooks, clk: clk, log: logger}
}

// Hello is the payload a client hands to udp.Transport.Connect.
func Hello(name string) []byte {
	return wire.NewPacket().AddTag(wire.TagNewClient).AddString(name).Bytes()
}

func (s *Session) IsServer() bool { return s.server }

// ClientState is the local client's state; a server reports Ready once
// listening.
func (s *Session) ClientState() State {
	if s.server {
		return Ready
	}
	return s.state
}

func (s *Session) State(peer netip.AddrPort) State {
	if !s.server {
		if peer == s.link.HostAddr() {
			return s.state
		}
		return Disconnected
	}
	if p, ok := s.peers[peer]; ok {
		return p.State
	}
	return Disconnected
}

func (s *Session) Info(peer netip.AddrPort) (PeerInfo, bool) {
	p, ok := s.peers[peer]
	if !ok {
		return PeerInfo{}, false
	}
	return *p, true
}

// Peers lists accepted clients ordered by join time.
func (s *Session) Peers() []PeerInfo {
	out := make([]PeerInfo, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Joined.Equal(out[j].Joined) {
			return out[i].Addr.String() < out[j].Addr.String()
		}
		return out[i].Joined.Before(out[j].Joined)
	})
	return out
}

// ReadyCount is the number of server-side peers in the broadcast set.
func (s *Session) ReadyCount() int {
	n := 0
	for _, p := range s.peers {
		if p.State == Ready {
			n++
		}
	}
	return n
}

// Signals returns the client signals raised since the last call.
func (s *Session) Signals() []Signal {
	out := s.signals
	s.signals = nil
	return out
}

// Handle consumes one lifecycle record whose tag has already been read.
func (s *Session) Handle(tag wire.Tag, from netip.AddrPort, r *wire.Reader) error {
	switch tag {
	case wire.TagNewClient:
		name, err := r.Str()
		if err != nil {
			return fmt.Errorf("new client name: %w", err)
		}
		if s.server {
			s.accept(from, name)
		}
	case wire.TagClientReady:
		if s.server {
			s.markReady(from)
		}
	case wire.TagDisconnect:
		if s.server {
			s.drop(from, ReasonLeft)
		} else if from == s.link.HostAddr() {
			s.lost(SignalHostLeft)
		}
	case wire.TagServerFull:
		if !s.server && (s.state == Connecting || s.state == Loading) {
			s.lost(SignalServerFull)
		}
	case wire.TagSetup:
		// A SETUP while ready means the host changed maps.
		if !s.server && s.state != Disconnected {
			if s.state == Ready {
				s.log.Printf("host reset, reloading")
			}
			s.state = Loading
			s.acked = false
		}
	case wire.TagEmpty:
	default:
		return fmt.Errorf("session: tag %s is not a lifecycle record", tag)
	}
	return nil
}

// Observe notes a datagram from the host. The first one completes the
// connect.
func (s *Session) Observe(from netip.AddrPort) {
	if s.server || from != s.link.HostAddr() {
		return
	}
	if s.state == Connecting {
		s.state = Loading
	}
}

// Confirm notes that the host is treating this client as ready.
func (s *Session) Confirm() {
	if !s.server && s.state == Ready {
		s.acked = true
	}
}

// HandleEvents applies transport timeouts and connect failures.
func (s *Session) HandleEvents(events []udp.Event) {
	for _, ev := range events {
		switch ev.Kind {
		case udp.EventTimeout:
			if s.server {
				s.drop(ev.Peer, ReasonTimeout)
			} else {
				s.lost(SignalTimeout)
			}
		case udp.EventConnectFailed:
			if !s.server {
				s.lost(SignalConnectFailed)
			}
		}
	}
}

// Service re-sends CLIENT_READY until the host confirms it.
func (s *Session) Service() {
	if s.server || s.state != Ready || s.acked {
		return
	}
	now := s.clk.Now()
	if now.Sub(s.lastReady) >= s.cfg.RetryInterval {
		s.sendReady(now)
	}
}

// MarkLoaded tells the host this client finished loading.
func (s *Session) MarkLoaded() error {
	if s.server || s.state != Loading {
		return ErrWrongState
	}
	s.state = Ready
	s.acked = false
	s.sendReady(s.clk.Now())
	return nil
}

func (s *Session) sendReady(now time.Time) {
	s.lastReady = now
	s.link.Enqueue(wire.NewPacket().AddTag(wire.TagClientReady).Bytes(), udp.Unicast(s.link.HostAddr()))
}

// Reset puts every peer back to loading and sends fresh setup, e.g. on map
// change.
func (s *Session) Reset() {
	if !s.server {
		return
	}
	s.link.ResetReadiness()
	for _, p := range s.Peers() {
		s.peers[p.Addr].State = Loading
		s.sendSetup(p.Addr, p.Name)
	}
}

// Leave queues DISCONNECT to everyone and flushes.
func (s *Session) Leave() error {
	bye := wire.NewPacket().AddTag(wire.TagDisconnect).Bytes()
	if s.server {
		for _, c := range s.link.Peers() {
			s.link.Enqueue(bye, udp.Unicast(c.Addr))
		}
		for addr := range s.peers {
			s.link.RemovePeer(addr)
			delete(s.peers, addr)
		}
	} else if s.state != Disconnected {
		s.link.Enqueue(bye, udp.Unicast(s.link.HostAddr()))
		s.state = Disconnected
		s.hostGone(ReasonLeft)
	}
	return s.link.Flush()
}

func (s *Session) accept(from netip.AddrPort, name string) {
	if _, ok := s.peers[from]; ok {
		return
	}
	if len(s.peers) >= s.cfg.MaxClients {
		s.log.Printf("refuse %s: server full (%d)", from, s.cfg.MaxClients)
		s.link.Enqueue(wire.NewPacket().AddTag(wire.TagServerFull).Bytes(), udp.Unicast(from))
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultName
	}
	s.link.AddPeer(from)
	s.peers[from] = &PeerInfo{Addr: from, ID: uuid.New(), Name: name, State: Loading, Joined: s.clk.Now()}
	s.log.Printf("accept %s name=%q", from, name)
	s.journal(s.peers[from], "joined")
	s.sendSetup(from, name)
}

func (s *Session) sendSetup(peer netip.AddrPort, name string) {
	p := wire.NewPacket().AddTag(wire.TagSetup)
	if s.hooks.Setup != nil {
		p.Append(s.hooks.Setup(peer, name))
	}
	s.link.Enqueue(p.Bytes(), udp.Unicast(peer))
}

func (s *Session) markReady(from netip.AddrPort) {
	p, ok := s.peers[from]
	if !ok || p.State == Ready {
		return
	}
	p.State = Ready
	s.link.SetReady(from, true)
	s.log.Printf("ready %s name=%q", from, p.Name)
	s.journal(p, "ready")
	if s.hooks.Ready != nil {
		s.hooks.Ready(from)
	}
}

func (s *Session) drop(peer netip.AddrPort, reason Reason) {
	p, ok := s.peers[peer]
	if !ok {
		s.link.RemovePeer(peer)
		return
	}
	delete(s.peers, peer)
	s.link.RemovePeer(peer)
	s.log.Printf("drop %s name=%q reason=%s", peer, p.Name, reason)
	s.journal(p, string(reason))
	if s.hooks.Disconnected != nil {
		s.hooks.Disconnected(peer, reason)
	}
}

func (s *Session) journal(p *PeerInfo, event string) {
	if s.hooks.Journal == nil {
		return
	}
	s.hooks.Journal(Entry{
		Time:  s.clk.Now().UTC(),
		ID:    p.ID.String(),
		Peer:  p.Addr.String(),
		Name:  p.Name,
		Event: event,
	})
}

func (s *Session) lost(sig Signal) {
	if s.state == Disconnected {
		return
	}
	s.state = Disconnected
	s.signals = append(s.signals, sig)
	s.log.Printf("disconnected: %s", sig)
	s.hostGone(sig.reason())
}

func (s *Session) hostGone(reason Reason) {
	if s.hooks.Disconnected != nil {
		s.hooks.Disconnected(s.link.HostAddr(), reason)
	}
}
