package udp

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"arenanet/internal/clock"
)

const DefaultPort = 1337

var (
	ErrRoleSet      = errors.New("udp: role already chosen")
	ErrNotListening = errors.New("udp: transport has no socket")
)

// PacketConn is the socket surface the transport needs. *net.UDPConn
// satisfies it.
type PacketConn interface {
	ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error)
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
	LocalAddr() net.Addr
	Close() error
}

type Role int

const (
	RoleNone Role = iota
	RoleServer
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleClient:
		return "client"
	default:
		return "none"
	}
}

type Config struct {
	// Timeout applies to ready peers; loading peers get twice as long.
	Timeout       time.Duration
	RetryInterval time.Duration
	MaxAttempts   int
	Keepalive     time.Duration
	Compression   string
	// InboxSize bounds datagrams buffered between two Drain calls. Overflow
	// is dropped, as the network would.
	InboxSize int
}

func DefaultConfig() Config {
	return Config{
		Timeout:       10 * time.Second,
		RetryInterval: 250 * time.Millisecond,
		MaxAttempts:   10,
		Keepalive:     500 * time.Millisecond,
		Compression:   "zlib",
		InboxSize:     4096,
	}
}

// Datagram is one decompressed inbound payload.
type Datagram struct {
	Payload []byte
	From    netip.AddrPort
}

type Mode int

const (
	ModeUnicast Mode = iota
	ModeBroadcast
	ModeBroadcastExcept
)

type Target struct {
	Mode Mode
	Peer netip.AddrPort
}

func Unicast(peer netip.AddrPort) Target         { return Target{Mode: ModeUnicast, Peer: peer} }
func Broadcast() Target                          { return Target{Mode: ModeBroadcast} }
func BroadcastExcept(peer netip.AddrPort) Target { return Target{Mode: ModeBroadcastExcept, Peer: peer} }

type EventKind int

const (
	EventTimeout EventKind = iota + 1
	EventConnectFailed
)

func (k EventKind) String() string {
	switch k {
	case EventTimeout:
		return "timeout"
	case EventConnectFailed:
		return "connect_failed"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind EventKind
	Peer netip.AddrPort
}

type Stats struct {
	DatagramsIn  uint64
	DatagramsOut uint64
	BytesIn      uint64
	BytesOut     uint64
	Dropped      uint64
	BadFrames    uint64
	WriteErrors  uint64
}

type inbound struct {
	b    []byte
	from netip.AddrPort
}

type outbound struct {
	payload []byte
	target  Target
}

// Transport owns the socket and the connection table. Everything except the
// socket reader goroutine runs on the caller's goroutine; the reader only
// hands raw datagrams over a buffered channel.
type Transport struct {
	cfg   Config
	clk   clock.Clock
	log   *log.Logger
	codec Codec

	role Role
	conn PacketConn

	peers map[netip.AddrPort]*Conn

	host        *Conn
	hello       []byte
	connected   bool
	hostLost    bool
	attempts    int
	lastAttempt time.Time
	failed      bool

	queue []outbound
	inbox chan inbound
	empty []byte

	stats   Stats
	dropped atomic.Uint64

	closeOnce sync.Once
	wg        sync.WaitGroup
}

func New(cfg Config, clk clock.Clock, logger *log.Logger) (*Transport, error) {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Keepalive <= 0 {
		cfg.Keepalive = def.Keepalive
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = def.InboxSize
	}
	codec, err := NewCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}
	empty, err := codec.Compress(nil)
	if err != nil {
		return nil, fmt.Errorf("compress keepalive: %w", err)
	}
	return &Transport{
		cfg:   cfg,
		clk:   clk,
		log:   logger,
		codec: codec,
		peers: map[netip.AddrPort]*Conn{},
		inbox: make(chan inbound, cfg.InboxSize),
		empty: empty,
	}, nil
}

func (t *Transport) Role() Role { return t.role }

func (t *Transport) Codec() Codec { return t.codec }

func (t *Transport) LocalAddr() netip.AddrPort {
	if t.conn == nil {
		return netip.AddrPort{}
	}
	if ua, ok := t.conn.LocalAddr().(*net.UDPAddr); ok {
		return normalize(ua.AddrPort())
	}
	ap, _ := netip.ParseAddrPort(t.conn.LocalAddr().String())
	return normalize(ap)
}

// Listen binds the server socket on all interfaces.
func (t *Transport) Listen(port int) error {
	return t.ListenAddr(net.JoinHostPort("", strconv.Itoa(port)))
}

func (t *Transport) ListenAddr(addr string) error {
	if t.role != RoleNone {
		return ErrRoleSet
	}
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", ua)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return t.Attach(conn, RoleServer, netip.AddrPort{}, nil)
}

// Connect switches to client role and starts sending hello to host
// ("ip" or "ip:port") until the host answers or the attempt budget runs out.
func (t *Transport) Connect(host string, hello []byte) error {
	if t.role != RoleNone {
		return ErrRoleSet
	}
	hp, err := ResolveHost(host)
	if err != nil {
		return err
	}
	local := "0.0.0.0:0"
	if hp.Addr().Is6() {
		local = "[::]:0"
	}
	la, err := net.ResolveUDPAddr("udp", local)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", la)
	if err != nil {
		return fmt.Errorf("bind client socket: %w", err)
	}
	return t.Attach(conn, RoleClient, hp, hello)
}

// Attach adopts an already-open socket. host and hello are used by the
// client role only.
func (t *Transport) Attach(conn PacketConn, role Role, host netip.AddrPort, hello []byte) error {
	if t.role != RoleNone {
		return ErrRoleSet
	}
	if role == RoleNone {
		return fmt.Errorf("udp: attach needs a role")
	}
	t.role = role
	t.conn = conn
	if role == RoleClient {
		t.host = &Conn{Addr: normalize(host), LastSent: t.clk.Now(), Ready: true}
		t.hello = append([]byte(nil), hello...)
		t.connected = false
		t.attempts = 0
	}
	t.wg.Add(1)
	go t.readLoop()
	return nil
}

func (t *Transport) readLoop() {
	defer t.wg.Done()
	buf := make([]byte, 64*1024)
	for {
		n, from, err := t.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			// ICMP errors surface here on some platforms; the link may recover.
			continue
		}
		b := make([]byte, n)
		copy(b, buf[:n])
		select {
		case t.inbox <- inbound{b: b, from: normalize(from)}:
		default:
			t.dropped.Add(1)
		}
	}
}

// Close stops the reader and closes the socket. Queued sends are discarded;
// callers wanting a graceful leave flush first.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		if t.conn != nil {
			err = t.conn.Close()
			t.wg.Wait()
		}
	})
	return err
}

func (t *Transport) Stats() Stats {
	s := t.stats
	s.Dropped = t.dropped.Load()
	return s
}

// ResolveHost parses "ip[:port]" or "name[:port]", defaulting the port.
func ResolveHost(host string) (netip.AddrPort, error) {
	if ap, err := netip.ParseAddrPort(host); err == nil {
		return normalize(ap), nil
	}
	if a, err := netip.ParseAddr(host); err == nil {
		return netip.AddrPortFrom(a.Unmap(), DefaultPort), nil
	}
	name, port := host, strconv.Itoa(DefaultPort)
	if h, p, err := net.SplitHostPort(host); err == nil {
		name, port = h, p
	} else if strings.Count(host, ":") == 1 {
		return netip.AddrPort{}, fmt.Errorf("bad host %q: %w", host, err)
	}
	ua, err := net.ResolveUDPAddr("udp", net.JoinHostPort(name, port))
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("resolve %s: %w", host, err)
	}
	return normalize(ua.AddrPort()), nil
}

func normalize(ap netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}
