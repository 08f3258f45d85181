// Package memnet is an in-process datagram network. Its conns satisfy
// udp.PacketConn so a real udp.Transport can run over it, and Settle makes
// delivery deterministic for tests and simulations.
package memnet

import (
	"fmt"
	"net"
	"net/netip"
	"sync"
)

type datagram struct {
	b    []byte
	from netip.AddrPort
}

// Network routes datagrams between conns. Delivery is immediate and ordered
// unless a filter drops the datagram.
type Network struct {
	mu    sync.Mutex
	cond  *sync.Cond
	conns map[netip.AddrPort]*Conn
	next  uint16

	filter func(from, to netip.AddrPort) bool
	drops  map[netip.AddrPort]int

	delivered uint64
	dropped   uint64
}

func New() *Network {
	n := &Network{conns: map[netip.AddrPort]*Conn{}, next: 40000, drops: map[netip.AddrPort]int{}}
	n.cond = sync.NewCond(&n.mu)
	return n
}

// Listen opens a conn on addr. A zero port picks a free one.
func (n *Network) Listen(addr netip.AddrPort) (*Conn, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !addr.Addr().IsValid() {
		addr = netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, 0, 0, 1}), addr.Port())
	}
	if addr.Port() == 0 {
		for {
			n.next++
			cand := netip.AddrPortFrom(addr.Addr(), n.next)
			if _, taken := n.conns[cand]; !taken {
				addr = cand
				break
			}
		}
	}
	if _, taken := n.conns[addr]; taken {
		return nil, fmt.Errorf("memnet: %s in use", addr)
	}
	c := &Conn{net: n, addr: addr}
	n.conns[addr] = c
	return c, nil
}

// SetFilter installs a predicate; datagrams for which it returns true are
// lost. Nil removes it.
func (n *Network) SetFilter(f func(from, to netip.AddrPort) bool) {
	n.mu.Lock()
	n.filter = f
	n.mu.Unlock()
}

// DropNext loses the next count datagrams addressed to to.
func (n *Network) DropNext(to netip.AddrPort, count int) {
	n.mu.Lock()
	n.drops[to] += count
	n.mu.Unlock()
}

// Counts returns datagrams delivered and lost so far.
func (n *Network) Counts() (delivered, dropped uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.delivered, n.dropped
}

// Settle blocks until every datagram written so far has been read by its
// receiver. Every open conn must have a reader.
func (n *Network) Settle() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for !n.idle() {
		n.cond.Wait()
	}
}

func (n *Network) idle() bool {
	for _, c := range n.conns {
		if c.closed {
			continue
		}
		if len(c.queue) > 0 || !c.reading {
			return false
		}
	}
	return true
}

func (n *Network) send(from, to netip.AddrPort, b []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	dst, ok := n.conns[to]
	if !ok || dst.closed {
		n.dropped++
		return
	}
	if k := n.drops[to]; k > 0 {
		n.drops[to] = k - 1
		n.dropped++
		return
	}
	if n.filter != nil && n.filter(from, to) {
		n.dropped++
		return
	}
	dst.queue = append(dst.queue, datagram{b: append([]byte(nil), b...), from: from})
	n.delivered++
	n.cond.Broadcast()
}

// Conn is one bound endpoint.
type Conn struct {
	net     *Network
	addr    netip.AddrPort
	queue   []datagram
	reading bool
	closed  bool
}

func (c *Conn) Addr() netip.AddrPort { return c.addr }

func (c *Conn) ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error) {
	n := c.net
	n.mu.Lock()
	defer n.mu.Unlock()
	c.reading = true
	n.cond.Broadcast()
	for len(c.queue) == 0 && !c.closed {
		n.cond.Wait()
	}
	c.reading = false
	if c.closed {
		return 0, netip.AddrPort{}, net.ErrClosed
	}
	d := c.queue[0]
	c.queue = c.queue[1:]
	return copy(b, d.b), d.from, nil
}

func (c *Conn) WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error) {
	c.net.mu.Lock()
	closed := c.closed
	c.net.mu.Unlock()
	if closed {
		return 0, net.ErrClosed
	}
	c.net.send(c.addr, addr, b)
	return len(b), nil
}

func (c *Conn) LocalAddr() net.Addr { return net.UDPAddrFromAddrPort(c.addr) }

func (c *Conn) Close() error {
	n := c.net
	n.mu.Lock()
	defer n.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	delete(n.conns, c.addr)
	n.cond.Broadcast()
	return nil
}
