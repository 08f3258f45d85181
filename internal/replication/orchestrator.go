package replication

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/netip"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"arenanet/internal/clock"
	"arenanet/internal/session"
	"arenanet/internal/transport/udp"
	"arenanet/internal/wire"
)

var ErrNotAuthoritative = errors.New("replication: entity is not authoritative here")

// Hooks connect host-application records to the orchestrator. Every hook is
// optional. Hooks that receive a reader must consume exactly their record's
// fields; a nil hook means the record has no body.
type Hooks struct {
	Setup        func(peer netip.AddrPort, name string) *wire.Packet
	Ready        func(peer netip.AddrPort)
	Disconnected func(peer netip.AddrPort, reason session.Reason)
	Journal      func(session.Entry)

	OnSetup      func(from netip.AddrPort, r *wire.Reader) error
	OnEndMatch   func(from netip.AddrPort, r *wire.Reader) error
	OnMatchReady func(from netip.AddrPort, r *wire.Reader) error
	OnChat       func(from netip.AddrPort, name, text string)
}

// StatsSink receives one entry per stats interval.
type StatsSink interface {
	WriteStats(entry StatsEntry) error
}

type queuedSpawn struct {
	id  EntityID
	pkt *wire.Packet
}

type spawnRequest struct {
	id   EntityID
	from netip.AddrPort
}

// Orchestrator owns the entity set and runs the per-frame replication
// pipeline. Step must be called from a single goroutine; Metrics is safe from
// any.
type Orchestrator struct {
	cfg   Config
	link  session.Link
	reg   *Registry
	clk   clock.Clock
	log   *log.Logger
	hooks Hooks
	sess  *session.Session
	ents  *Entities

	server bool

	frame        uint64
	lastFrame    time.Time
	lastSend     time.Time
	lastChecksum time.Time

	spawns   []queuedSpawn
	deletes  []*wire.Packet
	events   []*wire.Packet
	requests []spawnRequest
	lists    []netip.AddrPort
	critical map[EntityID][]*wire.Packet
	touched  map[EntityID]bool
	throttle map[EntityID]*rate.Limiter
	dropLog  *rate.Limiter

	counters counters
	stats    statsWindow
	sink     StatsSink
	metrics  atomic.Value
}

func New(cfg Config, link session.Link, reg *Registry, hooks Hooks, clk clock.Clock, logger *log.Logger) *Orchestrator {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	def := DefaultConfig()
	if cfg.NetTick <= 0 {
		cfg.NetTick = def.NetTick
	}
	if cfg.ResendThrottle <= 0 {
		cfg.ResendThrottle = def.ResendThrottle
	}
	if cfg.ChecksumInterval <= 0 {
		cfg.ChecksumInterval = def.ChecksumInterval
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = def.StatsInterval
	}
	if cfg.MaxCriticalQueue <= 0 {
		cfg.MaxCriticalQueue = def.MaxCriticalQueue
	}
	if cfg.Seed == 0 {
		cfg.Seed = clk.Now().UnixNano()
	}
	o := &Orchestrator{
		cfg:      cfg,
		link:     link,
		reg:      reg,
		clk:      clk,
		log:      logger,
		hooks:    hooks,
		ents:     NewEntities(cfg.Seed),
		server:   link.Role() == udp.RoleServer,
		critical: map[EntityID][]*wire.Packet{},
		touched:  map[EntityID]bool{},
		throttle: map[EntityID]*rate.Limiter{},
		dropLog:  rate.NewLimiter(rate.Every(time.Second), 1),
	}
	scfg := session.Config{MaxClients: cfg.MaxClients, RetryInterval: cfg.ReadyRetry}
	shooks := session.Hooks{
		Setup:        hooks.Setup,
		Ready:        o.peerReady,
		Disconnected: o.peerGone,
		Journal:      hooks.Journal,
	}
	if o.server {
		o.sess = session.NewServer(link, scfg, shooks, clk, logger)
	} else {
		o.sess = session.NewClient(link, scfg, shooks, clk, logger)
	}
	now := clk.Now()
	o.lastFrame = now
	o.lastChecksum = now
	o.stats.reset(now, link.Stats())
	o.metrics.Store(Metrics{})
	return o
}

func (o *Orchestrator) Session() *session.Session { return o.sess }
func (o *Orchestrator) Entities() *Entities       { return o.ents }
func (o *Orchestrator) Registry() *Registry       { return o.reg }
func (o *Orchestrator) IsServer() bool            { return o.server }
func (o *Orchestrator) SetStatsSink(s StatsSink)  { o.sink = s }

// Spawn registers a locally authoritative replicated entity and queues its
// spawn record for the next send tick.
func (o *Orchestrator) Spawn(e Replicable) (EntityID, error) {
	id, err := o.ents.GenerateID(0)
	if err != nil {
		return 0, err
	}
	e.SetID(id)
	e.SetAuthoritative(true)
	if err := o.ents.Add(e, netip.AddrPort{}); err != nil {
		return 0, err
	}
	o.spawns = append(o.spawns, queuedSpawn{id: id, pkt: BuildSpawnPacket(e)})
	return id, nil
}

// SpawnLocal adds an object that is simulated here and never replicated.
func (o *Orchestrator) SpawnLocal(e Replicable) (EntityID, error) {
	id, err := o.ents.GenerateID(LocalIDOffset)
	if err != nil {
		return 0, err
	}
	e.SetID(id)
	e.SetAuthoritative(true)
	if err := o.ents.Add(e, netip.AddrPort{}); err != nil {
		return 0, err
	}
	return id, nil
}

// Delete removes an entity and, when replicated, tells observers. The server
// may delete anything; a client only its own entities.
func (o *Orchestrator) Delete(id EntityID, killed bool) error {
	e, ok := o.ents.Get(id)
	if !ok {
		return fmt.Errorf("replication: delete unknown entity %d", id)
	}
	if !o.server && !e.Authoritative() {
		return ErrNotAuthoritative
	}
	o.ents.Remove(id)
	delete(o.critical, id)
	e.Deleted(killed, false)
	if !id.Replicated() {
		return nil
	}
	if o.unqueueSpawn(id) {
		// Observers never heard of it.
		return nil
	}
	o.deletes = append(o.deletes, BuildDeletePacket(id, killed))
	return nil
}

func (o *Orchestrator) unqueueSpawn(id EntityID) bool {
	for i, s := range o.spawns {
		if s.id == id {
			o.spawns = append(o.spawns[:i], o.spawns[i+1:]...)
			return true
		}
	}
	return false
}

// Chat queues a CHAT record for the next envelope.
func (o *Orchestrator) Chat(name, text string) {
	o.events = append(o.events, wire.NewPacket().AddTag(wire.TagChat).AddString(name).AddString(text))
}

// QueueEvent queues a host record (END_MATCH, CLIENT_MATCH_READY, ...). It
// must start with its tag.
func (o *Orchestrator) QueueEvent(p *wire.Packet) {
	if p != nil && !p.Empty() {
		o.events = append(o.events, p)
	}
}

// Reset sends every peer back to loading with fresh setup, e.g. on map change.
func (o *Orchestrator) Reset() { o.sess.Reset() }

// Leave flushes pending records and says goodbye.
func (o *Orchestrator) Leave() error { return o.sess.Leave() }

func (o *Orchestrator) peerReady(peer netip.AddrPort) {
	// Everything the newcomer does not own.
	var recs []*wire.Packet
	for _, id := range o.ents.ReplicatedIDs() {
		if owner, _ := o.ents.Owner(id); owner == peer {
			continue
		}
		if o.spawnQueued(id) {
			continue
		}
		e, _ := o.ents.Get(id)
		recs = append(recs, BuildSpawnPacket(e))
	}
	n := o.unicast(recs, peer)
	o.log.Printf("sync %s: %d spawn(s) in %d datagram(s)", peer, len(recs), n)
	if o.hooks.Ready != nil {
		o.hooks.Ready(peer)
	}
}

// unicast sends recs to peer split at the envelope cap and returns the
// number of datagrams queued.
func (o *Orchestrator) unicast(recs []*wire.Packet, peer netip.AddrPort) int {
	n := 0
	env := &envelope{p: wire.NewPacket(), cap: o.cfg.MaxEnvelopeBytes}
	for _, r := range recs {
		if !env.fits(r) {
			o.link.Enqueue(env.p.Bytes(), udp.Unicast(peer))
			n++
			env = &envelope{p: wire.NewPacket(), cap: o.cfg.MaxEnvelopeBytes}
		}
		env.add(r)
	}
	if env.size > 0 {
		o.link.Enqueue(env.p.Bytes(), udp.Unicast(peer))
		n++
	}
	return n
}

// peerGone removes what peer owned. On a client the peer is the host, so
// every remote entity goes and nothing is announced.
func (o *Orchestrator) peerGone(peer netip.AddrPort, reason session.Reason) {
	owned := o.ents.OwnedBy(peer)
	for _, id := range owned {
		e, _ := o.ents.Remove(id)
		delete(o.critical, id)
		delete(o.throttle, id)
		e.Deleted(false, true)
		if o.server {
			o.deletes = append(o.deletes, BuildDeletePacket(id, false))
		}
	}
	if len(owned) > 0 {
		o.log.Printf("removed %d entit(ies) owned by %s (%s)", len(owned), peer, reason)
	}
	if o.hooks.Disconnected != nil {
		o.hooks.Disconnected(peer, reason)
	}
}

func (o *Orchestrator) spawnQueued(id EntityID) bool {
	for _, s := range o.spawns {
		if s.id == id {
			return true
		}
	}
	return false
}
