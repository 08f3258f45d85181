package replication

import (
	"net/netip"
	"time"

	"golang.org/x/time/rate"

	"arenanet/internal/session"
	"arenanet/internal/transport/udp"
	"arenanet/internal/wire"
)

// envelope accumulates one outbound datagram under an optional byte cap. The
// first record always fits so a single oversized record cannot stall a queue.
type envelope struct {
	p    *wire.Packet
	size int
	cap  int
}

func (e *envelope) fits(p *wire.Packet) bool {
	return e.cap <= 0 || e.size == 0 || e.size+p.Size() <= e.cap
}

func (e *envelope) add(p *wire.Packet) {
	e.p.Append(p)
	e.size += p.Size()
}

// Step runs one frame: inbound processing, authoritative updates, loopback,
// the outbound envelope, observed updates and the transport flush.
func (o *Orchestrator) Step(world any) {
	now := o.clk.Now()
	o.frame++
	f := &Frame{
		Number: o.frame,
		Now:    now,
		Delta:  now.Sub(o.lastFrame),
		Role:   o.link.Role(),
		World:  world,
	}
	o.lastFrame = now
	if o.lastSend.IsZero() || now.Sub(o.lastSend) >= o.cfg.NetTick {
		f.SendTick = o.canSend()
	}
	if f.SendTick {
		o.lastSend = now
		o.counters.sendTicks++
	}
	clear(o.touched)

	o.sess.HandleEvents(o.link.Service())
	o.sess.Service()
	for _, d := range o.link.Drain() {
		o.receive(f, d)
	}

	env := &envelope{p: wire.NewPacket(), cap: o.cfg.MaxEnvelopeBytes}
	var held map[EntityID]bool
	if f.SendTick {
		held = o.takeSpawns(env)
	}

	batch := o.tickAuthoritative(f, held)
	if !batch.Empty() {
		o.process(f, batch.Bytes(), netip.AddrPort{}, false)
	}

	if f.SendTick {
		if !batch.Empty() {
			env.add(batch)
		}
		o.takeQueued(env, &o.deletes)
		o.takeQueued(env, &o.events)
		o.answerRequests(env)
		o.answerLists()
		o.maybeChecksum(env, now)
		if !env.p.Empty() {
			o.link.Enqueue(env.p.Bytes(), udp.Broadcast())
			o.counters.envelopes++
			o.counters.envelopeBytes = env.size
		}
	}

	for _, id := range o.ents.IDs() {
		if o.touched[id] {
			continue
		}
		e, ok := o.ents.Get(id)
		if !ok {
			continue
		}
		if err := e.TickObserved(f, nil); err != nil {
			o.log.Printf("observe entity %d: %v", id, err)
		}
	}

	if err := o.link.Flush(); err != nil {
		o.log.Printf("flush: %v", err)
	}
	o.publish(now)
}

// canSend is false while a client has no host to talk to.
func (o *Orchestrator) canSend() bool {
	if o.server {
		return true
	}
	st := o.sess.ClientState()
	return st == session.Loading || st == session.Ready
}

func (o *Orchestrator) takeSpawns(env *envelope) map[EntityID]bool {
	i := 0
	for ; i < len(o.spawns); i++ {
		if !env.fits(o.spawns[i].pkt) {
			break
		}
		env.add(o.spawns[i].pkt)
	}
	o.spawns = append(o.spawns[:0], o.spawns[i:]...)
	if len(o.spawns) == 0 {
		return nil
	}
	held := make(map[EntityID]bool, len(o.spawns))
	for _, s := range o.spawns {
		held[s.id] = true
	}
	return held
}

func (o *Orchestrator) takeQueued(env *envelope, q *[]*wire.Packet) {
	i := 0
	for ; i < len(*q); i++ {
		if !env.fits((*q)[i]) {
			break
		}
		env.add((*q)[i])
	}
	*q = append((*q)[:0], (*q)[i:]...)
}

func (o *Orchestrator) tickAuthoritative(f *Frame, held map[EntityID]bool) *wire.Packet {
	batch := wire.NewPacket()
	for _, id := range o.ents.IDs() {
		e, ok := o.ents.Get(id)
		if !ok || !e.Authoritative() {
			continue
		}
		up, produced := e.TickAuthoritative(f)
		if !id.Replicated() {
			continue
		}
		if !f.SendTick || held[id] {
			if produced && up.Critical && up.Body != nil {
				// up.Sent stays uncalled: the body has not gone out yet.
				o.holdCritical(f, id, buildControllerPacket(id, up.Body))
			}
			continue
		}
		queued := o.critical[id]
		if !e.Dirty() && len(queued) == 0 && !(produced && up.Critical) {
			continue
		}
		for _, q := range queued {
			batch.Append(q)
		}
		delete(o.critical, id)
		if produced && up.Body != nil {
			batch.Append(buildControllerPacket(id, up.Body))
			if up.Sent != nil {
				up.Sent()
			}
		}
	}
	return batch
}

func (o *Orchestrator) receive(f *Frame, d udp.Datagram) {
	o.sess.Observe(d.From)
	relay := o.process(f, d.Payload, d.From, true)
	if relay && o.server && o.sess.State(d.From) != session.Disconnected {
		o.link.Enqueue(d.Payload, udp.BroadcastExcept(d.From))
		o.counters.relayed++
	}
}

// requestSpawn asks to for the spawn of id, at most once per throttle window
// per id.
func (o *Orchestrator) requestSpawn(id EntityID, to netip.AddrPort, f *Frame) {
	lim, ok := o.throttle[id]
	if !ok {
		lim = rate.NewLimiter(rate.Every(o.cfg.ResendThrottle), 1)
		o.throttle[id] = lim
	}
	if !lim.AllowN(f.Now, 1) {
		return
	}
	o.link.Enqueue(wire.NewPacket().AddTag(wire.TagRequestSpawn).AddUint8(uint8(id)).Bytes(), udp.Unicast(to))
	o.counters.spawnRequests++
	o.log.Printf("request spawn of entity %d from %s", id, to)
}

// answerRequests serves spawn requests: a server answers each requester
// directly, a client folds the spawns into its envelope and keeps what does
// not fit for the next tick.
func (o *Orchestrator) answerRequests(env *envelope) {
	if len(o.requests) == 0 {
		return
	}
	direct := map[netip.AddrPort][]*wire.Packet{}
	var order []netip.AddrPort
	rest := o.requests[:0]
	for _, rq := range o.requests {
		e, ok := o.ents.Get(rq.id)
		if !ok || o.spawnQueued(rq.id) {
			continue
		}
		sp := BuildSpawnPacket(e)
		if !o.server {
			if !env.fits(sp) {
				rest = append(rest, rq)
				continue
			}
			env.add(sp)
			continue
		}
		if _, ok := direct[rq.from]; !ok {
			order = append(order, rq.from)
		}
		direct[rq.from] = append(direct[rq.from], sp)
	}
	for _, to := range order {
		o.unicast(direct[to], to)
	}
	o.requests = rest
}

// holdCritical keeps a critical record for the next send tick. Records that
// cannot be kept are counted, never lost quietly.
func (o *Orchestrator) holdCritical(f *Frame, id EntityID, rec *wire.Packet) {
	if !o.canSend() {
		o.dropCritical(f, id, 1, "no host")
		return
	}
	q := append(o.critical[id], rec)
	if over := len(q) - o.cfg.MaxCriticalQueue; over > 0 {
		o.dropCritical(f, id, over, "queue full")
		q = q[over:]
	}
	o.critical[id] = q
}

func (o *Orchestrator) dropCritical(f *Frame, id EntityID, n int, why string) {
	o.counters.criticalDropped += uint64(n)
	if o.dropLog.AllowN(f.Now, 1) {
		o.log.Printf("dropped %d critical record(s) of entity %d: %s (%d so far)", n, id, why, o.counters.criticalDropped)
	}
}

// answerLists sends the id list whole: at most 259 bytes, and a client
// reconciles against the complete set.
func (o *Orchestrator) answerLists() {
	if len(o.lists) == 0 {
		return
	}
	ids := o.ents.ReplicatedIDs()
	p := wire.NewPacket().AddTag(wire.TagEntityList).AddUint16(uint16(len(ids)))
	for _, id := range ids {
		p.AddUint8(uint8(id))
	}
	b := p.Bytes()
	for _, to := range o.lists {
		o.link.Enqueue(b, udp.Unicast(to))
	}
	o.lists = o.lists[:0]
}

func (o *Orchestrator) maybeChecksum(env *envelope, now time.Time) {
	if !o.server || now.Sub(o.lastChecksum) < o.cfg.ChecksumInterval {
		return
	}
	o.lastChecksum = now
	env.add(wire.NewPacket().AddTag(wire.TagEntityChecksum).AddUint16(uint16(o.ents.ReplicatedCount())))
}

// reconcile applies the host's authoritative id list on a client.
func (o *Orchestrator) reconcile(f *Frame, from netip.AddrPort, ids []EntityID) {
	listed := make(map[EntityID]bool, len(ids))
	for _, id := range ids {
		listed[id] = true
	}
	for _, id := range o.ents.ReplicatedIDs() {
		if listed[id] {
			continue
		}
		e, _ := o.ents.Get(id)
		if e.Authoritative() {
			if !o.spawnQueued(id) {
				o.spawns = append(o.spawns, queuedSpawn{id: id, pkt: BuildSpawnPacket(e)})
				o.log.Printf("host lacks entity %d, re-sending spawn", id)
			}
			continue
		}
		o.ents.Remove(id)
		e.Deleted(false, true)
		o.log.Printf("entity %d gone on host, removed", id)
	}
	for _, id := range ids {
		if _, ok := o.ents.Get(id); !ok {
			o.requestSpawn(id, from, f)
		}
	}
}
