package replication

import (
	"fmt"
	"net/netip"

	"arenanet/internal/session"
	"arenanet/internal/transport/udp"
	"arenanet/internal/wire"
)

// process walks one datagram record by record. remote is false for the local
// controller batch. The result says whether a server should relay the
// datagram to its other clients: only fully understood datagrams without
// private records are relayed.
func (o *Orchestrator) process(f *Frame, payload []byte, from netip.AddrPort, remote bool) bool {
	r := wire.NewReader(payload)
	private := false
	last := "none"
	accepted := !o.server || !remote || o.sess.State(from) != session.Disconnected

	fail := func(tag wire.Tag, err error) bool {
		o.counters.decodeErrors++
		o.log.Printf("drop rest of datagram from %s at %s: %v (last entity %s)", from, tag, err, last)
		return false
	}

	for r.Remaining() > 0 {
		tag, err := r.Tag()
		if err != nil {
			return fail(tag, err)
		}
		if !accepted && tag != wire.TagNewClient && tag != wire.TagDisconnect && tag != wire.TagEmpty {
			// Nothing but a hello is taken from strangers.
			return false
		}

		switch tag {
		case wire.TagController:
			id, err := r.Uint8()
			if err != nil {
				return fail(tag, err)
			}
			e, ok := o.ents.Get(EntityID(id))
			if !ok {
				if remote {
					o.log.Printf("controller for unknown entity %d from %s (last entity %s)", id, from, last)
					o.requestSpawn(EntityID(id), from, f)
				}
				// The body length is unknown; nothing after it can be read.
				return !private
			}
			last = fmt.Sprintf("%d/%s", id, o.reg.Name(e.Kind()))
			o.touched[EntityID(id)] = true
			if err := e.TickObserved(f, r); err != nil {
				return fail(tag, err)
			}
			if remote {
				o.sess.Confirm()
			}

		case wire.TagSpawn:
			if err := o.handleSpawn(f, r, from, remote); err != nil {
				return fail(tag, err)
			}
			if remote {
				o.sess.Confirm()
			}

		case wire.TagDelete:
			id, err := r.Uint8()
			if err != nil {
				return fail(tag, err)
			}
			killed, err := r.Bool()
			if err != nil {
				return fail(tag, err)
			}
			if e, ok := o.ents.Remove(EntityID(id)); ok {
				delete(o.critical, EntityID(id))
				e.Deleted(killed, true)
			}
			if remote {
				o.sess.Confirm()
			}

		case wire.TagRequestSpawn:
			id, err := r.Uint8()
			if err != nil {
				return fail(tag, err)
			}
			private = true
			o.requests = append(o.requests, spawnRequest{id: EntityID(id), from: from})

		case wire.TagSetup:
			if o.server {
				return false
			}
			if err := o.sess.Handle(tag, from, r); err != nil {
				return fail(tag, err)
			}
			if o.hooks.OnSetup != nil {
				if err := o.hooks.OnSetup(from, r); err != nil {
					return fail(tag, err)
				}
			}

		case wire.TagChat:
			name, err := r.Str()
			if err != nil {
				return fail(tag, err)
			}
			text, err := r.Str()
			if err != nil {
				return fail(tag, err)
			}
			if o.hooks.OnChat != nil {
				o.hooks.OnChat(from, name, text)
			}

		case wire.TagEndMatch:
			if o.hooks.OnEndMatch != nil {
				if err := o.hooks.OnEndMatch(from, r); err != nil {
					return fail(tag, err)
				}
			}

		case wire.TagClientMatchReady:
			private = true
			if o.hooks.OnMatchReady != nil {
				if err := o.hooks.OnMatchReady(from, r); err != nil {
					return fail(tag, err)
				}
			}

		case wire.TagNewClient, wire.TagClientReady, wire.TagDisconnect, wire.TagServerFull, wire.TagEmpty:
			private = true
			if err := o.sess.Handle(tag, from, r); err != nil {
				return fail(tag, err)
			}
			if tag == wire.TagNewClient {
				accepted = !o.server || o.sess.State(from) != session.Disconnected
			}

		case wire.TagEntityChecksum:
			n, err := r.Uint16()
			if err != nil {
				return fail(tag, err)
			}
			private = true
			if !o.server {
				o.sess.Confirm()
				if int(n) != o.ents.ReplicatedCount() {
					o.counters.checksumMismatches++
					o.log.Printf("entity count %d, host has %d; requesting list", o.ents.ReplicatedCount(), n)
					o.link.Enqueue(wire.NewPacket().AddTag(wire.TagRequestEntityList).Bytes(), udp.Unicast(from))
				}
			}

		case wire.TagRequestEntityList:
			private = true
			if o.server {
				o.lists = append(o.lists, from)
			}

		case wire.TagEntityList:
			n, err := r.Uint16()
			if err != nil {
				return fail(tag, err)
			}
			ids := make([]EntityID, 0, n)
			for i := 0; i < int(n); i++ {
				id, err := r.Uint8()
				if err != nil {
					return fail(tag, err)
				}
				ids = append(ids, EntityID(id))
			}
			private = true
			if !o.server {
				o.reconcile(f, from, ids)
			}

		default:
			return fail(tag, fmt.Errorf("unknown record tag"))
		}
	}
	return !private
}

func (o *Orchestrator) handleSpawn(f *Frame, r *wire.Reader, from netip.AddrPort, remote bool) error {
	kind, err := r.Uint8()
	if err != nil {
		return err
	}
	id, err := r.Uint8()
	if err != nil {
		return err
	}
	e, err := o.reg.Decode(Kind(kind), f, r)
	if err != nil {
		return err
	}
	eid := EntityID(id)
	e.SetID(eid)
	e.SetAuthoritative(false)
	delete(o.throttle, eid)
	if _, exists := o.ents.Get(eid); exists {
		// First spawn wins.
		o.counters.duplicateSpawns++
		o.log.Printf("duplicate spawn of entity %d from %s ignored", id, from)
		e.Deleted(false, true)
		return nil
	}
	owner := from
	if !remote {
		owner = netip.AddrPort{}
	}
	return o.ents.Add(e, owner)
}
