package observer

import (
	"arenanet/internal/interp"
	"arenanet/internal/observerproto"
	"arenanet/internal/replication"
)

type posed interface {
	Pose() interp.Pose
}

// Snapshot describes the orchestrator for observers. It reads entity state
// and must run on the goroutine that calls Step.
func Snapshot(o *replication.Orchestrator, entities bool) observerproto.TickMsg {
	m := o.Metrics()
	msg := observerproto.TickMsg{Frame: m.Frame, Metrics: m}
	for _, p := range o.Session().Peers() {
		msg.Peers = append(msg.Peers, observerproto.PeerState{
			ID:    p.ID.String(),
			Addr:  p.Addr.String(),
			Name:  p.Name,
			State: p.State.String(),
		})
	}
	if !entities {
		return msg
	}
	ents := o.Entities()
	for _, id := range ents.IDs() {
		e, _ := ents.Get(id)
		st := observerproto.EntityState{
			ID:            uint16(id),
			Kind:          o.Registry().Name(e.Kind()),
			Authoritative: e.Authoritative(),
		}
		if owner, ok := ents.Owner(id); ok && owner.IsValid() {
			st.Owner = owner.String()
		}
		if p, ok := e.(posed); ok {
			pos := p.Pose().Pos
			st.Pos = &[3]float32{pos[0], pos[1], pos[2]}
		}
		msg.Entities = append(msg.Entities, st)
	}
	return msg
}
