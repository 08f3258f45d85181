package replication

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"arenanet/internal/transport/udp"
	"arenanet/internal/wire"
)

// Kind selects the spawn decoder for an entity type.
type Kind uint8

var (
	ErrUnknownKind   = errors.New("replication: unknown entity kind")
	ErrDuplicateKind = errors.New("replication: kind already registered")
)

// Frame is what every entity sees during one Step.
type Frame struct {
	Number   uint64
	Now      time.Time
	Delta    time.Duration
	SendTick bool
	Role     udp.Role
	World    any
}

// Update is the controller body an authoritative entity produced this frame.
type Update struct {
	Body *wire.Packet
	// Critical updates reach observers even when produced between send
	// ticks.
	Critical bool
	// Sent, when set, runs once the body is part of an outbound batch.
	Sent func()
}

// Replicable is implemented by every networked entity.
type Replicable interface {
	ID() EntityID
	SetID(EntityID)
	Kind() Kind
	Authoritative() bool
	SetAuthoritative(bool)

	// WriteSpawn appends everything after the SPAWN header.
	WriteSpawn(p *wire.Packet)
	TickAuthoritative(f *Frame) (Update, bool)
	// Dirty reports whether the last TickAuthoritative produced state that
	// observers need.
	Dirty() bool
	// TickObserved consumes one controller body, or runs without data when r
	// is nil.
	TickObserved(f *Frame, r *wire.Reader) error
	Deleted(killed bool, remote bool)
}

// SpawnDecoder builds an entity from the body of a SPAWN record.
type SpawnDecoder func(f *Frame, r *wire.Reader) (Replicable, error)

type kindEntry struct {
	name   string
	decode SpawnDecoder
}

// Registry maps kinds to decoders. Register everything before the first
// Step; lookups are not synchronized.
type Registry struct {
	kinds map[Kind]kindEntry
}

func NewRegistry() *Registry {
	return &Registry{kinds: map[Kind]kindEntry{}}
}

func (g *Registry) Register(kind Kind, name string, dec SpawnDecoder) error {
	if _, ok := g.kinds[kind]; ok {
		return fmt.Errorf("%w: %d (%s)", ErrDuplicateKind, kind, name)
	}
	if dec == nil {
		return fmt.Errorf("replication: nil decoder for %s", name)
	}
	g.kinds[kind] = kindEntry{name: name, decode: dec}
	return nil
}

func (g *Registry) Name(kind Kind) string {
	if k, ok := g.kinds[kind]; ok {
		return k.name
	}
	return fmt.Sprintf("kind(%d)", kind)
}

// Names lists registered kind names ordered by kind.
func (g *Registry) Names() []string {
	kinds := make([]Kind, 0, len(g.kinds))
	for k := range g.kinds {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = g.kinds[k].name
	}
	return out
}

func (g *Registry) Decode(kind Kind, f *Frame, r *wire.Reader) (Replicable, error) {
	k, ok := g.kinds[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
	e, err := k.decode(f, r)
	if err != nil {
		return nil, fmt.Errorf("decode %s spawn: %w", k.name, err)
	}
	return e, nil
}

// BuildSpawnPacket is SPAWN, kind, id, then the entity's spawn body.
func BuildSpawnPacket(e Replicable) *wire.Packet {
	p := wire.NewPacket().AddTag(wire.TagSpawn).AddUint8(uint8(e.Kind())).AddUint8(uint8(e.ID()))
	e.WriteSpawn(p)
	return p
}

func BuildDeletePacket(id EntityID, killed bool) *wire.Packet {
	return wire.NewPacket().AddTag(wire.TagDelete).AddUint8(uint8(id)).AddBool(killed)
}

func buildControllerPacket(id EntityID, body *wire.Packet) *wire.Packet {
	return wire.NewPacket().AddTag(wire.TagController).AddUint8(uint8(id)).Append(body)
}
