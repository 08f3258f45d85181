package replication

import (
	"errors"
	"math/rand"
	"net/netip"
	"sort"
)

// EntityID is 8 bits on the wire. Values at or above LocalIDOffset name
// objects that never leave this process.
type EntityID uint16

const (
	MaxReplicatedID EntityID = 255
	LocalIDOffset   EntityID = 1024

	idSpace     = 256
	randomTries = 32
)

func (id EntityID) Replicated() bool { return id <= MaxReplicatedID }

var (
	ErrIDSpaceExhausted = errors.New("replication: no free entity id")
	ErrDuplicateID      = errors.New("replication: entity id already active")
)

type slot struct {
	e     Replicable
	owner netip.AddrPort
}

// Entities is the active set. The zero owner means the entity was created
// here.
type Entities struct {
	m   map[EntityID]*slot
	rng *rand.Rand
}

func NewEntities(seed int64) *Entities {
	return &Entities{m: map[EntityID]*slot{}, rng: rand.New(rand.NewSource(seed))}
}

func (s *Entities) Add(e Replicable, owner netip.AddrPort) error {
	if _, ok := s.m[e.ID()]; ok {
		return ErrDuplicateID
	}
	s.m[e.ID()] = &slot{e: e, owner: owner}
	return nil
}

func (s *Entities) Get(id EntityID) (Replicable, bool) {
	sl, ok := s.m[id]
	if !ok {
		return nil, false
	}
	return sl.e, true
}

func (s *Entities) Owner(id EntityID) (netip.AddrPort, bool) {
	sl, ok := s.m[id]
	if !ok {
		return netip.AddrPort{}, false
	}
	return sl.owner, true
}

func (s *Entities) Remove(id EntityID) (Replicable, bool) {
	sl, ok := s.m[id]
	if !ok {
		return nil, false
	}
	delete(s.m, id)
	return sl.e, true
}

func (s *Entities) Len() int { return len(s.m) }

// IDs returns every active id in ascending order.
func (s *Entities) IDs() []EntityID {
	out := make([]EntityID, 0, len(s.m))
	for id := range s.m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Entities) ReplicatedIDs() []EntityID {
	out := make([]EntityID, 0, len(s.m))
	for id := range s.m {
		if id.Replicated() {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Entities) ReplicatedCount() int {
	n := 0
	for id := range s.m {
		if id.Replicated() {
			n++
		}
	}
	return n
}

// OwnedBy lists replicated ids whose spawn came from owner.
func (s *Entities) OwnedBy(owner netip.AddrPort) []EntityID {
	var out []EntityID
	for id, sl := range s.m {
		if id.Replicated() && sl.owner == owner {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// GenerateID picks a free id in [offset, offset+256). Random picks keep ids
// spread out; the scan afterwards guarantees termination.
func (s *Entities) GenerateID(offset EntityID) (EntityID, error) {
	for i := 0; i < randomTries; i++ {
		id := offset + EntityID(s.rng.Intn(idSpace))
		if _, taken := s.m[id]; !taken {
			return id, nil
		}
	}
	start := s.rng.Intn(idSpace)
	for i := 0; i < idSpace; i++ {
		id := offset + EntityID((start+i)%idSpace)
		if _, taken := s.m[id]; !taken {
			return id, nil
		}
	}
	return 0, ErrIDSpaceExhausted
}
