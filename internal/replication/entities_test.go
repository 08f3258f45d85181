package replication

import (
	"net/netip"
	"testing"
)

func TestEntities_GenerateIDUniqueUntilExhausted(t *testing.T) {
	s := NewEntities(7)
	seen := map[EntityID]bool{}
	for i := 0; i < idSpace; i++ {
		id, err := s.GenerateID(0)
		if err != nil {
			t.Fatalf("GenerateID #%d: %v", i, err)
		}
		if !id.Replicated() {
			t.Fatalf("id %d outside the replicated range", id)
		}
		if seen[id] {
			t.Fatalf("id %d handed out twice", id)
		}
		seen[id] = true
		if err := s.Add(&dummy{id: id}, netip.AddrPort{}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if _, err := s.GenerateID(0); err != ErrIDSpaceExhausted {
		t.Fatalf("full space: got %v want ErrIDSpaceExhausted", err)
	}
	if s.ReplicatedCount() != idSpace {
		t.Fatalf("ReplicatedCount: %d", s.ReplicatedCount())
	}

	// The local range is independent of the replicated one.
	id, err := s.GenerateID(LocalIDOffset)
	if err != nil || id < LocalIDOffset || id.Replicated() {
		t.Fatalf("local id: got %d, %v", id, err)
	}
}

func TestEntities_AddRejectsDuplicates(t *testing.T) {
	s := NewEntities(1)
	owner := netip.MustParseAddrPort("10.0.0.9:1")
	if err := s.Add(&dummy{id: 3}, owner); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(&dummy{id: 3}, netip.AddrPort{}); err != ErrDuplicateID {
		t.Fatalf("duplicate: got %v", err)
	}
	s.Add(&dummy{id: LocalIDOffset + 2}, netip.AddrPort{})
	if got := s.ReplicatedIDs(); len(got) != 1 || got[0] != 3 {
		t.Fatalf("ReplicatedIDs: %v", got)
	}
	if got := s.OwnedBy(owner); len(got) != 1 || got[0] != 3 {
		t.Fatalf("OwnedBy: %v", got)
	}
	if _, ok := s.Remove(3); !ok {
		t.Fatalf("Remove should find 3")
	}
	if s.Len() != 1 {
		t.Fatalf("Len: %d", s.Len())
	}
}

func TestRegistry_RejectsUnknownAndDuplicateKinds(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(dummyKind, "dummy", decodeDummy(nil)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register(dummyKind, "again", decodeDummy(nil)); err == nil {
		t.Fatalf("duplicate kind accepted")
	}
	if _, err := reg.Decode(99, &Frame{}, nil); err == nil {
		t.Fatalf("unknown kind decoded")
	}
	if reg.Name(dummyKind) != "dummy" {
		t.Fatalf("Name: %q", reg.Name(dummyKind))
	}
}
