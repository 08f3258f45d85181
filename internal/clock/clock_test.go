package clock

import (
	"testing"
	"time"
)

func TestManual_Advance(t *testing.T) {
	start := time.Unix(100, 0)
	m := NewManual(start)
	if !m.Now().Equal(start) {
		t.Fatalf("now: got %v want %v", m.Now(), start)
	}
	got := m.Advance(250 * time.Millisecond)
	if want := start.Add(250 * time.Millisecond); !got.Equal(want) || !m.Now().Equal(want) {
		t.Fatalf("advance: got %v want %v", got, want)
	}
	m.Set(start)
	if !m.Now().Equal(start) {
		t.Fatalf("set: got %v", m.Now())
	}
}
