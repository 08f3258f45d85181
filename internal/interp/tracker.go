package interp

import "github.com/go-gl/mathgl/mgl32"

type Thresholds struct {
	PositionEpsilon   float32
	RotationEpsilon   float32
	VelocityThreshold float32
}

func DefaultThresholds() Thresholds {
	return Thresholds{PositionEpsilon: 0.2, RotationEpsilon: 0.02, VelocityThreshold: 0.5}
}

// Tracker runs on the authoritative side and decides when a full snapshot is
// worth sending. It compares against the last snapshot actually sent, not the
// last one captured, so slow drift still crosses the threshold eventually.
type Tracker struct {
	th       Thresholds
	static   bool
	lastSent Snapshot
	pending  Snapshot
	hasSent  bool
	due      bool
}

func NewTracker(th Thresholds) *Tracker {
	return &Tracker{th: th}
}

// SetStatic marks entities that never move; they never send snapshots.
func (t *Tracker) SetStatic(static bool) { t.static = static }

// Reset seeds the last-sent snapshot, typically with the spawn pose.
func (t *Tracker) Reset(s Snapshot) {
	t.lastSent = s
	t.pending = s
	t.hasSent = true
	t.due = false
}

// Capture reports whether s should be sent this tick.
func (t *Tracker) Capture(s Snapshot, velocity mgl32.Vec3, sendTick bool) bool {
	t.due = false
	if !sendTick || t.static {
		return false
	}
	if t.hasSent && velocity.Len() < t.th.VelocityThreshold &&
		t.lastSent.AlmostEqual(s, t.th.PositionEpsilon, t.th.RotationEpsilon) {
		return false
	}
	t.pending = s
	t.due = true
	return true
}

// Due reports whether the last Capture produced a snapshot to send.
func (t *Tracker) Due() bool { return t.due }

// Commit records the captured snapshot as sent. Call it only once the update
// is actually part of an outbound batch.
func (t *Tracker) Commit() {
	if !t.due {
		return
	}
	t.lastSent = t.pending
	t.hasSent = true
	t.due = false
}

func (t *Tracker) LastSent() (Snapshot, bool) { return t.lastSent, t.hasSent }
