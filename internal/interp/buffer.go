package interp

import "time"

// Buffer is the receiving side's bounded history of one remote entity,
// newest first.
type Buffer struct {
	cap   int
	snaps []Snapshot
}

func NewBuffer(capacity int) *Buffer {
	if capacity < 2 {
		capacity = DefaultCapacity
	}
	return &Buffer{cap: capacity, snaps: make([]Snapshot, 0, capacity+1)}
}

func (b *Buffer) Len() int { return len(b.snaps) }

func (b *Buffer) Reset() { b.snaps = b.snaps[:0] }

func (b *Buffer) Newest() (Snapshot, bool) {
	if len(b.snaps) == 0 {
		return Snapshot{}, false
	}
	return b.snaps[0], true
}

// Record prepends s and drops anything past capacity.
func (b *Buffer) Record(s Snapshot) {
	b.snaps = append(b.snaps, Snapshot{})
	copy(b.snaps[1:], b.snaps)
	b.snaps[0] = s
	if len(b.snaps) > b.cap {
		b.snaps = b.snaps[:b.cap]
	}
}

// Repeat re-records the newest pose at now. Used when an update arrived but
// carried no pose because the sender suppressed it.
func (b *Buffer) Repeat(now time.Time) {
	s, ok := b.Newest()
	if !ok {
		return
	}
	s.Time = now
	b.Record(s)
}

// Hold keeps interpolation moving on ticks without updates: when nothing
// buffered is newer than renderTime, the newest pose is held at now.
func (b *Buffer) Hold(now, renderTime time.Time) {
	for _, s := range b.snaps {
		if s.Time.After(renderTime) {
			return
		}
	}
	b.Repeat(now)
}

// Sample returns the pose at renderTime. ok is false only for an empty buffer.
func (b *Buffer) Sample(renderTime time.Time) (Pose, bool) {
	n := len(b.snaps)
	if n == 0 {
		return Pose{}, false
	}
	if !renderTime.Before(b.snaps[0].Time) {
		return b.snaps[0].Pose, true
	}
	for i := 0; i+1 < n; i++ {
		newer, older := b.snaps[i], b.snaps[i+1]
		if newer.Time.After(renderTime) && !older.Time.After(renderTime) {
			span := newer.Time.Sub(older.Time)
			if span <= 0 {
				return newer.Pose, true
			}
			t := float32(renderTime.Sub(older.Time).Seconds() / span.Seconds())
			return older.Lerp(newer, t), true
		}
	}
	return b.snaps[n-1].Pose, true
}
