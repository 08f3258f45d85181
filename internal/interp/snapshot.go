package interp

import (
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"arenanet/internal/wire"
)

const (
	DefaultCapacity    = 6
	DefaultRenderDelay = 100 * time.Millisecond
)

type Pose struct {
	Pos mgl32.Vec3
	Rot mgl32.Quat
}

func IdentityPose(pos mgl32.Vec3) Pose {
	return Pose{Pos: pos, Rot: mgl32.QuatIdent()}
}

// Snapshot is a timestamped transform sample. The timestamp is local: the
// sender's clock never crosses the wire.
type Snapshot struct {
	Pose
	Time time.Time
}

// AlmostEqual compares poses component-wise within the given tolerances.
func (s Snapshot) AlmostEqual(o Snapshot, posEps, rotEps float32) bool {
	for i := 0; i < 3; i++ {
		if abs32(s.Pos[i]-o.Pos[i]) > posEps {
			return false
		}
		if abs32(s.Rot.V[i]-o.Rot.V[i]) > rotEps {
			return false
		}
	}
	return abs32(s.Rot.W-o.Rot.W) <= rotEps
}

// Lerp blends position linearly and orientation by normalized lerp.
func (s Snapshot) Lerp(o Snapshot, t float32) Pose {
	if t <= 0 {
		return s.Pose
	}
	if t >= 1 {
		return o.Pose
	}
	return Pose{
		Pos: s.Pos.Add(o.Pos.Sub(s.Pos).Mul(t)),
		Rot: mgl32.QuatNlerp(s.Rot, o.Rot, t),
	}
}

// WriteSnapshot encodes position at full precision and orientation at
// standard precision.
func WriteSnapshot(p *wire.Packet, s Snapshot) {
	p.AddHighResVec3(s.Pos).AddStandardQuat(s.Rot)
}

// ReadSnapshot decodes a snapshot and stamps it with the local receive time.
func ReadSnapshot(r *wire.Reader, now time.Time) (Snapshot, error) {
	pos, err := r.HighResVec3()
	if err != nil {
		return Snapshot{}, err
	}
	rot, err := r.StandardQuat()
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Pose: Pose{Pos: pos, Rot: rot}, Time: now}, nil
}

func RenderTime(now time.Time, delay time.Duration) time.Time {
	return now.Add(-delay)
}

func abs32(f float32) float32 {
	if f < 0 {
		return -f
	}
	return f
}
