package arena

import (
	"fmt"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"arenanet/internal/interp"
	"arenanet/internal/replication"
	"arenanet/internal/tuning"
	"arenanet/internal/wire"
)

const KindDrone replication.Kind = 1

// maxPings bounds the pings one controller record can carry.
const maxPings = 255

type Params struct {
	Thresholds  interp.Thresholds
	RenderDelay time.Duration
	SnapshotCap int
}

func DefaultParams() Params { return ParamsFromTuning(tuning.Defaults()) }

func ParamsFromTuning(t tuning.Tuning) Params {
	return Params{
		Thresholds: interp.Thresholds{
			PositionEpsilon:   t.Dirty.PositionEpsilon,
			RotationEpsilon:   t.Dirty.RotationEpsilon,
			VelocityThreshold: t.Dirty.VelocityThreshold,
		},
		RenderDelay: t.RenderDelay(),
		SnapshotCap: t.SnapshotCap,
	}
}

// World is what Step hands to drones. Drones bounce inside a square of
// half-width Bounds centred on the origin; 0 means unbounded.
type World struct {
	Bounds float32
}

// Drone flies in a straight line in the XZ plane and bounces off the arena
// walls. The owner can raise pings (one-shot positional events) and score.
type Drone struct {
	id   replication.EntityID
	auth bool
	p    Params

	Name  string
	pos   mgl32.Vec3
	vel   mgl32.Vec3
	rot   mgl32.Quat
	score int16

	// Owner side.
	tracker   *interp.Tracker
	pings     []mgl32.Vec3
	sentScore int16
	dirty     bool

	// Observer side.
	buf      *interp.Buffer
	rendered interp.Pose
	heard    []mgl32.Vec3

	gone   bool
	killed bool
}

func NewDrone(name string, pos, vel mgl32.Vec3, p Params) *Drone {
	d := &Drone{
		p:       p,
		Name:    name,
		pos:     pos,
		vel:     vel,
		rot:     heading(vel),
		tracker: interp.NewTracker(p.Thresholds),
		buf:     interp.NewBuffer(p.SnapshotCap),
	}
	d.rendered = d.pose()
	return d
}

// Register installs the drone kind.
func Register(reg *replication.Registry, p Params) error {
	return reg.Register(KindDrone, "drone", func(f *replication.Frame, r *wire.Reader) (replication.Replicable, error) {
		return decodeDrone(f, r, p)
	})
}

func decodeDrone(f *replication.Frame, r *wire.Reader, p Params) (*Drone, error) {
	pos, err := r.HighResVec3()
	if err != nil {
		return nil, fmt.Errorf("drone pos: %w", err)
	}
	vel, err := r.StandardVec3()
	if err != nil {
		return nil, fmt.Errorf("drone vel: %w", err)
	}
	name, err := r.Str()
	if err != nil {
		return nil, fmt.Errorf("drone name: %w", err)
	}
	d := NewDrone(name, pos, vel, p)
	d.buf.Record(interp.Snapshot{Pose: d.pose(), Time: f.Now})
	return d, nil
}

func (d *Drone) ID() replication.EntityID      { return d.id }
func (d *Drone) SetID(id replication.EntityID) { d.id = id }
func (d *Drone) Kind() replication.Kind        { return KindDrone }
func (d *Drone) Authoritative() bool           { return d.auth }
func (d *Drone) Dirty() bool                   { return d.dirty }
func (d *Drone) Score() int16                  { return d.score }
func (d *Drone) Gone() (gone, killed bool)     { return d.gone, d.killed }

func (d *Drone) SetAuthoritative(a bool) {
	d.auth = a
	if a {
		d.tracker.Reset(interp.Snapshot{Pose: d.pose()})
	}
}

// Pose is the simulated pose on the owner and the interpolated one elsewhere.
func (d *Drone) Pose() interp.Pose {
	if d.auth {
		return d.pose()
	}
	return d.rendered
}

func (d *Drone) Velocity() mgl32.Vec3 { return d.vel }

// Ping raises a one-shot event at pos. Every observer hears each ping once.
func (d *Drone) Ping(pos mgl32.Vec3) {
	if len(d.pings) < maxPings {
		d.pings = append(d.pings, pos)
	}
}

func (d *Drone) AddScore(n int16) { d.score += n }

// Heard drains the pings delivered to this copy.
func (d *Drone) Heard() []mgl32.Vec3 {
	h := d.heard
	d.heard = nil
	return h
}

func (d *Drone) WriteSpawn(w *wire.Packet) {
	w.AddHighResVec3(d.pos).AddStandardVec3(d.vel).AddString(d.Name)
}

func (d *Drone) TickAuthoritative(f *replication.Frame) (replication.Update, bool) {
	d.move(f)
	snap := interp.Snapshot{Pose: d.pose(), Time: f.Now}
	hasPose := d.tracker.Capture(snap, d.vel, f.SendTick)

	body := wire.NewPacket().AddBool(hasPose)
	if hasPose {
		interp.WriteSnapshot(body, snap)
	}
	body.AddInt16(d.score).AddUint8(uint8(len(d.pings)))
	for _, p := range d.pings {
		body.AddHighResVec3(p)
	}
	critical := len(d.pings) > 0
	d.pings = d.pings[:0]

	score := d.score
	d.dirty = hasPose || score != d.sentScore
	return replication.Update{
		Body:     body,
		Critical: critical,
		Sent: func() {
			d.tracker.Commit()
			d.sentScore = score
		},
	}, true
}

func (d *Drone) TickObserved(f *replication.Frame, r *wire.Reader) error {
	render := interp.RenderTime(f.Now, d.p.RenderDelay)
	if r == nil {
		if !d.auth {
			d.buf.Hold(f.Now, render)
			d.sample(render)
		}
		return nil
	}
	hasPose, err := r.Bool()
	if err != nil {
		return err
	}
	var snap interp.Snapshot
	if hasPose {
		if snap, err = interp.ReadSnapshot(r, f.Now); err != nil {
			return err
		}
	}
	score, err := r.Int16()
	if err != nil {
		return err
	}
	n, err := r.Uint8()
	if err != nil {
		return err
	}
	for i := 0; i < int(n); i++ {
		p, err := r.HighResVec3()
		if err != nil {
			return err
		}
		d.heard = append(d.heard, p)
	}
	if d.auth {
		return nil
	}
	d.score = score
	if hasPose {
		d.buf.Record(snap)
		d.pos, d.rot = snap.Pos, snap.Rot
	} else {
		d.buf.Repeat(f.Now)
	}
	d.sample(render)
	return nil
}

func (d *Drone) Deleted(killed, remote bool) {
	d.gone = true
	d.killed = killed
}

func (d *Drone) sample(render time.Time) {
	if pose, ok := d.buf.Sample(render); ok {
		d.rendered = pose
	}
}

func (d *Drone) move(f *replication.Frame) {
	dt := float32(f.Delta.Seconds())
	if dt <= 0 {
		return
	}
	d.pos = d.pos.Add(d.vel.Mul(dt))
	w, _ := f.World.(*World)
	if w == nil || w.Bounds <= 0 {
		return
	}
	for _, axis := range []int{0, 2} {
		switch {
		case d.pos[axis] > w.Bounds:
			d.pos[axis] = w.Bounds
			d.vel[axis] = -abs(d.vel[axis])
		case d.pos[axis] < -w.Bounds:
			d.pos[axis] = -w.Bounds
			d.vel[axis] = abs(d.vel[axis])
		}
	}
	d.rot = heading(d.vel)
}

func (d *Drone) pose() interp.Pose { return interp.Pose{Pos: d.pos, Rot: d.rot} }

// heading faces +Z along the velocity's XZ direction.
func heading(vel mgl32.Vec3) mgl32.Quat {
	if vel[0] == 0 && vel[2] == 0 {
		return mgl32.QuatIdent()
	}
	yaw := float32(math.Atan2(float64(vel[0]), float64(vel[2])))
	return mgl32.QuatRotate(yaw, mgl32.Vec3{0, 1, 0})
}

func abs(f float32) float32 {
	if f < 0 {
		return -f
	}
	return f
}
