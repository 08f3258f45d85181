package arena

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/go-gl/mathgl/mgl32"

	"arenanet/internal/replication"
	"arenanet/internal/wire"
)

// Setup is the match description the host sends in SETUP.
type Setup struct {
	Map    string
	Bounds float32
}

func (s Setup) Packet() *wire.Packet {
	return wire.NewPacket().AddString(s.Map).AddHighRes(s.Bounds)
}

func ReadSetup(r *wire.Reader) (Setup, error) {
	var s Setup
	var err error
	if s.Map, err = r.Str(); err != nil {
		return s, fmt.Errorf("setup map: %w", err)
	}
	if s.Bounds, err = r.HighRes(); err != nil {
		return s, fmt.Errorf("setup bounds: %w", err)
	}
	return s, nil
}

// Populate spawns n drones at random points inside the arena, flying at
// speed in random directions.
func Populate(o *replication.Orchestrator, w *World, n int, speed float32, p Params, rng *rand.Rand) ([]*Drone, error) {
	out := make([]*Drone, 0, n)
	for i := 0; i < n; i++ {
		d := NewDrone("drone", randomPoint(w, rng), randomHeading(rng).Mul(speed), p)
		if _, err := o.Spawn(d); err != nil {
			return out, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Drones lists the live drones in the orchestrator, by id.
func Drones(o *replication.Orchestrator) []*Drone {
	var out []*Drone
	for _, id := range o.Entities().IDs() {
		e, _ := o.Entities().Get(id)
		if d, ok := e.(*Drone); ok {
			out = append(out, d)
		}
	}
	return out
}

func randomPoint(w *World, rng *rand.Rand) mgl32.Vec3 {
	b := float32(10)
	if w != nil && w.Bounds > 0 {
		b = w.Bounds
	}
	return mgl32.Vec3{(rng.Float32()*2 - 1) * b, 0, (rng.Float32()*2 - 1) * b}
}

func randomHeading(rng *rand.Rand) mgl32.Vec3 {
	a := rng.Float64() * 2 * math.Pi
	return mgl32.Vec3{float32(math.Sin(a)), 0, float32(math.Cos(a))}
}
