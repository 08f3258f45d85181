package arena

import (
	"math"
	"math/rand"
	"net/netip"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"arenanet/internal/clock"
	"arenanet/internal/replication"
	"arenanet/internal/session"
	"arenanet/internal/transport/memnet"
	"arenanet/internal/transport/udp"
	"arenanet/internal/wire"
)

var t0 = time.Unix(1000, 0)

func near(a, b mgl32.Vec3, eps float32) bool {
	for i := 0; i < 3; i++ {
		if math.Abs(float64(a[i]-b[i])) > float64(eps) {
			return false
		}
	}
	return true
}

func TestDrone_SpawnRoundTrip(t *testing.T) {
	reg := replication.NewRegistry()
	if err := Register(reg, DefaultParams()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	src := NewDrone("kestrel", mgl32.Vec3{1.5, 0, -3.25}, mgl32.Vec3{2, 0, -1}, DefaultParams())
	src.SetID(9)
	p := replication.BuildSpawnPacket(src)

	r := wire.NewReader(p.Bytes())
	if tag, _ := r.Tag(); tag != wire.TagSpawn {
		t.Fatalf("tag: %s", tag)
	}
	kind, _ := r.Uint8()
	id, _ := r.Uint8()
	if replication.Kind(kind) != KindDrone || id != 9 {
		t.Fatalf("header: kind=%d id=%d", kind, id)
	}
	e, err := reg.Decode(replication.Kind(kind), &replication.Frame{Now: t0}, r)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	d := e.(*Drone)
	if d.Name != "kestrel" || d.pos != src.pos || !near(d.vel, src.vel, 1.0/110) {
		t.Fatalf("decoded: name=%q pos=%v vel=%v", d.Name, d.pos, d.vel)
	}
	if r.Remaining() != 0 {
		t.Fatalf("%d bytes left over", r.Remaining())
	}
}

func TestDrone_ControllerCarriesPoseScoreAndPings(t *testing.T) {
	owner := NewDrone("a", mgl32.Vec3{}, mgl32.Vec3{4, 0, 0}, DefaultParams())
	owner.SetAuthoritative(true)
	watcher := NewDrone("a", mgl32.Vec3{}, mgl32.Vec3{4, 0, 0}, DefaultParams())

	owner.AddScore(3)
	owner.Ping(mgl32.Vec3{1, 2, 3})
	f := &replication.Frame{Now: t0.Add(100 * time.Millisecond), Delta: 100 * time.Millisecond, SendTick: true}
	up, ok := owner.TickAuthoritative(f)
	if !ok || !up.Critical || !owner.Dirty() {
		t.Fatalf("update: ok=%v critical=%v dirty=%v", ok, up.Critical, owner.Dirty())
	}
	up.Sent()

	r := wire.NewReader(up.Body.Bytes())
	if err := watcher.TickObserved(f, r); err != nil {
		t.Fatalf("TickObserved: %v", err)
	}
	if r.Remaining() != 0 {
		t.Fatalf("%d bytes left over", r.Remaining())
	}
	if watcher.Score() != 3 {
		t.Fatalf("score: %d", watcher.Score())
	}
	if h := watcher.Heard(); len(h) != 1 || h[0] != (mgl32.Vec3{1, 2, 3}) {
		t.Fatalf("pings: %v", h)
	}
	if !near(watcher.pos, mgl32.Vec3{0.4, 0, 0}, 1e-4) {
		t.Fatalf("pose: %v", watcher.pos)
	}

	// A truncated body is an error, not a panic.
	short := up.Body.Bytes()
	if err := watcher.TickObserved(f, wire.NewReader(short[:3])); err == nil {
		t.Fatalf("truncated body accepted")
	}
}

func TestDrone_IdleOwnerIsClean(t *testing.T) {
	d := NewDrone("still", mgl32.Vec3{5, 0, 5}, mgl32.Vec3{}, DefaultParams())
	d.SetAuthoritative(true)
	for i := 1; i <= 5; i++ {
		f := &replication.Frame{Now: t0.Add(time.Duration(i) * 30 * time.Millisecond), Delta: 30 * time.Millisecond, SendTick: true}
		up, _ := d.TickAuthoritative(f)
		if d.Dirty() || up.Critical {
			t.Fatalf("tick %d: idle drone is dirty", i)
		}
	}
	d.AddScore(1)
	d.TickAuthoritative(&replication.Frame{Now: t0.Add(time.Second), SendTick: true})
	if !d.Dirty() {
		t.Fatalf("score change should dirty the drone")
	}
}

func TestDrone_BouncesOffWalls(t *testing.T) {
	d := NewDrone("b", mgl32.Vec3{9.5, 0, -9.5}, mgl32.Vec3{10, 0, -10}, DefaultParams())
	d.SetAuthoritative(true)
	d.TickAuthoritative(&replication.Frame{Now: t0, Delta: 100 * time.Millisecond, World: &World{Bounds: 10}})
	if d.pos != (mgl32.Vec3{10, 0, -10}) {
		t.Fatalf("pos: %v", d.pos)
	}
	if d.vel != (mgl32.Vec3{-10, 0, 10}) {
		t.Fatalf("vel: %v", d.vel)
	}
}

type peer struct {
	tr *udp.Transport
	o  *replication.Orchestrator
}

func TestArena_DronesReplicateAcrossClients(t *testing.T) {
	net := memnet.New()
	clk := clock.NewManual(t0)
	world := &World{Bounds: 20}
	host := netip.MustParseAddrPort("10.0.0.1:1337")

	mk := func(addr netip.AddrPort, role udp.Role, hello []byte, seed int64) *peer {
		conn, err := net.Listen(addr)
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
		tr, err := udp.New(udp.DefaultConfig(), clk, nil)
		if err != nil {
			t.Fatalf("udp.New: %v", err)
		}
		target := netip.AddrPort{}
		if role == udp.RoleClient {
			target = host
		}
		if err := tr.Attach(conn, role, target, hello); err != nil {
			t.Fatalf("Attach: %v", err)
		}
		t.Cleanup(func() { _ = tr.Close() })
		reg := replication.NewRegistry()
		if err := Register(reg, DefaultParams()); err != nil {
			t.Fatalf("Register: %v", err)
		}
		cfg := replication.DefaultConfig()
		cfg.Seed = seed
		return &peer{tr: tr, o: replication.New(cfg, tr, reg, replication.Hooks{}, clk, nil)}
	}
	srv := mk(host, udp.RoleServer, nil, 1)
	clientAddr := netip.AddrPortFrom(netip.MustParseAddr("10.0.1.1"), 0)
	a := mk(clientAddr, udp.RoleClient, session.Hello("a"), 2)
	b := mk(clientAddr, udp.RoleClient, session.Hello("b"), 3)
	all := []*peer{srv, a, b}

	step := func(n int) {
		for i := 0; i < n; i++ {
			clk.Advance(16 * time.Millisecond)
			for _, p := range all {
				p.o.Step(world)
				net.Settle()
			}
		}
	}

	served, err := Populate(srv.o, world, 3, 4, DefaultParams(), rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatalf("Populate: %v", err)
	}
	for i := 0; i < 20; i++ {
		step(1)
		for _, c := range []*peer{a, b} {
			if c.o.Session().ClientState() == session.Loading {
				if err := c.o.Session().MarkLoaded(); err != nil {
					t.Fatalf("MarkLoaded: %v", err)
				}
			}
		}
	}
	if srv.o.Session().ReadyCount() != 2 {
		t.Fatalf("ready clients: %d", srv.o.Session().ReadyCount())
	}

	mine := NewDrone("a-ship", mgl32.Vec3{}, mgl32.Vec3{0, 0, 3}, DefaultParams())
	if _, err := a.o.Spawn(mine); err != nil {
		t.Fatalf("client Spawn: %v", err)
	}
	step(10)
	mine.Ping(mgl32.Vec3{7, 0, 7})
	mine.AddScore(2)
	step(60)

	for _, c := range []*peer{a, b} {
		if got := len(Drones(c.o)); got != 4 {
			t.Fatalf("client sees %d drones want 4", got)
		}
	}
	for _, d := range served {
		copyOnB, ok := b.o.Entities().Get(d.ID())
		if !ok {
			t.Fatalf("drone %d missing on b", d.ID())
		}
		// Render delay is 100ms at speed 4; allow for that plus a tick.
		if got := copyOnB.(*Drone).Pose().Pos; !near(got, d.Pose().Pos, 0.6) {
			t.Fatalf("drone %d on b at %v, server at %v", d.ID(), got, d.Pose().Pos)
		}
	}
	e, ok := b.o.Entities().Get(mine.ID())
	if !ok {
		t.Fatalf("a's drone never reached b")
	}
	other := e.(*Drone)
	if other.Score() != 2 {
		t.Fatalf("score on b: %d", other.Score())
	}
	if h := other.Heard(); len(h) != 1 {
		t.Fatalf("pings heard on b: %v", h)
	}
	if !near(other.Pose().Pos, mine.Pose().Pos, 0.6) {
		t.Fatalf("a's drone on b at %v, on a at %v", other.Pose().Pos, mine.Pose().Pos)
	}
}

func TestSetup_RoundTrip(t *testing.T) {
	in := Setup{Map: "hangar", Bounds: 24.5}
	got, err := ReadSetup(wire.NewReader(in.Packet().Bytes()))
	if err != nil {
		t.Fatalf("ReadSetup: %v", err)
	}
	if got != in {
		t.Fatalf("got %+v want %+v", got, in)
	}
	if _, err := ReadSetup(wire.NewReader([]byte{0, 3, 'a'})); err == nil {
		t.Fatalf("expected error for truncated setup")
	}
}
