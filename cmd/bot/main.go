package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/netip"
	"os"
	"os/signal"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"arenanet/internal/arena"
	"arenanet/internal/clock"
	"arenanet/internal/replication"
	"arenanet/internal/session"
	"arenanet/internal/transport/udp"
	"arenanet/internal/tuning"
	"arenanet/internal/wire"
)

// bot joins an arena server, flies one drone of its own and reports what it
// sees. It is a load and smoke-test client.
func main() {
	var (
		host       = flag.String("host", "127.0.0.1:1337", "server host[:port]")
		name       = flag.String("name", "bot", "player name")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		speed      = flag.Float64("speed", 3, "drone speed (units/s)")
		pingEvery  = flag.Duration("ping_every", 3*time.Second, "how often to ping and chat (0 disables)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, fmt.Sprintf("[bot %s] ", *name), log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		tune = tuning.Defaults()
	}

	clk := clock.Real()
	tr, err := udp.New(replication.TransportConfig(tune), clk, logger)
	if err != nil {
		logger.Fatalf("transport: %v", err)
	}
	if err := tr.Connect(*host, session.Hello(*name)); err != nil {
		logger.Fatalf("connect %s: %v", *host, err)
	}
	defer tr.Close()

	params := arena.ParamsFromTuning(tune)
	reg := replication.NewRegistry()
	if err := arena.Register(reg, params); err != nil {
		logger.Fatalf("register kinds: %v", err)
	}

	w := &arena.World{}
	var setupSeen bool
	o := replication.New(replication.ConfigFromTuning(tune), tr, reg, replication.Hooks{
		OnSetup: func(from netip.AddrPort, r *wire.Reader) error {
			s, err := arena.ReadSetup(r)
			if err != nil {
				return err
			}
			w.Bounds = s.Bounds
			setupSeen = true
			logger.Printf("SETUP map=%q bounds=%.1f", s.Map, s.Bounds)
			return nil
		},
		OnChat: func(from netip.AddrPort, who, text string) {
			logger.Printf("chat %s: %s", who, text)
		},
	}, clk, logger)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(tune.FrameInterval())
	defer ticker.Stop()
	report := time.NewTicker(5 * time.Second)
	defer report.Stop()

	var (
		mine     *arena.Drone
		lastPing time.Time
	)
	for {
		select {
		case <-stop:
			if err := o.Leave(); err != nil {
				logger.Printf("leave: %v", err)
			}
			return

		case <-report.C:
			m := o.Metrics()
			logger.Printf("entities=%d in=%dB out=%dB decode_errors=%d", m.Entities, m.BytesIn, m.BytesOut, m.DecodeErrors)

		case now := <-ticker.C:
			o.Step(w)

			if sigs := o.Session().Signals(); len(sigs) > 0 {
				logger.Printf("signal: %s", sigs[0])
				return
			}

			switch o.Session().ClientState() {
			case session.Loading:
				if setupSeen {
					if err := o.Session().MarkLoaded(); err != nil {
						logger.Printf("mark loaded: %v", err)
					}
				}
			case session.Ready:
				if mine == nil {
					mine = arena.NewDrone(*name, mgl32.Vec3{}, randomVel(rng, float32(*speed)), params)
					if id, err := o.Spawn(mine); err != nil {
						logger.Printf("spawn: %v", err)
						mine = nil
					} else {
						logger.Printf("spawned drone %d", id)
					}
				}
				if mine != nil && *pingEvery > 0 && now.Sub(lastPing) >= *pingEvery {
					mine.Ping(mine.Pose().Pos)
					mine.AddScore(1)
					o.Chat(*name, fmt.Sprintf("ping at %.1f,%.1f", mine.Pose().Pos.X(), mine.Pose().Pos.Z()))
					lastPing = now
				}
			}

			for _, d := range arena.Drones(o) {
				for _, at := range d.Heard() {
					logger.Printf("heard %s ping at %.1f,%.1f (score %d)", d.Name, at.X(), at.Z(), d.Score())
				}
			}
		}
	}
}

func randomVel(rng *rand.Rand, speed float32) mgl32.Vec3 {
	v := mgl32.Vec3{rng.Float32()*2 - 1, 0, rng.Float32()*2 - 1}
	if v.Len() == 0 {
		return mgl32.Vec3{speed, 0, 0}
	}
	return v.Normalize().Mul(speed)
}
