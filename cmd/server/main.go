package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"net/http/pprof"
	"net/netip"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"arenanet/internal/arena"
	"arenanet/internal/clock"
	"arenanet/internal/observerproto"
	persistlog "arenanet/internal/persistence/log"
	"arenanet/internal/replication"
	"arenanet/internal/session"
	"arenanet/internal/transport/observer"
	"arenanet/internal/transport/udp"
	"arenanet/internal/tuning"
	"arenanet/internal/wire"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address (metrics, admin, observer)")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite stats/session index")
		mapName    = flag.String("map", "hangar", "map name sent to clients in SETUP")
		bounds     = flag.Float64("bounds", 20, "arena half-width")
		drones     = flag.Int("drones", 8, "server-owned drones to spawn")
		speed      = flag.Float64("speed", 4, "drone speed (units/s)")
		seed       = flag.Int64("seed", 0, "random seed for drone placement and entity ids (0 = time)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", *tuningPath)
		tune = tuning.Defaults()
	}
	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}

	idx, err := openRuntimeIndex(*dataDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if raw, err := json.Marshal(tune); err == nil {
			idx.SetMeta("tuning", string(raw))
		}
		idx.SetMeta("protocol_version", tune.ProtocolVersion)
	}

	clk := clock.Real()
	statsLog := persistlog.NewStatsLogger(*dataDir, clk)
	sessLog := persistlog.NewSessionLogger(*dataDir, clk)
	defer statsLog.Close()
	defer sessLog.Close()

	tr, err := udp.New(replication.TransportConfig(tune), clk, logger)
	if err != nil {
		logger.Fatalf("transport: %v", err)
	}
	if err := tr.Listen(tune.Port); err != nil {
		logger.Fatalf("listen udp :%d: %v", tune.Port, err)
	}
	defer tr.Close()

	params := arena.ParamsFromTuning(tune)
	reg := replication.NewRegistry()
	if err := arena.Register(reg, params); err != nil {
		logger.Fatalf("register kinds: %v", err)
	}

	setup := arena.Setup{Map: *mapName, Bounds: float32(*bounds)}
	w := &arena.World{Bounds: setup.Bounds}

	cfg := replication.ConfigFromTuning(tune)
	cfg.Seed = *seed
	o := replication.New(cfg, tr, reg, replication.Hooks{
		Setup: func(peer netip.AddrPort, name string) *wire.Packet { return setup.Packet() },
		Journal: func(e session.Entry) {
			logger.Printf("session %s %s (%s %s)", e.ID, e.Event, e.Name, e.Peer)
			_ = sessLog.WriteSession(e)
			if idx != nil {
				_ = idx.WriteSession(e)
			}
		},
		OnChat: func(from netip.AddrPort, name, text string) {
			logger.Printf("chat %s: %s", name, text)
		},
	}, clk, logger)
	o.SetStatsSink(statsSinks{statsLog, idx})

	rng := rand.New(rand.NewSource(*seed))
	own, err := arena.Populate(o, w, *drones, float32(*speed), params, rng)
	if err != nil {
		logger.Fatalf("populate: %v", err)
	}
	logger.Printf("udp listening on %s; %d drones in %q", tr.LocalAddr(), len(own), setup.Map)

	hub := observer.NewHub()
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, o.Metrics(), hub)
		writeIndexMetrics(rw, idx)
	})

	enableAdminHTTP := envBool("ARENA_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("ARENA_ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		mux.HandleFunc("/admin/v1/state", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
			rw.Header().Set("Content-Type", "application/json")
			resp := struct {
				Map     string              `json:"map"`
				Metrics replication.Metrics `json:"metrics"`
				Index   any                 `json:"index,omitempty"`
			}{Map: setup.Map, Metrics: o.Metrics()}
			if idx != nil {
				resp.Index = idx.Stats()
			}
			_ = json.NewEncoder(rw).Encode(resp)
		}))
		if idx != nil {
			mux.HandleFunc("/admin/v1/stats", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
				limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
				if err != nil || limit <= 0 || limit > 1000 {
					limit = 60
				}
				rows, err := idx.RecentStats(r.Context(), limit)
				writeJSON(rw, rows, err)
			}))
			mux.HandleFunc("/admin/v1/sessions", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
				id := r.URL.Query().Get("id")
				if id == "" {
					http.Error(rw, "missing id", http.StatusBadRequest)
					return
				}
				rows, err := idx.Sessions(r.Context(), id)
				writeJSON(rw, rows, err)
			}))
		}

		obsSrv := observer.NewServer(hub, func() observerproto.BootstrapResponse {
			return observerproto.BootstrapResponse{
				Role: udp.RoleServer.String(),
				Params: observerproto.NetParams{
					FrameRateHz: tune.FrameRateHz,
					NetTickMs:   tune.NetTickMs,
					MaxClients:  tune.MaxClients,
					Port:        tune.Port,
					Compression: tune.Compression,
				},
				Kinds: reg.Names(),
			}
		}, logger)
		mux.HandleFunc("/admin/v1/observer/bootstrap", obsSrv.BootstrapHandler())
		mux.HandleFunc("/admin/v1/observer/ws", obsSrv.WSHandler())
	} else {
		logger.Printf("admin endpoints disabled (ARENA_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (ARENA_ENABLE_PPROF_HTTP=false)")
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Printf("http listening on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("ListenAndServe: %v", err)
		}
	}()

	ctx, cancel := signalContext()
	defer cancel()

	// Every orchestrator and drone call below stays on this goroutine.
	ticker := time.NewTicker(tune.FrameInterval())
	defer ticker.Stop()
	nextEvent := time.Now().Add(2 * time.Second)
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case now := <-ticker.C:
			if now.After(nextEvent) && len(own) > 0 {
				d := own[rng.Intn(len(own))]
				d.AddScore(1)
				d.Ping(d.Pose().Pos)
				nextEvent = now.Add(time.Duration(1+rng.Intn(3)) * time.Second)
			}
			o.Step(w)
			if due, ents := hub.Due(now); due {
				hub.Publish(now, observer.Snapshot(o, ents))
			}
		}
	}

	logger.Printf("shutting down")
	if err := o.Leave(); err != nil {
		logger.Printf("leave: %v", err)
	}
	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func writeJSON(rw http.ResponseWriter, v any, err error) {
	rw.Header().Set("Content-Type", "application/json")
	if err != nil {
		rw.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
		return
	}
	_ = json.NewEncoder(rw).Encode(v)
}
