package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"arenanet/internal/clock"
	"arenanet/internal/persistence/indexdb"
	persistlog "arenanet/internal/persistence/log"
	"arenanet/internal/replication"
	"arenanet/internal/transport/observer"
)

func TestWriteMetrics_PrometheusText(t *testing.T) {
	var buf bytes.Buffer
	writeMetrics(&buf, replication.Metrics{Frame: 7, Relayed: 3, CriticalDropped: 5, PendingSpawns: 2}, observer.NewHub())
	writeIndexMetrics(&buf, nil)
	out := buf.String()
	for _, want := range []string{
		"# TYPE arenanet_frame gauge\narenanet_frame 7\n",
		"arenanet_relayed_total 3\n",
		"arenanet_critical_dropped_total 5\n",
		"arenanet_pending_spawns 2\n",
		"arenanet_observers 0\n",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "arenanet_index_") {
		t.Fatalf("index metrics written without an index")
	}
}

func TestStatsSinks_FanOut(t *testing.T) {
	dir := t.TempDir()
	clk := clock.NewManual(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	sl := persistlog.NewStatsLogger(dir, clk)
	idx, err := indexdb.OpenSQLite(filepath.Join(dir, "index", "arena.sqlite"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}

	sinks := statsSinks{sl, idx}
	_ = sinks.WriteStats(replication.StatsEntry{Time: clk.Now(), Role: "server", Frame: 300})
	_ = sl.Close()
	_ = idx.Close()

	got, err := persistlog.ReadJSONL[replication.StatsEntry](sl.Path())
	if err != nil || len(got) != 1 || got[0].Frame != 300 {
		t.Fatalf("stats log: %+v err=%v", got, err)
	}

	// A nil index is skipped.
	_ = statsSinks{log: nil, idx: nil}.WriteStats(replication.StatsEntry{})
}

func TestLoopbackOnly(t *testing.T) {
	h := loopbackOnly(func(rw http.ResponseWriter, r *http.Request) { rw.WriteHeader(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/v1/state", nil)
	req.RemoteAddr = "127.0.0.1:5000"
	h(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("loopback code=%d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req.RemoteAddr = "[2001:db8::1]:5000"
	h(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("remote code=%d", rec.Code)
	}
}

func TestOpenRuntimeIndex_Disabled(t *testing.T) {
	idx, err := openRuntimeIndex(t.TempDir(), true)
	if err != nil || idx != nil {
		t.Fatalf("disabled: idx=%v err=%v", idx, err)
	}
	t.Setenv("ARENA_INDEX_BACKEND", "d1")
	if _, err := openRuntimeIndex(t.TempDir(), false); err == nil {
		t.Fatalf("expected error for unsupported backend")
	}
}
