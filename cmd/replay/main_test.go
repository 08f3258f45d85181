package main

import (
	"testing"
	"time"

	"arenanet/internal/clock"
	persistlog "arenanet/internal/persistence/log"
	"arenanet/internal/replication"
	"arenanet/internal/session"
)

func TestSummaries_ReadServerLogs(t *testing.T) {
	dir := t.TempDir()
	t0 := time.Date(2026, 3, 1, 10, 59, 55, 0, time.UTC)
	clk := clock.NewManual(t0)
	sl := persistlog.NewStatsLogger(dir, clk)
	jl := persistlog.NewSessionLogger(dir, clk)
	for i := 0; i < 3; i++ {
		_ = sl.WriteStats(replication.StatsEntry{
			Time: clk.Now(), WindowSec: 5, PacketsOut: 10, BytesOutRate: float64(100 * (i + 1)),
			Peers: i, Entities: 4, DecodeErrors: uint64(i),
		})
		_ = jl.WriteSession(session.Entry{Time: clk.Now(), ID: "s", Name: "ann", Event: []string{"joined", "ready", "left"}[i]})
		clk.Advance(5 * time.Second)
	}
	_ = sl.Close()
	_ = jl.Close()

	files, err := listLogFiles(dir+"/stats", "stats-")
	if err != nil || len(files) != 2 {
		t.Fatalf("stats files=%v err=%v", files, err)
	}
	var st statsSummary
	win := window{from: t0.Add(time.Second)}
	for _, f := range files {
		rows, err := persistlog.ReadJSONL[replication.StatsEntry](f)
		if err != nil {
			t.Fatalf("ReadJSONL: %v", err)
		}
		for _, e := range rows {
			if win.contains(e.Time) {
				st.add(e)
			}
		}
	}
	if st.windows != 2 || st.packetsOut != 20 || st.peakOutRate != 300 || st.maxPeers != 2 || st.decodeErrors != 2 {
		t.Fatalf("summary: %+v", st)
	}
	if st.bytesOut != 2500 {
		t.Fatalf("bytesOut=%v want=2500", st.bytesOut)
	}

	files, _ = listLogFiles(dir+"/sessions", "sessions-")
	ss := sessionSummary{events: map[string]int{}, names: map[string]bool{}}
	for _, f := range files {
		rows, _ := persistlog.ReadJSONL[session.Entry](f)
		for _, e := range rows {
			ss.add(e)
		}
	}
	if ss.events["joined"] != 1 || ss.events["left"] != 1 || len(ss.names) != 1 {
		t.Fatalf("sessions: %+v", ss)
	}
}

func TestWindow_Bounds(t *testing.T) {
	from, _ := parseTime("2026-03-01T10:00:00Z")
	to, _ := parseTime("2026-03-01T11:00:00Z")
	w := window{from: from, to: to}
	if !w.contains(from) || w.contains(to) || w.contains(from.Add(-time.Second)) {
		t.Fatalf("window bounds wrong")
	}
	if _, err := parseTime("yesterday"); err == nil {
		t.Fatalf("expected parse error")
	}
}
