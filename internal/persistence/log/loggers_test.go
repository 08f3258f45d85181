package log

import (
	"path/filepath"
	"testing"
	"time"

	"arenanet/internal/clock"
	"arenanet/internal/replication"
	"arenanet/internal/session"
)

func TestStatsLogger_RoundTripAndHourlyRotation(t *testing.T) {
	dir := t.TempDir()
	clk := clock.NewManual(time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC))
	l := NewStatsLogger(dir, clk)

	if err := l.WriteStats(replication.StatsEntry{Role: "server", Frame: 1, PacketsIn: 10}); err != nil {
		t.Fatalf("WriteStats: %v", err)
	}
	if err := l.WriteStats(replication.StatsEntry{Role: "server", Frame: 2, PacketsIn: 20}); err != nil {
		t.Fatalf("WriteStats: %v", err)
	}
	first := l.Path()
	clk.Advance(2 * time.Minute)
	if err := l.WriteStats(replication.StatsEntry{Role: "server", Frame: 3}); err != nil {
		t.Fatalf("WriteStats: %v", err)
	}
	second := l.Path()
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if want := filepath.Join(dir, "stats", "stats-2026-03-01-10.jsonl.zst"); first != want {
		t.Fatalf("path=%s want=%s", first, want)
	}
	if first == second {
		t.Fatalf("no rotation across the hour")
	}
	got, err := ReadJSONL[replication.StatsEntry](first)
	if err != nil {
		t.Fatalf("ReadJSONL: %v", err)
	}
	if len(got) != 2 || got[0].Frame != 1 || got[1].PacketsIn != 20 {
		t.Fatalf("entries=%+v", got)
	}
	got, err = ReadJSONL[replication.StatsEntry](second)
	if err != nil || len(got) != 1 || got[0].Frame != 3 {
		t.Fatalf("second file: %+v %v", got, err)
	}
}

func TestSessionLogger_Writes(t *testing.T) {
	dir := t.TempDir()
	clk := clock.NewManual(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	l := NewSessionLogger(dir, clk)
	if err := l.WriteSession(session.Entry{Name: "alice", Event: "joined"}); err != nil {
		t.Fatalf("WriteSession: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	got, err := ReadJSONL[session.Entry](filepath.Join(dir, "sessions", "sessions-2026-03-01-10.jsonl.zst"))
	if err != nil || len(got) != 1 || got[0].Name != "alice" {
		t.Fatalf("entries=%+v err=%v", got, err)
	}
}
