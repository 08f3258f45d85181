package indexdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"arenanet/internal/replication"
	"arenanet/internal/session"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqStats}

	_ = s.WriteStats(replication.StatsEntry{Frame: 2})
	_ = s.WriteSession(session.Entry{Event: "joined"})
	s.SetMeta("k", "v")

	st := s.Stats()
	if st.DropStatsTotal != 1 {
		t.Fatalf("DropStatsTotal=%d want=1", st.DropStatsTotal)
	}
	if st.DropSessionTotal != 1 {
		t.Fatalf("DropSessionTotal=%d want=1", st.DropSessionTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_PersistsStatsAndSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.sqlite")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	id := uuid.NewString()
	for i := 0; i < 3; i++ {
		_ = s.WriteStats(replication.StatsEntry{Time: t0.Add(time.Duration(i) * 5 * time.Second), Role: "server", Frame: uint64(i * 300), Entities: i})
	}
	for i, ev := range []string{"joined", "ready", "timeout"} {
		_ = s.WriteSession(session.Entry{Time: t0.Add(time.Duration(i) * time.Second), ID: id, Peer: "10.0.0.2:5000", Name: "carol", Event: ev})
	}
	s.SetMeta("protocol_version", "1.0")
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	stats, err := s.RecentStats(ctx, 2)
	if err != nil {
		t.Fatalf("RecentStats: %v", err)
	}
	if len(stats) != 2 || stats[0].Frame != 600 || stats[1].Entities != 1 {
		t.Fatalf("stats=%+v", stats)
	}
	sess, err := s.Sessions(ctx, id)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sess) != 3 || sess[0].Event != "joined" || sess[2].Event != "timeout" || !sess[1].Time.Equal(t0.Add(time.Second)) {
		t.Fatalf("sessions=%+v", sess)
	}
	if v, err := s.Meta(ctx, "protocol_version"); err != nil || v != "1.0" {
		t.Fatalf("meta=%q err=%v", v, err)
	}
}
