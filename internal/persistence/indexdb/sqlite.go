package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"arenanet/internal/replication"
	"arenanet/internal/session"
)

// SQLiteIndex is a queryable secondary copy of the stats and session logs.
// Writes are queued and applied by one goroutine; when it falls behind,
// writes are dropped and counted. The JSONL logs remain the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropStats    atomic.Uint64
	dropSessions atomic.Uint64
}

type reqKind int

const (
	reqStats reqKind = iota + 1
	reqSession
	reqMeta
)

type req struct {
	kind reqKind

	stats   replication.StatsEntry
	session session.Entry
	key     string
	value   string
}

type Stats struct {
	QueueDepth       int    `json:"queue_depth"`
	QueueCapacity    int    `json:"queue_capacity"`
	DropStatsTotal   uint64 `json:"drop_stats_total"`
	DropSessionTotal uint64 `json:"drop_session_total"`
}

const queueSize = 4096

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{db: db, ch: make(chan req, queueSize)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS stats (
			ts TEXT NOT NULL,
			role TEXT NOT NULL,
			frame INTEGER NOT NULL,
			packets_in INTEGER NOT NULL,
			packets_out INTEGER NOT NULL,
			bytes_in_per_sec REAL NOT NULL,
			bytes_out_per_sec REAL NOT NULL,
			entities INTEGER NOT NULL,
			peers INTEGER NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (ts, role)
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			ts TEXT NOT NULL,
			peer TEXT NOT NULL,
			name TEXT NOT NULL,
			event TEXT NOT NULL,
			PRIMARY KEY (session_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_name ON sessions(name, ts);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) WriteStats(e replication.StatsEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqStats, stats: e}:
	default:
		s.dropStats.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) WriteSession(e session.Entry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqSession, session: e}:
	default:
		s.dropSessions.Add(1)
	}
	return nil
}

// SetMeta records a key/value pair such as the tuning in effect.
func (s *SQLiteIndex) SetMeta(key, value string) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqMeta, key: key, value: value}:
	default:
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:       len(s.ch),
		QueueCapacity:    cap(s.ch),
		DropStatsTotal:   s.dropStats.Load(),
		DropSessionTotal: s.dropSessions.Load(),
	}
}

// RecentStats returns up to limit stats rows, newest first.
func (s *SQLiteIndex) RecentStats(ctx context.Context, limit int) ([]replication.StatsEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT raw_json FROM stats ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []replication.StatsEntry
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var e replication.StatsEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Sessions returns the lifecycle of one session id in order.
func (s *SQLiteIndex) Sessions(ctx context.Context, id string) ([]session.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ts, peer, name, event FROM sessions WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []session.Entry
	for rows.Next() {
		e := session.Entry{ID: id}
		var ts string
		if err := rows.Scan(&ts, &e.Peer, &e.Name, &e.Event); err != nil {
			return nil, err
		}
		e.Time, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) Meta(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	return v, err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertStats, _ := s.db.Prepare(`INSERT OR REPLACE INTO stats(ts,role,frame,packets_in,packets_out,bytes_in_per_sec,bytes_out_per_sec,entities,peers,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertSession, _ := s.db.Prepare(`INSERT OR REPLACE INTO sessions(session_id,seq,ts,peer,name,event) VALUES(?,?,?,?,?,?)`)
	upsertMeta, _ := s.db.Prepare(`INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertStats, insertSession, upsertMeta} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 200
		commitMaxWait = 2 * time.Second

		seqs = map[string]int{}
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqStats:
			e := r.stats
			raw, _ := json.Marshal(e)
			exec(insertStats,
				e.Time.UTC().Format(time.RFC3339Nano),
				e.Role,
				int64(e.Frame),
				int64(e.PacketsIn),
				int64(e.PacketsOut),
				e.BytesInRate,
				e.BytesOutRate,
				e.Entities,
				e.Peers,
				string(raw),
			)

		case reqSession:
			e := r.session
			seq := seqs[e.ID]
			seqs[e.ID] = seq + 1
			exec(insertSession, e.ID, seq, e.Time.UTC().Format(time.RFC3339Nano), e.Peer, e.Name, e.Event)
			if e.Event != "joined" && e.Event != "ready" {
				delete(seqs, e.ID)
			}

		case reqMeta:
			exec(upsertMeta, r.key, r.value)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}
