package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	persistlog "arenanet/internal/persistence/log"
	"arenanet/internal/replication"
	"arenanet/internal/session"
)

// replay reads the stats and session logs a server wrote under -data and
// prints a traffic and lifecycle summary.
func main() {
	var (
		dataDir = flag.String("data", "./data", "runtime data directory")
		from    = flag.String("from", "", "only entries at or after this RFC3339 time (optional)")
		to      = flag.String("to", "", "only entries before this RFC3339 time (optional)")
	)
	flag.Parse()

	var win window
	var err error
	if win.from, err = parseTime(*from); err != nil {
		fmt.Fprintln(os.Stderr, "bad -from:", err)
		os.Exit(2)
	}
	if win.to, err = parseTime(*to); err != nil {
		fmt.Fprintln(os.Stderr, "bad -to:", err)
		os.Exit(2)
	}

	statsFiles, err := listLogFiles(filepath.Join(*dataDir, "stats"), "stats-")
	if err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "list stats:", err)
		os.Exit(1)
	}
	var st statsSummary
	for _, path := range statsFiles {
		rows, err := persistlog.ReadJSONL[replication.StatsEntry](path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read stats:", err)
			os.Exit(1)
		}
		for _, e := range rows {
			if win.contains(e.Time) {
				st.add(e)
			}
		}
	}

	sessFiles, err := listLogFiles(filepath.Join(*dataDir, "sessions"), "sessions-")
	if err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "list sessions:", err)
		os.Exit(1)
	}
	ss := sessionSummary{events: map[string]int{}, names: map[string]bool{}}
	for _, path := range sessFiles {
		rows, err := persistlog.ReadJSONL[session.Entry](path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read sessions:", err)
			os.Exit(1)
		}
		for _, e := range rows {
			if win.contains(e.Time) {
				ss.add(e)
			}
		}
	}

	st.print()
	ss.print()
}

type window struct{ from, to time.Time }

func (w window) contains(t time.Time) bool {
	if !w.from.IsZero() && t.Before(w.from) {
		return false
	}
	if !w.to.IsZero() && !t.Before(w.to) {
		return false
	}
	return true
}

func parseTime(s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

// listLogFiles returns <prefix>*.jsonl.zst under dir, oldest hour first.
func listLogFiles(dir, prefix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

type statsSummary struct {
	windows     int
	first, last time.Time
	seconds     float64

	packetsIn, packetsOut uint64
	bytesIn, bytesOut     float64
	peakOutRate           float64
	maxPeers, maxEntities int
	decodeErrors          uint64
}

func (s *statsSummary) add(e replication.StatsEntry) {
	if s.windows == 0 || e.Time.Before(s.first) {
		s.first = e.Time
	}
	if e.Time.After(s.last) {
		s.last = e.Time
	}
	s.windows++
	s.seconds += e.WindowSec
	s.packetsIn += e.PacketsIn
	s.packetsOut += e.PacketsOut
	s.bytesIn += e.BytesInRate * e.WindowSec
	s.bytesOut += e.BytesOutRate * e.WindowSec
	s.peakOutRate = max(s.peakOutRate, e.BytesOutRate)
	s.maxPeers = max(s.maxPeers, e.Peers)
	s.maxEntities = max(s.maxEntities, e.Entities)
	// DecodeErrors is cumulative.
	s.decodeErrors = max(s.decodeErrors, e.DecodeErrors)
}

func (s *statsSummary) print() {
	if s.windows == 0 {
		fmt.Println("stats: no entries")
		return
	}
	avg := func(total float64) float64 {
		if s.seconds <= 0 {
			return 0
		}
		return total / s.seconds
	}
	fmt.Printf("stats: windows=%d span=%s..%s (%.0fs)\n", s.windows, s.first.Format(time.RFC3339), s.last.Format(time.RFC3339), s.seconds)
	fmt.Printf("  packets in=%d out=%d\n", s.packetsIn, s.packetsOut)
	fmt.Printf("  bytes/s in=%.0f out=%.0f peak_out=%.0f\n", avg(s.bytesIn), avg(s.bytesOut), s.peakOutRate)
	fmt.Printf("  max_peers=%d max_entities=%d decode_errors=%d\n", s.maxPeers, s.maxEntities, s.decodeErrors)
}

type sessionSummary struct {
	events map[string]int
	names  map[string]bool
}

func (s *sessionSummary) add(e session.Entry) {
	s.events[e.Event]++
	if e.Name != "" {
		s.names[e.Name] = true
	}
}

func (s *sessionSummary) print() {
	if len(s.events) == 0 {
		fmt.Println("sessions: no entries")
		return
	}
	kinds := make([]string, 0, len(s.events))
	for k := range s.events {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%s=%d", k, s.events[k]))
	}
	fmt.Printf("sessions: %s distinct_names=%d\n", strings.Join(parts, " "), len(s.names))
}
