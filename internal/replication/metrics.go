package replication

import (
	"time"

	"arenanet/internal/session"
	"arenanet/internal/transport/udp"
)

type counters struct {
	sendTicks          uint64
	envelopes          uint64
	envelopeBytes      int
	relayed            uint64
	decodeErrors       uint64
	spawnRequests      uint64
	checksumMismatches uint64
	duplicateSpawns    uint64
	criticalDropped    uint64
}

// Metrics is a read-only view of the replication loop, published once per
// Step and safe to read from HTTP handlers.
type Metrics struct {
	Frame     uint64 `json:"frame"`
	SendTicks uint64 `json:"send_ticks"`
	Role      string `json:"role"`

	Entities   int `json:"entities"`
	Replicated int `json:"replicated"`
	Peers      int `json:"peers"`
	ReadyPeers int `json:"ready_peers"`

	DatagramsIn  uint64 `json:"datagrams_in"`
	DatagramsOut uint64 `json:"datagrams_out"`
	BytesIn      uint64 `json:"bytes_in"`
	BytesOut     uint64 `json:"bytes_out"`
	InboxDropped uint64 `json:"inbox_dropped"`
	BadFrames    uint64 `json:"bad_frames"`

	Envelopes          uint64 `json:"envelopes"`
	EnvelopeBytes      int    `json:"envelope_bytes"`
	Relayed            uint64 `json:"relayed"`
	DecodeErrors       uint64 `json:"decode_errors"`
	SpawnRequests      uint64 `json:"spawn_requests"`
	ChecksumMismatches uint64 `json:"checksum_mismatches"`
	DuplicateSpawns    uint64 `json:"duplicate_spawns"`
	CriticalDropped    uint64 `json:"critical_dropped"`
	PendingSpawns      int    `json:"pending_spawns"`
}

// StatsEntry summarizes network traffic over one stats window.
type StatsEntry struct {
	Time      time.Time `json:"time"`
	Role      string    `json:"role"`
	Frame     uint64    `json:"frame"`
	WindowSec float64   `json:"window_sec"`

	PacketsIn      uint64  `json:"packets_in"`
	PacketsOut     uint64  `json:"packets_out"`
	PacketsInRate  float64 `json:"packets_in_per_sec"`
	PacketsOutRate float64 `json:"packets_out_per_sec"`
	AvgInBytes     int     `json:"avg_in_bytes"`
	AvgOutBytes    int     `json:"avg_out_bytes"`
	BytesInRate    float64 `json:"bytes_in_per_sec"`
	BytesOutRate   float64 `json:"bytes_out_per_sec"`

	Entities     int    `json:"entities"`
	Peers        int    `json:"peers"`
	DecodeErrors uint64 `json:"decode_errors"`
}

type statsWindow struct {
	start time.Time
	base  udp.Stats
}

func (w *statsWindow) reset(now time.Time, s udp.Stats) {
	w.start = now
	w.base = s
}

func (o *Orchestrator) Metrics() Metrics {
	v := o.metrics.Load()
	if v == nil {
		return Metrics{}
	}
	m, ok := v.(Metrics)
	if !ok {
		return Metrics{}
	}
	return m
}

func (o *Orchestrator) publish(now time.Time) {
	ls := o.link.Stats()
	peers, ready := 0, 0
	if o.server {
		for _, c := range o.link.Peers() {
			peers++
			if c.Ready {
				ready++
			}
		}
	} else if o.canSend() {
		peers = 1
		if o.sess.ClientState() == session.Ready {
			ready = 1
		}
	}
	m := Metrics{
		Frame:              o.frame,
		SendTicks:          o.counters.sendTicks,
		Role:               o.link.Role().String(),
		Entities:           o.ents.Len(),
		Replicated:         o.ents.ReplicatedCount(),
		Peers:              peers,
		ReadyPeers:         ready,
		DatagramsIn:        ls.DatagramsIn,
		DatagramsOut:       ls.DatagramsOut,
		BytesIn:            ls.BytesIn,
		BytesOut:           ls.BytesOut,
		InboxDropped:       ls.Dropped,
		BadFrames:          ls.BadFrames,
		Envelopes:          o.counters.envelopes,
		EnvelopeBytes:      o.counters.envelopeBytes,
		Relayed:            o.counters.relayed,
		DecodeErrors:       o.counters.decodeErrors,
		SpawnRequests:      o.counters.spawnRequests,
		ChecksumMismatches: o.counters.checksumMismatches,
		DuplicateSpawns:    o.counters.duplicateSpawns,
		CriticalDropped:    o.counters.criticalDropped,
		PendingSpawns:      len(o.spawns),
	}
	o.metrics.Store(m)

	if now.Sub(o.stats.start) < o.cfg.StatsInterval {
		return
	}
	entry := o.statsEntry(now, ls, m)
	o.stats.reset(now, ls)
	o.log.Printf("net %s: in %.1f pkt/s avg %dB %.0fB/s, out %.1f pkt/s avg %dB %.0fB/s, entities=%d peers=%d",
		entry.Role, entry.PacketsInRate, entry.AvgInBytes, entry.BytesInRate,
		entry.PacketsOutRate, entry.AvgOutBytes, entry.BytesOutRate, entry.Entities, entry.Peers)
	if o.sink != nil {
		if err := o.sink.WriteStats(entry); err != nil {
			o.log.Printf("stats sink: %v", err)
		}
	}
}

func (o *Orchestrator) statsEntry(now time.Time, ls udp.Stats, m Metrics) StatsEntry {
	secs := now.Sub(o.stats.start).Seconds()
	in := ls.DatagramsIn - o.stats.base.DatagramsIn
	out := ls.DatagramsOut - o.stats.base.DatagramsOut
	bin := ls.BytesIn - o.stats.base.BytesIn
	bout := ls.BytesOut - o.stats.base.BytesOut
	e := StatsEntry{
		Time:         now.UTC(),
		Role:         m.Role,
		Frame:        m.Frame,
		WindowSec:    secs,
		PacketsIn:    in,
		PacketsOut:   out,
		Entities:     m.Entities,
		Peers:        m.Peers,
		DecodeErrors: m.DecodeErrors,
	}
	if in > 0 {
		e.AvgInBytes = int(bin / in)
	}
	if out > 0 {
		e.AvgOutBytes = int(bout / out)
	}
	if secs > 0 {
		e.PacketsInRate = float64(in) / secs
		e.PacketsOutRate = float64(out) / secs
		e.BytesInRate = float64(bin) / secs
		e.BytesOutRate = float64(bout) / secs
	}
	return e
}
