package main

import (
	"fmt"
	"io"

	"arenanet/internal/persistence/indexdb"
	"arenanet/internal/replication"
	"arenanet/internal/transport/observer"
)

func metric(w io.Writer, name, typ, help string, v any) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, typ)
	fmt.Fprintf(w, "%s %v\n", name, v)
}

func writeMetrics(w io.Writer, m replication.Metrics, hub *observer.Hub) {
	metric(w, "arenanet_frame", "gauge", "Frames stepped since start.", m.Frame)
	metric(w, "arenanet_send_ticks_total", "counter", "Network ticks that sent an envelope.", m.SendTicks)
	metric(w, "arenanet_entities", "gauge", "Live entities, replicated and local.", m.Entities)
	metric(w, "arenanet_replicated_entities", "gauge", "Live replicated entities.", m.Replicated)
	metric(w, "arenanet_peers", "gauge", "Connected peers.", m.Peers)
	metric(w, "arenanet_ready_peers", "gauge", "Peers that finished loading.", m.ReadyPeers)

	metric(w, "arenanet_datagrams_in_total", "counter", "Datagrams received.", m.DatagramsIn)
	metric(w, "arenanet_datagrams_out_total", "counter", "Datagrams sent.", m.DatagramsOut)
	metric(w, "arenanet_bytes_in_total", "counter", "Bytes received on the wire.", m.BytesIn)
	metric(w, "arenanet_bytes_out_total", "counter", "Bytes sent on the wire.", m.BytesOut)
	metric(w, "arenanet_inbox_dropped_total", "counter", "Datagrams dropped because the inbox was full.", m.InboxDropped)
	metric(w, "arenanet_bad_frames_total", "counter", "Datagrams that failed to decompress.", m.BadFrames)

	metric(w, "arenanet_envelopes_total", "counter", "Outbound envelopes built.", m.Envelopes)
	metric(w, "arenanet_envelope_bytes", "gauge", "Size of the last outbound envelope.", m.EnvelopeBytes)
	metric(w, "arenanet_relayed_total", "counter", "Client datagrams relayed to other clients.", m.Relayed)
	metric(w, "arenanet_decode_errors_total", "counter", "Datagrams abandoned on a malformed record.", m.DecodeErrors)
	metric(w, "arenanet_spawn_requests_total", "counter", "SPAWN_REQUEST records sent.", m.SpawnRequests)
	metric(w, "arenanet_checksum_mismatches_total", "counter", "Entity count checksums that disagreed.", m.ChecksumMismatches)
	metric(w, "arenanet_duplicate_spawns_total", "counter", "SPAWN records for ids already present.", m.DuplicateSpawns)
	metric(w, "arenanet_critical_dropped_total", "counter", "Critical records dropped before they could be sent.", m.CriticalDropped)
	metric(w, "arenanet_pending_spawns", "gauge", "Spawns waiting for envelope room.", m.PendingSpawns)

	if hub != nil {
		metric(w, "arenanet_observers", "gauge", "Connected observer websockets.", hub.Len())
		metric(w, "arenanet_observer_dropped_total", "counter", "Observer messages dropped on full buffers.", hub.Dropped())
	}
}

func writeIndexMetrics(w io.Writer, idx *indexdb.SQLiteIndex) {
	if idx == nil {
		return
	}
	s := idx.Stats()
	metric(w, "arenanet_index_queue_depth", "gauge", "Pending index writes.", s.QueueDepth)
	metric(w, "arenanet_index_queue_capacity", "gauge", "Index write queue capacity.", s.QueueCapacity)
	metric(w, "arenanet_index_drop_stats_total", "counter", "Stats rows dropped on a full queue.", s.DropStatsTotal)
	metric(w, "arenanet_index_drop_session_total", "counter", "Session rows dropped on a full queue.", s.DropSessionTotal)
}
