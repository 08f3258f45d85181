package replication

import (
	"time"

	"arenanet/internal/transport/udp"
	"arenanet/internal/tuning"
)

type Config struct {
	NetTick          time.Duration
	ResendThrottle   time.Duration
	ChecksumInterval time.Duration
	StatsInterval    time.Duration
	MaxClients       int
	// ReadyRetry paces CLIENT_READY re-sends until the host confirms.
	ReadyRetry time.Duration
	// MaxEnvelopeBytes caps one outbound envelope; 0 means no cap.
	MaxEnvelopeBytes int
	// MaxCriticalQueue bounds the critical records one entity may hold
	// between send ticks. Overflow drops the oldest and is counted.
	MaxCriticalQueue int
	// Seed drives id generation; 0 seeds from the clock.
	Seed int64
}

func DefaultConfig() Config {
	return ConfigFromTuning(tuning.Defaults())
}

func ConfigFromTuning(t tuning.Tuning) Config {
	return Config{
		NetTick:          t.NetTick(),
		ResendThrottle:   t.ResendThrottle(),
		ChecksumInterval: t.ChecksumInterval(),
		StatsInterval:    t.StatsInterval(),
		MaxClients:       t.MaxClients,
		ReadyRetry:       t.ConnectRetry(),
		MaxEnvelopeBytes: t.MaxEnvelopeBytes,
		MaxCriticalQueue: 64,
	}
}

// TransportConfig maps tuning onto the UDP transport.
func TransportConfig(t tuning.Tuning) udp.Config {
	cfg := udp.DefaultConfig()
	cfg.Timeout = t.ConnectionTimeout()
	cfg.RetryInterval = t.ConnectRetry()
	cfg.MaxAttempts = t.ConnectAttempts
	cfg.Keepalive = t.Keepalive()
	cfg.Compression = t.Compression
	return cfg
}
