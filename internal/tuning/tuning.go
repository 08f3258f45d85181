package tuning

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed tuning.schema.json
var schemaJSON string

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version" json:"protocol_version"`

	Port        int    `yaml:"port" json:"port"`
	MaxClients  int    `yaml:"max_clients" json:"max_clients"`
	Compression string `yaml:"compression" json:"compression"`

	FrameRateHz int `yaml:"frame_rate_hz" json:"frame_rate_hz"`
	NetTickMs   int `yaml:"net_tick_ms" json:"net_tick_ms"`

	ConnectionTimeoutMs int `yaml:"connection_timeout_ms" json:"connection_timeout_ms"`
	ConnectRetryMs      int `yaml:"connect_retry_ms" json:"connect_retry_ms"`
	ConnectAttempts     int `yaml:"connect_attempts" json:"connect_attempts"`
	KeepaliveMs         int `yaml:"keepalive_ms" json:"keepalive_ms"`

	ResendThrottleMs   int `yaml:"resend_throttle_ms" json:"resend_throttle_ms"`
	ChecksumIntervalMs int `yaml:"checksum_interval_ms" json:"checksum_interval_ms"`
	RenderDelayMs      int `yaml:"render_delay_ms" json:"render_delay_ms"`
	SnapshotCap        int `yaml:"snapshot_cap" json:"snapshot_cap"`
	StatsIntervalMs    int `yaml:"stats_interval_ms" json:"stats_interval_ms"`
	MaxEnvelopeBytes   int `yaml:"max_envelope_bytes" json:"max_envelope_bytes"`

	Dirty Dirty `yaml:"dirty" json:"dirty"`
}

type Dirty struct {
	PositionEpsilon   float32 `yaml:"position_epsilon" json:"position_epsilon"`
	RotationEpsilon   float32 `yaml:"rotation_epsilon" json:"rotation_epsilon"`
	VelocityThreshold float32 `yaml:"velocity_threshold" json:"velocity_threshold"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:     "1.0",
		Port:                1337,
		MaxClients:          8,
		Compression:         "zlib",
		FrameRateHz:         60,
		NetTickMs:           30,
		ConnectionTimeoutMs: 10000,
		ConnectRetryMs:      250,
		ConnectAttempts:     10,
		KeepaliveMs:         500,
		ResendThrottleMs:    2000,
		ChecksumIntervalMs:  5000,
		RenderDelayMs:       100,
		SnapshotCap:         6,
		StatsIntervalMs:     5000,
		Dirty: Dirty{
			PositionEpsilon:   0.2,
			RotationEpsilon:   0.02,
			VelocityThreshold: 0.5,
		},
	}
}

// Load overlays the YAML file at path on Defaults and validates the result.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	s, err := jsonschema.CompileString("tuning.schema.json", schemaJSON)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	return s.Validate(v)
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (t Tuning) FrameInterval() time.Duration {
	if t.FrameRateHz <= 0 {
		return time.Second / 60
	}
	return time.Second / time.Duration(t.FrameRateHz)
}

func (t Tuning) NetTick() time.Duration           { return ms(t.NetTickMs) }
func (t Tuning) ConnectionTimeout() time.Duration { return ms(t.ConnectionTimeoutMs) }
func (t Tuning) ConnectRetry() time.Duration      { return ms(t.ConnectRetryMs) }
func (t Tuning) Keepalive() time.Duration         { return ms(t.KeepaliveMs) }
func (t Tuning) ResendThrottle() time.Duration    { return ms(t.ResendThrottleMs) }
func (t Tuning) ChecksumInterval() time.Duration  { return ms(t.ChecksumIntervalMs) }
func (t Tuning) RenderDelay() time.Duration       { return ms(t.RenderDelayMs) }
func (t Tuning) StatsInterval() time.Duration     { return ms(t.StatsIntervalMs) }
