package tuning

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults_Validate(t *testing.T) {
	d := Defaults()
	if err := d.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if d.NetTick() != 30*time.Millisecond || d.RenderDelay() != 100*time.Millisecond {
		t.Fatalf("unexpected durations: %v %v", d.NetTick(), d.RenderDelay())
	}
	if d.FrameInterval() != time.Second/60 {
		t.Fatalf("frame interval: %v", d.FrameInterval())
	}
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	raw := "port: 4000\ncompression: lz4\nchecksum_interval_ms: 2500\ndirty:\n  position_epsilon: 0.05\n  rotation_epsilon: 0.01\n  velocity_threshold: 0.25\n"
	if err := os.WriteFile(p, []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tu, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tu.Port != 4000 || tu.Compression != "lz4" || tu.ChecksumInterval() != 2500*time.Millisecond {
		t.Fatalf("overrides not applied: %+v", tu)
	}
	if tu.SnapshotCap != 6 || tu.ConnectAttempts != 10 {
		t.Fatalf("defaults lost: %+v", tu)
	}
	if tu.Dirty.VelocityThreshold != 0.25 {
		t.Fatalf("dirty: %+v", tu.Dirty)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	cases := []string{
		"compression: gzip\n",
		"port: 70000\n",
		"snapshot_cap: 1\n",
		"net_tick_ms: [1, 2]\n",
	}
	for _, raw := range cases {
		p := filepath.Join(t.TempDir(), "tuning.yaml")
		if err := os.WriteFile(p, []byte(raw), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := Load(p); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestLoad_ShippedConfig(t *testing.T) {
	tu, err := Load(filepath.Join("..", "..", "configs", "tuning.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tu != Defaults() {
		t.Fatalf("shipped tuning drifted from defaults:\n%+v\n%+v", tu, Defaults())
	}
}
