package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Harness.Watchdog != 10*time.Second {
		t.Errorf("watchdog: got %v, want 10s", cfg.Harness.Watchdog)
	}
	if cfg.Tunnel.PollInterval != 10*time.Millisecond {
		t.Errorf("poll interval: got %v, want 10ms", cfg.Tunnel.PollInterval)
	}
	if len(cfg.Harness.Steps) != len(DefaultSteps) {
		t.Errorf("steps: got %d, want %d", len(cfg.Harness.Steps), len(DefaultSteps))
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults",
			mutate: func(*Config) {},
		},
		{
			name:    "bad harness mac",
			mutate:  func(c *Config) { c.Identity.Harness = "02:00:00" },
			wantErr: "identity.harness",
		},
		{
			name:    "eui64 rejected",
			mutate:  func(c *Config) { c.Identity.Device = "02:00:00:00:00:00:00:01" },
			wantErr: "6-byte",
		},
		{
			name:    "unknown policy",
			mutate:  func(c *Config) { c.Bridge.DevicePolicy = "promiscuous" },
			wantErr: "bridge.device_policy",
		},
		{
			name:    "unknown step",
			mutate:  func(c *Config) { c.Harness.Steps = []string{"position", "launch"} },
			wantErr: "harness.steps[1]",
		},
		{
			name:   "step aliases",
			mutate: func(c *Config) { c.Harness.Steps = []string{"Model-Info", "DMA-IN", "dmao", "psk_reset"} },
		},
		{
			name:    "negative echo window",
			mutate:  func(c *Config) { c.Bridge.EchoWindow = -time.Second },
			wantErr: "bridge.echo_window",
		},
		{
			name:    "one position marker",
			mutate:  func(c *Config) { c.Harness.PositionMarkers = []string{"45."} },
			wantErr: "position_markers",
		},
		{
			name:    "empty probe",
			mutate:  func(c *Config) { c.Harness.Probe = "" },
			wantErr: "harness.probe",
		},
		{
			name:    "tiny frame limit",
			mutate:  func(c *Config) { c.Tunnel.MaxFrameBytes = 8 },
			wantErr: "max_frame_bytes",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "loud" },
			wantErr: "logging.level",
		},
		{
			name:    "negative rate",
			mutate:  func(c *Config) { c.Radio.InjectRate = -1 },
			wantErr: "inject_rate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "linkshim.yaml")
	content := `
identity:
  shim: "02:00:00:00:01:00"
harness:
  steps: [position, mem_write]
  watchdog: 30s
  start_delay: 0s
radio:
  inject_rate: 50
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Identity.Shim != "02:00:00:00:01:00" {
		t.Errorf("shim identity: got %q", cfg.Identity.Shim)
	}
	if cfg.Identity.Device != DefaultDeviceMAC {
		t.Errorf("device identity should keep default, got %q", cfg.Identity.Device)
	}
	if len(cfg.Harness.Steps) != 2 || cfg.Harness.Steps[1] != "mem_write" {
		t.Errorf("steps: got %v", cfg.Harness.Steps)
	}
	if cfg.Harness.Watchdog != 30*time.Second {
		t.Errorf("watchdog: got %v, want 30s", cfg.Harness.Watchdog)
	}
	if cfg.Harness.StartDelay != 0 {
		t.Errorf("start delay: got %v, want 0", cfg.Harness.StartDelay)
	}
	if cfg.Radio.InjectRate != 50 {
		t.Errorf("inject rate: got %d, want 50", cfg.Radio.InjectRate)
	}
	if cfg.Tunnel.MaxFrameBytes != 65535 {
		t.Errorf("max frame bytes should default to 65535, got %d", cfg.Tunnel.MaxFrameBytes)
	}
}

func TestLoadZeroedFieldsRestored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "linkshim.yaml")
	content := `
tunnel:
  max_frame_bytes: 0
radio:
  queue_depth: 0
harness:
  steps: []
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Tunnel.MaxFrameBytes != 65535 || cfg.Radio.QueueDepth != 1024 || len(cfg.Harness.Steps) != len(DefaultSteps) {
		t.Errorf("zeroed fields not restored: %+v %+v %v", cfg.Tunnel, cfg.Radio, cfg.Harness.Steps)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("missing file: got %v", err)
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("identity: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "parse YAML") {
		t.Errorf("bad yaml: got %v", err)
	}

	invalid := filepath.Join(t.TempDir(), "invalid.yaml")
	if err := os.WriteFile(invalid, []byte("bridge:\n  network_policy: open\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(invalid); err == nil || !strings.Contains(err.Error(), "network_policy") {
		t.Errorf("invalid policy: got %v", err)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}
	if cfg.Identity.Harness != DefaultHarnessMAC {
		t.Errorf("harness identity: got %q", cfg.Identity.Harness)
	}
}

func TestWriteDefaultRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault failed: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load of written default failed: %v", err)
	}
	if cfg.Harness.Watchdog != 10*time.Second || cfg.Harness.Probe != "echolocation" {
		t.Errorf("unexpected harness section: %+v", cfg.Harness)
	}
}
