package config

// Configuration loading and validation for linkshim

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tonylturner/linkshim/internal/diag"
	"github.com/tonylturner/linkshim/internal/errors"
)

// Policy names accepted by the bridge sections.
const (
	PolicyNetwork     = "network"
	PolicyDevice      = "device"
	PolicyPassthrough = "passthrough"
)

// Fixed diagnostic addresses used when the identity section is left empty.
const (
	DefaultDeviceMAC  = "02:00:00:00:00:00"
	DefaultHarnessMAC = "02:00:00:00:01:00"
)

// IdentityConfig holds the hardware addresses this process uses.
type IdentityConfig struct {
	Shim    string `yaml:"shim"`    // identity the shim drops self-sourced frames for
	Device  string `yaml:"device"`  // destination of diagnostic requests
	Harness string `yaml:"harness"` // source and network identifier of diagnostic requests
}

// LoggingConfig configures the console and rolling file logger.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty"`
	Compress   bool   `yaml:"compress,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Listen disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen,omitempty"`
	Path   string `yaml:"path,omitempty"`
}

// TunnelConfig configures the length-prefixed stream.
type TunnelConfig struct {
	MaxFrameBytes uint32        `yaml:"max_frame_bytes"`
	PollInterval  time.Duration `yaml:"poll_interval"`
}

// RadioConfig configures monitor-mode capture and injection.
type RadioConfig struct {
	SnapLen       int           `yaml:"snaplen"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	QueueDepth    int           `yaml:"queue_depth"`
	InjectRate    int           `yaml:"inject_rate,omitempty"` // frames per second, 0 = unlimited
	InjectBurst   int           `yaml:"inject_burst,omitempty"`
	RecordPath    string        `yaml:"record,omitempty"` // pcap file of everything seen and sent
	CaptureFilter string        `yaml:"capture_filter,omitempty"`
}

// BridgeConfig names the policy applied to frames received on each side.
type BridgeConfig struct {
	NetworkPolicy string `yaml:"network_policy"`
	DevicePolicy  string `yaml:"device_policy"`
	StreamPolicy  string `yaml:"stream_policy"`

	// EchoWindow is how long a frame the bridge transmitted is remembered so
	// its capture on a monitor interface is not forwarded again.
	EchoWindow time.Duration `yaml:"echo_window"`
}

// HarnessConfig configures the diagnostic run.
type HarnessConfig struct {
	Steps           []string      `yaml:"steps"`
	Watchdog        time.Duration `yaml:"watchdog"`
	StartDelay      time.Duration `yaml:"start_delay"`
	Probe           string        `yaml:"probe"`
	PositionMarkers []string      `yaml:"position_markers"`
	UptimeMarker    string        `yaml:"uptime_marker"`
	ModelMarkers    []string      `yaml:"model_markers"`
	Seed            int64         `yaml:"seed,omitempty"` // 0 picks a time-based seed
	ReportPath      string        `yaml:"report,omitempty"`
}

// RemoteConfig configures launching the shim on another host.
type RemoteConfig struct {
	Target     string        `yaml:"target,omitempty"` // ssh://user@host:port or "local"
	Command    string        `yaml:"command"`          // shim binary on the target
	DeployFrom string        `yaml:"deploy_from,omitempty"`
	KnownHosts string        `yaml:"known_hosts,omitempty"`
	KeyFile    string        `yaml:"key_file,omitempty"`
	Insecure   bool          `yaml:"insecure,omitempty"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Config is the top-level linkshim configuration.
type Config struct {
	Identity IdentityConfig `yaml:"identity"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tunnel   TunnelConfig   `yaml:"tunnel"`
	Radio    RadioConfig    `yaml:"radio"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Harness  HarnessConfig  `yaml:"harness"`
	Remote   RemoteConfig   `yaml:"remote"`
}

// DefaultSteps is the diagnostic run order.
var DefaultSteps = []string{"position", "uptime", "attest", "model_info", "mem_read", "mem_write", "credential_reset"}

// Default returns a configuration with every field populated.
func Default() *Config {
	return &Config{
		Identity: IdentityConfig{
			Shim:    DefaultDeviceMAC,
			Device:  DefaultDeviceMAC,
			Harness: DefaultHarnessMAC,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
		Tunnel: TunnelConfig{
			MaxFrameBytes: 65535,
			PollInterval:  10 * time.Millisecond,
		},
		Radio: RadioConfig{
			SnapLen:     65535,
			ReadTimeout: 100 * time.Millisecond,
			QueueDepth:  1024,
		},
		Bridge: BridgeConfig{
			NetworkPolicy: PolicyNetwork,
			DevicePolicy:  PolicyDevice,
			StreamPolicy:  PolicyPassthrough,
			EchoWindow:    time.Second,
		},
		Harness: HarnessConfig{
			Steps:           append([]string(nil), DefaultSteps...),
			Watchdog:        10 * time.Second,
			StartDelay:      3 * time.Second,
			Probe:           "echolocation",
			PositionMarkers: []string{"45.", "30."},
			UptimeMarker:    "Uptime",
			ModelMarkers:    []string{"blyatcopter", "vladblade", "Red Star Linux"},
		},
		Remote: RemoteConfig{
			Command: "linkshim",
			Timeout: 15 * time.Second,
		},
	}
}

// WriteDefault writes the default configuration as YAML.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Load reads a YAML file on top of Default. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapConfigError(fmt.Errorf("config file not found: %s", path), path)
		}
		return nil, errors.WrapConfigError(fmt.Errorf("read config file: %w", err), path)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapConfigError(fmt.Errorf("parse YAML: %w", err), path)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapConfigError(err, path)
	}
	return cfg, nil
}

// applyDefaults restores defaults for fields a file explicitly zeroed.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Tunnel.MaxFrameBytes == 0 {
		c.Tunnel.MaxFrameBytes = def.Tunnel.MaxFrameBytes
	}
	if c.Tunnel.PollInterval == 0 {
		c.Tunnel.PollInterval = def.Tunnel.PollInterval
	}
	if c.Radio.SnapLen == 0 {
		c.Radio.SnapLen = def.Radio.SnapLen
	}
	if c.Radio.ReadTimeout == 0 {
		c.Radio.ReadTimeout = def.Radio.ReadTimeout
	}
	if c.Radio.QueueDepth == 0 {
		c.Radio.QueueDepth = def.Radio.QueueDepth
	}
	if len(c.Harness.Steps) == 0 {
		c.Harness.Steps = def.Harness.Steps
	}
	if c.Remote.Command == "" {
		c.Remote.Command = def.Remote.Command
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = def.Metrics.Path
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	for name, value := range map[string]string{
		"identity.shim":    c.Identity.Shim,
		"identity.device":  c.Identity.Device,
		"identity.harness": c.Identity.Harness,
	} {
		if err := validateMAC(name, value); err != nil {
			return err
		}
	}

	if c.Logging.Level != "" {
		switch strings.ToLower(c.Logging.Level) {
		case "silent", "off", "error", "info", "verbose", "debug":
		default:
			return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
		}
	}

	if c.Tunnel.MaxFrameBytes < 64 {
		return fmt.Errorf("tunnel.max_frame_bytes must be at least 64, got %d", c.Tunnel.MaxFrameBytes)
	}
	if c.Tunnel.PollInterval < 0 {
		return fmt.Errorf("tunnel.poll_interval must not be negative")
	}

	if c.Radio.SnapLen <= 0 || c.Radio.SnapLen > 262144 {
		return fmt.Errorf("radio.snaplen must be in 1..262144, got %d", c.Radio.SnapLen)
	}
	if c.Radio.QueueDepth <= 0 {
		return fmt.Errorf("radio.queue_depth must be positive, got %d", c.Radio.QueueDepth)
	}
	if c.Radio.InjectRate < 0 || c.Radio.InjectBurst < 0 {
		return fmt.Errorf("radio.inject_rate and radio.inject_burst must not be negative")
	}

	for name, policy := range map[string]string{
		"bridge.network_policy": c.Bridge.NetworkPolicy,
		"bridge.device_policy":  c.Bridge.DevicePolicy,
		"bridge.stream_policy":  c.Bridge.StreamPolicy,
	} {
		if err := validatePolicy(name, policy); err != nil {
			return err
		}
	}
	if c.Bridge.EchoWindow < 0 {
		return fmt.Errorf("bridge.echo_window must not be negative")
	}

	if err := validateHarness(c.Harness); err != nil {
		return err
	}

	if c.Remote.Timeout < 0 {
		return fmt.Errorf("remote.timeout must not be negative")
	}
	return nil
}

func validateHarness(h HarnessConfig) error {
	if len(h.Steps) == 0 {
		return fmt.Errorf("harness.steps must name at least one step")
	}
	for i, step := range h.Steps {
		if _, err := diag.ParseOpcode(step); err != nil {
			return fmt.Errorf("harness.steps[%d]: unknown step %q", i, step)
		}
	}
	if h.Watchdog < 0 {
		return fmt.Errorf("harness.watchdog must not be negative")
	}
	if h.StartDelay < 0 {
		return fmt.Errorf("harness.start_delay must not be negative")
	}
	if h.Probe == "" {
		return fmt.Errorf("harness.probe must not be empty")
	}
	if len(h.PositionMarkers) != 2 {
		return fmt.Errorf("harness.position_markers must hold exactly two markers, got %d", len(h.PositionMarkers))
	}
	if h.UptimeMarker == "" {
		return fmt.Errorf("harness.uptime_marker must not be empty")
	}
	if len(h.ModelMarkers) == 0 {
		return fmt.Errorf("harness.model_markers must hold at least one marker")
	}
	return nil
}

func validatePolicy(name, policy string) error {
	switch policy {
	case PolicyNetwork, PolicyDevice, PolicyPassthrough:
		return nil
	default:
		return fmt.Errorf("%s: unknown policy %q (want network, device or passthrough)", name, policy)
	}
}

func validateMAC(name, value string) error {
	hw, err := net.ParseMAC(value)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if len(hw) != 6 {
		return fmt.Errorf("%s: %q is not a 6-byte hardware address", name, value)
	}
	return nil
}
