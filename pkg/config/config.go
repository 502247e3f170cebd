package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full tiermemctl configuration, loaded from YAML with
// defaults for every tunable the daemon exposes.
type Config struct {
	Framework     FrameworkConfig     `yaml:"framework"`
	Topology      TopologyConfig      `yaml:"topology"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	Thresholds    ThresholdsConfig    `yaml:"thresholds"`
	Tuning        TuningConfig        `yaml:"tuning"`
	KernelChannel KernelChannelConfig `yaml:"kernel_channel"`
	Admin         AdminConfig         `yaml:"admin"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// FrameworkConfig contains general daemon settings.
type FrameworkConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// TopologyConfig enumerates NUMA node IDs per tier.
type TopologyConfig struct {
	DRAMNodes  []int `yaml:"dram_nodes"`
	NVRAMNodes []int `yaml:"nvram_nodes"`
}

// TelemetryConfig points at the bandwidth telemetry file and its sanity
// bounds.
type TelemetryConfig struct {
	Path       string  `yaml:"path"`
	DRAMBWMax  float32 `yaml:"dram_bw_max"`
	NVRAMBWMax float32 `yaml:"nvram_bw_max"`
}

// ThresholdsConfig carries the occupancy and bandwidth thresholds that
// drive the placement loop's decision tree.
type ThresholdsConfig struct {
	DRAMTarget    float64 `yaml:"dram_target"`
	DRAMLimit     float64 `yaml:"dram_limit"`
	NVRAMTarget   float64 `yaml:"nvram_target"`
	NVRAMLimit    float64 `yaml:"nvram_limit"`
	NVRAMBWThresh float32 `yaml:"nvram_bw_thresh"`
}

// TuningConfig carries batch-size and timing tunables, plus the
// supplemented NVRAM_WRITE probing toggle.
type TuningConfig struct {
	MaxNFind               int      `yaml:"max_n_find"`
	MaxNSwitch             int      `yaml:"max_n_switch"`
	WorkersMax             int      `yaml:"workers_max"`
	MemcheckInterval       Duration `yaml:"memcheck_interval"`
	ClearInterval          Duration `yaml:"clear_interval"`
	MixedPMMMode           bool     `yaml:"mixed_pmm_mode"`
	NvramWriteCheckEnabled bool     `yaml:"nvram_write_check_enabled"`
}

// KernelChannelConfig carries the netlink transport's framing limits.
type KernelChannelConfig struct {
	NetlinkFamily int `yaml:"netlink_family"`
	MaxPackets    int `yaml:"max_packets"`
	MaxPayload    int `yaml:"max_payload"`
}

// AdminConfig carries the stdin/socket admin surface settings.
type AdminConfig struct {
	SocketPath    string   `yaml:"socket_path"`
	AcceptTimeout Duration `yaml:"accept_timeout"`
}

// MetricsConfig carries the Prometheus exporter listen address.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Duration wraps time.Duration so config fields accept the same duration
// literals a human would write ("2s", "500ms") as well as plain
// nanosecond integers, instead of yaml.v3's default integer-only decoding.
type Duration time.Duration

// UnmarshalYAML accepts either a duration string or an integer number of
// nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var nanos int64
	if err := value.Decode(&nanos); err == nil {
		*d = Duration(nanos)
		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string (e.g. \"2s\") or integer nanoseconds: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration back out in its string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// DefaultConfig returns a default configuration matching the constants
// named in the original ambix/gureya sources.
func DefaultConfig() *Config {
	return &Config{
		Framework: FrameworkConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
		Topology: TopologyConfig{
			DRAMNodes:  []int{0},
			NVRAMNodes: []int{1},
		},
		Telemetry: TelemetryConfig{
			Path:       "./memdata",
			DRAMBWMax:  40000,
			NVRAMBWMax: 10000,
		},
		Thresholds: ThresholdsConfig{
			DRAMTarget:    0.90,
			DRAMLimit:     0.95,
			NVRAMTarget:   0.90,
			NVRAMLimit:    0.95,
			NVRAMBWThresh: 8000,
		},
		Tuning: TuningConfig{
			MaxNFind:               2048,
			MaxNSwitch:             1024,
			WorkersMax:             8,
			MemcheckInterval:       Duration(2 * time.Second),
			ClearInterval:          Duration(500 * time.Millisecond),
			MixedPMMMode:           false,
			NvramWriteCheckEnabled: false,
		},
		KernelChannel: KernelChannelConfig{
			NetlinkFamily: 31,
			MaxPackets:    64,
			MaxPayload:    4096,
		},
		Admin: AdminConfig{
			SocketPath:    "./socket",
			AcceptTimeout: Duration(500 * time.Millisecond),
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9400",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults for
// any field the file does not set. A missing path returns the defaults
// unmodified.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = "config.yaml"
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := []byte(os.ExpandEnv(string(data)))
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks the configuration for internal consistency (non-empty,
// disjoint tiers, sane worker and batch-size tunables) before the
// controller starts.
func (c *Config) Validate() error {
	if len(c.Topology.DRAMNodes) == 0 {
		return fmt.Errorf("topology.dram_nodes must be non-empty")
	}
	if len(c.Topology.NVRAMNodes) == 0 {
		return fmt.Errorf("topology.nvram_nodes must be non-empty")
	}
	seen := make(map[int]string, len(c.Topology.DRAMNodes)+len(c.Topology.NVRAMNodes))
	for _, n := range c.Topology.DRAMNodes {
		seen[n] = "dram"
	}
	for _, n := range c.Topology.NVRAMNodes {
		if tier, ok := seen[n]; ok {
			return fmt.Errorf("node %d listed in both %s and nvram tiers", n, tier)
		}
	}
	if c.Tuning.WorkersMax < 1 {
		return fmt.Errorf("tuning.workers_max must be at least 1")
	}
	if c.Tuning.MaxNFind < 1 {
		return fmt.Errorf("tuning.max_n_find must be at least 1")
	}
	return nil
}
