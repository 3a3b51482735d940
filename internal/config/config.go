// Package config loads injdet settings from config files, environment
// variables and flags through viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/OpenTraceLab/OpenTraceStream/pkg/daq"
	"github.com/OpenTraceLab/OpenTraceStream/pkg/stream"
)

// EnvPrefix prefixes environment overrides, e.g. INJDET_STREAM_SCAN_RATE_HZ.
const EnvPrefix = "INJDET"

// Device backends
const (
	BackendSim = "sim"
	BackendUSB = "usb"
)

// Config is the complete injdet configuration.
type Config struct {
	Device  DeviceConfig  `mapstructure:"device" yaml:"device"`
	Stream  StreamConfig  `mapstructure:"stream" yaml:"stream"`
	Sim     SimConfig     `mapstructure:"sim" yaml:"sim"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// DeviceConfig selects the device to open.
type DeviceConfig struct {
	// Backend is "sim" or "usb"
	Backend string `mapstructure:"backend" yaml:"backend"`
	// Type, Connection and Identifier are open criteria; "ANY" matches all
	Type       string `mapstructure:"type" yaml:"type"`
	Connection string `mapstructure:"connection" yaml:"connection"`
	Identifier string `mapstructure:"identifier" yaml:"identifier"`
}

// StreamConfig controls the injection/detection stream.
type StreamConfig struct {
	InNames    []string       `mapstructure:"in_names" yaml:"in_names"`
	Outputs    []OutputConfig `mapstructure:"outputs" yaml:"outputs"`
	ScanRateHz float64        `mapstructure:"scan_rate_hz" yaml:"scan_rate_hz"`
	// StallTimeoutMs bounds one wait for buffer space (0 = no time limit)
	StallTimeoutMs int `mapstructure:"stall_timeout_ms" yaml:"stall_timeout_ms"`
	// MaxPolls bounds one wait for buffer space (0 = achieved scan rate)
	MaxPolls int `mapstructure:"max_polls" yaml:"max_polls"`
	// PollIntervalMs pauses between buffer status reads (0 = busy poll)
	PollIntervalMs int `mapstructure:"poll_interval_ms" yaml:"poll_interval_ms"`
	// SyncPolicy is "any" or "all"
	SyncPolicy   string  `mapstructure:"sync_policy" yaml:"sync_policy"`
	SkipSentinel float64 `mapstructure:"skip_sentinel" yaml:"skip_sentinel"`
	Verbose      bool    `mapstructure:"verbose" yaml:"verbose"`
}

// OutputConfig describes one stream-out channel.
type OutputConfig struct {
	Target         string `mapstructure:"target" yaml:"target"`
	BufferNumBytes int    `mapstructure:"buffer_num_bytes" yaml:"buffer_num_bytes"`
	StreamOutIndex int    `mapstructure:"stream_out_index" yaml:"stream_out_index"`
	SetLoop        int    `mapstructure:"set_loop" yaml:"set_loop"`
	BytesPerSample int    `mapstructure:"bytes_per_sample" yaml:"bytes_per_sample,omitempty"`
}

// SimConfig configures the simulated device.
type SimConfig struct {
	Gain          float64 `mapstructure:"gain" yaml:"gain"`
	Offset        float64 `mapstructure:"offset" yaml:"offset"`
	DeviceBacklog int     `mapstructure:"device_backlog" yaml:"device_backlog"`
	DriverBacklog int     `mapstructure:"driver_backlog" yaml:"driver_backlog"`
	Realtime      bool    `mapstructure:"realtime" yaml:"realtime"`
	MaxScanRateHz float64 `mapstructure:"max_scan_rate_hz" yaml:"max_scan_rate_hz"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is debug, info, warn or error
	Level string `mapstructure:"level" yaml:"level"`
	// Format is text or json
	Format string `mapstructure:"format" yaml:"format"`
}

// Default returns the default configuration: a simulated T7 looping DAC0
// back into AIN0.
func Default() *Config {
	rc := stream.DefaultRunConfig()
	out := rc.Outputs[0]
	return &Config{
		Device: DeviceConfig{
			Backend:    BackendSim,
			Type:       "ANY",
			Connection: "ANY",
			Identifier: "ANY",
		},
		Stream: StreamConfig{
			InNames: rc.InNames,
			Outputs: []OutputConfig{{
				Target:         out.Target,
				BufferNumBytes: out.BufferNumBytes,
				StreamOutIndex: out.StreamOutIndex,
				SetLoop:        out.SetLoop,
			}},
			ScanRateHz:     rc.ScanRateHz,
			StallTimeoutMs: int(rc.StallTimeout / time.Millisecond),
			SyncPolicy:     rc.SyncPolicy.String(),
			SkipSentinel:   rc.SkipSentinel,
		},
		Sim: SimConfig{
			Gain:          1,
			MaxScanRateHz: 100000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// SetDefaults registers default values with v.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("device.backend", d.Device.Backend)
	v.SetDefault("device.type", d.Device.Type)
	v.SetDefault("device.connection", d.Device.Connection)
	v.SetDefault("device.identifier", d.Device.Identifier)

	v.SetDefault("stream.in_names", d.Stream.InNames)
	v.SetDefault("stream.outputs", outputMaps(d.Stream.Outputs))
	v.SetDefault("stream.scan_rate_hz", d.Stream.ScanRateHz)
	v.SetDefault("stream.stall_timeout_ms", d.Stream.StallTimeoutMs)
	v.SetDefault("stream.max_polls", d.Stream.MaxPolls)
	v.SetDefault("stream.poll_interval_ms", d.Stream.PollIntervalMs)
	v.SetDefault("stream.sync_policy", d.Stream.SyncPolicy)
	v.SetDefault("stream.skip_sentinel", d.Stream.SkipSentinel)
	v.SetDefault("stream.verbose", d.Stream.Verbose)

	v.SetDefault("sim.gain", d.Sim.Gain)
	v.SetDefault("sim.offset", d.Sim.Offset)
	v.SetDefault("sim.device_backlog", d.Sim.DeviceBacklog)
	v.SetDefault("sim.driver_backlog", d.Sim.DriverBacklog)
	v.SetDefault("sim.realtime", d.Sim.Realtime)
	v.SetDefault("sim.max_scan_rate_hz", d.Sim.MaxScanRateHz)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

func outputMaps(outputs []OutputConfig) []map[string]any {
	maps := make([]map[string]any, len(outputs))
	for i, o := range outputs {
		maps[i] = map[string]any{
			"target":           o.Target,
			"buffer_num_bytes": o.BufferNumBytes,
			"stream_out_index": o.StreamOutIndex,
			"set_loop":         o.SetLoop,
			"bytes_per_sample": o.BytesPerSample,
		}
	}
	return maps
}

// NewViper returns a viper instance with defaults registered and INJDET_*
// environment overrides enabled, e.g. INJDET_STREAM_SCAN_RATE_HZ for
// stream.scan_rate_hz.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the configuration from v and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// Criteria returns the device open criteria.
func (c *Config) Criteria() daq.Criteria {
	return daq.Criteria{
		DeviceType:     c.Device.Type,
		ConnectionType: c.Device.Connection,
		Identifier:     c.Device.Identifier,
	}
}

// RunConfig converts the stream settings into the driver's run configuration.
func (c *Config) RunConfig() (stream.RunConfig, error) {
	policy, err := stream.ParseSyncPolicy(c.Stream.SyncPolicy)
	if err != nil {
		return stream.RunConfig{}, err
	}
	outputs := make([]stream.OutputChannel, len(c.Stream.Outputs))
	for i, o := range c.Stream.Outputs {
		outputs[i] = stream.OutputChannel{
			Target:         o.Target,
			BufferNumBytes: o.BufferNumBytes,
			StreamOutIndex: o.StreamOutIndex,
			SetLoop:        o.SetLoop,
			BytesPerSample: o.BytesPerSample,
		}
	}
	rc := stream.RunConfig{
		InNames:      append([]string(nil), c.Stream.InNames...),
		Outputs:      outputs,
		ScanRateHz:   c.Stream.ScanRateHz,
		Criteria:     c.Criteria(),
		StallTimeout: time.Duration(c.Stream.StallTimeoutMs) * time.Millisecond,
		MaxPolls:     c.Stream.MaxPolls,
		PollInterval: time.Duration(c.Stream.PollIntervalMs) * time.Millisecond,
		SyncPolicy:   policy,
		SkipSentinel: c.Stream.SkipSentinel,
		Verbose:      c.Stream.Verbose,
	}
	return rc, rc.Validate()
}

// SimDevice builds a simulated device from the sim settings.
func (c *Config) SimDevice(info daq.DeviceInfo) *daq.SimDevice {
	dev := daq.NewSimDevice(info)
	dev.Gain = c.Sim.Gain
	dev.Offset = c.Sim.Offset
	dev.DeviceBacklog = c.Sim.DeviceBacklog
	dev.DriverBacklog = c.Sim.DriverBacklog
	dev.Realtime = c.Sim.Realtime
	if c.Sim.MaxScanRateHz > 0 {
		dev.MaxScanRateHz = c.Sim.MaxScanRateHz
	}
	return dev
}

// YAML renders the configuration as a YAML document.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ConfigDir returns the user's injdet config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "injdet")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".injdet"
	}
	return filepath.Join(home, ".config", "injdet")
}

// ConfigFile returns the path of the user's config file.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
