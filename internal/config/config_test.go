package config

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/OpenTraceLab/OpenTraceStream/pkg/daq"
	"github.com/OpenTraceLab/OpenTraceStream/pkg/stream"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Device.Backend != BackendSim {
		t.Errorf("Device.Backend = %q, want %q", cfg.Device.Backend, BackendSim)
	}
	if len(cfg.Stream.InNames) != 1 || cfg.Stream.InNames[0] != "AIN0" {
		t.Errorf("Stream.InNames = %v, want [AIN0]", cfg.Stream.InNames)
	}
	if cfg.Stream.ScanRateHz != 2000 {
		t.Errorf("Stream.ScanRateHz = %g, want 2000", cfg.Stream.ScanRateHz)
	}
	if cfg.Stream.StallTimeoutMs != 1000 {
		t.Errorf("Stream.StallTimeoutMs = %d, want 1000", cfg.Stream.StallTimeoutMs)
	}
	if cfg.Stream.SkipSentinel != -9999 {
		t.Errorf("Stream.SkipSentinel = %g, want -9999", cfg.Stream.SkipSentinel)
	}
	if len(cfg.Stream.Outputs) != 1 || cfg.Stream.Outputs[0].Target != "DAC0" || cfg.Stream.Outputs[0].BufferNumBytes != 512 {
		t.Errorf("Stream.Outputs = %+v, want DAC0/512", cfg.Stream.Outputs)
	}
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("default config invalid: %v", ValidationErrors(errs))
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Stream.Outputs[0].SetLoop != 3 || cfg.Stream.SyncPolicy != "any" {
		t.Fatalf("loaded %+v", cfg.Stream)
	}
}

func TestLoadYAML(t *testing.T) {
	doc := `
device:
  backend: usb
  type: T7
stream:
  in_names: [AIN0, AIN2]
  scan_rate_hz: 2500
  sync_policy: all
  max_polls: 50
  outputs:
    - target: DAC0
      buffer_num_bytes: 1024
      stream_out_index: 0
      set_loop: 3
    - target: DAC1
      buffer_num_bytes: 1024
      stream_out_index: 1
      set_loop: 3
logging:
  level: debug
`
	v := NewViper()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader(doc)); err != nil {
		t.Fatalf("ReadConfig returned error: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Device.Backend != BackendUSB || cfg.Device.Connection != "ANY" {
		t.Errorf("Device = %+v", cfg.Device)
	}
	if len(cfg.Stream.Outputs) != 2 || cfg.Stream.Outputs[1].Target != "DAC1" {
		t.Errorf("Outputs = %+v", cfg.Stream.Outputs)
	}

	rc, err := cfg.RunConfig()
	if err != nil {
		t.Fatalf("RunConfig returned error: %v", err)
	}
	if rc.SyncPolicy != stream.SyncAll || rc.MaxPolls != 50 || rc.ScanRateHz != 2500 {
		t.Errorf("RunConfig = %+v", rc)
	}
	if rc.StallTimeout != time.Second {
		t.Errorf("StallTimeout = %s, want 1s", rc.StallTimeout)
	}
	if rc.Criteria.DeviceType != "T7" || rc.Criteria.Identifier != "ANY" {
		t.Errorf("Criteria = %+v", rc.Criteria)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("INJDET_STREAM_SCAN_RATE_HZ", "3000")
	t.Setenv("INJDET_DEVICE_IDENTIFIER", "470012345")
	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Stream.ScanRateHz != 3000 {
		t.Errorf("ScanRateHz = %g, want 3000", cfg.Stream.ScanRateHz)
	}
	if cfg.Criteria().Identifier != "470012345" {
		t.Errorf("Identifier = %q", cfg.Criteria().Identifier)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name  string
		edit  func(*Config)
		field string
	}{
		{"backend", func(c *Config) { c.Device.Backend = "serial" }, "device.backend"},
		{"no inputs", func(c *Config) { c.Stream.InNames = nil }, "stream.in_names"},
		{"bad input", func(c *Config) { c.Stream.InNames = []string{"AIN0", "XYZ"} }, "stream.in_names[1]"},
		{"scan rate", func(c *Config) { c.Stream.ScanRateHz = 0 }, "stream.scan_rate_hz"},
		{"scan rate high", func(c *Config) { c.Stream.ScanRateHz = 1e6 }, "stream.scan_rate_hz"},
		{"stall timeout", func(c *Config) { c.Stream.StallTimeoutMs = -1 }, "stream.stall_timeout_ms"},
		{"sync policy", func(c *Config) { c.Stream.SyncPolicy = "first" }, "stream.sync_policy"},
		{"no outputs", func(c *Config) { c.Stream.Outputs = nil }, "stream.outputs"},
		{"target", func(c *Config) { c.Stream.Outputs[0].Target = "DAC7" }, "stream.outputs[0].target"},
		{"buffer", func(c *Config) { c.Stream.Outputs[0].BufferNumBytes = 0 }, "stream.outputs[0].buffer_num_bytes"},
		{"index", func(c *Config) { c.Stream.Outputs[0].StreamOutIndex = 4 }, "stream.outputs[0].stream_out_index"},
		{"duplicate index", func(c *Config) { c.Stream.Outputs = append(c.Stream.Outputs, c.Stream.Outputs[0]) }, "stream.outputs[1].stream_out_index"},
		{"state size mismatch", func(c *Config) {
			c.Stream.Outputs = append(c.Stream.Outputs, OutputConfig{Target: "DAC1", BufferNumBytes: 256, StreamOutIndex: 1, SetLoop: 3})
		}, "stream.outputs[1].buffer_num_bytes"},
		{"set loop", func(c *Config) { c.Stream.Outputs[0].SetLoop = 9 }, "stream.outputs[0].set_loop"},
		{"backlog", func(c *Config) { c.Sim.DeviceBacklog = -1 }, "sim.device_backlog"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.edit(cfg)
			errs := cfg.Validate()
			if len(errs) != 1 {
				t.Fatalf("got %d errors (%v), want 1", len(errs), ValidationErrors(errs))
			}
			if errs[0].Field != tc.field {
				t.Fatalf("field = %q, want %q", errs[0].Field, tc.field)
			}
		})
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	v := NewViper()
	v.Set("stream.scan_rate_hz", -1)
	v.Set("logging.format", "xml")
	_, err := Load(v)
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("error = %v, want ValidationErrors", err)
	}
	if len(verrs) != 2 || !strings.HasPrefix(err.Error(), "2 validation errors:") {
		t.Fatalf("error = %q", err)
	}
}

func TestYAMLReloads(t *testing.T) {
	want := Default()
	want.Stream.Verbose = true
	want.Stream.Outputs[0].SetLoop = 1
	data, err := want.YAML()
	if err != nil {
		t.Fatalf("YAML returned error: %v", err)
	}
	if !bytes.Contains(data, []byte("buffer_num_bytes: 512")) {
		t.Fatalf("YAML missing output settings:\n%s", data)
	}

	v := NewViper()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		t.Fatalf("ReadConfig returned error: %v", err)
	}
	got, err := Load(v)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !got.Stream.Verbose || got.Stream.Outputs[0].SetLoop != 1 {
		t.Fatalf("reloaded stream = %+v", got.Stream)
	}
}

func TestSimDevice(t *testing.T) {
	cfg := Default()
	cfg.Sim.Gain = 0.5
	cfg.Sim.DriverBacklog = 7
	dev := cfg.SimDevice(daq.DeviceInfo{Name: "sim"})
	if dev.Gain != 0.5 || dev.DriverBacklog != 7 || dev.MaxScanRateHz != 100000 {
		t.Fatalf("sim = gain %g, backlog %d, max rate %g", dev.Gain, dev.DriverBacklog, dev.MaxScanRateHz)
	}
}
