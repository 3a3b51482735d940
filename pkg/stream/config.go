package stream

import (
	"fmt"
	"time"

	"github.com/OpenTraceLab/OpenTraceStream/pkg/daq"
	"github.com/OpenTraceLab/OpenTraceStream/pkg/register"
)

// RunConfig is the immutable input of one injection/detection run.
type RunConfig struct {
	InNames      []string
	Outputs      []OutputChannel
	ScanRateHz   float64
	Criteria     daq.Criteria
	StallTimeout time.Duration // wall-clock budget for one refill wait
	MaxPolls     int           // poll budget for one refill wait; 0 uses the achieved scan rate
	PollInterval time.Duration
	SyncPolicy   SyncPolicy
	SkipSentinel float64
	Verbose      bool
}

// DefaultRunConfig returns a single-channel loopback configuration: DAC0
// driven from STREAM_OUT0 with a 512-byte buffer, AIN0 read back at 2 kHz.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		InNames: []string{"AIN0"},
		Outputs: []OutputChannel{{
			Target:         "DAC0",
			BufferNumBytes: 512,
			StreamOutIndex: 0,
			SetLoop:        3,
		}},
		ScanRateHz:   2000,
		Criteria:     daq.AnyDevice(),
		StallTimeout: time.Second,
		SyncPolicy:   SyncAny,
		SkipSentinel: DefaultSkipSentinel,
	}
}

// Validate checks the configuration and returns the first *daq.ConfigError.
func (c RunConfig) Validate() error {
	if len(c.InNames) == 0 {
		return &daq.ConfigError{Field: "in_names", Reason: "at least one input channel is required"}
	}
	for _, name := range c.InNames {
		if _, err := register.Lookup(name); err != nil {
			return &daq.ConfigError{Field: "in_names", Reason: err.Error()}
		}
	}
	if len(c.Outputs) == 0 {
		return &daq.ConfigError{Field: "outputs", Reason: "at least one output channel is required"}
	}
	// Every output plays one state per read, so all must share a state size.
	seen := make(map[int]bool, len(c.Outputs))
	stateSize := 0
	for i, o := range c.Outputs {
		size, err := o.StateSize()
		if err != nil {
			return err
		}
		if seen[o.StreamOutIndex] {
			return &daq.ConfigError{Field: "outputs", Reason: fmt.Sprintf("STREAM_OUT%d configured twice", o.StreamOutIndex)}
		}
		seen[o.StreamOutIndex] = true
		if i == 0 {
			stateSize = size
		} else if size != stateSize {
			return &daq.ConfigError{
				Field:  fmt.Sprintf("outputs[%d].buffer_num_bytes", o.StreamOutIndex),
				Reason: fmt.Sprintf("state size %d differs from %d of STREAM_OUT%d", size, stateSize, c.Outputs[0].StreamOutIndex),
			}
		}
	}
	if c.ScanRateHz <= 0 {
		return &daq.ConfigError{Field: "scan_rate_hz", Reason: fmt.Sprintf("must be positive, got %g", c.ScanRateHz)}
	}
	if c.StallTimeout < 0 {
		return &daq.ConfigError{Field: "stall_timeout", Reason: "must not be negative"}
	}
	if c.MaxPolls < 0 {
		return &daq.ConfigError{Field: "max_polls", Reason: "must not be negative"}
	}
	if c.PollInterval < 0 {
		return &daq.ConfigError{Field: "poll_interval", Reason: "must not be negative"}
	}
	if c.SyncPolicy != SyncAny && c.SyncPolicy != SyncAll {
		return &daq.ConfigError{Field: "sync_policy", Reason: fmt.Sprintf("unknown policy %s", c.SyncPolicy)}
	}
	return nil
}

func (c RunConfig) poller(achievedRateHz float64) Poller {
	p := Poller{
		MaxPolls: c.MaxPolls,
		Timeout:  c.StallTimeout,
		Interval: c.PollInterval,
	}
	if p.MaxPolls == 0 {
		p.MaxPolls = max(1, int(achievedRateHz))
	}
	return p
}
