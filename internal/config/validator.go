package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/OpenTraceLab/OpenTraceStream/pkg/register"
	"github.com/OpenTraceLab/OpenTraceStream/pkg/stream"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // config field path, e.g. "stream.scan_rate_hz"
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// MaxScanRateHz is the highest scan rate accepted from configuration.
const MaxScanRateHz = 100000

// ValidBackends returns the supported device backends.
func ValidBackends() []string {
	return []string{BackendSim, BackendUSB}
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidLogFormats returns the list of valid log formats
func ValidLogFormats() []string {
	return []string{"text", "json"}
}

// Validate checks the Config and returns every problem found.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	errs = append(errs, c.validateDevice()...)
	errs = append(errs, c.validateStream()...)
	errs = append(errs, c.validateOutputs()...)
	errs = append(errs, c.validateSim()...)
	errs = append(errs, c.validateLogging()...)
	return errs
}

func (c *Config) validateDevice() []ValidationError {
	var errs []ValidationError
	if !slices.Contains(ValidBackends(), c.Device.Backend) {
		errs = append(errs, ValidationError{
			Field:   "device.backend",
			Value:   c.Device.Backend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidBackends(), ", ")),
		})
	}
	return errs
}

func (c *Config) validateStream() []ValidationError {
	var errs []ValidationError
	s := c.Stream

	if len(s.InNames) == 0 {
		errs = append(errs, ValidationError{Field: "stream.in_names", Value: s.InNames, Message: "at least one input channel is required"})
	}
	for i, name := range s.InNames {
		if _, err := register.Lookup(name); err != nil {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("stream.in_names[%d]", i), Value: name, Message: err.Error()})
		}
	}

	if s.ScanRateHz <= 0 || s.ScanRateHz > MaxScanRateHz {
		errs = append(errs, ValidationError{
			Field:   "stream.scan_rate_hz",
			Value:   s.ScanRateHz,
			Message: fmt.Sprintf("must be between 0 and %d", MaxScanRateHz),
		})
	}

	for _, f := range []struct {
		field string
		value int
	}{
		{"stream.stall_timeout_ms", s.StallTimeoutMs},
		{"stream.max_polls", s.MaxPolls},
		{"stream.poll_interval_ms", s.PollIntervalMs},
	} {
		if f.value < 0 {
			errs = append(errs, ValidationError{Field: f.field, Value: f.value, Message: "must be non-negative"})
		}
	}

	if _, err := stream.ParseSyncPolicy(s.SyncPolicy); err != nil {
		errs = append(errs, ValidationError{Field: "stream.sync_policy", Value: s.SyncPolicy, Message: "must be one of: any, all"})
	}
	return errs
}

func (c *Config) validateOutputs() []ValidationError {
	var errs []ValidationError
	if len(c.Stream.Outputs) == 0 {
		return append(errs, ValidationError{Field: "stream.outputs", Value: 0, Message: "at least one output channel is required"})
	}

	seen := make(map[int]int)
	sizeFrom, stateSize := -1, 0
	for i, o := range c.Stream.Outputs {
		field := func(name string) string { return fmt.Sprintf("stream.outputs[%d].%s", i, name) }

		if _, err := register.OutBufferType(o.Target); err != nil {
			errs = append(errs, ValidationError{Field: field("target"), Value: o.Target, Message: err.Error()})
		}
		if o.BufferNumBytes <= 0 {
			errs = append(errs, ValidationError{Field: field("buffer_num_bytes"), Value: o.BufferNumBytes, Message: "must be positive"})
		}
		if o.StreamOutIndex < 0 || o.StreamOutIndex >= register.MaxStreamOuts {
			errs = append(errs, ValidationError{
				Field:   field("stream_out_index"),
				Value:   o.StreamOutIndex,
				Message: fmt.Sprintf("must be between 0 and %d", register.MaxStreamOuts-1),
			})
		} else if prev, dup := seen[o.StreamOutIndex]; dup {
			errs = append(errs, ValidationError{
				Field:   field("stream_out_index"),
				Value:   o.StreamOutIndex,
				Message: fmt.Sprintf("already used by stream.outputs[%d]", prev),
			})
		} else {
			seen[o.StreamOutIndex] = i
		}
		if o.SetLoop < 0 || o.SetLoop > 3 {
			errs = append(errs, ValidationError{Field: field("set_loop"), Value: o.SetLoop, Message: "must be between 0 and 3"})
		}
		if o.BytesPerSample < 0 {
			errs = append(errs, ValidationError{Field: field("bytes_per_sample"), Value: o.BytesPerSample, Message: "must be non-negative"})
		}

		if o.BufferNumBytes <= 0 || o.BytesPerSample < 0 {
			continue
		}
		bps := o.BytesPerSample
		if bps == 0 {
			bps = stream.DefaultBytesPerSample
		}
		size := o.BufferNumBytes / bps / 2
		if sizeFrom < 0 {
			sizeFrom, stateSize = i, size
		} else if size != stateSize {
			errs = append(errs, ValidationError{
				Field:   field("buffer_num_bytes"),
				Value:   o.BufferNumBytes,
				Message: fmt.Sprintf("state size %d differs from %d of stream.outputs[%d]; all outputs must share one state size", size, stateSize, sizeFrom),
			})
		}
	}
	return errs
}

func (c *Config) validateSim() []ValidationError {
	var errs []ValidationError
	if c.Sim.DeviceBacklog < 0 {
		errs = append(errs, ValidationError{Field: "sim.device_backlog", Value: c.Sim.DeviceBacklog, Message: "must be non-negative"})
	}
	if c.Sim.DriverBacklog < 0 {
		errs = append(errs, ValidationError{Field: "sim.driver_backlog", Value: c.Sim.DriverBacklog, Message: "must be non-negative"})
	}
	if c.Sim.MaxScanRateHz < 0 {
		errs = append(errs, ValidationError{Field: "sim.max_scan_rate_hz", Value: c.Sim.MaxScanRateHz, Message: "must be non-negative"})
	}
	return errs
}

func (c *Config) validateLogging() []ValidationError {
	var errs []ValidationError
	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if c.Logging.Format != "" && !slices.Contains(ValidLogFormats(), strings.ToLower(c.Logging.Format)) {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Value:   c.Logging.Format,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogFormats(), ", ")),
		})
	}
	return errs
}
