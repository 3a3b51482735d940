package daq

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrDeviceNotFound is returned by openers when no device matches the
	// requested criteria.
	ErrDeviceNotFound = errors.New("daq: no matching device found")

	// ErrStreamNotRunning is returned by StreamRead and StreamStop when no
	// stream is active. Teardown treats it as success.
	ErrStreamNotRunning = errors.New("daq: stream not running")

	// ErrStreamRunning is returned by StreamStart when a stream is already active.
	ErrStreamRunning = errors.New("daq: stream already running")

	// ErrClosed is returned by operations on a closed device.
	ErrClosed = errors.New("daq: device closed")

	// ErrNotImplemented lets backends signal that a requested capability is
	// not available.
	ErrNotImplemented = errors.New("daq: not implemented")

	// ErrBudgetExhausted reports that a bounded poll ran out of attempts or time.
	ErrBudgetExhausted = errors.New("daq: poll budget exhausted")
)

// ConfigError reports a malformed channel descriptor or run configuration.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config: " + e.Reason
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// DeviceError reports a failure to open a device or to configure it before
// streaming starts.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// StreamIOError reports a failure while the hardware stream is being started,
// serviced or stopped.
type StreamIOError struct {
	Op  string
	Err error
}

func (e *StreamIOError) Error() string {
	return fmt.Sprintf("stream %s: %v", e.Op, e.Err)
}

func (e *StreamIOError) Unwrap() error { return e.Err }

// StallError reports that stream-out buffer statuses never reached the refill
// threshold within the poll budget. Names and Statuses hold the last observed
// buffer-status registers.
type StallError struct {
	Names     []string
	Statuses  []float64
	Threshold float64
	Polls     int
	Elapsed   time.Duration
	Err       error
}

func (e *StallError) Error() string {
	parts := make([]string, len(e.Names))
	for i, name := range e.Names {
		v := 0.0
		if i < len(e.Statuses) {
			v = e.Statuses[i]
		}
		parts[i] = fmt.Sprintf("%s=%g", name, v)
	}
	return fmt.Sprintf("buffer statuses don't appear to be updating after %d polls (%s): [%s], threshold %g",
		e.Polls, e.Elapsed.Round(time.Millisecond), strings.Join(parts, " "), e.Threshold)
}

func (e *StallError) Unwrap() error { return e.Err }
