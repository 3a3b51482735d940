package stream

import (
	"fmt"

	"github.com/OpenTraceLab/OpenTraceStream/pkg/daq"
	"github.com/OpenTraceLab/OpenTraceStream/pkg/register"
)

// DefaultBytesPerSample is the size of one entry in a device stream-out
// buffer, independent of the value type written into it.
const DefaultBytesPerSample = 2

// OutputChannel describes one stream-out channel.
type OutputChannel struct {
	Target         string // register the stream-out values drive, e.g. DAC0
	BufferNumBytes int    // size of the device buffer in bytes
	StreamOutIndex int    // STREAM_OUT# index
	SetLoop        int    // value written to STREAM_OUT#_SET_LOOP after each state
	BytesPerSample int    // 0 means DefaultBytesPerSample
}

func (c OutputChannel) bytesPerSample() int {
	if c.BytesPerSample == 0 {
		return DefaultBytesPerSample
	}
	return c.BytesPerSample
}

// Validate checks the descriptor and returns a *daq.ConfigError on failure.
func (c OutputChannel) Validate() error {
	field := func(name string) string {
		return fmt.Sprintf("outputs[%d].%s", c.StreamOutIndex, name)
	}
	if c.StreamOutIndex < 0 || c.StreamOutIndex >= register.MaxStreamOuts {
		return &daq.ConfigError{
			Field:  field("stream_out_index"),
			Reason: fmt.Sprintf("%d out of range 0-%d", c.StreamOutIndex, register.MaxStreamOuts-1),
		}
	}
	if c.Target == "" {
		return &daq.ConfigError{Field: field("target"), Reason: "missing target register"}
	}
	if _, err := register.OutBufferType(c.Target); err != nil {
		return &daq.ConfigError{Field: field("target"), Reason: err.Error()}
	}
	if c.BufferNumBytes <= 0 {
		return &daq.ConfigError{Field: field("buffer_num_bytes"), Reason: fmt.Sprintf("must be positive, got %d", c.BufferNumBytes)}
	}
	if c.BytesPerSample < 0 {
		return &daq.ConfigError{Field: field("bytes_per_sample"), Reason: fmt.Sprintf("must be positive, got %d", c.BytesPerSample)}
	}
	if c.SetLoop < 0 || c.SetLoop > 3 {
		return &daq.ConfigError{Field: field("set_loop"), Reason: fmt.Sprintf("%d out of range 0-3", c.SetLoop)}
	}
	return nil
}

// StateSize returns the number of samples per output state: half the device
// buffer, so one state can play while the next is written.
func (c OutputChannel) StateSize() (int, error) {
	if err := c.Validate(); err != nil {
		return 0, err
	}
	size := c.BufferNumBytes / c.bytesPerSample() / 2
	if size <= 0 {
		return 0, &daq.ConfigError{
			Field:  fmt.Sprintf("outputs[%d].buffer_num_bytes", c.StreamOutIndex),
			Reason: fmt.Sprintf("%d bytes leaves no room for a state of %d-byte samples", c.BufferNumBytes, c.bytesPerSample()),
		}
	}
	return size, nil
}
