package stream

import (
	"github.com/OpenTraceLab/OpenTraceStream/pkg/daq"
	"github.com/OpenTraceLab/OpenTraceStream/pkg/register"
)

// OutContext tracks which state of one stream-out channel is loaded next.
// It performs no device I/O.
type OutContext struct {
	channel    OutputChannel
	stateSize  int
	states     []OutputState
	current    int
	bufferType string
	names      register.StreamOutNames
}

// NewOutContext builds the states for ch from signal and derives the
// channel's register names.
func NewOutContext(ch OutputChannel, signal []float64) (*OutContext, error) {
	states, size, err := BuildChannelStates(signal, ch)
	if err != nil {
		return nil, err
	}
	bufType, err := register.OutBufferType(ch.Target)
	if err != nil {
		return nil, &daq.ConfigError{Field: "target", Reason: err.Error()}
	}
	names, err := register.NewStreamOutNames(ch.StreamOutIndex, bufType)
	if err != nil {
		return nil, &daq.ConfigError{Field: "stream_out_index", Reason: err.Error()}
	}
	return &OutContext{
		channel:    ch,
		stateSize:  size,
		states:     states,
		bufferType: bufType,
		names:      names,
	}, nil
}

// CurrentState returns the state that the next refill writes.
func (c *OutContext) CurrentState() OutputState {
	return c.states[c.current]
}

// CurrentIndex returns the index of CurrentState.
func (c *OutContext) CurrentIndex() int {
	return c.current
}

// Advance moves to the next state, wrapping to the first after the last.
func (c *OutContext) Advance() {
	c.current = (c.current + 1) % len(c.states)
}

// NumStates returns how many states the signal was split into.
func (c *OutContext) NumStates() int { return len(c.states) }

// StateSize returns the number of samples in each state.
func (c *OutContext) StateSize() int { return c.stateSize }

// Channel returns the descriptor the context was built from.
func (c *OutContext) Channel() OutputChannel { return c.channel }

// BufferType returns the stream-out buffer suffix: F32, U16 or U32.
func (c *OutContext) BufferType() string { return c.bufferType }

// Names returns the channel's STREAM_OUT# register names.
func (c *OutContext) Names() register.StreamOutNames { return c.names }

// Threshold is the free buffer space, in samples, at which a refill is safe.
func (c *OutContext) Threshold() float64 {
	return 0.5 * float64(c.stateSize)
}
