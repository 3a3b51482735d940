package stream

import (
	"fmt"

	"github.com/OpenTraceLab/OpenTraceStream/pkg/daq"
)

// OutputState is one buffer-sized slice of the injection waveform.
type OutputState struct {
	Name   string
	Values []float64
}

// BuildStates slices signal into states of stateSize samples, in order. The
// final state is zero-padded; real samples are never dropped. The input is
// not modified.
func BuildStates(signal []float64, stateSize int) ([]OutputState, error) {
	if stateSize <= 0 {
		return nil, &daq.ConfigError{Field: "state_size", Reason: fmt.Sprintf("must be positive, got %d", stateSize)}
	}
	if len(signal) == 0 {
		return nil, &daq.ConfigError{Field: "signal", Reason: "empty injection signal"}
	}

	numStates := (len(signal) + stateSize - 1) / stateSize
	padded := make([]float64, numStates*stateSize)
	copy(padded, signal)

	states := make([]OutputState, numStates)
	for i := range states {
		states[i] = OutputState{
			Name:   fmt.Sprintf("slice%d", i),
			Values: padded[i*stateSize : (i+1)*stateSize : (i+1)*stateSize],
		}
	}
	return states, nil
}

// BuildChannelStates builds the states for one output channel.
func BuildChannelStates(signal []float64, ch OutputChannel) ([]OutputState, int, error) {
	size, err := ch.StateSize()
	if err != nil {
		return nil, 0, err
	}
	states, err := BuildStates(signal, size)
	if err != nil {
		return nil, 0, err
	}
	return states, size, nil
}
