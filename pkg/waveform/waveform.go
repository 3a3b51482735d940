// Package waveform generates and stores injection signals: constant and
// sinusoidal test patterns, and compact-binary inspiral templates.
package waveform

import (
	"fmt"
	"math"
)

// Zeros returns n zero samples.
func Zeros(n int) []float64 {
	return make([]float64, max(n, 0))
}

// Sine returns n samples of amplitude*sin(2*pi*freq*t) at sampleRate.
func Sine(n int, sampleRate, freq, amplitude float64) ([]float64, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("waveform: sample rate must be positive, got %g Hz", sampleRate)
	}
	if freq < 0 || freq > sampleRate/2 {
		return nil, fmt.Errorf("waveform: frequency %g Hz outside 0-%g Hz", freq, sampleRate/2)
	}
	out := make([]float64, max(n, 0))
	for i := range out {
		out[i] = amplitude * math.Sin(2*math.Pi*freq*float64(i)/sampleRate)
	}
	return out, nil
}

// Peak returns the largest absolute sample.
func Peak(signal []float64) float64 {
	var p float64
	for _, v := range signal {
		p = max(p, math.Abs(v))
	}
	return p
}

// Normalize returns a copy of signal scaled so its peak is peak. An all-zero
// signal is returned unchanged.
func Normalize(signal []float64, peak float64) []float64 {
	out := make([]float64, len(signal))
	p := Peak(signal)
	if p == 0 {
		copy(out, signal)
		return out
	}
	scale := peak / p
	for i, v := range signal {
		out[i] = v * scale
	}
	return out
}

// Offset returns a copy of signal with dc added to every sample. DAC outputs
// cannot go negative, so bipolar templates are centred on a positive level.
func Offset(signal []float64, dc float64) []float64 {
	out := make([]float64, len(signal))
	for i, v := range signal {
		out[i] = v + dc
	}
	return out
}
