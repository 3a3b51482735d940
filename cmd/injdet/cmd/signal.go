package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"github.com/OpenTraceLab/OpenTraceStream/pkg/waveform"
)

// signalFlags selects and shapes the injection signal. Exactly one source
// (file, zeros, sine or chirp) must be chosen.
type signalFlags struct {
	file  string
	zeros int

	sineFreq  float64
	samples   int
	amplitude float64

	chirp       bool
	mass1       float64
	mass2       float64
	distanceMpc float64
	detector    string
	theta       float64
	phi         float64
	psi         float64
	inclination float64

	peak float64
	dc   float64
}

func (f *signalFlags) register(fs *pflag.FlagSet) {
	def := waveform.DefaultInspiral()

	fs.StringVar(&f.file, "signal", "", "read the injection signal from a text file")
	fs.IntVar(&f.zeros, "zeros", 0, "inject N zero samples")
	fs.Float64Var(&f.sineFreq, "sine", 0, "inject a sine wave of this frequency in Hz")
	fs.IntVar(&f.samples, "samples", 0, "length of the sine wave in samples")
	fs.Float64Var(&f.amplitude, "amplitude", 1, "sine wave amplitude in volts")
	fs.BoolVar(&f.chirp, "chirp", false, "inject a compact-binary inspiral template")
	fs.Float64Var(&f.mass1, "mass1", def.Mass1, "first component mass in solar masses")
	fs.Float64Var(&f.mass2, "mass2", def.Mass2, "second component mass in solar masses")
	fs.Float64Var(&f.distanceMpc, "distance", def.DistancePC/1e6, "source distance in Mpc")
	fs.StringVar(&f.detector, "detector", "none", "detector orientation: H1, L1, V1 or none")
	fs.Float64Var(&f.theta, "theta", 0, "source polar angle in radians")
	fs.Float64Var(&f.phi, "phi", 0, "source azimuth in radians")
	fs.Float64Var(&f.psi, "psi", 0, "polarization angle in radians")
	fs.Float64Var(&f.inclination, "inclination", 0, "orbital inclination in radians")
	fs.Float64Var(&f.peak, "peak", 0, "scale the signal to this peak in volts (0 keeps it)")
	fs.Float64Var(&f.dc, "dc", 0, "add a DC level in volts")
}

func (f *signalFlags) reset() {
	*f = signalFlags{}
	def := waveform.DefaultInspiral()
	f.amplitude = 1
	f.mass1, f.mass2 = def.Mass1, def.Mass2
	f.distanceMpc = def.DistancePC / 1e6
	f.detector = "none"
}

var errNoSignal = errors.New("no injection signal: use --signal, --zeros, --sine or --chirp")

// build produces the signal at sampleRate and a short description of it.
func (f *signalFlags) build(sampleRate float64) ([]float64, string, error) {
	var sources []string
	if f.file != "" {
		sources = append(sources, "--signal")
	}
	if f.zeros > 0 {
		sources = append(sources, "--zeros")
	}
	if f.sineFreq > 0 {
		sources = append(sources, "--sine")
	}
	if f.chirp {
		sources = append(sources, "--chirp")
	}
	switch len(sources) {
	case 0:
		return nil, "", errNoSignal
	case 1:
	default:
		return nil, "", fmt.Errorf("choose one signal source, got %s", strings.Join(sources, ", "))
	}

	var (
		signal []float64
		desc   string
		err    error
	)
	switch {
	case f.file != "":
		signal, err = waveform.LoadFile(f.file)
		desc = f.file
	case f.zeros > 0:
		signal = waveform.Zeros(f.zeros)
		desc = fmt.Sprintf("%d zeros", f.zeros)
	case f.sineFreq > 0:
		if f.samples <= 0 {
			return nil, "", errors.New("--sine needs --samples")
		}
		signal, err = waveform.Sine(f.samples, sampleRate, f.sineFreq, f.amplitude)
		desc = fmt.Sprintf("%g Hz sine", f.sineFreq)
	default:
		signal, err = f.inspiral(sampleRate)
		desc = fmt.Sprintf("%g+%g Msun inspiral at %g Mpc", f.mass1, f.mass2, f.distanceMpc)
	}
	if err != nil {
		return nil, "", err
	}

	if f.peak > 0 {
		signal = waveform.Normalize(signal, f.peak)
	}
	if f.dc != 0 {
		signal = waveform.Offset(signal, f.dc)
	}
	return signal, desc, nil
}

func (f *signalFlags) inspiral(sampleRate float64) ([]float64, error) {
	det, err := waveform.ParseDetector(f.detector)
	if err != nil {
		return nil, err
	}
	return waveform.Inspiral(waveform.InspiralParams{
		Mass1:        f.mass1,
		Mass2:        f.mass2,
		DistancePC:   f.distanceMpc * 1e6,
		Theta:        f.theta,
		Phi:          f.phi,
		Polarization: f.psi,
		Inclination:  f.inclination,
		Detector:     det,
		SampleRate:   sampleRate,
	})
}
