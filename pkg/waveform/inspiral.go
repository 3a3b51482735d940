package waveform

import (
	"fmt"
	"math"
	"strings"
)

// CGS constants
const (
	GravitationalConstant = 6.674e-8 // cm^3 g^-1 s^-2
	SpeedOfLight          = 2.99e10  // cm s^-1
	SolarMass             = 1.99e33  // g
	Parsec                = 3.086e18 // cm
)

// StartFrequency is the gravitational-wave frequency, in Hz, at which an
// inspiral template begins.
const StartFrequency = 10.0

// TaperSeconds is the length of the Hann taper applied at each end of an
// inspiral template.
const TaperSeconds = 0.1

// Detector selects the interferometer whose arm orientation projects the
// wave onto a strain.
type Detector string

const (
	DetectorNone Detector = "" // arms along x and y
	DetectorH1   Detector = "H1"
	DetectorL1   Detector = "L1"
	DetectorV1   Detector = "V1"
)

type arms struct {
	x, y [3]float64
}

var detectorArms = map[Detector]arms{
	DetectorH1:   {x: [3]float64{-0.2229, 0.7998, 0.5569}, y: [3]float64{-0.9140, 0.0261, -0.4049}},
	DetectorL1:   {x: [3]float64{-0.9546, -0.1416, -0.2622}, y: [3]float64{0.2977, -0.4879, -0.8205}},
	DetectorV1:   {x: [3]float64{-0.7005, 0.2085, 0.6826}, y: [3]float64{-0.0538, -0.9691, 0.2408}},
	DetectorNone: {x: [3]float64{1, 0, 0}, y: [3]float64{0, 1, 0}},
}

// ParseDetector accepts H1, L1, V1, or an empty string / "none".
func ParseDetector(s string) (Detector, error) {
	switch d := Detector(strings.ToUpper(strings.TrimSpace(s))); d {
	case "", "NONE":
		return DetectorNone, nil
	case DetectorH1, DetectorL1, DetectorV1:
		return d, nil
	default:
		return "", fmt.Errorf("waveform: unknown detector %q (want H1, L1, V1 or none)", s)
	}
}

// InspiralParams describes a compact-binary inspiral as seen by one detector.
// Masses are in solar masses, distance in parsecs and angles in radians.
type InspiralParams struct {
	Mass1        float64
	Mass2        float64
	DistancePC   float64
	Theta        float64
	Phi          float64
	Polarization float64
	Inclination  float64
	Detector     Detector
	SampleRate   float64 // Hz
}

// DefaultInspiral returns a 30+30 solar-mass binary at 400 Mpc sampled at
// 4096 Hz.
func DefaultInspiral() InspiralParams {
	return InspiralParams{
		Mass1:      30,
		Mass2:      30,
		DistancePC: 400e6,
		SampleRate: 4096,
	}
}

func (p InspiralParams) validate() error {
	switch {
	case p.Mass1 <= 0 || p.Mass2 <= 0:
		return fmt.Errorf("waveform: masses must be positive, got %g and %g", p.Mass1, p.Mass2)
	case p.DistancePC <= 0:
		return fmt.Errorf("waveform: distance must be positive, got %g pc", p.DistancePC)
	case p.SampleRate <= 0:
		return fmt.Errorf("waveform: sample rate must be positive, got %g Hz", p.SampleRate)
	}
	if _, ok := detectorArms[p.Detector]; !ok {
		return fmt.Errorf("waveform: unknown detector %q", p.Detector)
	}
	return nil
}

// ChirpMass returns the chirp mass, in grams, of a binary with component
// masses m1 and m2 in solar masses.
func ChirpMass(m1, m2 float64) float64 {
	a, b := m1*SolarMass, m2*SolarMass
	total := a + b
	eta := a * b / (total * total)
	return total * math.Pow(eta, 3.0/5.0)
}

// CoalescenceTime returns the time, in seconds, from StartFrequency to
// coalescence for a binary of chirp mass mc grams.
func CoalescenceTime(mc float64) float64 {
	return 9.23e-4 * math.Pow(SpeedOfLight, 5) /
		(math.Pow(StartFrequency, 8.0/3.0) * math.Pow(mc, 5.0/3.0) * math.Pow(GravitationalConstant, 5.0/3.0))
}

func amplitude(mc, t float64) float64 {
	return math.Pow(GravitationalConstant*mc, 5.0/4.0) *
		math.Pow(SpeedOfLight, -11.0/4.0) *
		math.Pow(5/t, 1.0/4.0)
}

func phase(t, mc, phi0 float64) float64 {
	return phi0 - 2*math.Pow(math.Pow(SpeedOfLight, 3)*t/(5*GravitationalConstant*mc), 5.0/8.0)
}

// AntennaPattern returns the plus and cross responses of det to a wave from
// direction (theta, phi) with polarization angle psi.
func AntennaPattern(theta, phi, psi float64, det Detector) (plus, cross float64) {
	x := [3]float64{
		math.Sin(phi)*math.Cos(psi) - math.Sin(psi)*math.Cos(phi)*math.Cos(theta),
		-(math.Cos(phi)*math.Cos(psi) + math.Sin(psi)*math.Sin(phi)*math.Cos(theta)),
		math.Sin(psi) * math.Cos(theta),
	}
	y := [3]float64{
		-(math.Sin(phi)*math.Sin(psi) + math.Cos(phi)*math.Cos(psi)*math.Cos(theta)),
		math.Cos(phi)*math.Sin(psi) - math.Cos(psi)*math.Sin(phi)*math.Cos(theta),
		math.Cos(psi) * math.Sin(theta),
	}
	a := detectorArms[det]

	for i := range 3 {
		for j := range 3 {
			d := 0.5 * (a.x[i]*a.x[j] - a.y[i]*a.y[j])
			plus += d * (x[i]*x[j] - y[i]*y[j])
			cross += d * (x[i]*y[j] + y[i]*x[j])
		}
	}
	return plus, cross
}

// HannTaper returns n ones whose first and last TaperSeconds are shaped by a
// symmetric Hann window.
func HannTaper(n int, sampleRate float64) []float64 {
	taper := make([]float64, n)
	for i := range taper {
		taper[i] = 1
	}
	edge := int(sampleRate * TaperSeconds)
	size := int(sampleRate * TaperSeconds * 2)
	if edge <= 0 || size < 2 {
		return taper
	}
	window := make([]float64, size)
	for i := range window {
		window[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(size-1))
	}
	copy(taper[:min(edge, n)], window[:edge])
	tail := min(edge, n)
	copy(taper[n-tail:], window[size-tail:])
	return taper
}

// Inspiral generates the tapered strain of a compact-binary inspiral from
// StartFrequency up to coalescence. The template spans whole seconds of the
// coalescence time; binaries that coalesce within one second are rejected.
func Inspiral(p InspiralParams) ([]float64, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	mc := ChirpMass(p.Mass1, p.Mass2)
	tc := CoalescenceTime(mc)
	n := int(tc) * int(p.SampleRate)
	if n <= 0 {
		return nil, fmt.Errorf("waveform: coalescence time %.3gs too short for a template", tc)
	}

	dist := p.DistancePC * Parsec
	fPlus, fCross := AntennaPattern(p.Theta, p.Phi, p.Polarization, p.Detector)
	cosI := math.Cos(p.Inclination)
	taper := HannTaper(n, p.SampleRate)
	step := tc / float64(n)

	out := make([]float64, n)
	for k := range out {
		t := tc - float64(k)*step
		a := amplitude(mc, t) / dist
		ph := phase(t, mc, 0)
		hPlus := a * (1 + cosI*cosI) / 2 * math.Cos(ph)
		hCross := a * cosI * math.Sin(ph)
		out[k] = taper[k] * (hPlus*fPlus + hCross*fCross)
	}
	return out, nil
}
