package stream

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/OpenTraceLab/OpenTraceStream/internal/logging"
	"github.com/OpenTraceLab/OpenTraceStream/pkg/daq"
)

// DefaultSkipSentinel is the value a device reports in place of a sample it
// dropped.
const DefaultSkipSentinel = -9999.0

// ReadReport summarizes one stream read.
type ReadReport struct {
	Iteration      int
	Scans          int // samples appended to the detection signal
	SkippedSamples int
	DeviceBacklog  int
	DriverBacklog  int
	Warnings       []string
}

// Reader accumulates the detection signal from successive stream reads and
// flags anomalies in each one. It performs no device I/O.
type Reader struct {
	opts         ReaderOptions
	signal       []float64
	skippedTotal int
	warnings     []string
	log          *slog.Logger
}

// ReaderOptions configures a Reader.
type ReaderOptions struct {
	InNames      []string // input channels, in scan order
	ScansPerRead int      // samples kept from each read
	Sentinel     float64  // value marking a dropped sample
	DeviceLimit  int      // device backlog above which a warning is raised
	DriverLimit  int      // driver backlog above which a warning is raised
}

// NewReader creates a reader. A nil logger discards output.
func NewReader(opts ReaderOptions, log *slog.Logger) *Reader {
	return &Reader{
		opts: opts,
		log:  logging.For(log, logging.ComponentReader),
	}
}

// CountSkipped returns how many entries of data equal sentinel. A NaN
// sentinel matches NaN entries.
func CountSkipped(data []float64, sentinel float64) int {
	nan := math.IsNaN(sentinel)
	n := 0
	for _, v := range data {
		if v == sentinel || (nan && math.IsNaN(v)) {
			n++
		}
	}
	return n
}

// Process classifies one read and appends its leading samples to the
// detection signal.
func (r *Reader) Process(iteration int, d daq.StreamData) ReadReport {
	rep := ReadReport{
		Iteration:      iteration,
		SkippedSamples: CountSkipped(d.Data, r.opts.Sentinel),
		DeviceBacklog:  d.DeviceBacklog,
		DriverBacklog:  d.DriverBacklog,
	}

	if d.DeviceBacklog > r.opts.DeviceLimit {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("Device scan backlog = %d", d.DeviceBacklog))
	}
	if d.DriverBacklog > r.opts.DriverLimit {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("Driver scan backlog = %d", d.DriverBacklog))
	}

	if r.log.Enabled(context.Background(), slog.LevelDebug) {
		attrs := []any{"iteration", iteration}
		for i, name := range r.opts.InNames {
			if i < len(d.Data) {
				attrs = append(attrs, name, d.Data[i])
			}
		}
		r.log.Debug("first scan", attrs...)
	}

	n := min(r.opts.ScansPerRead, len(d.Data))
	r.signal = append(r.signal, d.Data[:n]...)
	rep.Scans = n

	r.skippedTotal += rep.SkippedSamples
	r.warnings = append(r.warnings, rep.Warnings...)
	for _, w := range rep.Warnings {
		r.log.Warn(w, "iteration", iteration)
	}
	if rep.SkippedSamples > 0 {
		r.log.Warn("skipped samples", "iteration", iteration, "count", rep.SkippedSamples)
	}
	return rep
}

// Signal returns the detection signal accumulated so far.
func (r *Reader) Signal() []float64 { return r.signal }

// SkippedTotal returns the skipped samples across all reads.
func (r *Reader) SkippedTotal() int { return r.skippedTotal }

// Warnings returns every backlog warning raised so far.
func (r *Reader) Warnings() []string { return r.warnings }
