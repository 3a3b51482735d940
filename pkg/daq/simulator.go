package daq

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/OpenTraceLab/OpenTraceStream/pkg/register"
)

// ReadHook lets tests rewrite the result of the n-th stream read (0-based),
// e.g. to inject skip sentinels or fail a read.
type ReadHook func(read int, data StreamData) (StreamData, error)

// StatusHook lets tests override the free space reported for a stream-out
// buffer.
type StatusHook func(index int, free float64) float64

// SimCalls counts calls made against a SimDevice.
type SimCalls struct {
	Info           int
	ReadNames      int
	WriteName      int
	WriteNameArray int
	StreamStart    int
	StreamRead     int
	StreamStop     int
	Close          int
}

// streamClockHz is the core clock from which achievable scan rates derive.
const streamClockHz = 80e6

// SimDevice is an in-memory device. Stream-out buffers are modelled as loop
// queues that play back one value per scan; every input channel reads back
// Gain * (sum of values played this scan) + Offset.
type SimDevice struct {
	InfoData      DeviceInfo
	Gain          float64
	Offset        float64
	DeviceBacklog int
	DriverBacklog int
	MaxScanRateHz float64

	// Realtime paces StreamRead to the achieved scan rate.
	Realtime bool

	OnStreamRead   ReadHook
	OnBufferStatus StatusHook

	Logger *slog.Logger

	mu           sync.Mutex
	regs         map[string]float64
	outs         [register.MaxStreamOuts]simStreamOut
	streaming    bool
	scansPerRead int
	numInputs    int
	outIndices   []int
	scanRate     float64
	reads        int
	closed       bool
	calls        SimCalls
}

type simStreamOut struct {
	target   float64
	capacity int
	enabled  bool
	loopSize int
	pending  []float64
	loops    [][]float64
	current  []float64
	pos      int
	commits  int
}

func (o *simStreamOut) queued() int {
	n := len(o.current) - o.pos + len(o.pending)
	for _, l := range o.loops {
		n += len(l)
	}
	return n
}

func (o *simStreamOut) free() int {
	return o.capacity - o.queued()
}

// next plays one value. An exhausted loop is replaced by the next committed
// loop, or repeated when none is waiting.
func (o *simStreamOut) next() float64 {
	if o.pos >= len(o.current) {
		switch {
		case len(o.loops) > 0:
			o.current, o.loops = o.loops[0], o.loops[1:]
		case len(o.current) == 0:
			return 0
		}
		o.pos = 0
	}
	v := o.current[o.pos]
	o.pos++
	return v
}

func (o *simStreamOut) reset(capacity int) {
	*o = simStreamOut{target: o.target, enabled: o.enabled, capacity: capacity}
}

// NewSimDevice constructs a simulator configured with the provided DeviceInfo.
func NewSimDevice(info DeviceInfo) *SimDevice {
	if info.MaxBytesPerMB == 0 {
		info.MaxBytesPerMB = 64
	}
	return &SimDevice{
		InfoData:      info,
		Gain:          1,
		MaxScanRateHz: 100_000,
		regs:          make(map[string]float64),
	}
}

// Calls returns a snapshot of the call counters.
func (s *SimDevice) Calls() SimCalls {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// LoopsCommitted reports how many loops were committed through SET_LOOP on
// stream-out channel index.
func (s *SimDevice) LoopsCommitted(index int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outs[index].commits
}

// Streaming reports whether a stream is active.
func (s *SimDevice) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// Closed reports whether Close has been called.
func (s *SimDevice) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *SimDevice) log() *slog.Logger {
	if s.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.Logger
}

func (s *SimDevice) Info() (DeviceInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls.Info++
	if s.closed {
		return DeviceInfo{}, ErrClosed
	}
	return s.InfoData, nil
}

func (s *SimDevice) ReadNames(names []string) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls.ReadNames++
	if s.closed {
		return nil, ErrClosed
	}

	values := make([]float64, len(names))
	for i, name := range names {
		n, err := register.Parse(name)
		if err != nil {
			return nil, err
		}
		if n.Family == "STREAM_OUT" && n.Indexed() && n.Suffix != "" {
			v, err := s.readStreamOut(n)
			if err != nil {
				return nil, err
			}
			values[i] = v
			continue
		}
		if _, err := register.Lookup(name); err != nil {
			return nil, err
		}
		values[i] = s.regs[n.String()]
	}
	return values, nil
}

func (s *SimDevice) readStreamOut(n *register.Name) (float64, error) {
	idx := n.Channel()
	if idx >= register.MaxStreamOuts {
		return 0, fmt.Errorf("sim: %s: no such stream-out", n)
	}
	out := &s.outs[idx]
	switch n.Suffix {
	case "_BUFFER_STATUS":
		free := float64(out.free())
		if s.OnBufferStatus != nil {
			free = s.OnBufferStatus(idx, free)
		}
		return free, nil
	case "_BUFFER_SIZE":
		return float64(out.capacity * 2), nil
	case "_LOOP_SIZE":
		return float64(out.loopSize), nil
	case "_ENABLE":
		if out.enabled {
			return 1, nil
		}
		return 0, nil
	case "_TARGET":
		return out.target, nil
	default:
		return 0, fmt.Errorf("sim: %s is write-only", n)
	}
}

func (s *SimDevice) WriteName(name string, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls.WriteName++
	if s.closed {
		return ErrClosed
	}

	n, err := register.Parse(name)
	if err != nil {
		return err
	}
	if _, err := register.Lookup(name); err != nil {
		return err
	}
	if n.Family != "STREAM_OUT" || n.Suffix == "" {
		if s.regs == nil {
			s.regs = make(map[string]float64)
		}
		s.regs[n.String()] = value
		return nil
	}

	out := &s.outs[n.Channel()]
	switch n.Suffix {
	case "_TARGET":
		if _, ok := register.NameOf(int(value)); !ok {
			return fmt.Errorf("sim: %s: invalid target address %d", n, int(value))
		}
		out.target = value
	case "_BUFFER_SIZE":
		if value <= 0 || value != math.Trunc(value) {
			return fmt.Errorf("sim: %s: invalid buffer size %g", n, value)
		}
		out.reset(int(value) / 2)
	case "_ENABLE":
		out.enabled = value != 0
	case "_LOOP_SIZE":
		out.loopSize = int(value)
	case "_SET_LOOP":
		if len(out.pending) > 0 {
			out.loops = append(out.loops, out.pending)
			out.pending = nil
		}
		out.commits++
	default:
		if !isBufferSuffix(n.Suffix) {
			return fmt.Errorf("sim: %s is read-only", n)
		}
		return s.appendBuffer(n, out, []float64{value})
	}
	return nil
}

func isBufferSuffix(suffix string) bool {
	switch suffix {
	case "_BUFFER_F32", "_BUFFER_U16", "_BUFFER_U32":
		return true
	}
	return false
}

func (s *SimDevice) WriteNameArray(name string, values []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls.WriteNameArray++
	if s.closed {
		return ErrClosed
	}

	n, err := register.Parse(name)
	if err != nil {
		return err
	}
	if _, err := register.Lookup(name); err != nil {
		return err
	}
	if n.Family != "STREAM_OUT" || !isBufferSuffix(n.Suffix) {
		return fmt.Errorf("sim: %s does not accept array writes", n)
	}
	return s.appendBuffer(n, &s.outs[n.Channel()], values)
}

func (s *SimDevice) appendBuffer(n *register.Name, out *simStreamOut, values []float64) error {
	if !out.enabled || out.capacity == 0 {
		return fmt.Errorf("sim: %s: stream-out not enabled", n)
	}
	if len(values) > out.free() {
		return fmt.Errorf("sim: %s: buffer overflow writing %d values with %d free", n, len(values), out.free())
	}
	out.pending = append(out.pending, values...)
	return nil
}

func (s *SimDevice) StreamStart(scansPerRead int, scanList []int, scanRateHz float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls.StreamStart++

	switch {
	case s.closed:
		return 0, ErrClosed
	case s.streaming:
		return 0, ErrStreamRunning
	case scansPerRead <= 0:
		return 0, fmt.Errorf("sim: scans per read must be positive, got %d", scansPerRead)
	case len(scanList) == 0:
		return 0, fmt.Errorf("sim: empty scan list")
	case scanRateHz <= 0:
		return 0, fmt.Errorf("sim: invalid scan rate %gHz", scanRateHz)
	}

	var inputs int
	var outIdx []int
	for _, addr := range scanList {
		name, ok := register.NameOf(addr)
		if !ok {
			return 0, fmt.Errorf("sim: unknown scan list address %d", addr)
		}
		n, err := register.Parse(name)
		if err != nil {
			return 0, err
		}
		if n.Family == "STREAM_OUT" {
			if !s.outs[n.Channel()].enabled {
				return 0, fmt.Errorf("sim: %s in scan list but not enabled", name)
			}
			outIdx = append(outIdx, n.Channel())
			continue
		}
		inputs++
	}

	rate := scanRateHz
	if s.MaxScanRateHz > 0 && rate > s.MaxScanRateHz {
		rate = s.MaxScanRateHz
	}
	rate = streamClockHz / math.Round(streamClockHz/rate)

	s.streaming = true
	s.scansPerRead = scansPerRead
	s.numInputs = inputs
	s.outIndices = outIdx
	s.scanRate = rate
	s.reads = 0
	s.log().Debug("stream started", "scan_rate_hz", rate,
		"scans_per_read", scansPerRead, "inputs", inputs, "stream_outs", len(outIdx))
	return rate, nil
}

func (s *SimDevice) StreamRead(ctx context.Context) (StreamData, error) {
	s.mu.Lock()
	s.calls.StreamRead++
	if s.closed {
		s.mu.Unlock()
		return StreamData{}, ErrClosed
	}
	if !s.streaming {
		s.mu.Unlock()
		return StreamData{}, ErrStreamNotRunning
	}
	wait := time.Duration(float64(s.scansPerRead) / s.scanRate * float64(time.Second))
	realtime := s.Realtime
	s.mu.Unlock()

	if realtime {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return StreamData{}, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return StreamData{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.streaming {
		return StreamData{}, ErrStreamNotRunning
	}

	data := make([]float64, 0, s.scansPerRead*s.numInputs)
	for scan := 0; scan < s.scansPerRead; scan++ {
		var played float64
		for _, idx := range s.outIndices {
			played += s.outs[idx].next()
		}
		for in := 0; in < s.numInputs; in++ {
			data = append(data, s.Gain*played+s.Offset)
		}
	}

	result := StreamData{
		Data:          data,
		DeviceBacklog: s.DeviceBacklog,
		DriverBacklog: s.DriverBacklog,
	}
	read := s.reads
	s.reads++
	if s.OnStreamRead != nil {
		return s.OnStreamRead(read, result)
	}
	return result, nil
}

func (s *SimDevice) StreamStop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls.StreamStop++
	if !s.streaming {
		return ErrStreamNotRunning
	}
	s.streaming = false
	s.log().Debug("stream stopped", "reads", s.reads)
	return nil
}

// Close is idempotent.
func (s *SimDevice) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls.Close++
	s.closed = true
	s.streaming = false
	return nil
}

// SimOpener hands out a single SimDevice.
type SimOpener struct {
	Device *SimDevice

	mu    sync.Mutex
	opens int
}

// NewSimOpener wraps dev in an Opener.
func NewSimOpener(dev *SimDevice) *SimOpener {
	return &SimOpener{Device: dev}
}

// Opens reports how many times Open succeeded.
func (o *SimOpener) Opens() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

func (o *SimOpener) Open(ctx context.Context, c Criteria) (Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, &DeviceError{Op: "open", Err: err}
	}
	if o.Device == nil || !o.matches(c) {
		return nil, &DeviceError{Op: "open", Err: fmt.Errorf("%s: %w", c, ErrDeviceNotFound)}
	}
	o.mu.Lock()
	o.opens++
	o.mu.Unlock()
	return o.Device, nil
}

func (o *SimOpener) matches(c Criteria) bool {
	iface := Interface{Kind: KindSim, DeviceType: o.Device.InfoData.DeviceType, Serial: fmt.Sprint(o.Device.InfoData.SerialNumber)}
	return iface.Matches(c)
}
