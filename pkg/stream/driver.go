package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/OpenTraceLab/OpenTraceStream/internal/logging"
	"github.com/OpenTraceLab/OpenTraceStream/pkg/daq"
	"github.com/OpenTraceLab/OpenTraceStream/pkg/register"
)

// State is a phase of an injection/detection run.
type State uint8

const (
	StateIdle State = iota
	StateDeviceOpen
	StateBuffersInitialized
	StateStreaming
	StateDraining
	StateClosed
)

var stateNames = map[State]string{
	StateIdle:               "Idle",
	StateDeviceOpen:         "DeviceOpen",
	StateBuffersInitialized: "BuffersInitialized",
	StateStreaming:          "Streaming",
	StateDraining:           "Draining",
	StateClosed:             "Closed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", s)
}

// Every state other than Closed may fail straight to Closed.
var transitions = map[State][]State{
	StateIdle:               {StateDeviceOpen, StateClosed},
	StateDeviceOpen:         {StateBuffersInitialized, StateClosed},
	StateBuffersInitialized: {StateStreaming, StateClosed},
	StateStreaming:          {StateDraining, StateClosed},
	StateDraining:           {StateClosed},
	StateClosed:             nil,
}

// CanTransition reports whether a run may move from one state to another.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

// ErrDriverUsed is returned when Run is called on a driver that already ran.
var ErrDriverUsed = errors.New("stream: driver already ran")

// Result is the outcome of a successful run.
type Result struct {
	Signal            []float64
	TotalSkippedScans int
	Iterations        int
	NumCycles         int
	ScansPerRead      int
	ScanRateHz        float64
	Warnings          []string
	Device            daq.DeviceInfo
}

// Driver runs one injection/detection session: it owns the device handle
// from open to close and releases it on every exit path.
type Driver struct {
	opener daq.Opener
	cfg    RunConfig
	base   *slog.Logger // untagged, handed to the scheduler and reader
	log    *slog.Logger

	// OnState, if set, is called after every state change.
	OnState func(from, to State)

	mu      sync.Mutex
	state   State
	started bool
}

// NewDriver validates cfg and returns a driver in StateIdle.
func NewDriver(opener daq.Opener, cfg RunConfig, log *slog.Logger) (*Driver, error) {
	if opener == nil {
		return nil, errors.New("stream: nil device opener")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Discard()
	}
	cfg.InNames = slices.Clone(cfg.InNames)
	cfg.Outputs = slices.Clone(cfg.Outputs)
	return &Driver{
		opener: opener,
		cfg:    cfg,
		base:   log,
		log:    logging.For(log, logging.ComponentDriver),
		state:  StateIdle,
	}, nil
}

// State returns the driver's current state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Driver) setState(to State) {
	d.mu.Lock()
	from := d.state
	if !CanTransition(from, to) {
		d.mu.Unlock()
		panic(fmt.Sprintf("stream: invalid transition %s -> %s", from, to))
	}
	d.state = to
	d.mu.Unlock()

	d.log.Debug("state", "from", from.String(), "to", to.String())
	if d.OnState != nil {
		d.OnState(from, to)
	}
}

// NumCycles returns how many refill/read cycles a signal of signalLen samples
// needs at the given state size.
func NumCycles(signalLen, stateSize int) int {
	if stateSize <= 0 {
		return 0
	}
	return signalLen / stateSize
}

// Run injects signal through the configured outputs and returns what the
// inputs detected. The device is stopped and closed before Run returns,
// whatever the outcome. If teardown fails after an otherwise successful run,
// the result is returned together with the teardown error.
func (d *Driver) Run(ctx context.Context, signal []float64) (res *Result, err error) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return nil, ErrDriverUsed
	}
	d.started = true
	d.mu.Unlock()

	contexts, numCycles, err := d.prepare(signal)
	if err != nil {
		d.setState(StateClosed)
		return nil, err
	}

	dev, err := d.opener.Open(ctx, d.cfg.Criteria)
	if err != nil {
		d.setState(StateClosed)
		var de *daq.DeviceError
		if !errors.As(err, &de) {
			err = &daq.DeviceError{Op: "open " + d.cfg.Criteria.String(), Err: err}
		}
		return nil, err
	}
	d.setState(StateDeviceOpen)

	stopNeeded := false
	defer func() {
		tdErr := d.teardown(dev, stopNeeded)
		if tdErr == nil {
			return
		}
		if err != nil {
			err = fmt.Errorf("%w (teardown: %w)", err, tdErr)
			return
		}
		err = tdErr
	}()

	info, err := dev.Info()
	if err != nil {
		return nil, &daq.DeviceError{Op: "device info", Err: err}
	}
	d.log.Info("opened device",
		"name", info.Name,
		"device_type", info.DeviceType,
		"connection_type", info.ConnectionType,
		"serial", info.SerialNumber,
		"ip", info.IP(),
		"port", info.Port,
		"max_bytes_per_mb", info.MaxBytesPerMB)

	sched := NewScheduler(dev, contexts, Poller{}, d.cfg.SyncPolicy, info.MaxBytesPerMB, d.base)
	if err := sched.Initialize(); err != nil {
		return nil, err
	}
	d.setState(StateBuffersInitialized)

	scanList, err := d.scanList(contexts)
	if err != nil {
		return nil, err
	}
	scansPerRead := contexts[0].StateSize()

	stopNeeded = true
	rate, err := dev.StreamStart(scansPerRead, scanList, d.cfg.ScanRateHz)
	if err != nil {
		return nil, &daq.StreamIOError{Op: "stream start", Err: err}
	}
	d.setState(StateStreaming)
	d.log.Info("stream started",
		"requested_hz", d.cfg.ScanRateHz,
		"actual_hz", rate,
		"scans_per_read", scansPerRead,
		"cycles", numCycles)
	sched.poller = d.cfg.poller(rate)

	reader := NewReader(ReaderOptions{
		InNames:      d.cfg.InNames,
		ScansPerRead: scansPerRead,
		Sentinel:     d.cfg.SkipSentinel,
		DeviceLimit:  scansPerRead,
		DriverLimit:  scansPerRead,
	}, d.base)

	cycleLevel := slog.LevelDebug
	if d.cfg.Verbose {
		cycleLevel = slog.LevelInfo
	}

	iterations := 0
	for i := range numCycles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := sched.Refill(ctx); err != nil {
			return nil, err
		}
		data, err := dev.StreamRead(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, &daq.StreamIOError{Op: fmt.Sprintf("stream read %d", i), Err: err}
		}
		rep := reader.Process(i, data)
		iterations++
		d.log.Log(ctx, cycleLevel, "cycle",
			"iteration", i,
			"scans", rep.Scans,
			"skipped", rep.SkippedSamples,
			"device_backlog", rep.DeviceBacklog,
			"driver_backlog", rep.DriverBacklog)
	}

	res = &Result{
		Signal:            reader.Signal(),
		TotalSkippedScans: reader.SkippedTotal(),
		Iterations:        iterations,
		NumCycles:         numCycles,
		ScansPerRead:      scansPerRead,
		ScanRateHz:        rate,
		Warnings:          reader.Warnings(),
		Device:            info,
	}
	d.log.Info("run complete",
		"samples", len(res.Signal),
		"total_skipped_scans", res.TotalSkippedScans,
		"warnings", len(res.Warnings))
	return res, nil
}

// prepare builds the output contexts and the cycle count. It touches no
// device.
func (d *Driver) prepare(signal []float64) ([]*OutContext, int, error) {
	if len(signal) == 0 {
		return nil, 0, &daq.ConfigError{Field: "signal", Reason: "empty injection signal"}
	}
	contexts := make([]*OutContext, 0, len(d.cfg.Outputs))
	for _, o := range d.cfg.Outputs {
		c, err := NewOutContext(o, signal)
		if err != nil {
			return nil, 0, err
		}
		contexts = append(contexts, c)
	}
	numCycles := NumCycles(len(signal), contexts[0].StateSize())
	if numCycles == 0 {
		return nil, 0, &daq.ConfigError{
			Field:  "signal",
			Reason: fmt.Sprintf("%d samples is shorter than one state of %d", len(signal), contexts[0].StateSize()),
		}
	}
	return contexts, numCycles, nil
}

// scanList returns the input addresses followed by each stream-out address.
func (d *Driver) scanList(contexts []*OutContext) ([]int, error) {
	addrs, _, err := register.Addresses(d.cfg.InNames)
	if err != nil {
		return nil, &daq.ConfigError{Field: "in_names", Reason: err.Error()}
	}
	for _, c := range contexts {
		r, err := register.Lookup(c.Names().StreamOut)
		if err != nil {
			return nil, &daq.ConfigError{Field: "outputs", Reason: err.Error()}
		}
		addrs = append(addrs, r.Address)
	}
	return addrs, nil
}

func (d *Driver) teardown(dev daq.Device, stop bool) error {
	var errs []error
	if d.State() == StateStreaming {
		d.setState(StateDraining)
	}
	if stop {
		if err := dev.StreamStop(); err != nil && !errors.Is(err, daq.ErrStreamNotRunning) {
			errs = append(errs, &daq.StreamIOError{Op: "stream stop", Err: err})
		}
	}
	if err := dev.Close(); err != nil {
		errs = append(errs, &daq.DeviceError{Op: "close", Err: err})
	}
	d.setState(StateClosed)
	d.log.Debug("device released")
	return errors.Join(errs...)
}

// InjectDetect runs a single session with a fresh Driver.
func InjectDetect(ctx context.Context, opener daq.Opener, cfg RunConfig, signal []float64, log *slog.Logger) (*Result, error) {
	d, err := NewDriver(opener, cfg, log)
	if err != nil {
		return nil, err
	}
	return d.Run(ctx, signal)
}
