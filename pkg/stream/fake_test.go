package stream

import (
	"context"
	"sync"

	"github.com/OpenTraceLab/OpenTraceStream/pkg/daq"
)

// fakeDevice is a scripted daq.Device. It reports a fixed free space for
// every buffer-status register and echoes a fixed number of samples per read.
type fakeDevice struct {
	info daq.DeviceInfo

	free    float64                  // reported buffer status
	status  func(poll int) float64   // overrides free when set
	samples func(read int) []float64 // data for each read; zeros when nil
	echo    int                      // samples per read when samples is nil
	readErr func(read int) error     // fails a read when non-nil

	startErr error
	stopErr  error
	closeErr error

	mu       sync.Mutex
	writes   []string
	arrays   map[string][]float64
	polls    int
	starts   int
	reads    int
	stops    int
	closes   int
	scanList []int
	perRead  int
	running  bool
}

func newFakeDevice(echo int, free float64) *fakeDevice {
	return &fakeDevice{
		info:   daq.DeviceInfo{Name: "fake", DeviceType: daq.DeviceTypeT7, MaxBytesPerMB: 64},
		echo:   echo,
		free:   free,
		arrays: make(map[string][]float64),
	}
}

func (f *fakeDevice) Info() (daq.DeviceInfo, error) { return f.info, nil }

func (f *fakeDevice) ReadNames(names []string) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.free
	if f.status != nil {
		v = f.status(f.polls)
	}
	f.polls++
	out := make([]float64, len(names))
	for i := range out {
		out[i] = v
	}
	return out, nil
}

func (f *fakeDevice) WriteName(name string, value float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, name)
	return nil
}

func (f *fakeDevice) WriteNameArray(name string, values []float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, name)
	f.arrays[name] = append(f.arrays[name], values...)
	return nil
}

func (f *fakeDevice) StreamStart(scansPerRead int, scanList []int, scanRateHz float64) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return 0, f.startErr
	}
	f.running = true
	f.perRead = scansPerRead
	f.scanList = append([]int(nil), scanList...)
	return scanRateHz, nil
}

func (f *fakeDevice) StreamRead(ctx context.Context) (daq.StreamData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	read := f.reads
	f.reads++
	if err := ctx.Err(); err != nil {
		return daq.StreamData{}, err
	}
	if f.readErr != nil {
		if err := f.readErr(read); err != nil {
			return daq.StreamData{}, err
		}
	}
	if f.samples != nil {
		return daq.StreamData{Data: f.samples(read)}, nil
	}
	return daq.StreamData{Data: make([]float64, f.echo)}, nil
}

func (f *fakeDevice) StreamStop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	if !f.running {
		return daq.ErrStreamNotRunning
	}
	f.running = false
	return f.stopErr
}

func (f *fakeDevice) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return f.closeErr
}

func (f *fakeDevice) opener() daq.Opener {
	return daq.OpenerFunc(func(ctx context.Context, c daq.Criteria) (daq.Device, error) {
		return f, nil
	})
}
