package stream

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/OpenTraceLab/OpenTraceStream/pkg/daq"
)

// testConfig streams one DAC0 output with state size 100 and reads AIN0.
func testConfig() RunConfig {
	cfg := DefaultRunConfig()
	cfg.Outputs = []OutputChannel{{Target: "DAC0", BufferNumBytes: 400, SetLoop: 3}}
	cfg.MaxPolls = 10
	return cfg
}

func TestDriverZerosEndToEnd(t *testing.T) {
	dev := newFakeDevice(100, 100)
	var transitions []string
	d, err := NewDriver(dev.opener(), testConfig(), nil)
	if err != nil {
		t.Fatalf("NewDriver returned error: %v", err)
	}
	d.OnState = func(from, to State) {
		transitions = append(transitions, to.String())
	}

	res, err := d.Run(context.Background(), make([]float64, 2000))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.NumCycles != 20 || res.Iterations != 20 {
		t.Fatalf("cycles = %d, iterations = %d, want 20", res.NumCycles, res.Iterations)
	}
	if len(res.Signal) != 2000 {
		t.Fatalf("detection length = %d, want 2000", len(res.Signal))
	}
	if res.TotalSkippedScans != 0 || len(res.Warnings) != 0 {
		t.Fatalf("skipped = %d, warnings = %v, want none", res.TotalSkippedScans, res.Warnings)
	}
	if res.ScansPerRead != 100 || res.ScanRateHz != 2000 {
		t.Fatalf("scans per read = %d, rate = %g", res.ScansPerRead, res.ScanRateHz)
	}

	want := "DeviceOpen,BuffersInitialized,Streaming,Draining,Closed"
	if got := strings.Join(transitions, ","); got != want {
		t.Fatalf("transitions = %s, want %s", got, want)
	}
	if d.State() != StateClosed {
		t.Fatalf("final state = %s, want Closed", d.State())
	}
	if dev.stops != 1 || dev.closes != 1 {
		t.Fatalf("stops = %d, closes = %d, want 1 each", dev.stops, dev.closes)
	}
	if len(dev.scanList) != 2 || dev.scanList[0] != 0 || dev.scanList[1] != 4800 {
		t.Fatalf("scan list = %v, want [0 4800]", dev.scanList)
	}
}

func TestDriverReadsExactlyNumCycles(t *testing.T) {
	cases := []struct {
		length int
		want   int
	}{
		{100, 1},
		{2000, 20},
		{2050, 20},
		{2099, 20},
		{2100, 21},
	}
	for _, tc := range cases {
		dev := newFakeDevice(100, 100)
		res, err := InjectDetect(context.Background(), dev.opener(), testConfig(), ramp(tc.length), nil)
		if err != nil {
			t.Fatalf("length %d: Run returned error: %v", tc.length, err)
		}
		if dev.reads != tc.want || res.NumCycles != tc.want {
			t.Fatalf("length %d: reads = %d, cycles = %d, want %d", tc.length, dev.reads, res.NumCycles, tc.want)
		}
		if NumCycles(tc.length, 100) != tc.want {
			t.Fatalf("NumCycles(%d, 100) = %d, want %d", tc.length, NumCycles(tc.length, 100), tc.want)
		}
	}
}

func TestDriverStallClosesOnce(t *testing.T) {
	dev := newFakeDevice(100, 0)
	var states []State
	d, err := NewDriver(dev.opener(), testConfig(), nil)
	if err != nil {
		t.Fatalf("NewDriver returned error: %v", err)
	}
	d.OnState = func(_, to State) { states = append(states, to) }

	res, err := d.Run(context.Background(), make([]float64, 2000))
	var stall *daq.StallError
	if !errors.As(err, &stall) {
		t.Fatalf("error = %v, want *daq.StallError", err)
	}
	if res != nil {
		t.Fatalf("result = %+v, want nil on failure", res)
	}
	if dev.closes != 1 {
		t.Fatalf("close called %d times, want 1", dev.closes)
	}
	if dev.stops != 1 || dev.reads != 0 {
		t.Fatalf("stops = %d, reads = %d, want 1 and 0", dev.stops, dev.reads)
	}
	if stall.Polls != 10 {
		t.Fatalf("polls = %d, want 10", stall.Polls)
	}
	if states[len(states)-2] != StateDraining || states[len(states)-1] != StateClosed {
		t.Fatalf("states = %v, want ... Draining Closed", states)
	}
}

func TestDriverSkippedSamplesAndBacklog(t *testing.T) {
	dev := newFakeDevice(100, 100)
	dev.samples = func(read int) []float64 {
		data := make([]float64, 100)
		if read%2 == 0 {
			data[3] = DefaultSkipSentinel
			data[50] = DefaultSkipSentinel
		}
		return data
	}

	res, err := InjectDetect(context.Background(), dev.opener(), testConfig(), make([]float64, 1000), nil)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.TotalSkippedScans != 10 {
		t.Fatalf("skipped = %d, want 10", res.TotalSkippedScans)
	}
	if len(res.Warnings) != 0 {
		t.Fatalf("warnings = %v, want none", res.Warnings)
	}
}

func TestDriverReadErrorTearsDown(t *testing.T) {
	dev := newFakeDevice(100, 100)
	boom := errors.New("usb timeout")
	dev.readErr = func(read int) error {
		if read == 3 {
			return boom
		}
		return nil
	}

	_, err := InjectDetect(context.Background(), dev.opener(), testConfig(), make([]float64, 1000), nil)
	var sio *daq.StreamIOError
	if !errors.As(err, &sio) || !errors.Is(err, boom) {
		t.Fatalf("error = %v, want *daq.StreamIOError wrapping %v", err, boom)
	}
	if dev.reads != 4 || dev.stops != 1 || dev.closes != 1 {
		t.Fatalf("reads = %d, stops = %d, closes = %d", dev.reads, dev.stops, dev.closes)
	}
}

func TestDriverTeardownErrorKeepsOriginal(t *testing.T) {
	dev := newFakeDevice(100, 0)
	dev.closeErr = errors.New("handle busy")

	_, err := InjectDetect(context.Background(), dev.opener(), testConfig(), make([]float64, 1000), nil)
	var stall *daq.StallError
	if !errors.As(err, &stall) {
		t.Fatalf("error = %v, want *daq.StallError first", err)
	}
	if !errors.Is(err, dev.closeErr) {
		t.Fatalf("error = %v, want teardown error reported too", err)
	}
	if !strings.HasPrefix(err.Error(), stall.Error()) {
		t.Fatalf("error = %q, want original cause first", err)
	}
}

func TestDriverTeardownErrorAfterSuccess(t *testing.T) {
	dev := newFakeDevice(100, 100)
	dev.stopErr = errors.New("stop failed")

	res, err := InjectDetect(context.Background(), dev.opener(), testConfig(), make([]float64, 300), nil)
	if !errors.Is(err, dev.stopErr) {
		t.Fatalf("error = %v, want stop failure", err)
	}
	if res == nil || len(res.Signal) != 300 {
		t.Fatalf("result = %+v, want detection kept", res)
	}
	if dev.closes != 1 {
		t.Fatalf("closes = %d, want 1", dev.closes)
	}
}

func TestDriverStartErrorTearsDown(t *testing.T) {
	dev := newFakeDevice(100, 100)
	dev.startErr = errors.New("scan rate too high")

	_, err := InjectDetect(context.Background(), dev.opener(), testConfig(), make([]float64, 300), nil)
	var sio *daq.StreamIOError
	if !errors.As(err, &sio) {
		t.Fatalf("error = %v, want *daq.StreamIOError", err)
	}
	if dev.stops != 1 || dev.closes != 1 {
		t.Fatalf("stops = %d, closes = %d, want 1 each", dev.stops, dev.closes)
	}
}

func TestDriverCancelTearsDown(t *testing.T) {
	dev := newFakeDevice(100, 100)
	ctx, cancel := context.WithCancel(context.Background())
	dev.samples = func(read int) []float64 {
		if read == 1 {
			cancel()
		}
		return make([]float64, 100)
	}

	_, err := InjectDetect(ctx, dev.opener(), testConfig(), make([]float64, 1000), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if dev.reads != 2 || dev.closes != 1 {
		t.Fatalf("reads = %d, closes = %d, want 2 and 1", dev.reads, dev.closes)
	}
}

func TestDriverConfigErrorsBeforeOpen(t *testing.T) {
	cases := []struct {
		name   string
		signal []float64
	}{
		{"empty signal", nil},
		{"shorter than one state", ramp(99)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opened := 0
			opener := daq.OpenerFunc(func(context.Context, daq.Criteria) (daq.Device, error) {
				opened++
				return newFakeDevice(100, 100), nil
			})
			d, err := NewDriver(opener, testConfig(), nil)
			if err != nil {
				t.Fatalf("NewDriver returned error: %v", err)
			}
			_, err = d.Run(context.Background(), tc.signal)
			var ce *daq.ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("error = %v, want *daq.ConfigError", err)
			}
			if opened != 0 {
				t.Fatalf("device opened %d times, want 0", opened)
			}
			if d.State() != StateClosed {
				t.Fatalf("state = %s, want Closed", d.State())
			}
		})
	}
}

func TestDriverOpenFailure(t *testing.T) {
	opener := daq.OpenerFunc(func(context.Context, daq.Criteria) (daq.Device, error) {
		return nil, daq.ErrDeviceNotFound
	})
	_, err := InjectDetect(context.Background(), opener, testConfig(), ramp(200), nil)
	var de *daq.DeviceError
	if !errors.As(err, &de) || !errors.Is(err, daq.ErrDeviceNotFound) {
		t.Fatalf("error = %v, want *daq.DeviceError wrapping ErrDeviceNotFound", err)
	}
}

func TestDriverRunsOnce(t *testing.T) {
	dev := newFakeDevice(100, 100)
	d, err := NewDriver(dev.opener(), testConfig(), nil)
	if err != nil {
		t.Fatalf("NewDriver returned error: %v", err)
	}
	if _, err := d.Run(context.Background(), ramp(200)); err != nil {
		t.Fatalf("first Run returned error: %v", err)
	}
	if _, err := d.Run(context.Background(), ramp(200)); !errors.Is(err, ErrDriverUsed) {
		t.Fatalf("second Run error = %v, want ErrDriverUsed", err)
	}
}

func TestNewDriverValidatesConfig(t *testing.T) {
	mutate := []struct {
		name string
		fn   func(*RunConfig)
	}{
		{"no inputs", func(c *RunConfig) { c.InNames = nil }},
		{"unknown input", func(c *RunConfig) { c.InNames = []string{"AIN999"} }},
		{"no outputs", func(c *RunConfig) { c.Outputs = nil }},
		{"duplicate stream-out", func(c *RunConfig) { c.Outputs = append(c.Outputs, c.Outputs[0]) }},
		{"zero scan rate", func(c *RunConfig) { c.ScanRateHz = 0 }},
		{"negative polls", func(c *RunConfig) { c.MaxPolls = -1 }},
		{"bad policy", func(c *RunConfig) { c.SyncPolicy = SyncPolicy(9) }},
		{"mixed state sizes", func(c *RunConfig) {
			c.Outputs = append(c.Outputs, OutputChannel{Target: "DAC1", BufferNumBytes: 200, StreamOutIndex: 1})
		}},
	}
	for _, tc := range mutate {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.fn(&cfg)
			_, err := NewDriver(newFakeDevice(0, 0).opener(), cfg, nil)
			var ce *daq.ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("error = %v, want *daq.ConfigError", err)
			}
		})
	}
}

func TestDriverSimLoopback(t *testing.T) {
	sim := daq.NewSimDevice(daq.DeviceInfo{Name: "sim", DeviceType: daq.DeviceTypeT7, SerialNumber: 470010001})
	cfg := DefaultRunConfig() // DAC0, 512 bytes: state size 128
	cfg.MaxPolls = 4
	signal := ramp(1280)

	res, err := InjectDetect(context.Background(), daq.NewSimOpener(sim), cfg, signal, nil)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(res.Signal) != len(signal) {
		t.Fatalf("detection length = %d, want %d", len(res.Signal), len(signal))
	}
	for i := range signal {
		if res.Signal[i] != signal[i] {
			t.Fatalf("detection[%d] = %g, want %g", i, res.Signal[i], signal[i])
		}
	}
	if sim.LoopsCommitted(0) != 11 {
		t.Fatalf("loops committed = %d, want 11", sim.LoopsCommitted(0))
	}
	if !sim.Closed() || sim.Streaming() {
		t.Fatalf("sim left open or streaming")
	}
	calls := sim.Calls()
	if calls.StreamRead != 10 || calls.Close != 1 {
		t.Fatalf("reads = %d, closes = %d, want 10 and 1", calls.StreamRead, calls.Close)
	}
}

func TestDriverSimStall(t *testing.T) {
	sim := daq.NewSimDevice(daq.DeviceInfo{Name: "sim", DeviceType: daq.DeviceTypeT7})
	sim.OnBufferStatus = func(int, float64) float64 { return 0 }
	cfg := DefaultRunConfig()
	cfg.MaxPolls = 25

	_, err := InjectDetect(context.Background(), daq.NewSimOpener(sim), cfg, ramp(1280), nil)
	var stall *daq.StallError
	if !errors.As(err, &stall) {
		t.Fatalf("error = %v, want *daq.StallError", err)
	}
	if sim.Calls().Close != 1 {
		t.Fatalf("close called %d times, want 1", sim.Calls().Close)
	}
}

func TestDriverRejectsMixedStateSizesBeforeOpen(t *testing.T) {
	sim := daq.NewSimDevice(daq.DeviceInfo{Name: "sim", DeviceType: daq.DeviceTypeT7})
	opener := daq.NewSimOpener(sim)
	cfg := DefaultRunConfig()
	cfg.Outputs = []OutputChannel{
		{Target: "DAC0", BufferNumBytes: 512, SetLoop: 3},
		{Target: "DAC1", BufferNumBytes: 256, StreamOutIndex: 1, SetLoop: 3},
	}

	_, err := InjectDetect(context.Background(), opener, cfg, ramp(1280), nil)
	var ce *daq.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want *daq.ConfigError", err)
	}
	if ce.Field != "outputs[1].buffer_num_bytes" {
		t.Fatalf("field = %q, want outputs[1].buffer_num_bytes", ce.Field)
	}
	if opener.Opens() != 0 {
		t.Fatalf("device opened %d times, want 0", opener.Opens())
	}
}

func TestDriverSimTwoOutputs(t *testing.T) {
	for _, policy := range []SyncPolicy{SyncAny, SyncAll} {
		t.Run(policy.String(), func(t *testing.T) {
			sim := daq.NewSimDevice(daq.DeviceInfo{Name: "sim", DeviceType: daq.DeviceTypeT7})
			cfg := DefaultRunConfig()
			cfg.MaxPolls = 4
			cfg.SyncPolicy = policy
			cfg.Outputs = []OutputChannel{
				{Target: "DAC0", BufferNumBytes: 512, SetLoop: 3},
				{Target: "DAC1", BufferNumBytes: 512, StreamOutIndex: 1, SetLoop: 3},
			}
			signal := ramp(1280)

			res, err := InjectDetect(context.Background(), daq.NewSimOpener(sim), cfg, signal, nil)
			if err != nil {
				t.Fatalf("Run returned error: %v", err)
			}
			if len(res.Signal) != len(signal) {
				t.Fatalf("detection length = %d, want %d", len(res.Signal), len(signal))
			}
			// AIN0 reads back the sum of both outputs.
			for i := range signal {
				if res.Signal[i] != 2*signal[i] {
					t.Fatalf("detection[%d] = %g, want %g", i, res.Signal[i], 2*signal[i])
				}
			}
			if sim.LoopsCommitted(0) != 11 || sim.LoopsCommitted(1) != 11 {
				t.Fatalf("loops committed = %d/%d, want 11/11", sim.LoopsCommitted(0), sim.LoopsCommitted(1))
			}
		})
	}
}

func TestDriverLogsOneComponentPerRecord(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	dev := newFakeDevice(100, 100)

	if _, err := InjectDetect(context.Background(), dev.opener(), testConfig(), make([]float64, 300), log); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	seen := map[string]bool{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if n := strings.Count(line, `"component":`); n != 1 {
			t.Fatalf("record has %d component keys: %s", n, line)
		}
		for _, c := range []string{"driver", "scheduler", "reader"} {
			if strings.Contains(line, `"component":"`+c+`"`) {
				seen[c] = true
			}
		}
	}
	for _, c := range []string{"driver", "scheduler", "reader"} {
		if !seen[c] {
			t.Errorf("no records from %s", c)
		}
	}
}
