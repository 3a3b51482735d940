// Package stream drives a signal injection and detection run: it plays a
// waveform out of a device's stream-out buffers while reading the device's
// analog inputs back in the same hardware stream.
//
// # Overview
//
// The package provides:
//   - OutputChannel and BuildStates: split the waveform into states of half a
//     device buffer each
//   - OutContext: per-channel cursor over those states
//   - Scheduler: waits for buffer space and writes the next state
//   - Reader: accumulates the detection signal and flags skipped samples and
//     backlog
//   - Driver: the Idle -> DeviceOpen -> BuffersInitialized -> Streaming ->
//     Draining -> Closed state machine that owns the device for one run
//
// # Usage
//
//	cfg := stream.DefaultRunConfig()
//	drv, err := stream.NewDriver(opener, cfg, logger)
//	if err != nil {
//		return err
//	}
//	res, err := drv.Run(ctx, signal)
//	if err != nil {
//		return err
//	}
//	fmt.Println(len(res.Signal), res.TotalSkippedScans)
//
// # Double Buffering
//
// A device buffer of N bytes holds N/2 samples. Each state is half of that,
// so one state plays while the next is written. A refill is safe once the
// free space reported by STREAM_OUT#_BUFFER_STATUS reaches half a state.
// Every cycle refills each channel once and then blocks on one stream read,
// so the loop cannot run ahead of the hardware.
//
// # Failure
//
// Waiting for buffer space is bounded by a Poller. When the budget runs out
// the run fails with *daq.StallError. Any error after the device is open
// stops the stream and closes the device before Run returns; a teardown
// failure is reported alongside the original error, never instead of it.
package stream
