package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/OpenTraceLab/OpenTraceStream/internal/config"
	"github.com/OpenTraceLab/OpenTraceStream/internal/logging"
	"github.com/OpenTraceLab/OpenTraceStream/pkg/daq"
	"github.com/OpenTraceLab/OpenTraceStream/pkg/stream"
	"github.com/OpenTraceLab/OpenTraceStream/pkg/waveform"
)

var (
	runSignal     signalFlags
	runBackend    string
	runIdentifier string
	runScanRate   float64
	runSyncPolicy string
	runOut        string
	runSummary    string
)

// simDeviceInfo is what the simulated backend reports: a USB-connected T7.
var simDeviceInfo = daq.DeviceInfo{
	Name:           "T7 simulator",
	DeviceType:     daq.DeviceTypeT7,
	ConnectionType: daq.ConnectionUSB,
	SerialNumber:   470010000,
	MaxBytesPerMB:  64,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Inject a signal and record the detected input",
	Long: `Run loads the injection signal into the stream-out buffers, starts the
stream and reads the inputs back until the whole signal has been played.

The signal length should be a multiple of the first output's state size
(buffer_num_bytes / 4 samples); a trailing partial state is not injected.

Examples:
  # 20 cycles of silence through the simulator
  injdet run --zeros 2560

  # A 10+10 solar-mass inspiral scaled to 1 V around 2.5 V
  injdet run --chirp --mass1 10 --mass2 10 --peak 1 --dc 2.5 --out det.txt

  # A template from a file on real hardware, both outputs synchronized
  injdet run --signal template.txt --backend usb --sync-policy all

  # Write a YAML run summary
  injdet run --zeros 1280 --summary run.yaml`,
	Args: cobra.NoArgs,
	RunE: runInjectDetect,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runSignal.register(runCmd.Flags())
	runCmd.Flags().StringVar(&runBackend, "backend", "", "device backend: sim or usb (overrides device.backend)")
	runCmd.Flags().StringVar(&runIdentifier, "device", "", "device identifier, e.g. a serial number (overrides device.identifier)")
	runCmd.Flags().Float64Var(&runScanRate, "scan-rate", 0, "scan rate in Hz (overrides stream.scan_rate_hz)")
	runCmd.Flags().StringVar(&runSyncPolicy, "sync-policy", "", "refill when any or all outputs have space (overrides stream.sync_policy)")
	runCmd.Flags().StringVarP(&runOut, "out", "o", "", "write the detected signal to this file")
	runCmd.Flags().StringVar(&runSummary, "summary", "", "write a YAML run summary to this file")
}

// applyRunFlags layers run's overrides on top of the config file and
// environment.
func applyRunFlags(cmd *cobra.Command, v *viper.Viper) {
	if cmd != runCmd {
		return
	}
	if runBackend != "" {
		v.Set("device.backend", runBackend)
	}
	if runIdentifier != "" {
		v.Set("device.identifier", runIdentifier)
	}
	if runScanRate != 0 {
		v.Set("stream.scan_rate_hz", runScanRate)
	}
	if runSyncPolicy != "" {
		v.Set("stream.sync_policy", runSyncPolicy)
	}
}

// newOpener returns the opener for the configured backend.
func newOpener(c *config.Config, l *slog.Logger) (daq.Opener, error) {
	switch c.Device.Backend {
	case config.BackendSim:
		dev := c.SimDevice(simDeviceInfo)
		dev.Logger = logging.For(l, logging.ComponentSim)
		return daq.NewSimOpener(dev), nil
	case config.BackendUSB:
		return daq.USBOpener{}, nil
	default:
		return nil, fmt.Errorf("unknown backend: %s (supported: sim, usb)", c.Device.Backend)
	}
}

func runInjectDetect(cmd *cobra.Command, args []string) error {
	rc, err := cfg.RunConfig()
	if err != nil {
		return err
	}
	injection, desc, err := runSignal.build(rc.ScanRateHz)
	if err != nil {
		return err
	}
	opener, err := newOpener(cfg, logger)
	if err != nil {
		return err
	}

	log := logging.For(logger, logging.ComponentCLI)
	log.Info("injecting", "signal", desc, "samples", len(injection), "backend", cfg.Device.Backend)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	res, runErr := stream.InjectDetect(ctx, opener, rc, injection, logger)
	if res == nil {
		return runErr
	}

	if runOut != "" {
		if err := waveform.SaveFile(runOut, res.Signal); err != nil {
			return fmt.Errorf("write detection: %w", err)
		}
		log.Info("wrote detection", "file", runOut, "samples", len(res.Signal))
	}
	if runSummary != "" {
		if err := writeSummary(runSummary, desc, len(injection), res, runErr); err != nil {
			return err
		}
	}

	fmt.Fprintln(cmd.OutOrStdout(), renderResult(desc, len(injection), res, runErr))
	return runErr
}

// runSummaryDoc is the YAML document written by --summary.
type runSummaryDoc struct {
	Signal            string   `yaml:"signal"`
	InjectedSamples   int      `yaml:"injected_samples"`
	DetectedSamples   int      `yaml:"detected_samples"`
	Device            string   `yaml:"device"`
	ScanRateHz        float64  `yaml:"scan_rate_hz"`
	ScansPerRead      int      `yaml:"scans_per_read"`
	Cycles            int      `yaml:"cycles"`
	Iterations        int      `yaml:"iterations"`
	TotalSkippedScans int      `yaml:"total_skipped_scans"`
	Warnings          []string `yaml:"warnings,omitempty"`
	TeardownError     string   `yaml:"teardown_error,omitempty"`
}

func writeSummary(path, desc string, injected int, res *stream.Result, runErr error) error {
	doc := runSummaryDoc{
		Signal:            desc,
		InjectedSamples:   injected,
		DetectedSamples:   len(res.Signal),
		Device:            res.Device.Label(),
		ScanRateHz:        res.ScanRateHz,
		ScansPerRead:      res.ScansPerRead,
		Cycles:            res.NumCycles,
		Iterations:        res.Iterations,
		TotalSkippedScans: res.TotalSkippedScans,
		Warnings:          res.Warnings,
	}
	if runErr != nil {
		doc.TeardownError = runErr.Error()
	}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

const maxWarningsShown = 5

func renderResult(desc string, injected int, res *stream.Result, runErr error) string {
	fields := []field{
		row("Device", "%s", res.Device.Label()),
		row("Signal", "%s (%d samples)", desc, injected),
		row("Scan rate", "%.1f Hz", res.ScanRateHz),
		row("Scans per read", "%d", res.ScansPerRead),
		row("Cycles", "%d/%d", res.Iterations, res.NumCycles),
		row("Detected samples", "%d", len(res.Signal)),
		row("Skipped scans", "%d", res.TotalSkippedScans),
	}

	var notes []string
	if res.TotalSkippedScans == 0 && len(res.Warnings) == 0 {
		notes = append(notes, okStyle.Render("No skipped scans or backlog warnings"))
	}
	limit := min(len(res.Warnings), maxWarningsShown)
	for _, w := range res.Warnings[:limit] {
		notes = append(notes, warningStyle.Render("! "+w))
	}
	if len(res.Warnings) > limit {
		notes = append(notes, warningStyle.Render(fmt.Sprintf("  ... and %d more", len(res.Warnings)-limit)))
	}
	if runErr != nil {
		notes = append(notes, errorStyle.Render("Teardown: "+runErr.Error()))
	}
	return panel("Injection complete", fields, notes...)
}
