package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceStream/internal/logging"
	"github.com/OpenTraceLab/OpenTraceStream/pkg/waveform"
)

var (
	genSignal signalFlags
	genRate   float64
	genOut    string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write an injection signal to a file",
	Long: `Generate builds an injection signal with the same options as run and writes
it one sample per line, for inspection or later use with run --signal.
The sample rate defaults to stream.scan_rate_hz.

Examples:
  injdet generate --chirp --mass1 10 --mass2 10 --peak 1 --dc 2.5 -o chirp.txt
  injdet generate --sine 50 --samples 4096 --rate 4096
  injdet generate --zeros 512 -o silence.txt`,
	Args: cobra.NoArgs,
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)
	genSignal.register(generateCmd.Flags())
	generateCmd.Flags().Float64Var(&genRate, "rate", 0, "sample rate in Hz (default stream.scan_rate_hz)")
	generateCmd.Flags().StringVarP(&genOut, "out", "o", "", "output file (default stdout)")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	rate := genRate
	if rate <= 0 {
		rate = cfg.Stream.ScanRateHz
	}
	signal, desc, err := genSignal.build(rate)
	if err != nil {
		return err
	}

	if genOut == "" {
		return waveform.Save(cmd.OutOrStdout(), signal)
	}
	if err := waveform.SaveFile(genOut, signal); err != nil {
		return fmt.Errorf("write %s: %w", genOut, err)
	}
	logging.For(logger, logging.ComponentCLI).Info("wrote signal",
		"signal", desc, "samples", len(signal), "rate_hz", rate, "file", genOut)
	return nil
}
