package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceStream/internal/logging"
	"github.com/OpenTraceLab/OpenTraceStream/pkg/daq"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List available DAQ devices",
	Long: `Scan the USB bus for LabJack T-series devices and print a summary of the
detected hardware. The simulator is always listed so runs can be tried
without a device attached.`,
	Args: cobra.NoArgs,
	RunE: runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func runDevices(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	infos, err := daq.DiscoverDevices(ctx)
	if err != nil {
		// The simulator entry is still usable.
		logging.For(logger, logging.ComponentCLI).Warn("usb discovery failed", "err", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render("Detected devices:"))
	criteria := cfg.Criteria()
	for _, iface := range infos {
		line := fmt.Sprintf("  - %s [%s]", iface.Label(), iface.Kind)
		if iface.Kind == daq.KindUSB {
			line += fmt.Sprintf(" (VID:PID %04X:%04X, serial %s)", iface.VendorID, iface.ProductID, iface.Serial)
		}
		if iface.Kind == daq.KindUSB && iface.Matches(criteria) {
			line += " " + okStyle.Render("matches config")
		}
		fmt.Fprintln(out, line)
	}
	return nil
}
