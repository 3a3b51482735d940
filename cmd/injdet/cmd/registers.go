package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceStream/pkg/register"
)

var registersStreamOut int

var registersCmd = &cobra.Command{
	Use:   "registers [name...]",
	Short: "Resolve register names to addresses",
	Long: `Resolve register names to their Modbus addresses and data types, or list the
registers that manage one stream-out channel.

Examples:
  injdet registers AIN0 DAC1 FIO3
  injdet registers STREAM_OUT0_BUFFER_STATUS
  injdet registers --stream-out 1`,
	RunE: runRegisters,
}

func init() {
	rootCmd.AddCommand(registersCmd)
	registersCmd.Flags().IntVar(&registersStreamOut, "stream-out", -1, "list the registers of this stream-out channel")
}

func runRegisters(cmd *cobra.Command, args []string) error {
	names := args
	if registersStreamOut >= 0 {
		so, err := register.NewStreamOutNames(registersStreamOut, "F32")
		if err != nil {
			return err
		}
		names = append(names, so.StreamOut, so.Target, so.BufferSize, so.LoopSize,
			so.SetLoop, so.BufferStatus, so.Enable, so.Buffer)
	}
	if len(names) == 0 {
		return errors.New("no registers given (pass names or --stream-out)")
	}

	out := cmd.OutOrStdout()
	for _, name := range names {
		reg, err := register.Lookup(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%-28s %6d  %s\n", reg.Name, reg.Address, reg.Type)
	}
	return nil
}
