package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/OpenTraceLab/OpenTraceStream/internal/config"
	"github.com/OpenTraceLab/OpenTraceStream/internal/logging"
)

var (
	// Global flags
	cfgFile   string
	verbose   bool
	logLevel  string
	logFormat string

	// Set by loadConfig before any subcommand runs
	cfg     *config.Config
	cfgUsed string
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "injdet",
	Short: "Inject a waveform into a DAQ output and record the detected signal",
	Long: `injdet streams an injection signal into the looped stream-out buffers
of a LabJack T-series device while reading the analog inputs back, keeping
the output buffers topped up so playback never starves.

Settings come from a YAML config file, INJDET_* environment variables and
flags, in increasing order of precedence.

Examples:
  injdet run --zeros 2560                 # Stream silence through the simulator
  injdet run --chirp --peak 1 --dc 2.5    # Inject an inspiral template
  injdet run --signal template.txt --backend usb
  injdet generate --chirp --peak 1 -o chirp.txt
  injdet devices                          # List connected devices
  injdet registers DAC0 STREAM_OUT0       # Resolve register addresses
  injdet config init                      # Write a default config file`,
	Version:           "0.9.0",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./injdet.yaml or "+config.ConfigFile()+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "report every stream iteration")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json")
}

// newViper returns a viper instance with defaults, environment overrides and
// the config file applied. A missing default config file is not an error.
func newViper() (*viper.Viper, error) {
	v := config.NewViper()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
		return v, nil
	}

	v.SetConfigName("injdet")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	err := v.ReadInConfig()
	if err == nil {
		return v, nil
	}
	var notFound viper.ConfigFileNotFoundError
	if !errors.As(err, &notFound) {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if _, err := os.Stat(config.ConfigFile()); err == nil {
		v.SetConfigFile(config.ConfigFile())
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", config.ConfigFile(), err)
		}
	}
	return v, nil
}

// loadConfig resolves the configuration and logger for the invoked command.
func loadConfig(cmd *cobra.Command, args []string) error {
	v, err := newViper()
	if err != nil {
		return err
	}
	if logLevel != "" {
		v.Set("logging.level", logLevel)
	}
	if logFormat != "" {
		v.Set("logging.format", logFormat)
	}
	if verbose {
		v.Set("stream.verbose", true)
	}
	applyRunFlags(cmd, v)

	c, err := config.Load(v)
	if err != nil {
		return err
	}
	l, err := logging.Parse(cmd.ErrOrStderr(), c.Logging.Level, c.Logging.Format)
	if err != nil {
		return err
	}
	cfg = c
	cfgUsed = v.ConfigFileUsed()
	logger = l
	if cfgUsed != "" {
		logging.For(logger, logging.ComponentCLI).Debug("loaded config", "file", cfgUsed)
	}
	return nil
}
