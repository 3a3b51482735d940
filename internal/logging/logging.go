// Package logging builds the slog loggers used by injdet.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Component identifies a subsystem in log records.
type Component string

const (
	ComponentCLI       Component = "cli"
	ComponentDriver    Component = "driver"
	ComponentScheduler Component = "scheduler"
	ComponentReader    Component = "reader"
	ComponentSim       Component = "sim"
)

// Format specifies the output format.
type Format int

const (
	FormatText Format = iota // key=value text (default)
	FormatJSON               // one JSON object per record
)

func (f Format) String() string {
	switch f {
	case FormatText:
		return "text"
	case FormatJSON:
		return "json"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// ParseFormat parses "text" or "json".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return 0, fmt.Errorf("logging: unknown format %q (want text or json)", s)
	}
}

// ParseLevel converts debug, info, warn or error (any case) to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "", "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("logging: unknown level %q", s)
	}
}

// Options configures New.
type Options struct {
	Level  slog.Leveler
	Format Format
}

// New creates a logger writing to w.
func New(w io.Writer, opts Options) *slog.Logger {
	level := opts.Level
	if level == nil {
		level = slog.LevelInfo
	}
	hopts := &slog.HandlerOptions{Level: level}
	switch opts.Format {
	case FormatJSON:
		return slog.New(slog.NewJSONHandler(w, hopts))
	default:
		return slog.New(slog.NewTextHandler(w, hopts))
	}
}

// Parse builds a logger from textual level and format settings, as found in
// config files and flags.
func Parse(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	f, err := ParseFormat(format)
	if err != nil {
		return nil, err
	}
	return New(w, Options{Level: lvl, Format: f}), nil
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// For returns a child of l tagged with component c. A nil l yields a
// discarding logger.
func For(l *slog.Logger, c Component) *slog.Logger {
	if l == nil {
		return Discard()
	}
	return l.With("component", string(c))
}
