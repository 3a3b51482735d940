package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/OpenTraceLab/OpenTraceStream/internal/logging"
	"github.com/OpenTraceLab/OpenTraceStream/pkg/daq"
	"github.com/OpenTraceLab/OpenTraceStream/pkg/register"
)

// SyncPolicy decides when a multi-channel refill may proceed. Every channel
// is refilled once per cycle under either policy, so state cursors never
// drift apart.
type SyncPolicy int

const (
	// SyncAny refills once any channel has reached its threshold.
	SyncAny SyncPolicy = iota
	// SyncAll waits until every channel has reached its own threshold.
	SyncAll
)

func (p SyncPolicy) String() string {
	switch p {
	case SyncAny:
		return "any"
	case SyncAll:
		return "all"
	default:
		return fmt.Sprintf("SyncPolicy(%d)", int(p))
	}
}

// ParseSyncPolicy parses "any" or "all".
func ParseSyncPolicy(s string) (SyncPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any":
		return SyncAny, nil
	case "all":
		return SyncAll, nil
	default:
		return 0, &daq.ConfigError{Field: "sync_policy", Reason: fmt.Sprintf("unknown policy %q (want any or all)", s)}
	}
}

// Array writes are limited to one packet: at most 520 bytes including a
// 12-byte header, with each value encoded as 4 bytes.
const (
	maxArrayWriteBytes    = 520
	arrayWriteHeaderBytes = 12
	bytesPerArrayValue    = 4
)

func valuesPerWrite(maxBytesPerMB int) int {
	limit := maxBytesPerMB
	if limit <= 0 || limit > maxArrayWriteBytes {
		limit = maxArrayWriteBytes
	}
	return max(1, (limit-arrayWriteHeaderBytes)/bytesPerArrayValue)
}

// Scheduler pushes output states into device stream-out buffers when they
// have room for one.
type Scheduler struct {
	dev         daq.Device
	contexts    []*OutContext
	poller      Poller
	policy      SyncPolicy
	chunk       int
	statusNames []string
	log         *slog.Logger
}

// NewScheduler creates a scheduler for contexts. maxBytesPerMB is the
// device's packet limit from DeviceInfo.
func NewScheduler(dev daq.Device, contexts []*OutContext, poller Poller, policy SyncPolicy, maxBytesPerMB int, log *slog.Logger) *Scheduler {
	names := make([]string, len(contexts))
	for i, c := range contexts {
		names[i] = c.Names().BufferStatus
	}
	return &Scheduler{
		dev:         dev,
		contexts:    contexts,
		poller:      poller,
		policy:      policy,
		chunk:       valuesPerWrite(maxBytesPerMB),
		statusNames: names,
		log:         logging.For(log, logging.ComponentScheduler),
	}
}

// StatusNames returns the buffer-status registers polled each cycle.
func (s *Scheduler) StatusNames() []string {
	return append([]string(nil), s.statusNames...)
}

// Initialize allocates and enables each stream-out buffer and loads its first
// state.
func (s *Scheduler) Initialize() error {
	for _, c := range s.contexts {
		names := c.Names()
		target, err := register.Lookup(c.Channel().Target)
		if err != nil {
			return &daq.ConfigError{Field: "target", Reason: err.Error()}
		}

		writes := []struct {
			name  string
			value float64
		}{
			{names.Target, float64(target.Address)},
			{names.BufferSize, float64(c.Channel().BufferNumBytes)},
			{names.Enable, 1},
		}
		for _, w := range writes {
			if err := s.dev.WriteName(w.name, w.value); err != nil {
				return &daq.DeviceError{Op: "write " + w.name, Err: err}
			}
		}
		if err := s.Update(c); err != nil {
			return &daq.DeviceError{Op: "initialize " + names.StreamOut, Err: err}
		}
		s.log.Info("stream-out initialized",
			"stream_out", names.StreamOut, "target", c.Channel().Target,
			"state_size", c.StateSize(), "states", c.NumStates(),
			"refill_threshold", c.Threshold())
	}
	return nil
}

// Update writes the context's current state into its device buffer, commits
// it as the next loop and advances the context.
func (s *Scheduler) Update(c *OutContext) error {
	names := c.Names()
	if err := s.dev.WriteName(names.LoopSize, float64(c.StateSize())); err != nil {
		return fmt.Errorf("write %s: %w", names.LoopSize, err)
	}

	state := c.CurrentState()
	for start := 0; start < len(state.Values); start += s.chunk {
		end := min(start+s.chunk, len(state.Values))
		if err := s.dev.WriteNameArray(names.Buffer, state.Values[start:end]); err != nil {
			return fmt.Errorf("write %s[%d:%d]: %w", names.Buffer, start, end, err)
		}
	}

	if err := s.dev.WriteName(names.SetLoop, float64(c.Channel().SetLoop)); err != nil {
		return fmt.Errorf("write %s: %w", names.SetLoop, err)
	}
	s.log.Debug("wrote state", "stream_out", names.StreamOut, "state", state.Name)
	c.Advance()
	return nil
}

// WaitForSpace polls buffer statuses until the sync policy allows a refill.
// It returns the last statuses read, and a *daq.StallError when the poll
// budget runs out.
func (s *Scheduler) WaitForSpace(ctx context.Context) ([]float64, error) {
	var statuses []float64
	res, err := s.poller.Until(ctx, func(poll int) (bool, error) {
		v, err := s.dev.ReadNames(s.statusNames)
		if err != nil {
			return false, &daq.StreamIOError{Op: "read buffer status", Err: err}
		}
		statuses = v
		ready := s.ready(v)
		s.log.Debug("buffer status", "poll", poll, "statuses", v, "ready", ready)
		return ready, nil
	})
	if errors.Is(err, daq.ErrBudgetExhausted) {
		return statuses, &daq.StallError{
			Names:     s.StatusNames(),
			Statuses:  statuses,
			Threshold: s.threshold(),
			Polls:     res.Polls,
			Elapsed:   res.Elapsed,
			Err:       err,
		}
	}
	return statuses, err
}

func (s *Scheduler) ready(statuses []float64) bool {
	if len(statuses) != len(s.contexts) {
		return false
	}
	for i, c := range s.contexts {
		reached := statuses[i] >= c.Threshold()
		if s.policy == SyncAll && !reached {
			return false
		}
		if s.policy == SyncAny && reached {
			return true
		}
	}
	return s.policy == SyncAll
}

func (s *Scheduler) threshold() float64 {
	if len(s.contexts) == 0 {
		return 0
	}
	t := s.contexts[0].Threshold()
	for _, c := range s.contexts[1:] {
		t = min(t, c.Threshold())
	}
	return t
}

// Refill waits for buffer space, then writes the next state of every channel.
func (s *Scheduler) Refill(ctx context.Context) error {
	if _, err := s.WaitForSpace(ctx); err != nil {
		return err
	}
	for _, c := range s.contexts {
		if err := s.Update(c); err != nil {
			return &daq.StreamIOError{Op: "refill " + c.Names().StreamOut, Err: err}
		}
	}
	return nil
}
