package stream

import (
	"context"
	"time"

	"github.com/OpenTraceLab/OpenTraceStream/pkg/daq"
)

// Poller repeats a condition check within a bounded budget. At least one of
// MaxPolls and Timeout must be positive.
type Poller struct {
	MaxPolls int           // maximum number of checks; 0 means no count limit
	Timeout  time.Duration // maximum wall-clock time; 0 means no time limit
	Interval time.Duration // pause between checks; 0 busy-polls

	now func() time.Time
}

// PollResult reports how much of the budget a poll used.
type PollResult struct {
	Polls   int
	Elapsed time.Duration
}

func (p Poller) clock() func() time.Time {
	if p.now != nil {
		return p.now
	}
	return time.Now
}

// Until calls cond until it reports true. It returns daq.ErrBudgetExhausted
// when the budget runs out, the context error on cancellation, or the first
// error returned by cond.
func (p Poller) Until(ctx context.Context, cond func(poll int) (bool, error)) (PollResult, error) {
	now := p.clock()
	start := now()
	var res PollResult

	for {
		if err := ctx.Err(); err != nil {
			res.Elapsed = now().Sub(start)
			return res, err
		}

		ok, err := cond(res.Polls)
		res.Polls++
		res.Elapsed = now().Sub(start)
		if err != nil {
			return res, err
		}
		if ok {
			return res, nil
		}

		if p.MaxPolls > 0 && res.Polls >= p.MaxPolls {
			return res, daq.ErrBudgetExhausted
		}
		if p.Timeout > 0 && res.Elapsed >= p.Timeout {
			return res, daq.ErrBudgetExhausted
		}

		if p.Interval > 0 {
			timer := time.NewTimer(p.Interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				res.Elapsed = now().Sub(start)
				return res, ctx.Err()
			case <-timer.C:
			}
		}
	}
}
