// Package reveal paces the staged messages shown before a gacha result.
// It is presentation only; results are computed before or after a run and
// never depend on it.
package reveal

import (
	"context"
	"time"

	"hoccoo/internal/config"
)

type Sequencer struct {
	Lines    []string
	Step     time.Duration
	Duration time.Duration
}

func FromConfig(c config.RevealConfig) Sequencer {
	return Sequencer{Lines: c.Lines, Step: c.Step, Duration: c.Duration}
}

// Run emits the first line at once and each following line every Step until
// the lines run out, then waits for Duration to elapse in total. It returns
// early with ctx.Err() if ctx is cancelled.
func (s Sequencer) Run(ctx context.Context, emit func(string)) error {
	if len(s.Lines) == 0 && s.Duration <= 0 {
		return nil
	}
	i := 0
	if len(s.Lines) > 0 {
		emit(s.Lines[0])
		i = 1
	}
	done := time.NewTimer(s.Duration)
	defer done.Stop()
	var tick <-chan time.Time
	if s.Step > 0 && i < len(s.Lines) {
		t := time.NewTicker(s.Step)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done.C:
			return nil
		case <-tick:
			if i < len(s.Lines) {
				emit(s.Lines[i])
				i++
			}
		}
	}
}
