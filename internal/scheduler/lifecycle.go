package scheduler

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/alanyoungcy/xarb/internal/config"
	"github.com/alanyoungcy/xarb/internal/state"
)

const shutdownTimeout = 30 * time.Second

// restore rehydrates the controllers from the state file, if any.
func (s *Scheduler) restore() {
	if s.files == nil {
		return
	}
	snap, err := s.files.ReadState()
	if err != nil {
		s.logger.Error("scheduler: cannot read state file", slog.String("error", err.Error()))
	}
	if len(snap) == 0 {
		return
	}
	for _, c := range s.controllers {
		vs, ok := snap[c.Name()]
		if !ok {
			continue
		}
		if err := c.Restore(vs); err != nil {
			s.logger.Error("scheduler: state restore incomplete",
				slog.String("venue", c.Name()),
				slog.String("error", err.Error()),
			)
		}
	}
	s.logger.Info("scheduler: session restored", slog.Int("venues", len(snap)))
}

// readTarget applies a pending target file.
func (s *Scheduler) readTarget() {
	if s.files == nil {
		return
	}
	t, err := s.files.ReadTarget()
	if err != nil {
		s.logger.Error("scheduler: cannot read target file", slog.String("error", err.Error()))
		return
	}
	if t == nil {
		return
	}
	next := s.params.Update(t.Apply)
	if t.MinProfit != nil {
		s.logger.Info("scheduler: new target", slog.String("min_profit_pct", formatPct(next.MinProfit)))
	}
	if t.Exclude != nil {
		s.logger.Info("scheduler: blacklisted venues", slog.Any("venues", next.Blacklist))
	}
}

func formatPct(frac float64) string {
	return strconv.FormatFloat(frac*100, 'g', 4, 64)
}

// snapshot captures the session of every venue.
func (s *Scheduler) snapshot() state.Snapshot {
	snap := make(state.Snapshot, len(s.controllers))
	for _, c := range s.controllers {
		snap[c.Name()] = c.Persist()
	}
	return snap
}

// halt dumps the crash file, raises the alerts and shuts the venues down.
func (s *Scheduler) halt(ctx context.Context, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	s.logger.ErrorContext(ctx, "scheduler: stopped due to a critical error", slog.String("error", cause.Error()))
	s.metrics.ObserveFatal()
	if s.files != nil {
		report := state.CrashReport{Error: cause.Error(), State: s.snapshot()}
		if err := s.files.WriteCrash(ctx, report); err != nil {
			s.logger.ErrorContext(ctx, "scheduler: cannot write crash file", slog.String("error", err.Error()))
		}
	}
	s.auditEvent(ctx, "fatal", map[string]any{"error": cause.Error(), "tick": s.tick})
	s.notify(ctx, config.EventFatal, "Trading halted", cause.Error())
	s.shutdown(ctx)
	s.publishStatus()
}

// stop saves the session for the next start and shuts the venues down.
func (s *Scheduler) stop(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if s.files != nil {
		if err := s.files.WriteState(s.snapshot()); err != nil {
			s.logger.ErrorContext(ctx, "scheduler: cannot save session", slog.String("error", err.Error()))
		}
	}
	s.shutdown(ctx)
	s.logger.InfoContext(ctx, "scheduler: stopped")
}

func (s *Scheduler) shutdown(ctx context.Context) {
	p := pool.New().WithMaxGoroutines(s.workers)
	for _, c := range s.controllers {
		p.Go(func() { c.Shutdown(ctx) })
	}
	p.Wait()
}
