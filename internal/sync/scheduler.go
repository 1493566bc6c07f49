package sync

import (
	"context"
	"log/slog"
	"time"
)

type Scheduler struct {
	Name     string
	Runner   Runner
	Interval time.Duration
}

func (s *Scheduler) Run(ctx context.Context) {
	if s.Runner == nil || s.Interval <= 0 {
		return
	}
	name := s.Name
	if name == "" {
		name = "background pass"
	}

	// Run immediately at startup.
	s.runOnce(ctx, "initial "+name)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, "scheduled "+name)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, what string) {
	err := s.Runner.RunOnce(ctx)
	switch {
	case err == nil:
	case isIdle(err):
		slog.Debug(what+" skipped", "reason", err)
	case ctx.Err() != nil:
	default:
		slog.Error(what+" failed", "err", err)
	}
}
