package runstatus

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/open-sspm/opsdash/internal/connectors/connerr"
	"github.com/open-sspm/opsdash/internal/metrics"
)

const DefaultPollInterval = 10 * time.Second

// StatusFunc performs one status read for a remote resource.
type StatusFunc func(ctx context.Context, id string) (RunStatus, error)

// Poller blocks until a remote job completes or the timeout elapses.
type Poller struct {
	Vendor string
	Status StatusFunc

	// Now and Sleep default to the wall clock; tests substitute fakes.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Wait polls id until it completes. The clock is checked before every status
// read, so a read that would start at or after the deadline is never issued and
// the timeout wins. A zero timeout therefore issues no reads at all. Between
// reads it suspends for exactly interval, which must be positive.
func (p Poller) Wait(ctx context.Context, id string, timeout, interval time.Duration) (RunStatus, error) {
	if p.Status == nil {
		return RunStatus{}, errors.New("runstatus: poller has no status function")
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	if interval <= 0 {
		return RunStatus{}, &connerr.ConfigurationError{Vendor: p.Vendor, Invalid: map[string]string{"poll_interval": "must be positive, got " + interval.String()}}
	}

	start := now()
	var last RunStatus
	defer func() {
		metrics.PollDuration.WithLabelValues(p.Vendor).Observe(now().Sub(start).Seconds())
	}()

	for {
		if err := ctx.Err(); err != nil {
			metrics.PollOutcomesTotal.WithLabelValues(p.Vendor, "cancelled_wait").Inc()
			return last, connerr.Cancelled(id, err)
		}
		elapsed := now().Sub(start)
		if elapsed >= timeout {
			metrics.PollOutcomesTotal.WithLabelValues(p.Vendor, "timed_out").Inc()
			return last, &connerr.PollingTimeoutError{
				Vendor:     p.Vendor,
				ResourceID: id,
				Elapsed:    elapsed,
				LastStatus: last.RawStatus,
			}
		}

		metrics.PollIterationsTotal.WithLabelValues(p.Vendor).Inc()
		status, err := p.Status(ctx, id)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				metrics.PollOutcomesTotal.WithLabelValues(p.Vendor, "cancelled_wait").Inc()
				return last, connerr.Cancelled(id, ctxErr)
			}
			metrics.PollOutcomesTotal.WithLabelValues(p.Vendor, "error").Inc()
			return last, err
		}
		last = status
		if status.IsComplete {
			metrics.PollOutcomesTotal.WithLabelValues(p.Vendor, status.Outcome().String()).Inc()
			return status, nil
		}

		slog.Debug("remote job still in progress", "vendor", p.Vendor, "id", id, "status", status.RawStatus, "wait", interval)
		if err := sleep(ctx, interval); err != nil {
			metrics.PollOutcomesTotal.WithLabelValues(p.Vendor, "cancelled_wait").Inc()
			return last, connerr.Cancelled(id, err)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
