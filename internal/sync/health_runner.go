package sync

import (
	"context"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/open-sspm/opsdash/internal/connectors/registry"
	"github.com/open-sspm/opsdash/internal/metrics"
	"github.com/open-sspm/opsdash/internal/store"
	"golang.org/x/sync/errgroup"
)

const (
	defaultCheckTimeout = 30 * time.Second
	defaultCheckWorkers = 4
	healthStage         = "health"
)

// HealthRunner validates every configured connector and raises an alert when
// one stops answering. The alert is resolved once the connector recovers.
type HealthRunner struct {
	Connectors *registry.Set
	Store      store.Repository
	Reporter   registry.Reporter
	Timeout    time.Duration
	Workers    int
	Now        func() time.Time

	running gosync.Mutex
	mu      gosync.Mutex
	alerts  map[string]string
}

func NewHealthRunner(conns *registry.Set, repo store.Repository) *HealthRunner {
	return &HealthRunner{Connectors: conns, Store: repo}
}

func (r *HealthRunner) now() time.Time {
	if r.Now == nil {
		return time.Now().UTC()
	}
	return r.Now().UTC()
}

func (r *HealthRunner) report(e registry.Event) {
	if r.Reporter == nil {
		return
	}
	if e.At.IsZero() {
		e.At = r.now()
	}
	r.Reporter.Report(e)
}

// RunOnce runs a scheduled check. Overlapping ticks are skipped.
func (r *HealthRunner) RunOnce(ctx context.Context) error {
	if len(r.Connectors.Configured()) == 0 {
		return ErrNoConfiguredConnectors
	}
	if !r.running.TryLock() {
		return ErrAlreadyRunning
	}
	defer r.running.Unlock()
	r.CheckAll(ctx)
	return ctx.Err()
}

// CheckAll validates every configured connector concurrently and returns the
// health per connector kind.
func (r *HealthRunner) CheckAll(ctx context.Context) map[string]bool {
	states := r.Connectors.Configured()
	results := make([]bool, len(states))

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	workers := r.Workers
	if workers <= 0 {
		workers = defaultCheckWorkers
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, st := range states {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()
			results[i] = st.Connector.ValidateConnection(checkCtx)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]bool, len(states))
	for i, st := range states {
		if ctx.Err() != nil {
			break
		}
		kind := st.Definition.Kind()
		out[kind] = results[i]
		r.record(ctx, st, results[i])
		r.report(registry.Event{Source: kind, Stage: healthStage, Current: int64(i + 1), Total: int64(len(states))})
	}
	r.report(registry.Event{Stage: healthStage, Done: true, Message: fmt.Sprintf("checked %d connectors", len(out))})
	return out
}

func (r *HealthRunner) record(ctx context.Context, st *registry.ConnectorState, healthy bool) {
	kind := st.Definition.Kind()
	at := r.now()
	changed := st.RecordHealth(healthy, at)

	gauge := 0.0
	if healthy {
		gauge = 1
	}
	metrics.ConnectorHealthy.WithLabelValues(kind).Set(gauge)
	metrics.ConnectorLastCheckTimestamp.WithLabelValues(kind).Set(float64(at.Unix()))

	if !changed || r.Store == nil {
		return
	}
	if healthy {
		r.resolveAlert(ctx, kind)
		return
	}
	r.raiseAlert(ctx, st)
}

func (r *HealthRunner) raiseAlert(ctx context.Context, st *registry.ConnectorState) {
	kind := st.Definition.Kind()
	name := st.Definition.DisplayName()
	alert, err := r.Store.CreateAlert(ctx, store.NewAlert{
		Title:    name + " connection failed",
		Message:  fmt.Sprintf("The %s connector did not pass its connection check.", name),
		Severity: store.SeverityCritical,
	})
	if err != nil {
		r.report(registry.Event{Source: kind, Stage: healthStage, Message: "raise alert failed", Err: err})
		return
	}
	r.mu.Lock()
	if r.alerts == nil {
		r.alerts = make(map[string]string)
	}
	r.alerts[kind] = alert.ID
	r.mu.Unlock()
	slog.Warn("connector unhealthy", "connector", kind, "alert_id", alert.ID)
}

func (r *HealthRunner) resolveAlert(ctx context.Context, kind string) {
	r.mu.Lock()
	id, ok := r.alerts[kind]
	delete(r.alerts, kind)
	r.mu.Unlock()
	if !ok {
		return
	}
	inactive := false
	if _, err := r.Store.UpdateAlert(ctx, id, store.AlertPatch{IsActive: &inactive}); err != nil {
		r.report(registry.Event{Source: kind, Stage: healthStage, Message: "resolve alert failed", Err: err})
		return
	}
	slog.Info("connector recovered", "connector", kind, "alert_id", id)
}
