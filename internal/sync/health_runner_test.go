package sync

import (
	"context"
	"errors"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/open-sspm/opsdash/internal/connectors/connerr"
	"github.com/open-sspm/opsdash/internal/connectors/credentials"
	"github.com/open-sspm/opsdash/internal/connectors/registry"
	"github.com/open-sspm/opsdash/internal/connectors/restapi"
	"github.com/open-sspm/opsdash/internal/connectors/runstatus"
	"github.com/open-sspm/opsdash/internal/metrics"
	"github.com/open-sspm/opsdash/internal/store"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type probeConn struct {
	kind    string
	healthy atomic.Bool
	checks  atomic.Int32
}

func (p *probeConn) Kind() string                       { return p.kind }
func (p *probeConn) Authenticate(context.Context) error { return nil }
func (p *probeConn) ValidateConnection(context.Context) bool {
	p.checks.Add(1)
	return p.healthy.Load()
}
func (p *probeConn) NormalizeStatus(rec runstatus.Record) runstatus.RunStatus {
	return runstatus.RunStatus{ID: rec.ID}
}
func (p *probeConn) Close() error { return nil }
func (p *probeConn) Execute(context.Context, string, string, any, url.Values) (restapi.Decoded, error) {
	return restapi.Decoded{}, nil
}

type probeDefinition struct {
	kind string
	conn *probeConn
}

func (d probeDefinition) Kind() string        { return d.kind }
func (d probeDefinition) DisplayName() string { return "Probe " + d.kind }
func (d probeDefinition) Open(context.Context, credentials.Lookup) (registry.Connector, error) {
	if d.conn == nil {
		return nil, &connerr.ConfigurationError{Vendor: d.kind, Missing: []string{"token"}}
	}
	return d.conn, nil
}

func openProbes(t *testing.T, defs ...probeDefinition) *registry.Set {
	t.Helper()
	reg := registry.NewRegistry()
	for _, d := range defs {
		require.NoError(t, reg.Register(d))
	}
	set, err := reg.Open(context.Background(), nil)
	require.NoError(t, err)
	return set
}

type eventLog struct {
	events []registry.Event
}

func (l *eventLog) Report(e registry.Event) { l.events = append(l.events, e) }

func TestHealthRunnerChecksConfiguredConnectors(t *testing.T) {
	up := &probeConn{kind: "probe_up"}
	up.healthy.Store(true)
	down := &probeConn{kind: "probe_down"}
	set := openProbes(t,
		probeDefinition{kind: "probe_up", conn: up},
		probeDefinition{kind: "probe_down", conn: down},
		probeDefinition{kind: "probe_unset"},
	)

	now := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	events := &eventLog{}
	r := NewHealthRunner(set, nil)
	r.Now = func() time.Time { return now }
	r.Reporter = events

	got := r.CheckAll(context.Background())
	assert.Equal(t, map[string]bool{"probe_up": true, "probe_down": false}, got)

	st, ok := set.State("probe_up")
	require.True(t, ok)
	healthy, checked, at := st.Health()
	assert.True(t, healthy)
	assert.True(t, checked)
	assert.Equal(t, now, at)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ConnectorHealthy.WithLabelValues("probe_up")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.ConnectorHealthy.WithLabelValues("probe_down")))
	assert.Equal(t, float64(now.Unix()), testutil.ToFloat64(metrics.ConnectorLastCheckTimestamp.WithLabelValues("probe_down")))

	require.Len(t, events.events, 3)
	assert.True(t, events.events[2].Done)
}

func TestHealthRunnerRaisesAndResolvesAlert(t *testing.T) {
	conn := &probeConn{kind: "probe_flaky"}
	conn.healthy.Store(true)
	set := openProbes(t, probeDefinition{kind: "probe_flaky", conn: conn})
	repo := store.NewMemory()
	r := NewHealthRunner(set, repo)
	ctx := context.Background()

	r.CheckAll(ctx)
	counts, err := repo.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts.Alerts, "a healthy first check raises nothing")

	conn.healthy.Store(false)
	r.CheckAll(ctx)
	r.CheckAll(ctx)
	alerts, err := repo.ListAlerts(ctx, store.AlertFilter{Limit: store.DefaultLimit})
	require.NoError(t, err)
	require.Len(t, alerts, 1, "repeated failures raise a single alert")
	assert.Equal(t, "Probe probe_flaky connection failed", alerts[0].Title)
	assert.Equal(t, store.SeverityCritical, alerts[0].Severity)
	assert.True(t, alerts[0].IsActive)

	conn.healthy.Store(true)
	r.CheckAll(ctx)
	resolved, err := repo.GetAlert(ctx, alerts[0].ID)
	require.NoError(t, err)
	assert.False(t, resolved.IsActive)
	assert.NotNil(t, resolved.ResolvedAt)
}

func TestHealthRunnerRunOnceWithoutConnectors(t *testing.T) {
	r := NewHealthRunner(openProbes(t, probeDefinition{kind: "probe_none"}), nil)
	assert.ErrorIs(t, r.RunOnce(context.Background()), ErrNoConfiguredConnectors)

	var nilSet *registry.Set
	assert.ErrorIs(t, NewHealthRunner(nilSet, nil).RunOnce(context.Background()), ErrNoConfiguredConnectors)
}

func TestHealthRunnerSkipsOverlappingPass(t *testing.T) {
	conn := &probeConn{kind: "probe_busy"}
	r := NewHealthRunner(openProbes(t, probeDefinition{kind: "probe_busy", conn: conn}), nil)

	r.running.Lock()
	err := r.RunOnce(context.Background())
	r.running.Unlock()
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Zero(t, conn.checks.Load())

	require.NoError(t, r.RunOnce(context.Background()))
	assert.Equal(t, int32(1), conn.checks.Load())
}

type countingRunner struct {
	calls atomic.Int32
	err   error
}

func (c *countingRunner) RunOnce(context.Context) error {
	c.calls.Add(1)
	return c.err
}

func TestSchedulerRunsImmediatelyAndOnTicks(t *testing.T) {
	runner := &countingRunner{err: errors.New("transient")}
	s := &Scheduler{Name: "health check", Runner: runner, Interval: 10 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return runner.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}

func TestSchedulerWithoutIntervalIsNoop(t *testing.T) {
	runner := &countingRunner{}
	(&Scheduler{Runner: runner}).Run(context.Background())
	assert.Zero(t, runner.calls.Load())
}
