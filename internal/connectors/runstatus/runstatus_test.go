package runstatus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/open-sspm/opsdash/internal/connectors/connerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTablesProduceExclusiveTerminalFlags(t *testing.T) {
	tables := []Table{DBTCloud, Fivetran, Fabric, Glue, Snowflake}
	for _, table := range tables {
		for raw := range table.entries {
			s := table.Normalize(Record{ID: "r", RawStatus: raw})
			set := 0
			for _, b := range []bool{s.IsSuccess, s.IsError, s.IsCancelled} {
				if b {
					set++
				}
			}
			if s.IsComplete {
				assert.Equalf(t, 1, set, "%s %q", table.Vendor(), raw)
			} else {
				assert.Zerof(t, set, "%s %q", table.Vendor(), raw)
			}
		}
	}
}

func TestNormalizeUnknownStatusIsIncomplete(t *testing.T) {
	s := Fabric.Normalize(Record{ID: "job-1", RawStatus: "Hibernating"})
	assert.False(t, s.IsComplete)
	assert.False(t, s.IsSuccess || s.IsError || s.IsCancelled)
	assert.Equal(t, "Hibernating", s.RawStatus)
	assert.Equal(t, Pending, s.Outcome())
}

func TestNormalizeIsCaseInsensitive(t *testing.T) {
	s := Glue.Normalize(Record{RawStatus: "succeeded"})
	assert.True(t, s.IsSuccess)
	s = Fabric.Normalize(Record{RawStatus: "FAILED", ErrorMessage: " boom "})
	assert.True(t, s.IsError)
	assert.Equal(t, "boom", s.ErrorMessage)
}

func TestDBTCloudStatusCodes(t *testing.T) {
	cases := map[string]Outcome{"1": Pending, "2": Pending, "3": Pending, "10": Succeeded, "20": Failed, "30": Cancelled}
	for raw, want := range cases {
		assert.Equal(t, want, DBTCloud.Normalize(Record{RawStatus: raw}).Outcome(), raw)
	}
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.now = c.now.Add(d)
	return nil
}

func TestWaitZeroTimeoutNeverPollsTwice(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	queries := 0
	p := Poller{
		Vendor: "dbt_cloud",
		Now:    clock.Now,
		Sleep:  clock.Sleep,
		Status: func(context.Context, string) (RunStatus, error) {
			queries++
			return DBTCloud.Normalize(Record{RawStatus: "3"}), nil
		},
	}

	_, err := p.Wait(context.Background(), "77", 0, time.Second)
	var timeout *connerr.PollingTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "77", timeout.ResourceID)
	assert.LessOrEqual(t, queries, 1)
}

func TestWaitReturnsAfterRunningThenSuccess(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	responses := []string{"3", "3", "3", "10"}
	queries := 0
	p := Poller{
		Vendor: "dbt_cloud",
		Now:    clock.Now,
		Sleep:  clock.Sleep,
		Status: func(_ context.Context, id string) (RunStatus, error) {
			raw := responses[queries]
			queries++
			return DBTCloud.Normalize(Record{ID: id, RawStatus: raw}), nil
		},
	}

	s, err := p.Wait(context.Background(), "101", 5*time.Second, time.Second)
	require.NoError(t, err)
	assert.True(t, s.IsSuccess)
	assert.Equal(t, 4, queries)
}

func TestWaitTimesOutWithElapsed(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	queries := 0
	p := Poller{
		Vendor: "fivetran",
		Now:    clock.Now,
		Sleep:  clock.Sleep,
		Status: func(context.Context, string) (RunStatus, error) {
			queries++
			return RunStatus{RawStatus: "syncing"}, nil
		},
	}

	_, err := p.Wait(context.Background(), "conn_1", 3*time.Second, time.Second)
	var timeout *connerr.PollingTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, 3*time.Second, timeout.Elapsed)
	assert.Equal(t, "syncing", timeout.LastStatus)
	assert.Equal(t, 3, queries)
}

func TestWaitHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	queries := 0
	p := Poller{
		Vendor: "fabric",
		Status: func(context.Context, string) (RunStatus, error) {
			queries++
			cancel()
			return RunStatus{RawStatus: "InProgress"}, nil
		},
	}

	_, err := p.Wait(ctx, "job", time.Minute, 10*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, connerr.ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, queries)
}

func TestWaitPropagatesStatusErrors(t *testing.T) {
	boom := errors.New("boom")
	p := Poller{Vendor: "aws_glue", Status: func(context.Context, string) (RunStatus, error) {
		return RunStatus{}, boom
	}}
	_, err := p.Wait(context.Background(), "jr_1", time.Minute, time.Second)
	assert.ErrorIs(t, err, boom)
}

func TestWaitRejectsNonPositiveInterval(t *testing.T) {
	queries := 0
	p := Poller{Vendor: "dbt_cloud", Status: func(context.Context, string) (RunStatus, error) {
		queries++
		return RunStatus{RawStatus: "Running"}, nil
	}}
	for _, interval := range []time.Duration{0, -time.Second} {
		_, err := p.Wait(context.Background(), "42", time.Minute, interval)
		var cfgErr *connerr.ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Contains(t, cfgErr.Invalid, "poll_interval")
	}
	assert.Zero(t, queries)
}
