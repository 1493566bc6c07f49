package fivetran

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/open-sspm/opsdash/internal/connectors/connerr"
	"github.com/open-sspm/opsdash/internal/connectors/runstatus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.now = c.now.Add(d)
	return nil
}

func writeData(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"code": "Success", "data": v})
}

func newTestClient(t *testing.T, mux *http.ServeMux) (*Client, *int32) {
	t.Helper()
	var total int32
	mux.HandleFunc("GET /v1/groups", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "key", user)
		assert.Equal(t, "secret", pass)
		writeData(w, map[string]any{"items": []map[string]any{{"id": "g1", "name": "warehouse"}}})
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&total, 1)
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	c, err := New(Config{APIKey: "key", APISecret: "secret", BaseURL: srv.URL + "/v1/"})
	require.NoError(t, err)
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c.Now = clock.Now
	c.Sleep = clock.Sleep
	return c, &total
}

func TestConnectorsFollowsCursorUpToLimit(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/groups/g1/connectors", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "3", r.URL.Query().Get("limit"))
		start := 0
		if cur := r.URL.Query().Get("cursor"); cur != "" {
			fmt.Sscanf(cur, "c%d", &start)
		}
		var items []map[string]any
		for i := start; i < start+3; i++ {
			items = append(items, map[string]any{"id": fmt.Sprintf("conn_%d", i)})
		}
		writeData(w, map[string]any{"items": items, "next_cursor": fmt.Sprintf("c%d", start+3)})
	})
	c, _ := newTestClient(t, mux)

	conns, err := c.Connectors(context.Background(), "g1", 3)
	require.NoError(t, err)
	require.Len(t, conns, 3)
	assert.Equal(t, "conn_0", conns[0].ID)

	// Ask for more than one page.
	mux2 := http.NewServeMux()
	var pages int32
	mux2.HandleFunc("GET /v1/connectors", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&pages, 1)
		next := ""
		if n < 3 {
			next = fmt.Sprintf("p%d", n)
		}
		writeData(w, map[string]any{"items": []map[string]any{{"id": fmt.Sprintf("a%d", n)}, {"id": fmt.Sprintf("b%d", n)}}, "next_cursor": next})
	})
	c2, _ := newTestClient(t, mux2)
	all, err := c2.Connectors(context.Background(), "", 5)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, []string{"a1", "b1", "a2", "b2", "a3"}, []string{all[0].ID, all[1].ID, all[2].ID, all[3].ID, all[4].ID})
}

func TestUpdateScheduleRejectsFrequencyBeforeIO(t *testing.T) {
	c, total := newTestClient(t, http.NewServeMux())

	for _, f := range []int{4, 1441} {
		freq := f
		_, err := c.UpdateSchedule(context.Background(), "conn", ScheduleUpdate{SyncFrequency: &freq})
		var cfgErr *connerr.ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Contains(t, cfgErr.Invalid, "sync_frequency")
	}
	assert.Zero(t, atomic.LoadInt32(total))
}

func TestUpdateScheduleSendsCustomSchedule(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("PATCH /v1/connectors/conn", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "custom_schedule", body["schedule_type"])
		assert.EqualValues(t, 60, body["sync_frequency"])
		assert.Equal(t, true, body["paused"])
		writeData(w, map[string]any{"id": "conn", "sync_frequency": 60, "paused": true})
	})
	c, _ := newTestClient(t, mux)

	freq, paused := 60, true
	conn, err := c.UpdateSchedule(context.Background(), "conn", ScheduleUpdate{SyncFrequency: &freq, Paused: &paused})
	require.NoError(t, err)
	assert.Equal(t, 60, conn.SyncFrequency)
}

func TestConnectorStatusComparesTimestamps(t *testing.T) {
	c, _ := newTestClient(t, http.NewServeMux())

	cases := []struct {
		name  string
		conn  Connector
		want  runstatus.Outcome
		state bool
	}{
		{"syncing", Connector{Status: ConnectorStatus{SyncState: "syncing"}}, runstatus.Pending, false},
		{"rescheduled", Connector{Status: ConnectorStatus{SyncState: "rescheduled"}}, runstatus.Pending, false},
		{"succeeded", Connector{Status: ConnectorStatus{SyncState: "scheduled"}, SucceededAt: "2024-01-02T00:00:00Z", FailedAt: "2024-01-01T00:00:00Z"}, runstatus.Succeeded, true},
		{"failed later", Connector{Status: ConnectorStatus{SyncState: "scheduled"}, SucceededAt: "2024-01-01T00:00:00Z", FailedAt: "2024-01-02T00:00:00Z"}, runstatus.Failed, true},
		{"failed only", Connector{Status: ConnectorStatus{SyncState: "scheduled"}, FailedAt: "2024-01-02T00:00:00Z"}, runstatus.Failed, true},
		{"never synced", Connector{Status: ConnectorStatus{SyncState: "scheduled"}}, runstatus.Pending, false},
		{"paused", Connector{Status: ConnectorStatus{SyncState: "paused"}}, runstatus.Cancelled, true},
		{"unknown", Connector{Status: ConnectorStatus{SyncState: "warming_up"}}, runstatus.Pending, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := c.connectorStatus("conn", tc.conn)
			assert.Equal(t, tc.want, s.Outcome())
			assert.Equal(t, tc.state, s.IsComplete)
		})
	}
}

func TestWaitForSyncCompletion(t *testing.T) {
	var reads int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/connectors/conn/sync", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, nil)
	})
	mux.HandleFunc("GET /v1/connectors/conn", func(w http.ResponseWriter, r *http.Request) {
		state := "syncing"
		if atomic.AddInt32(&reads, 1) >= 3 {
			state = "scheduled"
		}
		writeData(w, map[string]any{
			"id":           "conn",
			"succeeded_at": "2024-06-01T10:00:00.000Z",
			"status":       map[string]any{"sync_state": state},
		})
	})
	c, _ := newTestClient(t, mux)

	require.NoError(t, c.SyncConnector(context.Background(), "conn"))
	s, err := c.WaitForSyncCompletion(context.Background(), "conn", time.Minute, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, s.IsSuccess)
	assert.EqualValues(t, 3, atomic.LoadInt32(&reads))
	require.NotNil(t, s.FinishedAt)
}

func TestAllConnectorStatuses(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/connectors", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, map[string]any{"items": []map[string]any{
			{"id": "a", "schema": "salesforce", "service": "salesforce", "status": map[string]any{"sync_state": "syncing"}},
			{"id": "b", "schema": "stripe", "service": "stripe", "failed_at": "2024-01-01T00:00:00Z", "status": map[string]any{"sync_state": "scheduled"}},
		}})
	})
	c, _ := newTestClient(t, mux)

	statuses, err := c.AllConnectorStatuses(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.False(t, statuses[0].Status.IsComplete)
	assert.True(t, statuses[1].Status.IsError)
	assert.Equal(t, "stripe", statuses[1].Name)
}

func TestValidateConnection(t *testing.T) {
	c, _ := newTestClient(t, http.NewServeMux())
	assert.True(t, c.ValidateConnection(context.Background()))
}
