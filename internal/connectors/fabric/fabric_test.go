package fabric

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/open-sspm/opsdash/internal/connectors/connerr"
	"github.com/open-sspm/opsdash/internal/connectors/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.now = c.now.Add(d)
	return nil
}

type stub struct {
	mux         *http.ServeMux
	tokenCalls  int32
	rejectToken atomic.Bool
	holdToken   atomic.Bool
}

func newStub(t *testing.T) (*stub, *Client) {
	t.Helper()
	s := &stub{mux: http.NewServeMux()}
	s.mux.HandleFunc("POST /tenant/oauth2/v2.0/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.tokenCalls, 1)
		if s.holdToken.Load() {
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
			return
		}
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, DefaultScope, r.PostForm.Get("scope"))
		w.Header().Set("Content-Type", "application/json")
		if s.rejectToken.Load() {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "token_type": "Bearer", "expires_in": 3600})
	})
	srv := httptest.NewServer(s.mux)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		TenantID:     "tenant",
		ClientID:     "id",
		ClientSecret: "secret",
		WorkspaceID:  "ws1",
		BaseURL:      srv.URL + "/v1/",
		TokenURL:     srv.URL + "/tenant/oauth2/v2.0/token",
	})
	require.NoError(t, err)
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c.Now = clock.Now
	c.Sleep = clock.Sleep
	return s, c
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestLoadConfigDerivesTokenURL(t *testing.T) {
	cfg, err := LoadConfig(Config{ClientSecret: "s"}, credentials.MapLookup(map[string]string{
		"FABRIC_TENANT_ID": "contoso",
		"FABRIC_CLIENT_ID": "app",
	}))
	require.NoError(t, err)
	assert.Equal(t, "https://login.microsoftonline.com/contoso/oauth2/v2.0/token", cfg.TokenURL)
	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Empty(t, cfg.WorkspaceID)
}

func TestLoadConfigMissingFields(t *testing.T) {
	_, err := LoadConfig(Config{}, credentials.MapLookup(nil))
	var cfgErr *connerr.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, []string{"tenant_id", "client_id", "client_secret"}, cfgErr.Missing)
}

func TestWorkspacesFollowsContinuationToken(t *testing.T) {
	s, c := newStub(t)
	s.mux.HandleFunc("GET /v1/workspaces", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		if r.URL.Query().Get("continuationToken") == "" {
			writeJSON(w, map[string]any{"value": []map[string]any{{"id": "ws1", "displayName": "Sales"}}, "continuationToken": "next"})
			return
		}
		writeJSON(w, map[string]any{"value": []map[string]any{{"id": "ws2", "displayName": "Ops"}}})
	})

	ws, err := c.Workspaces(context.Background())
	require.NoError(t, err)
	require.Len(t, ws, 2)
	assert.Equal(t, "Ops", ws[1].DisplayName)
	assert.EqualValues(t, 1, atomic.LoadInt32(&s.tokenCalls))
}

func TestLakehouseTablesReadsDataKey(t *testing.T) {
	s, c := newStub(t)
	s.mux.HandleFunc("GET /v1/workspaces/ws1/lakehouses/lh/tables", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"data": []map[string]any{{"name": "orders", "format": "delta"}}})
	})

	tables, err := c.LakehouseTables(context.Background(), "", "lh")
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "orders", tables[0].Name)
}

func TestRunPipelineAndWait(t *testing.T) {
	s, c := newStub(t)
	var polls int32
	s.mux.HandleFunc("POST /v1/workspaces/ws1/items/pl/jobs/instances", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Pipeline", r.URL.Query().Get("jobType"))
		w.Header().Set("Location", "https://api.fabric.microsoft.com/v1/workspaces/ws1/items/pl/jobs/instances/job-9")
		w.WriteHeader(http.StatusAccepted)
	})
	s.mux.HandleFunc("GET /v1/workspaces/ws1/items/pl/jobs/instances/job-9", func(w http.ResponseWriter, r *http.Request) {
		status := "InProgress"
		if atomic.AddInt32(&polls, 1) == 2 {
			status = "Failed"
		}
		writeJSON(w, map[string]any{
			"id":            "job-9",
			"status":        status,
			"startTimeUtc":  "2024-04-01T08:00:00.123",
			"failureReason": map[string]any{"errorCode": "UserError", "message": "activity failed"},
		})
	})

	ref, err := c.RunPipeline(context.Background(), "", "pl", nil)
	require.NoError(t, err)
	assert.Equal(t, "job-9", ref.JobInstanceID)

	st, err := c.WaitForJobInstance(context.Background(), ref, time.Minute, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, st.IsError)
	assert.Equal(t, "UserError activity failed", st.ErrorMessage)
	require.NotNil(t, st.StartedAt)
	assert.EqualValues(t, 2, atomic.LoadInt32(&polls))
}

func TestTokenFailureIsAuthenticationErrorAndNotCached(t *testing.T) {
	s, c := newStub(t)
	s.mux.HandleFunc("GET /v1/workspaces", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"value": []any{}})
	})

	s.rejectToken.Store(true)
	err := c.Authenticate(context.Background())
	assert.True(t, connerr.IsAuthentication(err))
	assert.False(t, c.ValidateConnection(context.Background()))

	s.rejectToken.Store(false)
	assert.True(t, c.ValidateConnection(context.Background()))
}

func TestWorkspaceRequiredWithoutDefault(t *testing.T) {
	_, c := newStub(t)
	c.cfg.WorkspaceID = ""

	_, err := c.Lakehouses(context.Background(), "")
	var cfgErr *connerr.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, []string{"workspace_id"}, cfgErr.Missing)
}

func TestCloseDropsToken(t *testing.T) {
	s, c := newStub(t)
	require.NoError(t, c.Authenticate(context.Background()))
	require.NoError(t, c.Close())
	require.NoError(t, c.Authenticate(context.Background()))
	assert.EqualValues(t, 2, atomic.LoadInt32(&s.tokenCalls))
}

func TestAuthenticateHonorsCallerContext(t *testing.T) {
	s, c := newStub(t)
	s.holdToken.Store(true)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	started := time.Now()
	err := c.Authenticate(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), 2*time.Second)

	s.holdToken.Store(false)
	require.NoError(t, c.Authenticate(context.Background()))
	require.NoError(t, c.Authenticate(context.Background()))
	assert.EqualValues(t, 2, atomic.LoadInt32(&s.tokenCalls), "the seeded token is reused after a successful fetch")
}
