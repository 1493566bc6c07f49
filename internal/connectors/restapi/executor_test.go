package restapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/open-sspm/opsdash/internal/connectors/connerr"
	"github.com/open-sspm/opsdash/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func newTestExecutor(t *testing.T, baseURL string) *Executor {
	t.Helper()
	e, err := New(Options{
		Vendor:  "dbt_cloud",
		BaseURL: baseURL,
		Auth: func(_ context.Context, req *http.Request) error {
			req.Header.Set("Authorization", "Token secret")
			return nil
		},
	})
	require.NoError(t, err)
	return e
}

func TestDoRejectsUnsupportedVerbWithoutIO(t *testing.T) {
	var calls int32
	e := newTestExecutor(t, "https://example.test/api/v2")
	e.HTTPClient().Transport = roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("unexpected call")
	})

	_, err := e.Execute(context.Background(), "TRACE", "accounts/1/", nil, nil)
	var unsupported *connerr.UnsupportedOperationError
	require.ErrorAs(t, err, &unsupported)
	assert.ErrorIs(t, err, connerr.ErrUnsupportedOperation)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestDoResolvesPathAgainstBaseAndAuthorizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/accounts/7/jobs/", r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("project_id"))
		assert.Equal(t, "Token secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":[{"id":1}]}`)
	}))
	defer srv.Close()

	e := newTestExecutor(t, srv.URL+"/api/v2/")
	resp, err := e.Get(context.Background(), "/accounts/7/jobs/", map[string][]string{"project_id": {"3"}})
	require.NoError(t, err)
	require.Equal(t, KindJSON, resp.Body.Kind())

	var payload struct {
		Data []struct {
			ID int `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, resp.Body.Into(&payload))
	assert.Equal(t, 1, payload.Data[0].ID)
}

func TestDoReturnsRemoteRequestErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"status":{"user_message":"Job not found"}}`)
	}))
	defer srv.Close()

	e := newTestExecutor(t, srv.URL)
	_, err := e.Post(context.Background(), "jobs/9/run/", map[string]string{"cause": "x"})

	var remote *connerr.RemoteRequestError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, http.StatusNotFound, remote.StatusCode)
	assert.Equal(t, "Job not found", remote.Body)
	assert.Contains(t, remote.Target, "/jobs/9/run/")
	assert.Equal(t, http.StatusNotFound, connerr.StatusCode(err))
}

func TestDoMapsUnauthorizedToAuthenticationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestExecutor(t, srv.URL).Get(context.Background(), "accounts/", nil)
	assert.True(t, connerr.IsAuthentication(err))
	assert.Equal(t, http.StatusUnauthorized, connerr.StatusCode(err))
}

func TestDoReturnsRateLimitWithoutRetrying(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"message":"slow down"}`)
	}))
	defer srv.Close()

	limited := metrics.ConnectorRequestsTotal.WithLabelValues("dbt_cloud", http.MethodPost, "rate_limited")
	before := testutil.ToFloat64(limited)

	_, err := newTestExecutor(t, srv.URL).Post(context.Background(), "accounts/1/jobs/42/run/", map[string]string{"cause": "nightly"})

	var remote *connerr.RemoteRequestError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, http.StatusTooManyRequests, remote.StatusCode)
	assert.Equal(t, "slow down", remote.Body)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "a rate-limited trigger must not be resent")
	assert.Equal(t, before+1, testutil.ToFloat64(limited))
}

func TestDoDecodesPlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "plain ok")
	}))
	defer srv.Close()

	resp, err := newTestExecutor(t, srv.URL).Get(context.Background(), "ping", nil)
	require.NoError(t, err)
	assert.Equal(t, KindText, resp.Body.Kind())
	assert.Equal(t, "plain ok", resp.Body.Text())
}

func TestDoWrapsAuthorizerFailure(t *testing.T) {
	e, err := New(Options{
		Vendor:  "fabric",
		BaseURL: "https://example.test/v1",
		Auth: func(context.Context, *http.Request) error {
			return errors.New("token endpoint unreachable")
		},
	})
	require.NoError(t, err)

	_, err = e.Get(context.Background(), "workspaces", nil)
	assert.True(t, connerr.IsAuthentication(err))
}

func TestNewRejectsRelativeBaseURL(t *testing.T) {
	_, err := New(Options{Vendor: "fivetran", BaseURL: "api.fivetran.com"})
	var cfgErr *connerr.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Invalid, "base_url")
}

func TestDecodeFallsBackToText(t *testing.T) {
	assert.Equal(t, KindJSON, Decode([]byte(` {"a":1} `)).Kind())
	assert.Equal(t, KindJSON, Decode([]byte(`[1,2]`)).Kind())
	assert.Equal(t, KindText, Decode([]byte(`{"a":`)).Kind())
	assert.Equal(t, KindText, Decode(nil).Kind())

	d := Decode([]byte("hello"))
	_, ok := d.JSON()
	assert.False(t, ok)
	assert.Equal(t, "hello", d.Value())
	assert.Error(t, d.Into(&struct{}{}))
}

func TestDrainStopsAtCapPreservingOrder(t *testing.T) {
	fetches := 0
	items, err := Drain(context.Background(), 10, func(_ context.Context, token string) (Page[string], error) {
		fetches++
		page := Page[string]{}
		start := 0
		if token != "" {
			fmt.Sscanf(token, "%d", &start)
		}
		for i := start; i < start+10 && i < 25; i++ {
			page.Items = append(page.Items, fmt.Sprintf("obj-%02d", i))
		}
		if start+10 < 25 {
			page.Next = fmt.Sprintf("%d", start+10)
		}
		return page, nil
	})
	require.NoError(t, err)
	require.Len(t, items, 10)
	assert.Equal(t, "obj-00", items[0])
	assert.Equal(t, "obj-09", items[9])
	assert.Equal(t, 1, fetches)
}

func TestDrainUncappedFollowsAllPages(t *testing.T) {
	pages := [][]int{{1, 2}, {3}, {4, 5}}
	items, err := Drain(context.Background(), 0, func(_ context.Context, token string) (Page[int], error) {
		i := 0
		if token != "" {
			i = int(token[0] - '0')
		}
		p := Page[int]{Items: pages[i]}
		if i+1 < len(pages) {
			p.Next = string(rune('0' + i + 1))
		}
		return p, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, items)
}

func TestFormatTimeIsISO8601UTC(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.FixedZone("X", 3600))
	assert.Equal(t, "2024-03-01T11:30:00Z", FormatTime(ts))
	assert.Equal(t, "", FormatOptionalTime(nil))
	assert.True(t, strings.HasSuffix(FormatOptionalTime(&ts), "Z"))
}
