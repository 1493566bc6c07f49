package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/open-sspm/opsdash/internal/config"
	"github.com/open-sspm/opsdash/internal/connectors/connerr"
	"github.com/open-sspm/opsdash/internal/store"
)

func newTestContext(target string) (*echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	e.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestRenderErrorDoesNotLeakError(t *testing.T) {
	c, rec := newTestContext("http://example.com/test")
	c.Set(ContextKeyRequestID, "req-123")

	h := &Handlers{}
	if err := h.RenderError(c, errors.New("db password=secret")); err != nil {
		t.Fatalf("RenderError: %v", err)
	}

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d want %d", rec.Code, http.StatusInternalServerError)
	}
	body := rec.Body.String()
	if strings.Contains(body, "secret") {
		t.Fatalf("response leaked error: %q", body)
	}
	if !strings.Contains(body, "Reference: req-123") {
		t.Fatalf("response missing reference: %q", body)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantDetail string
	}{
		{"api error", badRequest("limit must be between %d and %d", 1, 1000), http.StatusBadRequest, "limit must be between 1 and 1000"},
		{"not found", fmt.Errorf("get alert: %w", store.ErrNotFound), http.StatusNotFound, "Not found"},
		{"auth", &connerr.AuthenticationError{Vendor: "dbt_cloud", Err: errors.New("token abc")}, http.StatusBadGateway, "dbt_cloud rejected the configured credentials"},
		{"remote 404", &connerr.RemoteRequestError{Vendor: "fivetran", StatusCode: 404, Body: "missing"}, http.StatusNotFound, "Not found"},
		{"remote 500", &connerr.RemoteRequestError{Vendor: "fivetran", StatusCode: 500, Body: "stack trace"}, http.StatusBadGateway, "fivetran request failed"},
		{"remote no vendor", &connerr.RemoteRequestError{StatusCode: 503}, http.StatusBadGateway, "Upstream service request failed"},
		{"cancelled", context.Canceled, http.StatusServiceUnavailable, "Request cancelled"},
		{"deadline", fmt.Errorf("wait: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, "Request timed out"},
		{"internal", errors.New("boom"), 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, detail := StatusFor(tt.err)
			if status != tt.wantStatus || detail != tt.wantDetail {
				t.Fatalf("StatusFor(%v) = %d %q, want %d %q", tt.err, status, detail, tt.wantStatus, tt.wantDetail)
			}
		})
	}
}

func TestQueryDuration(t *testing.T) {
	tests := []struct {
		query   string
		want    time.Duration
		wantErr bool
	}{
		{"", 10 * time.Second, false},
		{"?poll_interval=2.5", 2500 * time.Millisecond, false},
		{"?poll_interval=90s", 90 * time.Second, false},
		{"?poll_interval=0", 0, true},
		{"?poll_interval=-1m", 0, true},
		{"?poll_interval=soon", 0, true},
	}
	for _, tt := range tests {
		c, _ := newTestContext("http://example.com/x" + tt.query)
		got, err := queryDuration(c, "poll_interval", 10*time.Second)
		if (err != nil) != tt.wantErr {
			t.Fatalf("%q: err=%v wantErr=%v", tt.query, err, tt.wantErr)
		}
		if !tt.wantErr && got != tt.want {
			t.Fatalf("%q: got %s want %s", tt.query, got, tt.want)
		}
	}
}

func TestParseWaitCapsTimeout(t *testing.T) {
	c, _ := newTestContext("http://example.com/x?wait=true&timeout=7h")
	if _, err := parseWait(c); err == nil {
		t.Fatal("expected timeout above the cap to be rejected")
	}

	c, _ = newTestContext("http://example.com/x?wait=1")
	wp, err := parseWait(c)
	if err != nil {
		t.Fatalf("parseWait: %v", err)
	}
	if !wp.wait || wp.timeout != defaultWaitTimeout {
		t.Fatalf("got %+v", wp)
	}
}

func TestBindReportsValidationFields(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/alerts", strings.NewReader(`{"title":"","severity":"loud"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	h := New(config.Config{}, store.NewMemory(), nil, nil)
	var in store.NewAlert
	err := h.bind(c, &in)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 APIError, got %v", err)
	}
	if !strings.Contains(apiErr.Detail, "Title") || !strings.Contains(apiErr.Detail, "Severity") {
		t.Fatalf("detail missing fields: %q", apiErr.Detail)
	}
}
