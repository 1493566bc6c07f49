package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnabled(t *testing.T) {
	for addr, want := range map[string]bool{
		"":         false,
		"  ":       false,
		"off":      false,
		"Disabled": false,
		"false":    false,
		":9090":    true,
	} {
		assert.Equal(t, want, Enabled(addr), "addr %q", addr)
	}
}

func TestStartServerDisabled(t *testing.T) {
	srv, errCh := StartServer(context.Background(), "off")
	assert.Nil(t, srv)
	assert.Nil(t, errCh)
}

func TestHandlerServesMetricsAndHealth(t *testing.T) {
	ConnectorHealthy.WithLabelValues("metrics_test").Set(1)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `vendor="metrics_test"`)

	rec = httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())
}
