package config

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"HTTP_ADDR", "METRICS_ADDR", "FRONTEND_URL", "DATABASE_URL", "STORE", "SEED_SAMPLE_DATA",
		"CONNECTORS_CSV", "HEALTH_CHECK_INTERVAL", "MAX_UPLOAD_BYTES", "S3_BUCKET", "S3_FOLDER",
		"VAULT_ADDR", "VAULT_TOKEN", "VAULT_SECRET_PATH",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8000", cfg.HTTPAddr)
	assert.Equal(t, "off", cfg.MetricsAddr)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.True(t, cfg.SeedSample)
	assert.Equal(t, defaultHealthCheckInterval, cfg.HealthCheckInterval)
	assert.Equal(t, int64(defaultMaxUploadBytes), cfg.MaxUploadBytes)
	assert.Equal(t, "uploads", cfg.S3Folder)
}

func TestLoadPicksPostgresWhenDatabaseURLSet(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/opsdash")
	t.Setenv("SEED_SAMPLE_DATA", "0")
	t.Setenv("HEALTH_CHECK_INTERVAL", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StorePostgres, cfg.Store)
	assert.False(t, cfg.SeedSample)
	assert.Equal(t, time.Duration(0), cfg.HealthCheckInterval)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"postgres without url": {"STORE": "postgres"},
		"unknown store":        {"STORE": "sqlite"},
		"bad interval":         {"HEALTH_CHECK_INTERVAL": "soon"},
		"vault without addr":   {"VAULT_SECRET_PATH": "secret/opsdash"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestLoadForMigrationsRequiresDatabaseURL(t *testing.T) {
	clearEnv(t)
	_, err := LoadForMigrations()
	require.Error(t, err)
}

func TestVaultLookupReadsKVv2Secret(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/secret/data/opsdash", r.URL.Path)
		assert.Equal(t, "root-token", r.Header.Get("X-Vault-Token"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"data": map[string]any{
					"DBT_CLOUD_API_KEY": "from-vault",
					"RETRIES":           3,
				},
				"metadata": map[string]any{"version": 1},
			},
		})
	}))
	t.Cleanup(srv.Close)

	lookup, err := VaultLookup(context.Background(), Config{
		VaultAddr:       srv.URL,
		VaultToken:      "root-token",
		VaultSecretPath: "secret/opsdash",
	})
	require.NoError(t, err)
	require.NotNil(t, lookup)

	v, ok := lookup("DBT_CLOUD_API_KEY")
	assert.True(t, ok)
	assert.Equal(t, "from-vault", v)
	_, ok = lookup("RETRIES")
	assert.False(t, ok)
}

func TestVaultLookupDisabledWithoutPath(t *testing.T) {
	lookup, err := VaultLookup(context.Background(), Config{})
	require.NoError(t, err)
	assert.Nil(t, lookup)

	_, err = VaultLookup(context.Background(), Config{VaultAddr: "http://vault", VaultSecretPath: "secret"})
	require.Error(t, err)
}
