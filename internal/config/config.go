// Package config loads process configuration from the environment, after
// merging an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultHTTPAddr            = ":8000"
	defaultConnectorsCSV       = "connectors.csv"
	defaultHealthCheckInterval = 5 * time.Minute
	defaultMaxUploadBytes      = 10 << 20
	defaultS3Folder            = "uploads"

	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	HTTPAddr    string
	MetricsAddr string
	FrontendURL string

	DatabaseURL string
	Store       string
	SeedSample  bool

	ConnectorsCSV       string
	HealthCheckInterval time.Duration

	MaxUploadBytes int64
	S3Bucket       string
	S3Folder       string

	VaultAddr       string
	VaultToken      string
	VaultSecretPath string
}

type LoadOptions struct {
	RequireDatabaseURL bool
}

func Load() (Config, error) {
	return LoadWithOptions(LoadOptions{})
}

// LoadForMigrations requires DATABASE_URL.
func LoadForMigrations() (Config, error) {
	return LoadWithOptions(LoadOptions{RequireDatabaseURL: true})
}

func LoadWithOptions(opts LoadOptions) (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, err
		}
	}

	cfg := Config{
		HTTPAddr:            getenvDefault("HTTP_ADDR", defaultHTTPAddr),
		MetricsAddr:         getenvDefault("METRICS_ADDR", "off"),
		FrontendURL:         strings.TrimRight(strings.TrimSpace(os.Getenv("FRONTEND_URL")), "/"),
		DatabaseURL:         strings.TrimSpace(os.Getenv("DATABASE_URL")),
		Store:               strings.ToLower(strings.TrimSpace(os.Getenv("STORE"))),
		SeedSample:          getenvBoolDefault("SEED_SAMPLE_DATA", true),
		ConnectorsCSV:       getenvDefault("CONNECTORS_CSV", defaultConnectorsCSV),
		HealthCheckInterval: defaultHealthCheckInterval,
		MaxUploadBytes:      int64(getenvIntDefault("MAX_UPLOAD_BYTES", defaultMaxUploadBytes)),
		S3Bucket:            strings.TrimSpace(os.Getenv("S3_BUCKET")),
		S3Folder:            strings.Trim(getenvDefault("S3_FOLDER", defaultS3Folder), "/"),
		VaultAddr:           strings.TrimSpace(os.Getenv("VAULT_ADDR")),
		VaultToken:          strings.TrimSpace(os.Getenv("VAULT_TOKEN")),
		VaultSecretPath:     strings.Trim(strings.TrimSpace(os.Getenv("VAULT_SECRET_PATH")), "/"),
	}

	// Zero disables the background health checks.
	if v := strings.TrimSpace(os.Getenv("HEALTH_CHECK_INTERVAL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return cfg, fmt.Errorf("HEALTH_CHECK_INTERVAL: invalid duration %q", v)
		}
		cfg.HealthCheckInterval = d
	}

	switch cfg.Store {
	case "":
		cfg.Store = StoreMemory
		if cfg.DatabaseURL != "" {
			cfg.Store = StorePostgres
		}
	case StoreMemory:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return cfg, errors.New("STORE=postgres requires DATABASE_URL")
		}
	default:
		return cfg, fmt.Errorf("STORE must be one of: %s, %s", StoreMemory, StorePostgres)
	}

	if opts.RequireDatabaseURL && cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}
	if cfg.VaultSecretPath != "" && cfg.VaultAddr == "" {
		return cfg, errors.New("VAULT_SECRET_PATH requires VAULT_ADDR")
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	return n
}

func getenvBoolDefault(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true":
		return true
	case "0", "false":
		return false
	default:
		return def
	}
}
