// Package logging builds the process-wide slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

const (
	// EnvFormat controls the output handler format for structured logs.
	EnvFormat = "LOG_FORMAT"
	// EnvLevel controls the minimum severity level for structured logs.
	EnvLevel = "LOG_LEVEL"
	// EnvAddSource adds file:line to every record when set to 1.
	EnvAddSource = "LOG_ADD_SOURCE"

	appName       = "opsdash"
	defaultFormat = "json"
	defaultLevel  = "info"
	redacted      = "[REDACTED]"
)

// sensitiveKeys are attribute keys whose values never reach the log output.
// Matching is by suffix so that "fivetran_api_secret" and "db_password" are
// both caught.
var sensitiveKeys = []string{"password", "secret", "token", "api_key", "apikey", "authorization"}

// Config is the validated logging configuration derived from environment variables.
type Config struct {
	Format    string
	Level     slog.Level
	AddSource bool
}

// BootstrapOptions controls logger initialization behavior.
type BootstrapOptions struct {
	Command string
	Writer  io.Writer
}

// DefaultConfig returns the default structured logging configuration.
func DefaultConfig() Config {
	return Config{
		Format: defaultFormat,
		Level:  slog.LevelInfo,
	}
}

// LoadConfigFromEnv parses and validates logging environment variables.
func LoadConfigFromEnv() (Config, error) {
	format, err := parseFormat(os.Getenv(EnvFormat))
	if err != nil {
		return Config{}, err
	}
	level, err := parseLevel(os.Getenv(EnvLevel))
	if err != nil {
		return Config{}, err
	}
	return Config{
		Format:    format,
		Level:     level,
		AddSource: strings.TrimSpace(os.Getenv(EnvAddSource)) == "1",
	}, nil
}

// NewLogger creates a structured logger tagged with the app and command name.
// Credential-bearing attributes are masked.
func NewLogger(cfg Config, writer io.Writer, command string) *slog.Logger {
	if writer == nil {
		writer = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:       cfg.Level,
		AddSource:   cfg.AddSource,
		ReplaceAttr: redact,
	}
	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "text":
		handler = slog.NewTextHandler(writer, opts)
	default:
		handler = slog.NewJSONHandler(writer, opts)
	}

	command = strings.TrimSpace(command)
	if command == "" {
		command = appName
	}
	return slog.New(handler).With("app", appName, "command", command)
}

// BootstrapFromEnv loads logging config from env, installs the default logger, and returns it.
func BootstrapFromEnv(opts BootstrapOptions) (*slog.Logger, error) {
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	logger := NewLogger(cfg, opts.Writer, opts.Command)
	slog.SetDefault(logger)
	return logger, nil
}

func redact(_ []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, s := range sensitiveKeys {
		if strings.HasSuffix(key, s) {
			return slog.String(a.Key, redacted)
		}
	}
	return a
}

func parseFormat(raw string) (string, error) {
	switch format := strings.ToLower(strings.TrimSpace(raw)); format {
	case "":
		return defaultFormat, nil
	case "json", "text":
		return format, nil
	}
	return "", fmt.Errorf("%s must be one of: json, text", EnvFormat)
}

// parseLevel accepts the slog level names plus "warning".
func parseLevel(raw string) (slog.Level, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	switch name {
	case "":
		name = defaultLevel
	case "warning":
		name = "warn"
	}
	var level slog.Level
	if strings.ContainsAny(name, "+-") || level.UnmarshalText([]byte(name)) != nil {
		return 0, fmt.Errorf("%s must be one of: debug, info, warn, error", EnvLevel)
	}
	return level, nil
}
