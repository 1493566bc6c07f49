package aws

import (
	"strings"

	"github.com/open-sspm/opsdash/internal/connectors/connerr"
	"github.com/open-sspm/opsdash/internal/connectors/credentials"
)

const (
	Kind          = "aws"
	DefaultRegion = "us-east-1"
)

// Config holds the configuration for the AWS connector. When the access key
// pair is empty the SDK default credential chain is used.
type Config struct {
	Region          string `json:"region"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	SessionToken    string `json:"session_token"`
	Endpoint        string `json:"endpoint"`
}

var fields = []credentials.Field{
	{Name: "region", Env: "AWS_REGION", Default: DefaultRegion},
	{Name: "access_key_id", Env: "AWS_ACCESS_KEY_ID"},
	{Name: "secret_access_key", Env: "AWS_SECRET_ACCESS_KEY"},
	{Name: "session_token", Env: "AWS_SESSION_TOKEN"},
	{Name: "endpoint", Env: "AWS_ENDPOINT_URL"},
}

// LoadConfig fills the unset fields of explicit from lookup and defaults.
func LoadConfig(explicit Config, lookup credentials.Lookup) (Config, error) {
	values, err := credentials.Resolver{Vendor: Kind, Fields: fields, Lookup: lookup}.Resolve(credentials.Explicit(
		"region", explicit.Region,
		"access_key_id", explicit.AccessKeyID,
		"secret_access_key", explicit.SecretAccessKey,
		"session_token", explicit.SessionToken,
		"endpoint", explicit.Endpoint,
	))
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Region:          values.String("region"),
		AccessKeyID:     values.String("access_key_id"),
		SecretAccessKey: values.String("secret_access_key"),
		SessionToken:    values.String("session_token"),
		Endpoint:        values.String("endpoint"),
	}.Normalized()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Normalized returns a copy of the config with trimmed whitespace.
func (c Config) Normalized() Config {
	out := c
	out.Region = strings.TrimSpace(out.Region)
	if out.Region == "" {
		out.Region = DefaultRegion
	}
	out.AccessKeyID = strings.TrimSpace(out.AccessKeyID)
	out.SecretAccessKey = strings.TrimSpace(out.SecretAccessKey)
	out.SessionToken = strings.TrimSpace(out.SessionToken)
	out.Endpoint = strings.TrimRight(strings.TrimSpace(out.Endpoint), "/")
	return out
}

// StaticKeys reports whether an explicit access key pair is configured.
func (c Config) StaticKeys() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// Validate rejects a half-configured access key pair.
func (c Config) Validate() error {
	c = c.Normalized()
	cfgErr := &connerr.ConfigurationError{Vendor: Kind}
	if c.AccessKeyID != "" && c.SecretAccessKey == "" {
		cfgErr.Missing = append(cfgErr.Missing, "secret_access_key")
	}
	if c.SecretAccessKey != "" && c.AccessKeyID == "" {
		cfgErr.Missing = append(cfgErr.Missing, "access_key_id")
	}
	if !cfgErr.Empty() {
		return cfgErr
	}
	return nil
}
