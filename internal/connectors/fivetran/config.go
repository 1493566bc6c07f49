package fivetran

import (
	"strings"

	"github.com/open-sspm/opsdash/internal/connectors/credentials"
)

const (
	Kind           = "fivetran"
	DefaultBaseURL = "https://api.fivetran.com/v1/"
)

// Config holds the configuration for the Fivetran connector.
type Config struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	BaseURL   string `json:"base_url"`
}

var fields = []credentials.Field{
	{Name: "api_key", Env: "FIVETRAN_API_KEY", Required: true},
	{Name: "api_secret", Env: "FIVETRAN_API_SECRET", Required: true},
	{Name: "base_url", Env: "FIVETRAN_BASE_URL", Default: DefaultBaseURL},
}

// LoadConfig fills the unset fields of explicit from lookup and defaults.
func LoadConfig(explicit Config, lookup credentials.Lookup) (Config, error) {
	values, err := credentials.Resolver{Vendor: Kind, Fields: fields, Lookup: lookup}.Resolve(credentials.Explicit(
		"api_key", explicit.APIKey,
		"api_secret", explicit.APISecret,
		"base_url", explicit.BaseURL,
	))
	if err != nil {
		return Config{}, err
	}
	return Config{
		APIKey:    values.String("api_key"),
		APISecret: values.String("api_secret"),
		BaseURL:   values.String("base_url"),
	}.Normalized(), nil
}

// Normalized returns a copy of the config with trimmed whitespace and defaults applied.
func (c Config) Normalized() Config {
	out := c
	out.APIKey = strings.TrimSpace(out.APIKey)
	out.APISecret = strings.TrimSpace(out.APISecret)
	out.BaseURL = strings.TrimSpace(out.BaseURL)
	if out.BaseURL == "" {
		out.BaseURL = DefaultBaseURL
	}
	return out
}
