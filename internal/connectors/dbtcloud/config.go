package dbtcloud

import (
	"strconv"
	"strings"

	"github.com/open-sspm/opsdash/internal/connectors/credentials"
)

const (
	Kind           = "dbt_cloud"
	DefaultBaseURL = "https://cloud.getdbt.com/api/v2/"
)

// Config holds the configuration for the dbt Cloud connector.
type Config struct {
	APIKey    string `json:"api_key"`
	AccountID int64  `json:"account_id"`
	BaseURL   string `json:"base_url"`
}

var fields = []credentials.Field{
	{Name: "api_key", Env: "DBT_CLOUD_API_KEY", Required: true},
	{Name: "account_id", Env: "DBT_CLOUD_ACCOUNT_ID", Required: true, Kind: credentials.KindInt},
	{Name: "base_url", Env: "DBT_CLOUD_BASE_URL", Default: DefaultBaseURL},
}

// LoadConfig fills the unset fields of explicit from lookup and defaults.
func LoadConfig(explicit Config, lookup credentials.Lookup) (Config, error) {
	var accountID string
	if explicit.AccountID != 0 {
		accountID = strconv.FormatInt(explicit.AccountID, 10)
	}
	values, err := credentials.Resolver{Vendor: Kind, Fields: fields, Lookup: lookup}.Resolve(credentials.Explicit(
		"api_key", explicit.APIKey,
		"account_id", accountID,
		"base_url", explicit.BaseURL,
	))
	if err != nil {
		return Config{}, err
	}
	id, _ := values.Int("account_id")
	return Config{
		APIKey:    values.String("api_key"),
		AccountID: id,
		BaseURL:   values.String("base_url"),
	}.Normalized(), nil
}

// Normalized returns a copy of the config with trimmed whitespace and defaults applied.
func (c Config) Normalized() Config {
	out := c
	out.APIKey = strings.TrimSpace(out.APIKey)
	out.BaseURL = strings.TrimSpace(out.BaseURL)
	if out.BaseURL == "" {
		out.BaseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(out.BaseURL, "/") {
		out.BaseURL += "/"
	}
	return out
}
