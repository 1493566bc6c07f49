package fabric

import (
	"fmt"
	"strings"

	"github.com/open-sspm/opsdash/internal/connectors/credentials"
)

const (
	Kind           = "fabric"
	DefaultBaseURL = "https://api.fabric.microsoft.com/v1/"
	DefaultScope   = "https://api.fabric.microsoft.com/.default"

	defaultAuthorityHost = "https://login.microsoftonline.com"
)

// Config holds the configuration for the Microsoft Fabric connector.
type Config struct {
	TenantID     string `json:"tenant_id"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	WorkspaceID  string `json:"workspace_id"`
	BaseURL      string `json:"base_url"`
	// TokenURL overrides the Entra ID token endpoint derived from TenantID.
	TokenURL string `json:"token_url"`
}

var fields = []credentials.Field{
	{Name: "tenant_id", Env: "FABRIC_TENANT_ID", Required: true},
	{Name: "client_id", Env: "FABRIC_CLIENT_ID", Required: true},
	{Name: "client_secret", Env: "FABRIC_CLIENT_SECRET", Required: true},
	{Name: "workspace_id", Env: "FABRIC_WORKSPACE_ID"},
	{Name: "base_url", Env: "FABRIC_BASE_URL", Default: DefaultBaseURL},
	{Name: "token_url", Env: "FABRIC_TOKEN_URL"},
}

// LoadConfig fills the unset fields of explicit from lookup and defaults.
func LoadConfig(explicit Config, lookup credentials.Lookup) (Config, error) {
	values, err := credentials.Resolver{Vendor: Kind, Fields: fields, Lookup: lookup}.Resolve(credentials.Explicit(
		"tenant_id", explicit.TenantID,
		"client_id", explicit.ClientID,
		"client_secret", explicit.ClientSecret,
		"workspace_id", explicit.WorkspaceID,
		"base_url", explicit.BaseURL,
		"token_url", explicit.TokenURL,
	))
	if err != nil {
		return Config{}, err
	}
	return Config{
		TenantID:     values.String("tenant_id"),
		ClientID:     values.String("client_id"),
		ClientSecret: values.String("client_secret"),
		WorkspaceID:  values.String("workspace_id"),
		BaseURL:      values.String("base_url"),
		TokenURL:     values.String("token_url"),
	}.Normalized(), nil
}

// Normalized returns a copy of the config with trimmed whitespace and defaults applied.
func (c Config) Normalized() Config {
	out := c
	out.TenantID = strings.TrimSpace(out.TenantID)
	out.ClientID = strings.TrimSpace(out.ClientID)
	out.ClientSecret = strings.TrimSpace(out.ClientSecret)
	out.WorkspaceID = strings.TrimSpace(out.WorkspaceID)
	out.BaseURL = strings.TrimSpace(out.BaseURL)
	if out.BaseURL == "" {
		out.BaseURL = DefaultBaseURL
	}
	out.TokenURL = strings.TrimSpace(out.TokenURL)
	if out.TokenURL == "" && out.TenantID != "" {
		out.TokenURL = fmt.Sprintf("%s/%s/oauth2/v2.0/token", defaultAuthorityHost, out.TenantID)
	}
	return out
}
