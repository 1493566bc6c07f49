package snowflake

import (
	"strings"

	"github.com/open-sspm/opsdash/internal/connectors/credentials"
	sf "github.com/snowflakedb/gosnowflake"
)

const (
	Kind          = "snowflake"
	DefaultSchema = "PUBLIC"
)

// Config holds the configuration for the Snowflake connector.
type Config struct {
	Account   string `json:"account"`
	User      string `json:"user"`
	Password  string `json:"password"`
	Database  string `json:"database"`
	Schema    string `json:"schema"`
	Warehouse string `json:"warehouse"`
	Role      string `json:"role"`
}

var fields = []credentials.Field{
	{Name: "account", Env: "SNOWFLAKE_ACCOUNT", Required: true},
	{Name: "user", Env: "SNOWFLAKE_USER", Required: true},
	{Name: "password", Env: "SNOWFLAKE_PASSWORD", Required: true},
	{Name: "database", Env: "SNOWFLAKE_DATABASE"},
	{Name: "schema", Env: "SNOWFLAKE_SCHEMA", Default: DefaultSchema},
	{Name: "warehouse", Env: "SNOWFLAKE_WAREHOUSE"},
	{Name: "role", Env: "SNOWFLAKE_ROLE"},
}

// LoadConfig fills the unset fields of explicit from lookup and defaults.
func LoadConfig(explicit Config, lookup credentials.Lookup) (Config, error) {
	values, err := credentials.Resolver{Vendor: Kind, Fields: fields, Lookup: lookup}.Resolve(credentials.Explicit(
		"account", explicit.Account,
		"user", explicit.User,
		"password", explicit.Password,
		"database", explicit.Database,
		"schema", explicit.Schema,
		"warehouse", explicit.Warehouse,
		"role", explicit.Role,
	))
	if err != nil {
		return Config{}, err
	}
	return Config{
		Account:   values.String("account"),
		User:      values.String("user"),
		Password:  values.String("password"),
		Database:  values.String("database"),
		Schema:    values.String("schema"),
		Warehouse: values.String("warehouse"),
		Role:      values.String("role"),
	}.Normalized(), nil
}

// Normalized returns a copy of the config with trimmed whitespace and defaults applied.
func (c Config) Normalized() Config {
	out := c
	out.Account = strings.TrimSpace(out.Account)
	out.User = strings.TrimSpace(out.User)
	out.Database = strings.TrimSpace(out.Database)
	out.Schema = strings.TrimSpace(out.Schema)
	if out.Schema == "" {
		out.Schema = DefaultSchema
	}
	out.Warehouse = strings.TrimSpace(out.Warehouse)
	out.Role = strings.TrimSpace(out.Role)
	return out
}

// DSN renders the driver connection string.
func (c Config) DSN() (string, error) {
	return sf.DSN(&sf.Config{
		Account:   c.Account,
		User:      c.User,
		Password:  c.Password,
		Database:  c.Database,
		Schema:    c.Schema,
		Warehouse: c.Warehouse,
		Role:      c.Role,
	})
}
