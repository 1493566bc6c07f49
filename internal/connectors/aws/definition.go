package aws

import (
	"context"

	"github.com/open-sspm/opsdash/internal/connectors/credentials"
	"github.com/open-sspm/opsdash/internal/connectors/registry"
)

type Definition struct{}

func (d *Definition) Kind() string {
	return Kind
}

func (d *Definition) DisplayName() string {
	return "AWS"
}

// Open loads the SDK configuration. Credentials are not verified until the
// first sub-service client is requested.
func (d *Definition) Open(ctx context.Context, lookup credentials.Lookup) (registry.Connector, error) {
	cfg, err := LoadConfig(Config{}, lookup)
	if err != nil {
		return nil, err
	}
	c, err := New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return c, nil
}
