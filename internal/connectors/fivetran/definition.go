package fivetran

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
	return "Fivetran"
}

func (d *Definition) Open(_ context.Context, lookup credentials.Lookup) (registry.Connector, error) {
	cfg, err := LoadConfig(Config{}, lookup)
	if err != nil {
		return nil, err
	}
	c, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return c, nil
}
