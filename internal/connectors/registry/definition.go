package registry

import (
	"context"
	"net/url"

	"github.com/open-sspm/opsdash/internal/connectors/credentials"
	"github.com/open-sspm/opsdash/internal/connectors/restapi"
	"github.com/open-sspm/opsdash/internal/connectors/runstatus"
)

// Connector is the capability set every vendor connector exposes.
type Connector interface {
	Kind() string

	// Authenticate builds (or reuses) the vendor handle and fails with
	// *connerr.AuthenticationError when credentials are rejected.
	Authenticate(ctx context.Context) error

	// ValidateConnection is the only operation that downgrades errors to false.
	ValidateConnection(ctx context.Context) bool

	// Execute is a raw passthrough for operations without a typed method.
	Execute(ctx context.Context, method, target string, payload any, query url.Values) (restapi.Decoded, error)

	NormalizeStatus(rec runstatus.Record) runstatus.RunStatus

	Close() error
}

// ConnectorDefinition defines the metadata and construction of a connector.
type ConnectorDefinition interface {
	Kind() string        // e.g., "dbt_cloud", "aws"
	DisplayName() string // e.g., "dbt Cloud", "AWS"

	// Open resolves credentials through lookup and constructs the connector.
	// It must not perform network I/O.
	Open(ctx context.Context, lookup credentials.Lookup) (Connector, error)
}
