package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/open-sspm/opsdash/internal/connectors/connerr"
	"github.com/open-sspm/opsdash/internal/connectors/credentials"
)

// ConnectorRegistry is the central registry for all connectors.
type ConnectorRegistry struct {
	definitions map[string]ConnectorDefinition
	order       []string // Display order
}

// NewRegistry creates a new connector registry.
func NewRegistry() *ConnectorRegistry {
	return &ConnectorRegistry{
		definitions: make(map[string]ConnectorDefinition),
		order:       make([]string, 0),
	}
}

// Register adds a connector definition to the registry.
func (r *ConnectorRegistry) Register(def ConnectorDefinition) error {
	kind := normalizeKind(def.Kind())
	if kind == "" {
		return fmt.Errorf("connector kind cannot be empty")
	}
	if _, exists := r.definitions[kind]; exists {
		return fmt.Errorf("connector kind %q already registered", kind)
	}
	r.definitions[kind] = def
	r.order = append(r.order, kind)
	return nil
}

// Get retrieves a connector definition by kind.
func (r *ConnectorRegistry) Get(kind string) (ConnectorDefinition, bool) {
	def, ok := r.definitions[normalizeKind(kind)]
	return def, ok
}

// All returns all registered connector definitions in order.
func (r *ConnectorRegistry) All() []ConnectorDefinition {
	defs := make([]ConnectorDefinition, 0, len(r.order))
	for _, kind := range r.order {
		defs = append(defs, r.definitions[kind])
	}
	return defs
}

// Open constructs every registered connector. Connectors whose configuration is
// incomplete are kept as unconfigured states rather than failing the whole set.
func (r *ConnectorRegistry) Open(ctx context.Context, lookup credentials.Lookup) (*Set, error) {
	set := &Set{byKind: make(map[string]*ConnectorState, len(r.order))}
	for _, kind := range r.order {
		def := r.definitions[kind]
		state := &ConnectorState{Definition: def}

		conn, err := def.Open(ctx, lookup)
		if err != nil {
			var cfgErr *connerr.ConfigurationError
			if !errors.As(err, &cfgErr) {
				_ = set.Close()
				return nil, fmt.Errorf("open %s connector: %w", kind, err)
			}
			state.ConfigError = err.Error()
			slog.Debug("connector not configured", "connector", kind, "err", err)
		} else {
			state.Connector = conn
			state.Configured = true
		}

		set.byKind[kind] = state
		set.order = append(set.order, state)
	}
	return set, nil
}

func normalizeKind(kind string) string {
	return strings.ToLower(strings.TrimSpace(kind))
}
