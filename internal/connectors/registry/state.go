package registry

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// ConnectorState represents the runtime state of a connector.
type ConnectorState struct {
	Definition  ConnectorDefinition
	Connector   Connector // nil when not configured
	ConfigError string
	Configured  bool

	mu          sync.Mutex
	healthy     bool
	checked     bool
	lastChecked time.Time
}

// StatusLabel returns the human-readable status label.
func (s *ConnectorState) StatusLabel() string {
	if !s.Configured {
		if strings.Contains(s.ConfigError, "invalid") {
			return "Invalid config"
		}
		return "Not configured"
	}
	healthy, checked, _ := s.Health()
	switch {
	case !checked:
		return "Configured"
	case healthy:
		return "Healthy"
	default:
		return "Unreachable"
	}
}

// RecordHealth stores the outcome of a connection check and reports whether
// the health flipped compared to the previous check.
func (s *ConnectorState) RecordHealth(healthy bool, at time.Time) (changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed = !s.checked || s.healthy != healthy
	s.healthy = healthy
	s.checked = true
	s.lastChecked = at
	return changed
}

// Health returns the last recorded check.
func (s *ConnectorState) Health() (healthy, checked bool, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthy, s.checked, s.lastChecked
}

// Set is the opened connectors for one process.
type Set struct {
	order  []*ConnectorState
	byKind map[string]*ConnectorState
}

// States returns every connector state in registration order.
func (s *Set) States() []*ConnectorState {
	if s == nil {
		return nil
	}
	return s.order
}

// Configured returns only the states with a live connector.
func (s *Set) Configured() []*ConnectorState {
	if s == nil {
		return nil
	}
	out := make([]*ConnectorState, 0, len(s.order))
	for _, st := range s.order {
		if st.Configured {
			out = append(out, st)
		}
	}
	return out
}

// State looks up the state for kind.
func (s *Set) State(kind string) (*ConnectorState, bool) {
	if s == nil {
		return nil, false
	}
	st, ok := s.byKind[normalizeKind(kind)]
	return st, ok
}

// Close releases every opened connector.
func (s *Set) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	for _, st := range s.order {
		if st.Connector != nil {
			if err := st.Connector.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Lookup returns the configured connector for kind as its concrete type.
func Lookup[T Connector](s *Set, kind string) (T, bool) {
	var zero T
	st, ok := s.State(kind)
	if !ok || st.Connector == nil {
		return zero, false
	}
	c, ok := st.Connector.(T)
	return c, ok
}
