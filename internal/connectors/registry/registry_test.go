package registry

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/open-sspm/opsdash/internal/connectors/connerr"
	"github.com/open-sspm/opsdash/internal/connectors/credentials"
	"github.com/open-sspm/opsdash/internal/connectors/restapi"
	"github.com/open-sspm/opsdash/internal/connectors/runstatus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConnector struct {
	kind   string
	closed int
}

func (s *stubConnector) Kind() string                            { return s.kind }
func (s *stubConnector) Authenticate(context.Context) error      { return nil }
func (s *stubConnector) ValidateConnection(context.Context) bool { return true }
func (s *stubConnector) Execute(context.Context, string, string, any, url.Values) (restapi.Decoded, error) {
	return restapi.Decoded{}, nil
}
func (s *stubConnector) NormalizeStatus(rec runstatus.Record) runstatus.RunStatus {
	return runstatus.Project(rec, runstatus.Pending)
}
func (s *stubConnector) Close() error {
	s.closed++
	return nil
}

type stubDefinition struct {
	kind    string
	envKey  string
	openErr error
	opened  *stubConnector
}

func (d *stubDefinition) Kind() string        { return d.kind }
func (d *stubDefinition) DisplayName() string { return "Stub " + d.kind }

func (d *stubDefinition) Open(_ context.Context, lookup credentials.Lookup) (Connector, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}
	if _, ok := lookup(d.envKey); !ok {
		return nil, &connerr.ConfigurationError{Vendor: d.kind, Missing: []string{d.envKey}}
	}
	d.opened = &stubConnector{kind: d.kind}
	return d.opened, nil
}

func TestRegisterRejectsDuplicatesAndEmptyKinds(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubDefinition{kind: "alpha"}))
	require.Error(t, reg.Register(&stubDefinition{kind: " Alpha "}))
	require.Error(t, reg.Register(&stubDefinition{kind: "  "}))
	require.NoError(t, reg.Register(&stubDefinition{kind: "beta"}))

	def, ok := reg.Get("BETA")
	require.True(t, ok)
	assert.Equal(t, "Stub beta", def.DisplayName())

	all := reg.All()
	require.Len(t, all, 2)
	assert.Equal(t, "alpha", all[0].Kind())
	assert.Equal(t, "beta", all[1].Kind())
}

func TestOpenKeepsUnconfiguredConnectors(t *testing.T) {
	alpha := &stubDefinition{kind: "alpha", envKey: "ALPHA_KEY"}
	beta := &stubDefinition{kind: "beta", envKey: "BETA_KEY"}
	reg := NewRegistry()
	require.NoError(t, reg.Register(alpha))
	require.NoError(t, reg.Register(beta))

	set, err := reg.Open(context.Background(), credentials.MapLookup(map[string]string{"ALPHA_KEY": "x"}))
	require.NoError(t, err)

	require.Len(t, set.States(), 2)
	require.Len(t, set.Configured(), 1)

	st, ok := set.State("beta")
	require.True(t, ok)
	assert.False(t, st.Configured)
	assert.Contains(t, st.ConfigError, "BETA_KEY")
	assert.Equal(t, "Not configured", st.StatusLabel())

	conn, ok := Lookup[*stubConnector](set, "alpha")
	require.True(t, ok)
	assert.Same(t, alpha.opened, conn)
	_, ok = Lookup[*stubConnector](set, "beta")
	assert.False(t, ok)

	require.NoError(t, set.Close())
	assert.Equal(t, 1, alpha.opened.closed)
}

func TestOpenFailsOnNonConfigurationErrors(t *testing.T) {
	alpha := &stubDefinition{kind: "alpha", envKey: "ALPHA_KEY"}
	reg := NewRegistry()
	require.NoError(t, reg.Register(alpha))
	require.NoError(t, reg.Register(&stubDefinition{kind: "broken", openErr: errors.New("boom")}))

	_, err := reg.Open(context.Background(), credentials.MapLookup(map[string]string{"ALPHA_KEY": "x"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open broken connector")
	assert.Equal(t, 1, alpha.opened.closed)
}

func TestRecordHealthReportsTransitions(t *testing.T) {
	st := &ConnectorState{Definition: &stubDefinition{kind: "alpha"}, Configured: true}
	assert.Equal(t, "Configured", st.StatusLabel())

	now := time.Unix(1700000000, 0)
	assert.True(t, st.RecordHealth(true, now))
	assert.False(t, st.RecordHealth(true, now.Add(time.Minute)))
	assert.Equal(t, "Healthy", st.StatusLabel())

	assert.True(t, st.RecordHealth(false, now.Add(2*time.Minute)))
	assert.Equal(t, "Unreachable", st.StatusLabel())

	healthy, checked, at := st.Health()
	assert.False(t, healthy)
	assert.True(t, checked)
	assert.Equal(t, now.Add(2*time.Minute), at)
}
