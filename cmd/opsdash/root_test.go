package main

import (
	"testing"

	"github.com/open-sspm/opsdash/internal/connectors/aws"
	"github.com/open-sspm/opsdash/internal/connectors/dbtcloud"
	"github.com/open-sspm/opsdash/internal/connectors/fabric"
	"github.com/open-sspm/opsdash/internal/connectors/fivetran"
	"github.com/open-sspm/opsdash/internal/connectors/snowflake"
)

func TestRootCommand_RegistersCommands(t *testing.T) {
	t.Parallel()

	for _, args := range [][]string{
		{"serve"},
		{"migrate"},
		{"connectors", "list"},
		{"connectors", "validate"},
		{"runs", "dbt"},
		{"runs", "fivetran"},
		{"runs", "glue"},
		{"runs", "fabric"},
	} {
		cmd, _, err := rootCmd.Find(args)
		if err != nil || cmd == nil || cmd.Name() != args[len(args)-1] {
			t.Fatalf("command %v not registered: cmd=%v err=%v", args, cmd, err)
		}
	}
}

func TestCommandUsesStructuredLogging(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
		want bool
	}{
		{name: "serve", args: []string{"serve"}, want: true},
		{name: "migrate", args: []string{"migrate"}, want: true},
		{name: "connectors validate", args: []string{"connectors", "validate"}, want: true},
		{name: "runs dbt", args: []string{"runs", "dbt"}, want: true},
		{name: "connectors list", args: []string{"connectors", "list"}, want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cmd, _, err := rootCmd.Find(tc.args)
			if err != nil {
				t.Fatalf("Find(%v) error = %v", tc.args, err)
			}
			if got := commandUsesStructuredLogging(cmd); got != tc.want {
				t.Fatalf("commandUsesStructuredLogging(%q) = %v, want %v", cmd.CommandPath(), got, tc.want)
			}
		})
	}
}

func TestBuildConnectorRegistry(t *testing.T) {
	t.Parallel()

	reg, err := buildConnectorRegistry()
	if err != nil {
		t.Fatalf("buildConnectorRegistry() error = %v", err)
	}
	want := []string{snowflake.Kind, fabric.Kind, dbtcloud.Kind, fivetran.Kind, aws.Kind}
	defs := reg.All()
	if len(defs) != len(want) {
		t.Fatalf("registered %d connectors, want %d", len(defs), len(want))
	}
	for i, def := range defs {
		if def.Kind() != want[i] {
			t.Fatalf("connector %d = %q, want %q", i, def.Kind(), want[i])
		}
	}
}

func TestReadWaitFlagsRejectsZeroInterval(t *testing.T) {
	cmd, _, err := rootCmd.Find([]string{"runs", "glue"})
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if err := cmd.Flags().Set("poll-interval", "0s"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	t.Cleanup(func() { _ = cmd.Flags().Set("poll-interval", "10s") })
	if _, err := readWaitFlags(cmd); err == nil {
		t.Fatal("expected an error for a zero poll interval")
	}
}
