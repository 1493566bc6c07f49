package main

import (
	"context"
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/open-sspm/opsdash/internal/config"
	"github.com/open-sspm/opsdash/internal/connectors/aws"
	"github.com/open-sspm/opsdash/internal/connectors/credentials"
	"github.com/open-sspm/opsdash/internal/connectors/dbtcloud"
	"github.com/open-sspm/opsdash/internal/connectors/fabric"
	"github.com/open-sspm/opsdash/internal/connectors/fivetran"
	"github.com/open-sspm/opsdash/internal/connectors/registry"
	"github.com/open-sspm/opsdash/internal/connectors/snowflake"
	"github.com/open-sspm/opsdash/internal/sync"
	"github.com/spf13/cobra"
)

func buildConnectorRegistry() (*registry.ConnectorRegistry, error) {
	reg := registry.NewRegistry()
	for _, def := range []registry.ConnectorDefinition{
		&snowflake.Definition{},
		&fabric.Definition{},
		&dbtcloud.Definition{},
		&fivetran.Definition{},
		&aws.Definition{},
	} {
		if err := reg.Register(def); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// openConnectors resolves credentials from Vault first and the environment
// second, then opens every registered connector.
func openConnectors(ctx context.Context, cfg config.Config) (*registry.Set, error) {
	reg, err := buildConnectorRegistry()
	if err != nil {
		return nil, err
	}
	vaultLookup, err := config.VaultLookup(ctx, cfg)
	if err != nil {
		return nil, err
	}
	lookup := credentials.Chain(vaultLookup, credentials.EnvLookup)
	set, err := reg.Open(ctx, lookup)
	if err != nil {
		return nil, err
	}
	configured := make([]string, 0)
	for _, st := range set.Configured() {
		configured = append(configured, st.Definition.Kind())
	}
	slog.Info("connectors opened", "configured", configured)
	return set, nil
}

var connectorsCmd = &cobra.Command{
	Use:   "connectors",
	Short: "Inspect the pipeline connectors.",
}

var connectorsListCmd = &cobra.Command{
	Use:         "list",
	Short:       "Print every connector and whether it is configured.",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{plainOutputAnnotation: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		set, err := openConnectors(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer set.Close()

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KIND\tNAME\tSTATUS\tDETAIL")
		for _, st := range set.States() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", st.Definition.Kind(), st.Definition.DisplayName(), st.StatusLabel(), st.ConfigError)
		}
		return w.Flush()
	},
}

var connectorsValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check connectivity of every configured connector.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		set, err := openConnectors(ctx, cfg)
		if err != nil {
			return err
		}
		defer set.Close()

		runner := sync.NewHealthRunner(set, nil)
		runner.Reporter = &sync.LogReporter{}
		if err := runner.RunOnce(ctx); err != nil {
			return err
		}
		var failed []string
		for _, st := range set.Configured() {
			if healthy, _, _ := st.Health(); !healthy {
				failed = append(failed, st.Definition.Kind())
			}
		}
		if len(failed) > 0 {
			return &exitError{code: 1, err: fmt.Errorf("connection check failed for: %v", failed)}
		}
		return nil
	},
}

func init() {
	connectorsCmd.AddCommand(connectorsListCmd, connectorsValidateCmd)
}
