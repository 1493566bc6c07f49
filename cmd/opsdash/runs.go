package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/open-sspm/opsdash/internal/config"
	"github.com/open-sspm/opsdash/internal/connectors/aws"
	"github.com/open-sspm/opsdash/internal/connectors/dbtcloud"
	"github.com/open-sspm/opsdash/internal/connectors/fabric"
	"github.com/open-sspm/opsdash/internal/connectors/fivetran"
	"github.com/open-sspm/opsdash/internal/connectors/registry"
	"github.com/open-sspm/opsdash/internal/connectors/runstatus"
	"github.com/spf13/cobra"
)

const defaultRunTimeout = time.Hour

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Trigger pipeline runs and optionally wait for them to finish.",
}

type waitOptions struct {
	wait     bool
	timeout  time.Duration
	interval time.Duration
}

func addWaitFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("wait", false, "block until the run reaches a terminal state")
	cmd.Flags().Duration("timeout", defaultRunTimeout, "maximum time to wait")
	cmd.Flags().Duration("poll-interval", runstatus.DefaultPollInterval, "delay between status checks")
}

func readWaitFlags(cmd *cobra.Command) (waitOptions, error) {
	var o waitOptions
	o.wait, _ = cmd.Flags().GetBool("wait")
	o.timeout, _ = cmd.Flags().GetDuration("timeout")
	o.interval, _ = cmd.Flags().GetDuration("poll-interval")
	if o.timeout < 0 || o.interval <= 0 {
		return o, errors.New("--timeout must be >= 0 and --poll-interval > 0")
	}
	return o, nil
}

// withConnector opens the connectors and hands the one of kind to fn.
func withConnector[T registry.Connector](ctx context.Context, kind string, fn func(T) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	set, err := openConnectors(ctx, cfg)
	if err != nil {
		return err
	}
	defer set.Close()

	conn, ok := registry.Lookup[T](set, kind)
	if !ok {
		if st, found := set.State(kind); found && st.ConfigError != "" {
			return errors.New(st.ConfigError)
		}
		return fmt.Errorf("%s connector is not configured", kind)
	}
	return fn(conn)
}

// finishRun logs the final status and maps an unsuccessful run to a non-zero
// exit code.
func finishRun(kind, id string, st runstatus.RunStatus) error {
	raw, _ := json.Marshal(st)
	slog.Info("run finished", "connector", kind, "run_id", id, "outcome", st.Outcome().String(), "status", string(raw))
	if !st.IsSuccess {
		return &exitError{code: exitRunFailed, err: fmt.Errorf("%s run %s finished as %s", kind, id, st.RawStatus)}
	}
	return nil
}

var runsDBTCmd = &cobra.Command{
	Use:   "dbt",
	Short: "Trigger a dbt Cloud job run.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jobID, _ := cmd.Flags().GetInt64("job-id")
		if jobID <= 0 {
			return errors.New("--job-id must be a positive integer")
		}
		cause, _ := cmd.Flags().GetString("cause")
		steps, _ := cmd.Flags().GetStringSlice("step")
		wo, err := readWaitFlags(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		return withConnector(ctx, dbtcloud.Kind, func(c *dbtcloud.Client) error {
			run, err := c.TriggerJobRun(ctx, jobID, cause, steps)
			if err != nil {
				return err
			}
			id := strconv.FormatInt(run.ID, 10)
			slog.Info("run triggered", "connector", dbtcloud.Kind, "job_id", jobID, "run_id", id, "href", run.Href)
			if !wo.wait {
				return nil
			}
			st, err := c.WaitForRunCompletion(ctx, run.ID, wo.timeout, wo.interval)
			if err != nil {
				return err
			}
			return finishRun(dbtcloud.Kind, id, st)
		})
	},
}

var runsFivetranCmd = &cobra.Command{
	Use:   "fivetran",
	Short: "Trigger a Fivetran connector sync.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("connector-id")
		if id == "" {
			return errors.New("--connector-id is required")
		}
		wo, err := readWaitFlags(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		return withConnector(ctx, fivetran.Kind, func(c *fivetran.Client) error {
			if err := c.SyncConnector(ctx, id); err != nil {
				return err
			}
			slog.Info("sync triggered", "connector", fivetran.Kind, "connector_id", id)
			if !wo.wait {
				return nil
			}
			st, err := c.WaitForSyncCompletion(ctx, id, wo.timeout, wo.interval)
			if err != nil {
				return err
			}
			return finishRun(fivetran.Kind, id, st)
		})
	},
}

var runsGlueCmd = &cobra.Command{
	Use:   "glue",
	Short: "Start an AWS Glue job run.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		job, _ := cmd.Flags().GetString("job")
		if job == "" {
			return errors.New("--job is required")
		}
		jobArgs, _ := cmd.Flags().GetStringToString("arg")
		wo, err := readWaitFlags(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		return withConnector(ctx, aws.Kind, func(c *aws.Client) error {
			runID, err := c.StartJobRun(ctx, job, jobArgs)
			if err != nil {
				return err
			}
			slog.Info("job run started", "connector", aws.Kind, "job", job, "run_id", runID)
			if !wo.wait {
				return nil
			}
			st, err := c.WaitForJobRun(ctx, job, runID, wo.timeout, wo.interval)
			if err != nil {
				return err
			}
			return finishRun(aws.Kind, runID, st)
		})
	},
}

var runsFabricCmd = &cobra.Command{
	Use:   "fabric",
	Short: "Run a Microsoft Fabric data pipeline.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		workspace, _ := cmd.Flags().GetString("workspace-id")
		pipeline, _ := cmd.Flags().GetString("pipeline-id")
		if workspace == "" || pipeline == "" {
			return errors.New("--workspace-id and --pipeline-id are required")
		}
		params, _ := cmd.Flags().GetStringToString("param")
		wo, err := readWaitFlags(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		return withConnector(ctx, fabric.Kind, func(c *fabric.Client) error {
			parameters := make(map[string]any, len(params))
			for k, v := range params {
				parameters[k] = v
			}
			ref, err := c.RunPipeline(ctx, workspace, pipeline, parameters)
			if err != nil {
				return err
			}
			slog.Info("pipeline run started", "connector", fabric.Kind, "pipeline_id", pipeline, "job_instance_id", ref.JobInstanceID)
			if !wo.wait {
				return nil
			}
			st, err := c.WaitForJobInstance(ctx, ref, wo.timeout, wo.interval)
			if err != nil {
				return err
			}
			return finishRun(fabric.Kind, ref.JobInstanceID, st)
		})
	},
}

func init() {
	runsDBTCmd.Flags().Int64("job-id", 0, "dbt Cloud job id")
	runsDBTCmd.Flags().String("cause", "Triggered via opsdash CLI", "run cause recorded by dbt Cloud")
	runsDBTCmd.Flags().StringSlice("step", nil, "override the job steps (repeatable)")
	runsFivetranCmd.Flags().String("connector-id", "", "Fivetran connector id")
	runsGlueCmd.Flags().String("job", "", "Glue job name")
	runsGlueCmd.Flags().StringToString("arg", nil, "job argument key=value (repeatable)")
	runsFabricCmd.Flags().String("workspace-id", "", "Fabric workspace id")
	runsFabricCmd.Flags().String("pipeline-id", "", "data pipeline item id")
	runsFabricCmd.Flags().StringToString("param", nil, "pipeline parameter key=value (repeatable)")

	for _, c := range []*cobra.Command{runsDBTCmd, runsFivetranCmd, runsGlueCmd, runsFabricCmd} {
		addWaitFlags(c)
		runsCmd.AddCommand(c)
	}
}
