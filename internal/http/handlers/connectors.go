package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/open-sspm/opsdash/internal/catalog"
	"github.com/open-sspm/opsdash/internal/connectors/aws"
	"github.com/open-sspm/opsdash/internal/connectors/dbtcloud"
	"github.com/open-sspm/opsdash/internal/connectors/fivetran"
	"github.com/open-sspm/opsdash/internal/connectors/registry"
	"github.com/open-sspm/opsdash/internal/connectors/runstatus"
)

const (
	defaultWaitTimeout  = time.Hour
	maxWaitTimeout      = 6 * time.Hour
	defaultTriggerCause = "Triggered via Operations Dashboard API"
)

// DBTRunner is the dbt Cloud surface the run endpoints use.
type DBTRunner interface {
	registry.Connector
	TriggerJobRun(ctx context.Context, jobID int64, cause string, stepsOverride []string) (dbtcloud.Run, error)
	RunStatus(ctx context.Context, runID int64) (runstatus.RunStatus, error)
	WaitForRunCompletion(ctx context.Context, runID int64, timeout, pollInterval time.Duration) (runstatus.RunStatus, error)
}

// FivetranSyncer is the Fivetran surface the sync endpoints use.
type FivetranSyncer interface {
	registry.Connector
	SyncConnector(ctx context.Context, connectorID string) error
	SyncStatus(ctx context.Context, connectorID string) (runstatus.RunStatus, error)
	WaitForSyncCompletion(ctx context.Context, connectorID string, timeout, pollInterval time.Duration) (runstatus.RunStatus, error)
}

// GlueRunner is the AWS Glue surface the job run endpoints use.
type GlueRunner interface {
	registry.Connector
	StartJobRun(ctx context.Context, job string, args map[string]string) (string, error)
	JobRunStatus(ctx context.Context, job, runID string) (runstatus.RunStatus, error)
	WaitForJobRun(ctx context.Context, job, runID string, timeout, pollInterval time.Duration) (runstatus.RunStatus, error)
}

type ConnectorItem struct {
	Kind        string     `json:"kind"`
	DisplayName string     `json:"display_name"`
	Configured  bool       `json:"configured"`
	Status      string     `json:"status"`
	ConfigError string     `json:"config_error,omitempty"`
	LastChecked *time.Time `json:"last_checked,omitempty"`
}

type RunResponse struct {
	ID     string               `json:"id"`
	Run    any                  `json:"run,omitempty"`
	Status *runstatus.RunStatus `json:"status,omitempty"`
}

type waitParams struct {
	wait     bool
	timeout  time.Duration
	interval time.Duration
}

func parseWait(c *echo.Context) (waitParams, error) {
	var p waitParams
	var err error
	if p.wait, err = queryBool(c, "wait"); err != nil {
		return p, err
	}
	if p.timeout, err = queryDuration(c, "timeout", defaultWaitTimeout); err != nil {
		return p, err
	}
	if p.timeout > maxWaitTimeout {
		return p, badRequest("timeout must not exceed %s", maxWaitTimeout)
	}
	if p.interval, err = queryDuration(c, "poll_interval", runstatus.DefaultPollInterval); err != nil {
		return p, err
	}
	return p, nil
}

// HandleCatalog lists the pipelines from the catalog file.
func (h *Handlers) HandleCatalog(c *echo.Context) error {
	return c.JSON(http.StatusOK, catalog.Load(h.Cfg.ConnectorsCSV))
}

func (h *Handlers) HandleConnectors(c *echo.Context) error {
	states := h.Connectors.States()
	items := make([]ConnectorItem, 0, len(states))
	for _, st := range states {
		item := ConnectorItem{
			Kind:        st.Definition.Kind(),
			DisplayName: st.Definition.DisplayName(),
			Configured:  st.Configured,
			Status:      st.StatusLabel(),
			ConfigError: st.ConfigError,
		}
		if _, checked, at := st.Health(); checked {
			item.LastChecked = &at
		}
		items = append(items, item)
	}
	return c.JSON(http.StatusOK, items)
}

// HandleConnectorHealth validates every configured connector now.
func (h *Handlers) HandleConnectorHealth(c *echo.Context) error {
	if h.Health == nil {
		return &APIError{Status: http.StatusServiceUnavailable, Detail: "health checks are not available"}
	}
	return c.JSON(http.StatusOK, h.Health.CheckAll(c.Request().Context()))
}

func positiveIDParam(c *echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(c.Param(name)), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("%s must be a positive integer", name)
	}
	return id, nil
}

type dbtTriggerRequest struct {
	Cause         string   `json:"cause" validate:"max=255"`
	StepsOverride []string `json:"steps_override" validate:"omitempty,dive,required"`
}

func (h *Handlers) HandleDBTRunJob(c *echo.Context) error {
	dbt, ok := registry.Lookup[DBTRunner](h.Connectors, dbtcloud.Kind)
	if !ok {
		return notConfigured("dbt Cloud")
	}
	jobID, err := positiveIDParam(c, "id")
	if err != nil {
		return err
	}
	wp, err := parseWait(c)
	if err != nil {
		return err
	}
	var req dbtTriggerRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Cause) == "" {
		req.Cause = defaultTriggerCause
	}

	ctx := c.Request().Context()
	run, err := dbt.TriggerJobRun(ctx, jobID, req.Cause, req.StepsOverride)
	if err != nil {
		return err
	}
	resp := RunResponse{ID: strconv.FormatInt(run.ID, 10), Run: run}
	if wp.wait {
		st, err := dbt.WaitForRunCompletion(ctx, run.ID, wp.timeout, wp.interval)
		if err != nil {
			return err
		}
		resp.Status = &st
	}
	return c.JSON(http.StatusAccepted, resp)
}

func (h *Handlers) HandleDBTRunStatus(c *echo.Context) error {
	dbt, ok := registry.Lookup[DBTRunner](h.Connectors, dbtcloud.Kind)
	if !ok {
		return notConfigured("dbt Cloud")
	}
	runID, err := positiveIDParam(c, "id")
	if err != nil {
		return err
	}
	st, err := dbt.RunStatus(c.Request().Context(), runID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handlers) HandleFivetranSync(c *echo.Context) error {
	ft, ok := registry.Lookup[FivetranSyncer](h.Connectors, fivetran.Kind)
	if !ok {
		return notConfigured("Fivetran")
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return badRequest("connector id is required")
	}
	wp, err := parseWait(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	if err := ft.SyncConnector(ctx, id); err != nil {
		return err
	}
	resp := RunResponse{ID: id}
	if wp.wait {
		st, err := ft.WaitForSyncCompletion(ctx, id, wp.timeout, wp.interval)
		if err != nil {
			return err
		}
		resp.Status = &st
	}
	return c.JSON(http.StatusAccepted, resp)
}

func (h *Handlers) HandleFivetranStatus(c *echo.Context) error {
	ft, ok := registry.Lookup[FivetranSyncer](h.Connectors, fivetran.Kind)
	if !ok {
		return notConfigured("Fivetran")
	}
	st, err := ft.SyncStatus(c.Request().Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

type glueRunRequest struct {
	Arguments map[string]string `json:"arguments"`
}

func (h *Handlers) HandleGlueStartRun(c *echo.Context) error {
	glue, ok := registry.Lookup[GlueRunner](h.Connectors, aws.Kind)
	if !ok {
		return notConfigured("AWS")
	}
	job := strings.TrimSpace(c.Param("name"))
	if job == "" {
		return badRequest("job name is required")
	}
	wp, err := parseWait(c)
	if err != nil {
		return err
	}
	var req glueRunRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	runID, err := glue.StartJobRun(ctx, job, req.Arguments)
	if err != nil {
		return err
	}
	resp := RunResponse{ID: runID}
	if wp.wait {
		st, err := glue.WaitForJobRun(ctx, job, runID, wp.timeout, wp.interval)
		if err != nil {
			return err
		}
		resp.Status = &st
	}
	return c.JSON(http.StatusAccepted, resp)
}

func (h *Handlers) HandleGlueRunStatus(c *echo.Context) error {
	glue, ok := registry.Lookup[GlueRunner](h.Connectors, aws.Kind)
	if !ok {
		return notConfigured("AWS")
	}
	st, err := glue.JobRunStatus(c.Request().Context(), strings.TrimSpace(c.Param("name")), strings.TrimSpace(c.Param("runID")))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}
