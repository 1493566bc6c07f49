// Package dbtcloud is the dbt Cloud v2 REST connector.
package dbtcloud

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/open-sspm/opsdash/internal/connectors/clientcache"
	"github.com/open-sspm/opsdash/internal/connectors/connerr"
	"github.com/open-sspm/opsdash/internal/connectors/restapi"
	"github.com/open-sspm/opsdash/internal/connectors/runstatus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	defaultRunsLimit   = 100
	defaultRunCause    = "API Triggered"
	statusWorkers      = 4
	requestsPerSecond  = 10
	runResultsArtifact = "run_results.json"
)

type service int

const serviceAPI service = iota

// Client talks to one dbt Cloud account.
type Client struct {
	cfg Config

	// HTTP is used for every request; tests replace its transport.
	HTTP *http.Client
	// Now and Sleep drive the completion poller.
	Now   func() time.Time
	Sleep func(context.Context, time.Duration) error

	clients *clientcache.Cache[service, *restapi.Executor]
}

type Project struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	AccountID int64  `json:"account_id"`
}

type Job struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	ProjectID       int64  `json:"project_id"`
	EnvironmentID   int64  `json:"environment_id"`
	EnvironmentName string `json:"environment_name,omitempty"`
	State           int    `json:"state"`
}

type Run struct {
	ID              int64   `json:"id"`
	JobID           int64   `json:"job_definition_id"`
	ProjectID       int64   `json:"project_id"`
	Status          int     `json:"status"`
	StatusHumanized string  `json:"status_humanized"`
	StatusMessage   string  `json:"status_message"`
	CreatedAt       string  `json:"created_at"`
	StartedAt       string  `json:"started_at"`
	FinishedAt      string  `json:"finished_at"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	IsComplete      bool    `json:"is_complete"`
	IsSuccess       bool    `json:"is_success"`
	IsError         bool    `json:"is_error"`
	IsCancelled     bool    `json:"is_cancelled"`
	Href            string  `json:"href"`
}

// RunFilter narrows Runs. JobID takes precedence over ProjectID.
type RunFilter struct {
	JobID     int64
	ProjectID int64
	Limit     int
	Status    int
	OrderBy   string
}

type TestFailure struct {
	TestName      string  `json:"test_name"`
	TestPath      string  `json:"test_path"`
	Status        string  `json:"status"`
	Message       string  `json:"message"`
	Failures      int64   `json:"failures"`
	ExecutionTime float64 `json:"execution_time"`
}

// JobRunStatus summarizes the latest run of a job.
type JobRunStatus struct {
	JobID           int64               `json:"job_id"`
	JobName         string              `json:"job_name"`
	ProjectID       int64               `json:"project_id"`
	EnvironmentName string              `json:"environment_name,omitempty"`
	RunID           int64               `json:"run_id"`
	StatusHumanized string              `json:"status_humanized"`
	DurationSeconds float64             `json:"duration_seconds,omitempty"`
	Status          runstatus.RunStatus `json:"status"`
}

// New creates a dbt Cloud client. It performs no network I/O.
func New(cfg Config) (*Client, error) {
	cfg = cfg.Normalized()
	cfgErr := &connerr.ConfigurationError{Vendor: Kind}
	if cfg.APIKey == "" {
		cfgErr.Missing = append(cfgErr.Missing, "api_key")
	}
	if cfg.AccountID <= 0 {
		cfgErr.Missing = append(cfgErr.Missing, "account_id")
	}
	if !cfgErr.Empty() {
		return nil, cfgErr
	}

	c := &Client{
		cfg:  cfg,
		HTTP: &http.Client{Timeout: restapi.DefaultTimeout},
	}
	c.clients = clientcache.New(Kind, c.buildExecutor)
	return c, nil
}

func (c *Client) Kind() string { return Kind }

func (c *Client) AccountID() int64 { return c.cfg.AccountID }

func (c *Client) buildExecutor(ctx context.Context, _ service) (*restapi.Executor, error) {
	api, err := restapi.New(restapi.Options{
		Vendor:  Kind,
		BaseURL: c.cfg.BaseURL,
		HTTP:    c.HTTP,
		Limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
		Auth: func(_ context.Context, req *http.Request) error {
			req.Header.Set("Authorization", "Token "+c.cfg.APIKey)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	// Verify the token once before the handle is cached.
	if _, err := api.Get(ctx, c.accountPath(""), nil); err != nil {
		return nil, err
	}
	return api, nil
}

func (c *Client) api(ctx context.Context) (*restapi.Executor, error) {
	return c.clients.Get(ctx, serviceAPI)
}

func (c *Client) accountPath(suffix string) string {
	return fmt.Sprintf("accounts/%d/%s", c.cfg.AccountID, suffix)
}

// getData fetches path and decodes the response envelope's data field into out.
func (c *Client) getData(ctx context.Context, path string, query url.Values, out any) error {
	api, err := c.api(ctx)
	if err != nil {
		return err
	}
	resp, err := api.Get(ctx, path, query)
	if err != nil {
		return err
	}
	return decodeData(resp.Body, out)
}

func decodeData(body restapi.Decoded, out any) error {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := body.Into(&envelope); err != nil {
		return fmt.Errorf("dbt cloud: decode response: %w", err)
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("dbt cloud: decode data: %w", err)
	}
	return nil
}

func (c *Client) Authenticate(ctx context.Context) error {
	_, err := c.api(ctx)
	return err
}

func (c *Client) Account(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.getData(ctx, c.accountPath(""), nil, &out)
	return out, err
}

func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	var out []Project
	err := c.getData(ctx, c.accountPath("projects/"), nil, &out)
	return out, err
}

func (c *Client) Project(ctx context.Context, projectID int64) (Project, error) {
	var out Project
	err := c.getData(ctx, c.accountPath(fmt.Sprintf("projects/%d/", projectID)), nil, &out)
	return out, err
}

func (c *Client) Environments(ctx context.Context, projectID int64) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.getData(ctx, c.accountPath(fmt.Sprintf("projects/%d/environments/", projectID)), nil, &out)
	return out, err
}

// Jobs lists jobs in a project, or across the account when projectID is zero.
func (c *Client) Jobs(ctx context.Context, projectID int64) ([]Job, error) {
	path := c.accountPath("jobs/")
	if projectID > 0 {
		path = c.accountPath(fmt.Sprintf("projects/%d/jobs/", projectID))
	}
	var out []Job
	err := c.getData(ctx, path, nil, &out)
	return out, err
}

func (c *Client) Job(ctx context.Context, jobID int64) (Job, error) {
	var out Job
	err := c.getData(ctx, c.accountPath(fmt.Sprintf("jobs/%d/", jobID)), nil, &out)
	return out, err
}

// TriggerJobRun starts a run. An empty cause defaults to "API Triggered".
func (c *Client) TriggerJobRun(ctx context.Context, jobID int64, cause string, stepsOverride []string) (Run, error) {
	api, err := c.api(ctx)
	if err != nil {
		return Run{}, err
	}
	cause = strings.TrimSpace(cause)
	if cause == "" {
		cause = defaultRunCause
	}
	body := map[string]any{"cause": cause}
	if len(stepsOverride) > 0 {
		body["steps_override"] = stepsOverride
	}
	resp, err := api.Post(ctx, c.accountPath(fmt.Sprintf("jobs/%d/run/", jobID)), body)
	if err != nil {
		return Run{}, err
	}
	var run Run
	if err := decodeData(resp.Body, &run); err != nil {
		return Run{}, err
	}
	slog.Info("dbt cloud job run triggered", "job_id", jobID, "run_id", run.ID)
	return run, nil
}

func (c *Client) Runs(ctx context.Context, f RunFilter) ([]Run, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultRunsLimit
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if f.Status != 0 {
		q.Set("status", strconv.Itoa(f.Status))
	}
	if f.OrderBy != "" {
		q.Set("order_by", f.OrderBy)
	}

	path := c.accountPath("runs/")
	switch {
	case f.JobID > 0:
		path = c.accountPath(fmt.Sprintf("jobs/%d/runs/", f.JobID))
	case f.ProjectID > 0:
		path = c.accountPath(fmt.Sprintf("projects/%d/runs/", f.ProjectID))
	}

	var out []Run
	if err := c.getData(ctx, path, q, &out); err != nil {
		return nil, err
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (c *Client) Run(ctx context.Context, runID int64) (Run, error) {
	var out Run
	err := c.getData(ctx, c.accountPath(fmt.Sprintf("runs/%d/", runID)), nil, &out)
	return out, err
}

func (c *Client) CancelRun(ctx context.Context, runID int64) (Run, error) {
	api, err := c.api(ctx)
	if err != nil {
		return Run{}, err
	}
	resp, err := api.Post(ctx, c.accountPath(fmt.Sprintf("runs/%d/cancel/", runID)), nil)
	if err != nil {
		return Run{}, err
	}
	var run Run
	err = decodeData(resp.Body, &run)
	return run, err
}

// Artifact fetches a run artifact such as manifest.json. An empty path lists
// the available artifacts. Artifacts are returned as served, JSON or text.
func (c *Client) Artifact(ctx context.Context, runID int64, path string) (restapi.Decoded, error) {
	api, err := c.api(ctx)
	if err != nil {
		return restapi.Decoded{}, err
	}
	target := c.accountPath(fmt.Sprintf("runs/%d/artifacts/", runID)) + strings.TrimLeft(path, "/")
	resp, err := api.Get(ctx, target, nil)
	if err != nil {
		return restapi.Decoded{}, err
	}
	return resp.Body, nil
}

// RunStatus reads the run and projects it through the dbt Cloud status table.
func (c *Client) RunStatus(ctx context.Context, runID int64) (runstatus.RunStatus, error) {
	run, err := c.Run(ctx, runID)
	if err != nil {
		return runstatus.RunStatus{}, err
	}
	return c.runStatus(runID, run), nil
}

func (c *Client) runStatus(runID int64, run Run) runstatus.RunStatus {
	started := restapi.ParseTime(run.StartedAt)
	if started == nil {
		started = restapi.ParseTime(run.CreatedAt)
	}
	return c.NormalizeStatus(runstatus.Record{
		ID:           strconv.FormatInt(runID, 10),
		RawStatus:    strconv.Itoa(run.Status),
		StartedAt:    started,
		FinishedAt:   restapi.ParseTime(run.FinishedAt),
		ErrorMessage: run.StatusMessage,
	})
}

func (c *Client) NormalizeStatus(rec runstatus.Record) runstatus.RunStatus {
	return runstatus.DBTCloud.Normalize(rec)
}

// WaitForRunCompletion blocks until the run completes or timeout elapses.
func (c *Client) WaitForRunCompletion(ctx context.Context, runID int64, timeout, pollInterval time.Duration) (runstatus.RunStatus, error) {
	p := runstatus.Poller{
		Vendor: Kind,
		Now:    c.Now,
		Sleep:  c.Sleep,
		Status: func(ctx context.Context, _ string) (runstatus.RunStatus, error) {
			return c.RunStatus(ctx, runID)
		},
	}
	return p.Wait(ctx, strconv.FormatInt(runID, 10), timeout, pollInterval)
}

func (c *Client) RepositoryFiles(ctx context.Context, projectID int64, branch string) (restapi.Decoded, error) {
	return c.repository(ctx, fmt.Sprintf("projects/%d/files/", projectID), branch)
}

func (c *Client) RepositoryFile(ctx context.Context, projectID int64, path, branch string) (restapi.Decoded, error) {
	return c.repository(ctx, fmt.Sprintf("projects/%d/files/%s", projectID, strings.TrimLeft(path, "/")), branch)
}

func (c *Client) repository(ctx context.Context, suffix, branch string) (restapi.Decoded, error) {
	api, err := c.api(ctx)
	if err != nil {
		return restapi.Decoded{}, err
	}
	var q url.Values
	if b := strings.TrimSpace(branch); b != "" {
		q = url.Values{"branch": {b}}
	}
	resp, err := api.Get(ctx, c.accountPath(suffix), q)
	if err != nil {
		return restapi.Decoded{}, err
	}
	return resp.Body, nil
}

// JobTestFailures returns the non-passing test nodes from a run's run_results.json.
func (c *Client) JobTestFailures(ctx context.Context, runID int64) ([]TestFailure, error) {
	body, err := c.Artifact(ctx, runID, runResultsArtifact)
	if err != nil {
		return nil, err
	}
	var results struct {
		Results []struct {
			Status        string  `json:"status"`
			Message       string  `json:"message"`
			Failures      int64   `json:"failures"`
			ExecutionTime float64 `json:"execution_time"`
			Node          struct {
				Name             string `json:"name"`
				OriginalFilePath string `json:"original_file_path"`
				ResourceType     string `json:"resource_type"`
			} `json:"node"`
		} `json:"results"`
	}
	// The artifact endpoint serves the file directly, but older deployments wrap it.
	raw, ok := body.JSON()
	if !ok {
		return nil, fmt.Errorf("dbt cloud: %s for run %d is not JSON", runResultsArtifact, runID)
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if json.Unmarshal(raw, &envelope) == nil && len(envelope.Data) > 0 && envelope.Data[0] == '{' {
		raw = envelope.Data
	}
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, fmt.Errorf("dbt cloud: decode %s: %w", runResultsArtifact, err)
	}

	var out []TestFailure
	for _, r := range results.Results {
		if r.Status == "pass" || r.Node.ResourceType != "test" {
			continue
		}
		out = append(out, TestFailure{
			TestName:      r.Node.Name,
			TestPath:      r.Node.OriginalFilePath,
			Status:        r.Status,
			Message:       r.Message,
			Failures:      r.Failures,
			ExecutionTime: r.ExecutionTime,
		})
	}
	return out, nil
}

// AllJobRunStatuses reports the latest run of every job in the account. Jobs
// whose runs cannot be read are logged and skipped.
func (c *Client) AllJobRunStatuses(ctx context.Context) ([]JobRunStatus, error) {
	jobs, err := c.Jobs(ctx, 0)
	if err != nil {
		return nil, err
	}

	slots := make([]*JobRunStatus, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(statusWorkers)
	for i, job := range jobs {
		g.Go(func() error {
			runs, err := c.Runs(gctx, RunFilter{JobID: job.ID, Limit: 1, OrderBy: "-id"})
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				slog.Warn("dbt cloud runs lookup failed", "job_id", job.ID, "err", err)
				return nil
			}
			if len(runs) == 0 {
				return nil
			}
			run := runs[0]
			slots[i] = &JobRunStatus{
				JobID:           job.ID,
				JobName:         job.Name,
				ProjectID:       job.ProjectID,
				EnvironmentName: job.EnvironmentName,
				RunID:           run.ID,
				StatusHumanized: run.StatusHumanized,
				DurationSeconds: run.DurationSeconds,
				Status:          c.runStatus(run.ID, run),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]JobRunStatus, 0, len(jobs))
	for _, s := range slots {
		if s != nil {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (c *Client) ValidateConnection(ctx context.Context) bool {
	if _, err := c.Account(ctx); err != nil {
		slog.Warn("dbt cloud connection check failed", "err", err)
		return false
	}
	return true
}

func (c *Client) Execute(ctx context.Context, method, target string, payload any, query url.Values) (restapi.Decoded, error) {
	if _, err := restapi.CheckMethod(Kind, method); err != nil {
		return restapi.Decoded{}, err
	}
	api, err := c.api(ctx)
	if err != nil {
		return restapi.Decoded{}, err
	}
	return api.Execute(ctx, method, target, payload, query)
}

func (c *Client) Close() error {
	return c.clients.Reset(nil)
}
