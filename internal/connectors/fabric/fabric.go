// Package fabric is the Microsoft Fabric REST connector. It authenticates as a
// service principal with the client-credentials flow.
package fabric

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/open-sspm/opsdash/internal/connectors/clientcache"
	"github.com/open-sspm/opsdash/internal/connectors/connerr"
	"github.com/open-sspm/opsdash/internal/connectors/restapi"
	"github.com/open-sspm/opsdash/internal/connectors/runstatus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

const (
	requestsPerSecond = 5
	pipelineJobType   = "Pipeline"
)

type service int

const serviceAPI service = iota

// handle is the authenticated API surface. The token source refreshes the
// bearer token itself before expiry.
type handle struct {
	api    *restapi.Executor
	tokens oauth2.TokenSource
}

// Client talks to one Fabric tenant.
type Client struct {
	cfg Config

	HTTP  *http.Client
	Now   func() time.Time
	Sleep func(context.Context, time.Duration) error

	clients *clientcache.Cache[service, *handle]
}

type Item struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty"`
	WorkspaceID string `json:"workspaceId,omitempty"`
}

type Table struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Location string `json:"location"`
	Format   string `json:"format"`
}

type JobInstance struct {
	ID            string `json:"id"`
	ItemID        string `json:"itemId"`
	JobType       string `json:"jobType"`
	InvokeType    string `json:"invokeType"`
	Status        string `json:"status"`
	StartTimeUTC  string `json:"startTimeUtc"`
	EndTimeUTC    string `json:"endTimeUtc"`
	FailureReason *struct {
		ErrorCode string `json:"errorCode"`
		Message   string `json:"message"`
	} `json:"failureReason"`
}

// JobRef identifies a job instance started through the job scheduler.
type JobRef struct {
	WorkspaceID   string `json:"workspace_id"`
	ItemID        string `json:"item_id"`
	JobInstanceID string `json:"job_instance_id"`
	Location      string `json:"location"`
}

// New creates a Fabric client. It performs no network I/O.
func New(cfg Config) (*Client, error) {
	cfg = cfg.Normalized()
	cfgErr := &connerr.ConfigurationError{Vendor: Kind}
	if cfg.TenantID == "" && cfg.TokenURL == "" {
		cfgErr.Missing = append(cfgErr.Missing, "tenant_id")
	}
	if cfg.ClientID == "" {
		cfgErr.Missing = append(cfgErr.Missing, "client_id")
	}
	if cfg.ClientSecret == "" {
		cfgErr.Missing = append(cfgErr.Missing, "client_secret")
	}
	if !cfgErr.Empty() {
		return nil, cfgErr
	}
	c := &Client{
		cfg:  cfg,
		HTTP: &http.Client{Timeout: restapi.DefaultTimeout},
	}
	c.clients = clientcache.New(Kind, c.buildHandle)
	return c, nil
}

func (c *Client) Kind() string { return Kind }

func (c *Client) buildHandle(ctx context.Context, _ service) (*handle, error) {
	cc := clientcredentials.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		TokenURL:     c.cfg.TokenURL,
		Scopes:       []string{DefaultScope},
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	// The first token is fetched under the caller's ctx. Refreshes run on the
	// long-lived source, which must not capture ctx.
	first, err := cc.TokenSource(context.WithValue(ctx, oauth2.HTTPClient, c.HTTP)).Token()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &connerr.AuthenticationError{Vendor: Kind, Err: err}
	}
	refreshCtx := context.WithValue(context.Background(), oauth2.HTTPClient, c.HTTP)
	tokens := oauth2.ReuseTokenSource(first, cc.TokenSource(refreshCtx))

	api, err := restapi.New(restapi.Options{
		Vendor:  Kind,
		BaseURL: c.cfg.BaseURL,
		HTTP:    c.HTTP,
		Limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
		Auth: func(_ context.Context, req *http.Request) error {
			tok, err := tokens.Token()
			if err != nil {
				return err
			}
			tok.SetAuthHeader(req)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return &handle{api: api, tokens: tokens}, nil
}

func (c *Client) api(ctx context.Context) (*restapi.Executor, error) {
	h, err := c.clients.Get(ctx, serviceAPI)
	if err != nil {
		return nil, err
	}
	return h.api, nil
}

func (c *Client) Authenticate(ctx context.Context) error {
	_, err := c.api(ctx)
	return err
}

func (c *Client) workspace(id string) (string, error) {
	if id = strings.TrimSpace(id); id != "" {
		return id, nil
	}
	if c.cfg.WorkspaceID != "" {
		return c.cfg.WorkspaceID, nil
	}
	return "", &connerr.ConfigurationError{Vendor: Kind, Missing: []string{"workspace_id"}}
}

func (c *Client) get(ctx context.Context, target string, query url.Values, out any) error {
	api, err := c.api(ctx)
	if err != nil {
		return err
	}
	resp, err := api.Get(ctx, target, query)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := resp.Body.Into(out); err != nil {
		return fmt.Errorf("fabric: decode %s: %w", target, err)
	}
	return nil
}

// list drains continuation-token pagination. Collections arrive under
// "value", except lakehouse tables which use "data".
func list[T any](ctx context.Context, c *Client, target string, maxItems int) ([]T, error) {
	return restapi.Drain(ctx, maxItems, func(ctx context.Context, token string) (restapi.Page[T], error) {
		var q url.Values
		if token != "" {
			q = url.Values{"continuationToken": {token}}
		}
		var payload struct {
			Value             []T    `json:"value"`
			Data              []T    `json:"data"`
			ContinuationToken string `json:"continuationToken"`
		}
		if err := c.get(ctx, target, q, &payload); err != nil {
			return restapi.Page[T]{}, err
		}
		items := payload.Value
		if len(items) == 0 {
			items = payload.Data
		}
		return restapi.Page[T]{Items: items, Next: payload.ContinuationToken}, nil
	})
}

func wsPath(ws string, parts ...string) string {
	segs := []string{"workspaces", url.PathEscape(ws)}
	for _, p := range parts {
		segs = append(segs, url.PathEscape(p))
	}
	return strings.Join(segs, "/")
}

func (c *Client) Workspaces(ctx context.Context) ([]Item, error) {
	return list[Item](ctx, c, "workspaces", 0)
}

func (c *Client) Workspace(ctx context.Context, workspaceID string) (Item, error) {
	ws, err := c.workspace(workspaceID)
	if err != nil {
		return Item{}, err
	}
	var out Item
	err = c.get(ctx, wsPath(ws), nil, &out)
	return out, err
}

func (c *Client) Lakehouses(ctx context.Context, workspaceID string) ([]Item, error) {
	ws, err := c.workspace(workspaceID)
	if err != nil {
		return nil, err
	}
	return list[Item](ctx, c, wsPath(ws, "lakehouses"), 0)
}

func (c *Client) LakehouseTables(ctx context.Context, workspaceID, lakehouseID string) ([]Table, error) {
	ws, err := c.workspace(workspaceID)
	if err != nil {
		return nil, err
	}
	return list[Table](ctx, c, wsPath(ws, "lakehouses", lakehouseID, "tables"), 0)
}

func (c *Client) Warehouses(ctx context.Context, workspaceID string) ([]Item, error) {
	ws, err := c.workspace(workspaceID)
	if err != nil {
		return nil, err
	}
	return list[Item](ctx, c, wsPath(ws, "warehouses"), 0)
}

// RunWarehouseQuery submits SQL to a warehouse query endpoint and returns the
// body as served.
func (c *Client) RunWarehouseQuery(ctx context.Context, workspaceID, warehouseID, sql string) (restapi.Decoded, error) {
	ws, err := c.workspace(workspaceID)
	if err != nil {
		return restapi.Decoded{}, err
	}
	api, err := c.api(ctx)
	if err != nil {
		return restapi.Decoded{}, err
	}
	resp, err := api.Post(ctx, wsPath(ws, "warehouses", warehouseID, "query"), map[string]string{"query": sql})
	if err != nil {
		return restapi.Decoded{}, err
	}
	return resp.Body, nil
}

func (c *Client) Pipelines(ctx context.Context, workspaceID string) ([]Item, error) {
	ws, err := c.workspace(workspaceID)
	if err != nil {
		return nil, err
	}
	return list[Item](ctx, c, wsPath(ws, "dataPipelines"), 0)
}

// PipelineRuns lists job instances of a pipeline item, newest first as served.
func (c *Client) PipelineRuns(ctx context.Context, workspaceID, pipelineID string, maxItems int) ([]JobInstance, error) {
	ws, err := c.workspace(workspaceID)
	if err != nil {
		return nil, err
	}
	return list[JobInstance](ctx, c, wsPath(ws, "items", pipelineID, "jobs", "instances"), maxItems)
}

// RunPipeline starts an on-demand pipeline job. Fabric answers 202 with the
// job instance URL in Location.
func (c *Client) RunPipeline(ctx context.Context, workspaceID, pipelineID string, parameters map[string]any) (JobRef, error) {
	ws, err := c.workspace(workspaceID)
	if err != nil {
		return JobRef{}, err
	}
	api, err := c.api(ctx)
	if err != nil {
		return JobRef{}, err
	}
	var body any
	if len(parameters) > 0 {
		body = map[string]any{"executionData": map[string]any{"parameters": parameters}}
	}
	resp, err := api.Do(ctx, restapi.Request{
		Method: http.MethodPost,
		Path:   wsPath(ws, "items", pipelineID, "jobs", "instances"),
		Query:  url.Values{"jobType": {pipelineJobType}},
		Body:   body,
	})
	if err != nil {
		return JobRef{}, err
	}
	loc := strings.TrimSpace(resp.Header.Get("Location"))
	ref := JobRef{WorkspaceID: ws, ItemID: pipelineID, Location: loc}
	if u, err := url.Parse(loc); err == nil && loc != "" {
		ref.JobInstanceID = path.Base(u.Path)
	}
	if ref.JobInstanceID == "" || ref.JobInstanceID == "." || ref.JobInstanceID == "/" {
		return JobRef{}, &connerr.RemoteRequestError{Vendor: Kind, Target: wsPath(ws, "items", pipelineID, "jobs", "instances"), StatusCode: resp.StatusCode, Body: "missing Location header"}
	}
	slog.Info("fabric pipeline started", "workspace_id", ws, "pipeline_id", pipelineID, "job_instance_id", ref.JobInstanceID)
	return ref, nil
}

func (c *Client) JobInstance(ctx context.Context, ref JobRef) (JobInstance, error) {
	ws, err := c.workspace(ref.WorkspaceID)
	if err != nil {
		return JobInstance{}, err
	}
	var out JobInstance
	err = c.get(ctx, wsPath(ws, "items", ref.ItemID, "jobs", "instances", ref.JobInstanceID), nil, &out)
	return out, err
}

// JobStatus reads a job instance and projects it through the Fabric table.
func (c *Client) JobStatus(ctx context.Context, ref JobRef) (runstatus.RunStatus, error) {
	job, err := c.JobInstance(ctx, ref)
	if err != nil {
		return runstatus.RunStatus{}, err
	}
	rec := runstatus.Record{
		ID:         ref.JobInstanceID,
		RawStatus:  job.Status,
		StartedAt:  restapi.ParseTime(job.StartTimeUTC),
		FinishedAt: restapi.ParseTime(job.EndTimeUTC),
	}
	if job.FailureReason != nil {
		rec.ErrorMessage = strings.TrimSpace(job.FailureReason.ErrorCode + " " + job.FailureReason.Message)
	}
	return c.NormalizeStatus(rec), nil
}

func (c *Client) NormalizeStatus(rec runstatus.Record) runstatus.RunStatus {
	return runstatus.Fabric.Normalize(rec)
}

func (c *Client) WaitForJobInstance(ctx context.Context, ref JobRef, timeout, pollInterval time.Duration) (runstatus.RunStatus, error) {
	p := runstatus.Poller{
		Vendor: Kind,
		Now:    c.Now,
		Sleep:  c.Sleep,
		Status: func(ctx context.Context, _ string) (runstatus.RunStatus, error) {
			return c.JobStatus(ctx, ref)
		},
	}
	return p.Wait(ctx, ref.JobInstanceID, timeout, pollInterval)
}

func (c *Client) ValidateConnection(ctx context.Context) bool {
	var page json.RawMessage
	if err := c.get(ctx, "workspaces", nil, &page); err != nil {
		slog.Warn("fabric connection check failed", "err", err)
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

// Close drops the cached token source; the next call authenticates again.
func (c *Client) Close() error {
	return c.clients.Reset(nil)
}
