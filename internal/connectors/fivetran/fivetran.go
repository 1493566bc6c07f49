// Package fivetran is the Fivetran REST connector.
package fivetran

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
	"golang.org/x/time/rate"
)

const (
	DefaultListLimit  = 100
	maxPageSize       = 1000
	requestsPerSecond = 5

	MinSyncFrequency = 5
	MaxSyncFrequency = 1440

	dateLayout = "2006-01-02"
)

type service int

const serviceAPI service = iota

// Client talks to the Fivetran REST API with an API key pair.
type Client struct {
	cfg Config

	HTTP  *http.Client
	Now   func() time.Time
	Sleep func(context.Context, time.Duration) error

	clients *clientcache.Cache[service, *restapi.Executor]
}

type Group struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

type ConnectorStatus struct {
	SetupState       string `json:"setup_state"`
	SyncState        string `json:"sync_state"`
	UpdateState      string `json:"update_state"`
	IsHistoricalSync bool   `json:"is_historical_sync"`
}

type Connector struct {
	ID            string          `json:"id"`
	GroupID       string          `json:"group_id"`
	Service       string          `json:"service"`
	Schema        string          `json:"schema"`
	Paused        bool            `json:"paused"`
	SyncFrequency int             `json:"sync_frequency"`
	ScheduleType  string          `json:"schedule_type"`
	SucceededAt   string          `json:"succeeded_at"`
	FailedAt      string          `json:"failed_at"`
	CreatedAt     string          `json:"created_at"`
	Status        ConnectorStatus `json:"status"`
}

// ScheduleUpdate is a partial schedule change. Nil fields are left untouched.
type ScheduleUpdate struct {
	SyncFrequency   *int
	Paused          *bool
	PauseAfterTrial *bool
}

// ConnectorSyncStatus pairs a connector's identity with its normalized status.
type ConnectorSyncStatus struct {
	ConnectorID string              `json:"connector_id"`
	Name        string              `json:"name"`
	Service     string              `json:"service"`
	CreatedAt   string              `json:"created_at"`
	Status      runstatus.RunStatus `json:"status"`
}

// New creates a Fivetran client. It performs no network I/O.
func New(cfg Config) (*Client, error) {
	cfg = cfg.Normalized()
	cfgErr := &connerr.ConfigurationError{Vendor: Kind}
	if cfg.APIKey == "" {
		cfgErr.Missing = append(cfgErr.Missing, "api_key")
	}
	if cfg.APISecret == "" {
		cfgErr.Missing = append(cfgErr.Missing, "api_secret")
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

func (c *Client) buildExecutor(ctx context.Context, _ service) (*restapi.Executor, error) {
	api, err := restapi.New(restapi.Options{
		Vendor:  Kind,
		BaseURL: c.cfg.BaseURL,
		HTTP:    c.HTTP,
		Limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
		Auth: func(_ context.Context, req *http.Request) error {
			req.SetBasicAuth(c.cfg.APIKey, c.cfg.APISecret)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	if _, err := api.Get(ctx, "groups", url.Values{"limit": {"1"}}); err != nil {
		return nil, err
	}
	return api, nil
}

func (c *Client) api(ctx context.Context) (*restapi.Executor, error) {
	return c.clients.Get(ctx, serviceAPI)
}

func (c *Client) Authenticate(ctx context.Context) error {
	_, err := c.api(ctx)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	api, err := c.api(ctx)
	if err != nil {
		return err
	}
	resp, err := api.Do(ctx, restapi.Request{Method: method, Path: path, Query: query, Body: body})
	if err != nil {
		return err
	}
	var envelope struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := resp.Body.Into(&envelope); err != nil {
		return fmt.Errorf("fivetran: decode response: %w", err)
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("fivetran: decode data: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

// drain follows Fivetran's cursor pagination, stopping after maxItems items.
func drain[T any](ctx context.Context, c *Client, path string, maxItems int) ([]T, error) {
	pageSize := maxItems
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return restapi.Drain(ctx, maxItems, func(ctx context.Context, cursor string) (restapi.Page[T], error) {
		q := url.Values{"limit": {strconv.Itoa(pageSize)}}
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		var data struct {
			Items      []T    `json:"items"`
			NextCursor string `json:"next_cursor"`
		}
		if err := c.get(ctx, path, q, &data); err != nil {
			return restapi.Page[T]{}, err
		}
		return restapi.Page[T]{Items: data.Items, Next: data.NextCursor}, nil
	})
}

func (c *Client) Groups(ctx context.Context) ([]Group, error) {
	return drain[Group](ctx, c, "groups", 0)
}

func (c *Client) Group(ctx context.Context, groupID string) (Group, error) {
	var out Group
	err := c.get(ctx, "groups/"+url.PathEscape(groupID), nil, &out)
	return out, err
}

// Connectors lists connectors in a group, or account-wide when groupID is
// empty. limit <= 0 uses DefaultListLimit.
func (c *Client) Connectors(ctx context.Context, groupID string, limit int) ([]Connector, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	path := "connectors"
	if g := strings.TrimSpace(groupID); g != "" {
		path = "groups/" + url.PathEscape(g) + "/connectors"
	}
	return drain[Connector](ctx, c, path, limit)
}

func (c *Client) Connector(ctx context.Context, connectorID string) (Connector, error) {
	var out Connector
	err := c.get(ctx, "connectors/"+url.PathEscape(connectorID), nil, &out)
	return out, err
}

func (c *Client) ConnectorSchema(ctx context.Context, connectorID string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.get(ctx, "connectors/"+url.PathEscape(connectorID)+"/schemas", nil, &out)
	return out, err
}

func (c *Client) ConnectorLogs(ctx context.Context, connectorID string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.get(ctx, "connectors/"+url.PathEscape(connectorID)+"/logs", nil, &out)
	return out, err
}

// SyncConnector asks Fivetran to start a sync now.
func (c *Client) SyncConnector(ctx context.Context, connectorID string) error {
	if err := c.do(ctx, http.MethodPost, "connectors/"+url.PathEscape(connectorID)+"/sync", nil, map[string]any{}, nil); err != nil {
		return err
	}
	slog.Info("fivetran sync triggered", "connector_id", connectorID)
	return nil
}

// SyncStatus reads the connector and projects its sync state.
func (c *Client) SyncStatus(ctx context.Context, connectorID string) (runstatus.RunStatus, error) {
	conn, err := c.Connector(ctx, connectorID)
	if err != nil {
		return runstatus.RunStatus{}, err
	}
	return c.connectorStatus(connectorID, conn), nil
}

// connectorStatus decides completion from sync_state, then success or failure
// by whichever of succeeded_at and failed_at is more recent. A scheduled
// connector with neither timestamp has never synced and stays pending.
func (c *Client) connectorStatus(id string, conn Connector) runstatus.RunStatus {
	succeeded := restapi.ParseTime(conn.SucceededAt)
	failed := restapi.ParseTime(conn.FailedAt)
	rec := runstatus.Record{
		ID:        id,
		RawStatus: conn.Status.SyncState,
	}
	if failed != nil && (succeeded == nil || failed.After(*succeeded)) {
		rec.FinishedAt = failed
		rec.ErrorMessage = "last sync failed at " + restapi.FormatTime(*failed)
	} else {
		rec.FinishedAt = succeeded
	}

	outcome, known := runstatus.Fivetran.Lookup(conn.Status.SyncState)
	if !known {
		return c.NormalizeStatus(rec)
	}
	switch {
	case outcome == runstatus.Succeeded && succeeded == nil && failed == nil:
		// Never synced: no sync has finished yet.
		outcome = runstatus.Pending
	case outcome == runstatus.Succeeded && failed != nil && (succeeded == nil || failed.After(*succeeded)):
		outcome = runstatus.Failed
	}
	return runstatus.Project(rec, outcome)
}

func (c *Client) NormalizeStatus(rec runstatus.Record) runstatus.RunStatus {
	return runstatus.Fivetran.Normalize(rec)
}

// WaitForSyncCompletion polls until the connector leaves the syncing states.
func (c *Client) WaitForSyncCompletion(ctx context.Context, connectorID string, timeout, pollInterval time.Duration) (runstatus.RunStatus, error) {
	p := runstatus.Poller{
		Vendor: Kind,
		Now:    c.Now,
		Sleep:  c.Sleep,
		Status: c.SyncStatus,
	}
	return p.Wait(ctx, connectorID, timeout, pollInterval)
}

func (c *Client) UpdateConfig(ctx context.Context, connectorID string, config map[string]any) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodPatch, "connectors/"+url.PathEscape(connectorID), nil, map[string]any{"config": config}, &out)
	return out, err
}

// UpdateSchedule validates the frequency locally before any request is sent.
func (c *Client) UpdateSchedule(ctx context.Context, connectorID string, u ScheduleUpdate) (Connector, error) {
	body := map[string]any{}
	if u.SyncFrequency != nil {
		f := *u.SyncFrequency
		if f < MinSyncFrequency || f > MaxSyncFrequency {
			return Connector{}, &connerr.ConfigurationError{
				Vendor:  Kind,
				Invalid: map[string]string{"sync_frequency": fmt.Sprintf("%d minutes is outside %d..%d", f, MinSyncFrequency, MaxSyncFrequency)},
			}
		}
		body["schedule_type"] = "custom_schedule"
		body["sync_frequency"] = f
	}
	if u.Paused != nil {
		body["paused"] = *u.Paused
	}
	if u.PauseAfterTrial != nil {
		body["pause_after_trial"] = *u.PauseAfterTrial
	}
	var out Connector
	err := c.do(ctx, http.MethodPatch, "connectors/"+url.PathEscape(connectorID), nil, body, &out)
	return out, err
}

func (c *Client) ConnectorUsage(ctx context.Context, connectorID string, start, end time.Time) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.get(ctx, "connectors/"+url.PathEscape(connectorID)+"/usage", dateRange(start, end), &out)
	return out, err
}

func (c *Client) AccountUsage(ctx context.Context, start, end time.Time) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.get(ctx, "account/usage", dateRange(start, end), &out)
	return out, err
}

func dateRange(start, end time.Time) url.Values {
	q := url.Values{}
	if !start.IsZero() {
		q.Set("start_date", start.UTC().Format(dateLayout))
	}
	if !end.IsZero() {
		q.Set("end_date", end.UTC().Format(dateLayout))
	}
	return q
}

func (c *Client) Users(ctx context.Context) ([]json.RawMessage, error) {
	return drain[json.RawMessage](ctx, c, "users", 0)
}

func (c *Client) Destinations(ctx context.Context) ([]json.RawMessage, error) {
	return drain[json.RawMessage](ctx, c, "destinations", 0)
}

func (c *Client) Destination(ctx context.Context, destinationID string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.get(ctx, "destinations/"+url.PathEscape(destinationID), nil, &out)
	return out, err
}

// AllConnectorStatuses projects the sync state of every connector in the account.
func (c *Client) AllConnectorStatuses(ctx context.Context) ([]ConnectorSyncStatus, error) {
	conns, err := drain[Connector](ctx, c, "connectors", 0)
	if err != nil {
		return nil, err
	}
	out := make([]ConnectorSyncStatus, 0, len(conns))
	for _, conn := range conns {
		out = append(out, ConnectorSyncStatus{
			ConnectorID: conn.ID,
			Name:        conn.Schema,
			Service:     conn.Service,
			CreatedAt:   conn.CreatedAt,
			Status:      c.connectorStatus(conn.ID, conn),
		})
	}
	return out, nil
}

func (c *Client) ValidateConnection(ctx context.Context) bool {
	if _, err := c.Groups(ctx); err != nil {
		slog.Warn("fivetran connection check failed", "err", err)
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
