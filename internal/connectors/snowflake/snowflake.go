// Package snowflake is the Snowflake warehouse connector, built on the
// gosnowflake database/sql driver.
package snowflake

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/open-sspm/opsdash/internal/connectors/clientcache"
	"github.com/open-sspm/opsdash/internal/connectors/connerr"
	"github.com/open-sspm/opsdash/internal/connectors/restapi"
	"github.com/open-sspm/opsdash/internal/connectors/runstatus"
	sf "github.com/snowflakedb/gosnowflake"
)

const (
	driverName         = "snowflake"
	defaultUsageDays   = 30
	statusNotInHistory = "NOT_IN_HISTORY"
)

var identifierRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

type service int

const serviceWarehouse service = iota

// Client runs SQL against one Snowflake account.
type Client struct {
	cfg Config

	// OpenDB opens the connection pool; tests substitute an in-memory driver.
	OpenDB func(ctx context.Context) (*sql.DB, error)
	Now    func() time.Time
	Sleep  func(context.Context, time.Duration) error

	clients *clientcache.Cache[service, *sql.DB]
}

// Column is one named value of a result row.
type Column struct {
	Name  string
	Value any
}

// Row keeps columns in result-set order.
type Row []Column

// Get returns the value of the first column named name.
func (r Row) Get(name string) (any, bool) {
	for _, c := range r {
		if strings.EqualFold(c.Name, name) {
			return c.Value, true
		}
	}
	return nil, false
}

func (r Row) MarshalJSON() ([]byte, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, c := range r {
		if i > 0 {
			b.WriteByte(',')
		}
		k, err := json.Marshal(c.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(c.Value)
		if err != nil {
			return nil, err
		}
		b.Write(k)
		b.WriteByte(':')
		b.Write(v)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

// New creates a Snowflake client. The pool is opened lazily.
func New(cfg Config) (*Client, error) {
	cfg = cfg.Normalized()
	cfgErr := &connerr.ConfigurationError{Vendor: Kind}
	if cfg.Account == "" {
		cfgErr.Missing = append(cfgErr.Missing, "account")
	}
	if cfg.User == "" {
		cfgErr.Missing = append(cfgErr.Missing, "user")
	}
	if cfg.Password == "" {
		cfgErr.Missing = append(cfgErr.Missing, "password")
	}
	if !cfgErr.Empty() {
		return nil, cfgErr
	}
	c := &Client{cfg: cfg}
	c.OpenDB = c.openDriver
	c.clients = clientcache.New(Kind, c.buildDB)
	return c, nil
}

func (c *Client) Kind() string { return Kind }

func (c *Client) openDriver(_ context.Context) (*sql.DB, error) {
	dsn, err := c.cfg.DSN()
	if err != nil {
		return nil, &connerr.ConfigurationError{Vendor: Kind, Invalid: map[string]string{"dsn": err.Error()}}
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func (c *Client) buildDB(ctx context.Context, _ service) (*sql.DB, error) {
	db, err := c.OpenDB(ctx)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func (c *Client) db(ctx context.Context) (*sql.DB, error) {
	return c.clients.Get(ctx, serviceWarehouse)
}

func (c *Client) Authenticate(ctx context.Context) error {
	_, err := c.db(ctx)
	return err
}

// ExecuteQuery runs query and returns every row with columns in result order.
func (c *Client) ExecuteQuery(ctx context.Context, query string, args ...any) ([]Row, error) {
	db, err := c.db(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, c.queryError(ctx, query, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, c.queryError(ctx, query, err)
	}
	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, c.queryError(ctx, query, err)
		}
		row := make(Row, len(cols))
		for i, name := range cols {
			v := vals[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[i] = Column{Name: name, Value: v}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, c.queryError(ctx, query, err)
	}
	return out, nil
}

func (c *Client) queryError(ctx context.Context, query string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	remote := &connerr.RemoteRequestError{Vendor: Kind, Target: summarize(query), Err: err}
	var sfErr *sf.SnowflakeError
	if errors.As(err, &sfErr) {
		remote.Body = sfErr.Message
		remote.Err = nil
	}
	slog.Warn("snowflake query failed", "query", remote.Target, "err", err)
	return remote
}

func summarize(query string) string {
	q := strings.Join(strings.Fields(query), " ")
	if len(q) > 120 {
		q = q[:120] + "…"
	}
	return q
}

func (c *Client) qualified(schema string, parts ...string) (string, error) {
	if schema = strings.TrimSpace(schema); schema == "" {
		schema = c.cfg.Schema
	}
	names := []string{}
	if c.cfg.Database != "" {
		names = append(names, c.cfg.Database)
	}
	names = append(names, schema)
	names = append(names, parts...)
	for _, n := range names {
		if !identifierRE.MatchString(n) {
			return "", fmt.Errorf("snowflake: invalid identifier %q", n)
		}
	}
	return strings.Join(names, "."), nil
}

// Tables lists table names in schema, defaulting to the configured schema.
func (c *Client) Tables(ctx context.Context, schema string) ([]string, error) {
	target, err := c.qualified(schema)
	if err != nil {
		return nil, err
	}
	rows, err := c.ExecuteQuery(ctx, "SHOW TABLES IN "+target)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		if v, ok := r.Get("name"); ok {
			out = append(out, fmt.Sprint(v))
		}
	}
	return out, nil
}

// SchemaInfo describes the columns of a table.
func (c *Client) SchemaInfo(ctx context.Context, table, schema string) ([]Row, error) {
	target, err := c.qualified(schema, table)
	if err != nil {
		return nil, err
	}
	return c.ExecuteQuery(ctx, "DESCRIBE TABLE "+target)
}

// WarehouseUsage reports daily credit usage per warehouse for the last days days.
func (c *Client) WarehouseUsage(ctx context.Context, days int) ([]Row, error) {
	if days <= 0 {
		days = defaultUsageDays
	}
	return c.ExecuteQuery(ctx, fmt.Sprintf(`
SELECT
    WAREHOUSE_NAME,
    DATE_TRUNC('DAY', START_TIME) AS DATE,
    SUM(CREDITS_USED) AS CREDITS_USED
FROM SNOWFLAKE.ACCOUNT_USAGE.WAREHOUSE_METERING_HISTORY
WHERE START_TIME >= DATEADD(DAY, -%d, CURRENT_DATE())
GROUP BY WAREHOUSE_NAME, DATE
ORDER BY DATE DESC, WAREHOUSE_NAME`, days))
}

// StorageUsage reports database storage in GB over the last month.
func (c *Client) StorageUsage(ctx context.Context) ([]Row, error) {
	return c.ExecuteQuery(ctx, `
SELECT
    DATABASE_NAME,
    AVERAGE_DATABASE_BYTES / (1024*1024*1024) AS STORAGE_GB,
    DATE_TRUNC('DAY', USAGE_DATE) AS DATE
FROM SNOWFLAKE.ACCOUNT_USAGE.DATABASE_STORAGE_USAGE_HISTORY
WHERE USAGE_DATE >= DATEADD(MONTH, -1, CURRENT_DATE())
ORDER BY USAGE_DATE DESC, DATABASE_NAME`)
}

type queryIDer interface {
	GetQueryID() string
}

// SubmitQuery starts query in async mode and returns its query id without
// waiting for results.
func (c *Client) SubmitQuery(ctx context.Context, query string) (string, error) {
	db, err := c.db(ctx)
	if err != nil {
		return "", err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return "", c.queryError(ctx, query, err)
	}
	defer conn.Close()

	var queryID string
	err = conn.Raw(func(dc any) error {
		q, ok := dc.(driver.QueryerContext)
		if !ok {
			return &connerr.UnsupportedOperationError{Vendor: Kind, Operation: "async query"}
		}
		rows, err := q.QueryContext(sf.WithAsyncMode(ctx), query, nil)
		if err != nil {
			return err
		}
		defer rows.Close()
		ider, ok := rows.(queryIDer)
		if !ok {
			return errors.New("driver did not report a query id")
		}
		queryID = ider.GetQueryID()
		return nil
	})
	if err != nil {
		var unsupported *connerr.UnsupportedOperationError
		if errors.As(err, &unsupported) {
			return "", err
		}
		return "", c.queryError(ctx, query, err)
	}
	slog.Info("snowflake query submitted", "query_id", queryID)
	return queryID, nil
}

// QueryStatus reads the query's execution status from QUERY_HISTORY. A query
// that has not reached the history view yet is reported as still running.
func (c *Client) QueryStatus(ctx context.Context, queryID string) (runstatus.RunStatus, error) {
	rows, err := c.ExecuteQuery(ctx, `
SELECT EXECUTION_STATUS, START_TIME, END_TIME, ERROR_MESSAGE
FROM TABLE(INFORMATION_SCHEMA.QUERY_HISTORY(RESULT_LIMIT => 10000))
WHERE QUERY_ID = ?`, queryID)
	if err != nil {
		return runstatus.RunStatus{}, err
	}
	if len(rows) == 0 {
		return runstatus.Project(runstatus.Record{ID: queryID, RawStatus: statusNotInHistory}, runstatus.Pending), nil
	}
	row := rows[0]
	rec := runstatus.Record{ID: queryID}
	if v, ok := row.Get("EXECUTION_STATUS"); ok && v != nil {
		rec.RawStatus = fmt.Sprint(v)
	}
	if v, ok := row.Get("START_TIME"); ok {
		rec.StartedAt = asTime(v)
	}
	if v, ok := row.Get("END_TIME"); ok {
		rec.FinishedAt = asTime(v)
	}
	if v, ok := row.Get("ERROR_MESSAGE"); ok && v != nil {
		rec.ErrorMessage = fmt.Sprint(v)
	}
	return c.NormalizeStatus(rec), nil
}

func asTime(v any) *time.Time {
	switch t := v.(type) {
	case time.Time:
		u := t.UTC()
		return &u
	case string:
		return restapi.ParseTime(t)
	default:
		return nil
	}
}

func (c *Client) NormalizeStatus(rec runstatus.Record) runstatus.RunStatus {
	return runstatus.Snowflake.Normalize(rec)
}

func (c *Client) WaitForQuery(ctx context.Context, queryID string, timeout, pollInterval time.Duration) (runstatus.RunStatus, error) {
	p := runstatus.Poller{
		Vendor: Kind,
		Now:    c.Now,
		Sleep:  c.Sleep,
		Status: c.QueryStatus,
	}
	return p.Wait(ctx, queryID, timeout, pollInterval)
}

func (c *Client) ValidateConnection(ctx context.Context) bool {
	if _, err := c.ExecuteQuery(ctx, "SELECT CURRENT_VERSION()"); err != nil {
		slog.Warn("snowflake connection check failed", "err", err)
		return false
	}
	return true
}

// Execute runs target as SQL for POST. Other verbs have no meaning for a
// warehouse and are rejected before any I/O.
func (c *Client) Execute(ctx context.Context, method, target string, _ any, _ url.Values) (restapi.Decoded, error) {
	m, err := restapi.CheckMethod(Kind, method)
	if err != nil {
		return restapi.Decoded{}, err
	}
	if m != http.MethodPost {
		return restapi.Decoded{}, &connerr.UnsupportedOperationError{Vendor: Kind, Operation: "HTTP " + m}
	}
	rows, err := c.ExecuteQuery(ctx, target)
	if err != nil {
		return restapi.Decoded{}, err
	}
	if rows == nil {
		rows = []Row{}
	}
	return restapi.JSONValue(rows)
}

// Close closes the connection pool if it was opened.
func (c *Client) Close() error {
	return c.clients.Reset(func(_ service, db *sql.DB) error {
		return db.Close()
	})
}
