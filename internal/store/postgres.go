package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the subset of pgxpool.Pool the Postgres repository needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres stores metrics and alerts in the tables created by db/migrations.
type Postgres struct {
	db    DB
	close func()
}

// OpenPostgres connects a pool and verifies it with a ping.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{db: pool, close: pool.Close}, nil
}

// NewPostgres wraps an existing connection, e.g. a transaction in tests.
func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db}
}

const (
	metricColumns = `id::text, name, value, unit, recorded_at`
	alertColumns  = `id::text, title, message, severity, is_active, created_at, resolved_at`
)

func (p *Postgres) ListMetrics(ctx context.Context, f MetricFilter) ([]Metric, error) {
	skip, limit := normalizePage(f.Skip, f.Limit)
	rows, err := p.db.Query(ctx, `
SELECT `+metricColumns+`
FROM metrics
WHERE ($1 = '' OR name = $1)
ORDER BY seq
OFFSET $2 LIMIT $3`, f.Name, skip, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanMetric)
}

func (p *Postgres) GetMetric(ctx context.Context, id string) (Metric, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Metric{}, ErrNotFound
	}
	rows, err := p.db.Query(ctx, `SELECT `+metricColumns+` FROM metrics WHERE id = $1`, id)
	if err != nil {
		return Metric{}, err
	}
	m, err := pgx.CollectExactlyOneRow(rows, scanMetric)
	if errors.Is(err, pgx.ErrNoRows) {
		return Metric{}, ErrNotFound
	}
	return m, err
}

func (p *Postgres) CreateMetric(ctx context.Context, in NewMetric) (Metric, error) {
	rows, err := p.db.Query(ctx, `
INSERT INTO metrics (id, name, value, unit)
VALUES ($1, $2, $3, $4)
RETURNING `+metricColumns, uuid.NewString(), strings.TrimSpace(in.Name), in.Value, strings.TrimSpace(in.Unit))
	if err != nil {
		return Metric{}, err
	}
	return pgx.CollectExactlyOneRow(rows, scanMetric)
}

func (p *Postgres) ListAlerts(ctx context.Context, f AlertFilter) ([]Alert, error) {
	skip, limit := normalizePage(f.Skip, f.Limit)
	rows, err := p.db.Query(ctx, `
SELECT `+alertColumns+`
FROM alerts
WHERE (NOT $1 OR is_active)
ORDER BY seq
OFFSET $2 LIMIT $3`, f.ActiveOnly, skip, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanAlert)
}

func (p *Postgres) GetAlert(ctx context.Context, id string) (Alert, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Alert{}, ErrNotFound
	}
	rows, err := p.db.Query(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id)
	if err != nil {
		return Alert{}, err
	}
	a, err := pgx.CollectExactlyOneRow(rows, scanAlert)
	if errors.Is(err, pgx.ErrNoRows) {
		return Alert{}, ErrNotFound
	}
	return a, err
}

func (p *Postgres) CreateAlert(ctx context.Context, in NewAlert) (Alert, error) {
	rows, err := p.db.Query(ctx, `
INSERT INTO alerts (id, title, message, severity, is_active)
VALUES ($1, $2, $3, $4, TRUE)
RETURNING `+alertColumns,
		uuid.NewString(), strings.TrimSpace(in.Title), in.Message, strings.ToLower(strings.TrimSpace(in.Severity)))
	if err != nil {
		return Alert{}, err
	}
	return pgx.CollectExactlyOneRow(rows, scanAlert)
}

// UpdateAlert applies p in one statement; resolved_at is only written while
// it is still NULL.
func (p *Postgres) UpdateAlert(ctx context.Context, id string, patch AlertPatch) (Alert, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Alert{}, ErrNotFound
	}
	var severity *string
	if patch.Severity != nil {
		s := strings.ToLower(*patch.Severity)
		severity = &s
	}
	rows, err := p.db.Query(ctx, `
UPDATE alerts SET
    title = COALESCE($2::text, title),
    message = COALESCE($3::text, message),
    severity = COALESCE($4::text, severity),
    is_active = COALESCE($5::boolean, is_active),
    resolved_at = CASE
        WHEN $5::boolean IS FALSE AND resolved_at IS NULL THEN now()
        ELSE resolved_at
    END
WHERE id = $1
RETURNING `+alertColumns, id, patch.Title, patch.Message, severity, patch.IsActive)
	if err != nil {
		return Alert{}, err
	}
	a, err := pgx.CollectExactlyOneRow(rows, scanAlert)
	if errors.Is(err, pgx.ErrNoRows) {
		return Alert{}, ErrNotFound
	}
	return a, err
}

func (p *Postgres) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := p.db.QueryRow(ctx, `
SELECT
    (SELECT count(*) FROM metrics),
    (SELECT count(*) FROM alerts),
    (SELECT count(*) FROM alerts WHERE is_active)`).Scan(&c.Metrics, &c.Alerts, &c.ActiveAlerts)
	return c, err
}

func (p *Postgres) Close() {
	if p.close != nil {
		p.close()
	}
}

func scanMetric(row pgx.CollectableRow) (Metric, error) {
	var (
		m  Metric
		ts pgtype.Timestamptz
	)
	if err := row.Scan(&m.ID, &m.Name, &m.Value, &m.Unit, &ts); err != nil {
		return Metric{}, err
	}
	m.Timestamp = ts.Time.UTC()
	return m, nil
}

func scanAlert(row pgx.CollectableRow) (Alert, error) {
	var (
		a        Alert
		created  pgtype.Timestamptz
		resolved pgtype.Timestamptz
	)
	if err := row.Scan(&a.ID, &a.Title, &a.Message, &a.Severity, &a.IsActive, &created, &resolved); err != nil {
		return Alert{}, err
	}
	a.CreatedAt = created.Time.UTC()
	if resolved.Valid {
		t := resolved.Time.UTC()
		a.ResolvedAt = &t
	}
	return a, nil
}
