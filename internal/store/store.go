// Package store holds the dashboard's metrics and alerts. One Repository is
// created at startup and handed to the HTTP handlers and the health runner.
package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

var ErrNotFound = errors.New("store: not found")

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

type Metric struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
	Timestamp time.Time `json:"timestamp"`
}

type NewMetric struct {
	Name  string  `json:"name" validate:"required,max=200"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit" validate:"max=50"`
}

type Alert struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Message    string     `json:"message"`
	Severity   string     `json:"severity"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at"`
}

type NewAlert struct {
	Title    string `json:"title" validate:"required,max=200"`
	Message  string `json:"message" validate:"max=4000"`
	Severity string `json:"severity" validate:"required,oneof=critical warning info"`
}

// AlertPatch carries the fields a PATCH may change. Nil fields are left alone.
type AlertPatch struct {
	Title    *string `json:"title" validate:"omitempty,max=200"`
	Message  *string `json:"message" validate:"omitempty,max=4000"`
	Severity *string `json:"severity" validate:"omitempty,oneof=critical warning info"`
	IsActive *bool   `json:"is_active"`
}

// Apply updates a in place. resolved_at is stamped with now the first time
// the alert is deactivated and never changes afterwards.
func (p AlertPatch) Apply(a *Alert, now time.Time) {
	if p.Title != nil {
		a.Title = *p.Title
	}
	if p.Message != nil {
		a.Message = *p.Message
	}
	if p.Severity != nil {
		a.Severity = strings.ToLower(*p.Severity)
	}
	if p.IsActive != nil {
		a.IsActive = *p.IsActive
		if !a.IsActive && a.ResolvedAt == nil {
			t := now.UTC()
			a.ResolvedAt = &t
		}
	}
}

type MetricFilter struct {
	Skip  int
	Limit int
	Name  string
}

type AlertFilter struct {
	Skip       int
	Limit      int
	ActiveOnly bool
}

type Counts struct {
	Metrics      int `json:"metrics_count"`
	Alerts       int `json:"alerts_count"`
	ActiveAlerts int `json:"active_alerts_count"`
}

// Repository lists records in insertion order.
type Repository interface {
	ListMetrics(ctx context.Context, f MetricFilter) ([]Metric, error)
	GetMetric(ctx context.Context, id string) (Metric, error)
	CreateMetric(ctx context.Context, m NewMetric) (Metric, error)

	ListAlerts(ctx context.Context, f AlertFilter) ([]Alert, error)
	GetAlert(ctx context.Context, id string) (Alert, error)
	CreateAlert(ctx context.Context, a NewAlert) (Alert, error)
	UpdateAlert(ctx context.Context, id string, p AlertPatch) (Alert, error)

	Counts(ctx context.Context) (Counts, error)
	Close()
}

func normalizePage(skip, limit int) (int, int) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return skip, limit
}

func page[T any](items []T, skip, limit int) []T {
	skip, limit = normalizePage(skip, limit)
	if skip >= len(items) {
		return []T{}
	}
	end := skip + limit
	if end > len(items) {
		end = len(items)
	}
	out := make([]T, end-skip)
	copy(out, items[skip:end])
	return out
}
