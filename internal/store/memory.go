package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is a process-local Repository.
type Memory struct {
	Now func() time.Time

	mu      sync.RWMutex
	metrics []Metric
	alerts  []Alert
}

func NewMemory() *Memory {
	return &Memory{Now: time.Now}
}

func (m *Memory) now() time.Time {
	if m.Now == nil {
		return time.Now().UTC()
	}
	return m.Now().UTC()
}

func (m *Memory) ListMetrics(_ context.Context, f MetricFilter) ([]Metric, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if f.Name == "" {
		return page(m.metrics, f.Skip, f.Limit), nil
	}
	var matched []Metric
	for _, metric := range m.metrics {
		if metric.Name == f.Name {
			matched = append(matched, metric)
		}
	}
	return page(matched, f.Skip, f.Limit), nil
}

func (m *Memory) GetMetric(_ context.Context, id string) (Metric, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, metric := range m.metrics {
		if metric.ID == id {
			return metric, nil
		}
	}
	return Metric{}, ErrNotFound
}

func (m *Memory) CreateMetric(_ context.Context, in NewMetric) (Metric, error) {
	metric := Metric{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(in.Name),
		Value:     in.Value,
		Unit:      strings.TrimSpace(in.Unit),
		Timestamp: m.now(),
	}
	m.mu.Lock()
	m.metrics = append(m.metrics, metric)
	m.mu.Unlock()
	return metric, nil
}

func (m *Memory) ListAlerts(_ context.Context, f AlertFilter) ([]Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !f.ActiveOnly {
		return page(m.alerts, f.Skip, f.Limit), nil
	}
	var active []Alert
	for _, a := range m.alerts {
		if a.IsActive {
			active = append(active, a)
		}
	}
	return page(active, f.Skip, f.Limit), nil
}

func (m *Memory) GetAlert(_ context.Context, id string) (Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i := m.alertIndex(id); i >= 0 {
		return m.alerts[i], nil
	}
	return Alert{}, ErrNotFound
}

func (m *Memory) CreateAlert(_ context.Context, in NewAlert) (Alert, error) {
	a := Alert{
		ID:        uuid.NewString(),
		Title:     strings.TrimSpace(in.Title),
		Message:   in.Message,
		Severity:  strings.ToLower(strings.TrimSpace(in.Severity)),
		IsActive:  true,
		CreatedAt: m.now(),
	}
	m.mu.Lock()
	m.alerts = append(m.alerts, a)
	m.mu.Unlock()
	return a, nil
}

func (m *Memory) UpdateAlert(_ context.Context, id string, p AlertPatch) (Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.alertIndex(id)
	if i < 0 {
		return Alert{}, ErrNotFound
	}
	p.Apply(&m.alerts[i], m.now())
	return m.alerts[i], nil
}

func (m *Memory) Counts(_ context.Context) (Counts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := Counts{Metrics: len(m.metrics), Alerts: len(m.alerts)}
	for _, a := range m.alerts {
		if a.IsActive {
			c.ActiveAlerts++
		}
	}
	return c, nil
}

func (m *Memory) Close() {}

func (m *Memory) alertIndex(id string) int {
	for i := range m.alerts {
		if m.alerts[i].ID == id {
			return i
		}
	}
	return -1
}
