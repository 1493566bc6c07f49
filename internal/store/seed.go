package store

import (
	"context"
	"log/slog"
)

var sampleMetrics = []NewMetric{
	{Name: "cpu_usage", Value: 45.2, Unit: "%"},
	{Name: "memory_usage", Value: 3.7, Unit: "GB"},
	{Name: "disk_space", Value: 256.8, Unit: "GB"},
	{Name: "network_in", Value: 1.2, Unit: "MB/s"},
	{Name: "network_out", Value: 0.8, Unit: "MB/s"},
}

var sampleAlerts = []NewAlert{
	{Title: "High CPU Usage", Message: "CPU usage has exceeded 80% for the last 5 minutes", Severity: SeverityWarning},
	{Title: "Memory Leak Detected", Message: "Possible memory leak in application server", Severity: SeverityCritical},
	{Title: "New Update Available", Message: "System update v2.1.0 is available for installation", Severity: SeverityInfo},
}

// SeedSample inserts demo metrics and alerts into an empty repository. It is
// a no-op once any record exists.
func SeedSample(ctx context.Context, repo Repository) error {
	c, err := repo.Counts(ctx)
	if err != nil {
		return err
	}
	if c.Metrics > 0 || c.Alerts > 0 {
		return nil
	}
	for _, m := range sampleMetrics {
		if _, err := repo.CreateMetric(ctx, m); err != nil {
			return err
		}
	}
	for _, a := range sampleAlerts {
		if _, err := repo.CreateAlert(ctx, a); err != nil {
			return err
		}
	}
	slog.Info("seeded sample data", "metrics", len(sampleMetrics), "alerts", len(sampleAlerts))
	return nil
}
