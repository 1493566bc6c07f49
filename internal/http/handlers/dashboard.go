package handlers

import (
	"net/http"

	"github.com/labstack/echo/v5"
	"github.com/open-sspm/opsdash/internal/store"
)

const dashboardRecent = 5

type DashboardResponse struct {
	store.Counts
	RecentMetrics []store.Metric `json:"recent_metrics"`
	ActiveAlerts  []store.Alert  `json:"active_alerts"`
}

func (h *Handlers) HandleRoot(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"message": "Welcome to the Operations Dashboard API"})
}

func (h *Handlers) HandleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": APIVersion})
}

// HandleDashboard returns record counts with the first few metrics and the
// first few active alerts.
func (h *Handlers) HandleDashboard(c *echo.Context) error {
	ctx := c.Request().Context()

	counts, err := h.Store.Counts(ctx)
	if err != nil {
		return err
	}
	metrics, err := h.Store.ListMetrics(ctx, store.MetricFilter{Limit: dashboardRecent})
	if err != nil {
		return err
	}
	alerts, err := h.Store.ListAlerts(ctx, store.AlertFilter{Limit: dashboardRecent, ActiveOnly: true})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, DashboardResponse{
		Counts:        counts,
		RecentMetrics: metrics,
		ActiveAlerts:  alerts,
	})
}
