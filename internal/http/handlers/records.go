package handlers

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v5"
	"github.com/open-sspm/opsdash/internal/store"
)

func pageParams(c *echo.Context) (skip, limit int, err error) {
	if skip, err = queryInt(c, "skip", 0, 0, 1<<31-1); err != nil {
		return 0, 0, err
	}
	if limit, err = queryInt(c, "limit", store.DefaultLimit, 1, store.MaxLimit); err != nil {
		return 0, 0, err
	}
	return skip, limit, nil
}

func (h *Handlers) HandleListMetrics(c *echo.Context) error {
	skip, limit, err := pageParams(c)
	if err != nil {
		return err
	}
	metrics, err := h.Store.ListMetrics(c.Request().Context(), store.MetricFilter{
		Skip:  skip,
		Limit: limit,
		Name:  strings.TrimSpace(c.QueryParam("name")),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, metrics)
}

func (h *Handlers) HandleGetMetric(c *echo.Context) error {
	m, err := h.Store.GetMetric(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handlers) HandleCreateMetric(c *echo.Context) error {
	var req store.NewMetric
	if err := h.bind(c, &req); err != nil {
		return err
	}
	m, err := h.Store.CreateMetric(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handlers) HandleListAlerts(c *echo.Context) error {
	skip, limit, err := pageParams(c)
	if err != nil {
		return err
	}
	activeOnly, err := queryBool(c, "active_only")
	if err != nil {
		return err
	}
	alerts, err := h.Store.ListAlerts(c.Request().Context(), store.AlertFilter{
		Skip:       skip,
		Limit:      limit,
		ActiveOnly: activeOnly,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, alerts)
}

func (h *Handlers) HandleGetAlert(c *echo.Context) error {
	a, err := h.Store.GetAlert(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handlers) HandleCreateAlert(c *echo.Context) error {
	var req store.NewAlert
	if err := h.bind(c, &req); err != nil {
		return err
	}
	a, err := h.Store.CreateAlert(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, a)
}

// HandleUpdateAlert applies a partial update. Deactivating an alert stamps
// resolved_at once.
func (h *Handlers) HandleUpdateAlert(c *echo.Context) error {
	var patch store.AlertPatch
	if err := h.bind(c, &patch); err != nil {
		return err
	}
	a, err := h.Store.UpdateAlert(c.Request().Context(), c.Param("id"), patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}
