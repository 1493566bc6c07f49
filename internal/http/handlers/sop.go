package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/open-sspm/opsdash/internal/sop"
)

const noDataPoints = "At least one data point must be provided"

type SOPResponse struct {
	Success     bool          `json:"success"`
	SOPDocument *sop.Document `json:"sopDocument,omitempty"`
	GeneratedAt string        `json:"generatedAt,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// HandleGenerateSOP renders a procedure document for the posted data points.
// Failures keep the success envelope so the frontend can show the message.
func (h *Handlers) HandleGenerateSOP(c *echo.Context) error {
	var req sop.Request
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, SOPResponse{Error: "invalid request body"})
	}
	if len(req.DataPoints) == 0 {
		return c.JSON(http.StatusBadRequest, SOPResponse{Error: noDataPoints})
	}
	if err := h.validate(&req); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return c.JSON(http.StatusBadRequest, SOPResponse{Error: apiErr.Detail})
		}
		return err
	}

	gen := h.SOP
	if gen == nil {
		gen = &sop.Generator{Now: h.now}
	}
	doc, err := gen.Generate(req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, SOPResponse{
		Success:     true,
		SOPDocument: &doc,
		GeneratedAt: h.now().Format(time.RFC3339),
	})
}
