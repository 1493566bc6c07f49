// Package handlers contains HTTP handler logic split by domain.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v5"
	"github.com/open-sspm/opsdash/internal/config"
	"github.com/open-sspm/opsdash/internal/connectors/connerr"
	"github.com/open-sspm/opsdash/internal/connectors/registry"
	"github.com/open-sspm/opsdash/internal/sop"
	"github.com/open-sspm/opsdash/internal/store"
)

const (
	// ContextKeyRequestID stores the request id (X-Request-ID) for logging and client error references.
	ContextKeyRequestID = "request_id"

	// InternalErrorCode is a stable error code safe to return to clients.
	InternalErrorCode = "INTERNAL_ERROR"

	APIVersion = "0.1.0"
)

// HealthChecker validates every configured connector on demand.
type HealthChecker interface {
	CheckAll(ctx context.Context) map[string]bool
}

// Handlers groups all HTTP handlers and shared dependencies.
type Handlers struct {
	Cfg        config.Config
	Store      store.Repository
	Connectors *registry.Set
	Health     HealthChecker
	SOP        *sop.Generator
	Validate   *validator.Validate
	Now        func() time.Time
}

func New(cfg config.Config, repo store.Repository, conns *registry.Set, health HealthChecker) *Handlers {
	return &Handlers{
		Cfg:        cfg,
		Store:      repo,
		Connectors: conns,
		Health:     health,
		SOP:        sop.New(),
		Validate:   validator.New(validator.WithRequiredStructEnabled()),
		Now:        time.Now,
	}
}

func (h *Handlers) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

// APIError is a client error whose Detail is safe to send back verbatim.
type APIError struct {
	Status int
	Detail string
	Err    error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Status, e.Detail, e.Err)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Detail)
}

func (e *APIError) Unwrap() error { return e.Err }

func badRequest(format string, args ...any) *APIError {
	return &APIError{Status: http.StatusBadRequest, Detail: fmt.Sprintf(format, args...)}
}

type detailResponse struct {
	Detail string `json:"detail"`
}

// bind decodes the request body into v and runs its validate tags.
func (h *Handlers) bind(c *echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return &APIError{Status: http.StatusBadRequest, Detail: "invalid request body", Err: err}
	}
	return h.validate(v)
}

func (h *Handlers) validate(v any) error {
	if h.Validate == nil {
		h.Validate = validator.New(validator.WithRequiredStructEnabled())
	}
	err := h.Validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &APIError{Status: http.StatusBadRequest, Detail: "invalid request body", Err: err}
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("%s failed %q (%s)", fe.Namespace(), fe.Tag(), fe.Param())
		}
		msgs = append(msgs, msg)
	}
	return &APIError{Status: http.StatusUnprocessableEntity, Detail: strings.Join(msgs, "; "), Err: err}
}

// queryInt reads an integer query parameter bounded to [lo, hi].
func queryInt(c *echo.Context, name string, def, lo, hi int) (int, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || n > hi {
		return 0, badRequest("%s must be an integer between %d and %d", name, lo, hi)
	}
	return n, nil
}

func queryBool(c *echo.Context, name string) (bool, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, badRequest("%s must be a boolean", name)
	}
	return b, nil
}

func queryDuration(c *echo.Context, name string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return def, nil
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, badRequest("%s must be a positive number of seconds or a duration", name)
	}
	return d, nil
}

// StatusFor maps an error to the response status and a client-safe detail.
// A zero status means the error is internal and its message must not leak.
func StatusFor(err error) (int, string) {
	var apiErr *APIError
	var cfgErr *connerr.ConfigurationError
	var unsupported *connerr.UnsupportedOperationError
	var authErr *connerr.AuthenticationError
	var remoteErr *connerr.RemoteRequestError
	var timeoutErr *connerr.PollingTimeoutError

	switch {
	case errors.As(err, &apiErr):
		return apiErr.Status, apiErr.Detail
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest, cfgErr.Error()
	case errors.As(err, &unsupported):
		return http.StatusBadRequest, unsupported.Error()
	case errors.As(err, &timeoutErr):
		return http.StatusGatewayTimeout, timeoutErr.Error()
	case errors.As(err, &authErr):
		return http.StatusBadGateway, vendorLabel(authErr.Vendor) + " rejected the configured credentials"
	case errors.As(err, &remoteErr):
		if remoteErr.StatusCode == http.StatusNotFound {
			return http.StatusNotFound, "Not found"
		}
		return http.StatusBadGateway, vendorLabel(remoteErr.Vendor) + " request failed"
	case errors.Is(err, connerr.ErrCancelled), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "Request cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Request timed out"
	}
	return 0, ""
}

func vendorLabel(v string) string {
	if v == "" {
		return "Upstream service"
	}
	return v
}

// RenderError returns a generic JSON 500 and logs the real error.
func (h *Handlers) RenderError(c *echo.Context, err error) error {
	requestID, _ := c.Get(ContextKeyRequestID).(string)
	path := ""
	method := ""
	if req := c.Request(); req != nil {
		method = req.Method
		if req.URL != nil {
			path = req.URL.Path
		}
	}
	c.Logger().Error("http error",
		"request_id", requestID,
		"method", method,
		"path", path,
		"ip", c.RealIP(),
		"error", err,
	)

	msg := "Internal server error."
	if requestID != "" {
		msg = fmt.Sprintf("%s Reference: %s.", msg, requestID)
	}
	msg = fmt.Sprintf("%s Code: %s.", msg, InternalErrorCode)
	return c.JSON(http.StatusInternalServerError, detailResponse{Detail: msg})
}

// RenderNotFound returns a 404 response.
func RenderNotFound(c *echo.Context) error {
	return c.JSON(http.StatusNotFound, detailResponse{Detail: "Not found"})
}
