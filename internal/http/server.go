package httpapp

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/open-sspm/opsdash/internal/config"
	"github.com/open-sspm/opsdash/internal/connectors/registry"
	"github.com/open-sspm/opsdash/internal/http/handlers"
	"github.com/open-sspm/opsdash/internal/store"
)

const (
	readHeaderTimeout = 10 * time.Second
	maxRequestIDLen   = 128
)

// devOrigins are the local frontend servers allowed alongside FRONTEND_URL.
var devOrigins = []string{
	"http://localhost:5173",
	"http://localhost:4173",
	"http://localhost:8080",
	"http://frontend",
}

// EchoServer is the HTTP server wrapper.
type EchoServer struct {
	h *handlers.Handlers
	e *echo.Echo

	mu  sync.Mutex
	srv *http.Server
}

// NewEchoServer creates a new HTTP server.
func NewEchoServer(cfg config.Config, repo store.Repository, conns *registry.Set, health handlers.HealthChecker) (*EchoServer, error) {
	if repo == nil {
		return nil, errors.New("http server requires a repository")
	}
	h := handlers.New(cfg, repo, conns, health)
	es := &EchoServer{h: h, e: echo.New()}
	es.e.HTTPErrorHandler = es.httpErrorHandler
	es.e.Use(middleware.Recover())
	es.e.Use(requestID)
	es.e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     allowedOrigins(cfg.FrontendURL),
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderXRequestID},
		AllowCredentials: true,
	}))
	es.registerRoutes()
	return es, nil
}

func allowedOrigins(frontend string) []string {
	origins := append([]string(nil), devOrigins...)
	frontend = strings.TrimRight(strings.TrimSpace(frontend), "/")
	if frontend != "" {
		for _, o := range origins {
			if o == frontend {
				return origins
			}
		}
		origins = append(origins, frontend)
	}
	return origins
}

func (es *EchoServer) registerRoutes() {
	es.e.GET("/", es.h.HandleRoot)
	es.e.GET("/connectors", es.h.HandleCatalog)

	api := es.e.Group("/api")
	api.GET("/health", es.h.HandleHealth)
	api.GET("/dashboard", es.h.HandleDashboard)

	api.GET("/metrics", es.h.HandleListMetrics)
	api.POST("/metrics", es.h.HandleCreateMetric)
	api.GET("/metrics/:id", es.h.HandleGetMetric)

	api.GET("/alerts", es.h.HandleListAlerts)
	api.POST("/alerts", es.h.HandleCreateAlert)
	api.GET("/alerts/:id", es.h.HandleGetAlert)
	api.PATCH("/alerts/:id", es.h.HandleUpdateAlert)

	api.POST("/generate-sop", es.h.HandleGenerateSOP)

	api.POST("/upload-csv", es.h.HandleUploadCSV)
	api.POST("/analyze-csv", es.h.HandleAnalyzeCSV)
	api.POST("/upload-to-s3", es.h.HandleUploadToS3)

	api.GET("/connectors", es.h.HandleConnectors)
	api.GET("/connectors/health", es.h.HandleConnectorHealth)
	api.POST("/connectors/dbt/jobs/:id/run", es.h.HandleDBTRunJob)
	api.GET("/connectors/dbt/runs/:id", es.h.HandleDBTRunStatus)
	api.POST("/connectors/fivetran/connectors/:id/sync", es.h.HandleFivetranSync)
	api.GET("/connectors/fivetran/connectors/:id/status", es.h.HandleFivetranStatus)
	api.POST("/connectors/aws/glue/jobs/:name/runs", es.h.HandleGlueStartRun)
	api.GET("/connectors/aws/glue/jobs/:name/runs/:runID", es.h.HandleGlueRunStatus)
}

// requestID propagates X-Request-ID, minting one when the client sent none.
func requestID(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		id := strings.TrimSpace(c.Request().Header.Get(echo.HeaderXRequestID))
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		c.Set(handlers.ContextKeyRequestID, id)
		c.Response().Header().Set(echo.HeaderXRequestID, id)
		return next(c)
	}
}

type statusCoder interface {
	StatusCode() int
}

func httpStatusFromError(err error) int {
	if status, _ := handlers.StatusFor(err); status != 0 {
		return status
	}
	code := 0
	var sc statusCoder
	var he *echo.HTTPError
	switch {
	case errors.As(err, &sc):
		code = sc.StatusCode()
	case errors.As(err, &he):
		code = he.Code
	}
	if code >= 400 && code <= 599 {
		return code
	}
	return http.StatusInternalServerError
}

// httpErrorHandler renders every handler error as {"detail": ...}. Framework
// errors use the status text; internal errors get a reference instead of
// their message.
func (es *EchoServer) httpErrorHandler(c *echo.Context, err error) {
	if err == nil {
		return
	}
	if status, detail := handlers.StatusFor(err); status != 0 {
		if status >= http.StatusInternalServerError {
			c.Logger().Warn("upstream error", "path", c.Request().URL.Path, "status", status, "error", err)
		}
		_ = c.JSON(status, map[string]string{"detail": detail})
		return
	}

	status := httpStatusFromError(err)
	if status >= http.StatusInternalServerError {
		_ = es.h.RenderError(c, err)
		return
	}
	_ = c.JSON(status, map[string]string{"detail": http.StatusText(status)})
}

// Handler exposes the router for tests and custom servers.
func (es *EchoServer) Handler() http.Handler {
	return es.e
}

// Start listens on addr until Shutdown is called.
func (es *EchoServer) Start(addr string) error {
	return es.StartServer(&http.Server{Addr: addr, ReadHeaderTimeout: readHeaderTimeout})
}

// StartServer starts the HTTP server with a custom http.Server.
func (es *EchoServer) StartServer(server *http.Server) error {
	server.Handler = es.e
	es.mu.Lock()
	es.srv = server
	es.mu.Unlock()
	return server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (es *EchoServer) Shutdown(ctx context.Context) error {
	es.mu.Lock()
	srv := es.srv
	es.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
