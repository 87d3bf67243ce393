// Package api serves the HTTP and websocket surface of safetyvision: lifecycle
// actions on violations, detection ingestion, the live alert stream and
// service health.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/smartsafety/safetyvision/internal/alerting"
	"github.com/smartsafety/safetyvision/internal/errors"
	"github.com/smartsafety/safetyvision/internal/lifecycle"
	"github.com/smartsafety/safetyvision/internal/logger"
	"github.com/smartsafety/safetyvision/internal/observability"
	"github.com/smartsafety/safetyvision/internal/pipeline"
)

// Route prefixes. /api keeps the paths existing dashboards call.
const (
	APIPrefix       = "/api/v2"
	LegacyAPIPrefix = "/api"
)

// Controller holds the dependencies of the HTTP handlers.
type Controller struct {
	Echo       *echo.Echo
	Lifecycle  *lifecycle.Manager
	Dispatcher *alerting.Dispatcher
	Processor  *pipeline.Processor
	Metrics    *observability.Metrics

	log       logger.Logger
	startTime time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithMetrics exposes the Prometheus registry on GET /metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Controller) {
		c.Metrics = m
	}
}

// WithProcessor enables detection ingestion.
func WithProcessor(p *pipeline.Processor) Option {
	return func(c *Controller) {
		c.Processor = p
	}
}

// New creates a controller and registers its routes on e.
func New(e *echo.Echo, lc *lifecycle.Manager, d *alerting.Dispatcher, log logger.Logger, opts ...Option) *Controller {
	c := &Controller{
		Echo:       e,
		Lifecycle:  lc,
		Dispatcher: d,
		log:        log.Module("api"),
		startTime:  time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.initRoutes()
	return c
}

func (c *Controller) initRoutes() {
	for _, prefix := range []string{APIPrefix, LegacyAPIPrefix} {
		g := c.Echo.Group(prefix)
		g.GET("/health", c.HealthCheck)
		g.GET("/stats", c.GetStats)
		c.initAlertRoutes(g)
		c.initDetectionRoutes(g)
	}

	c.Echo.GET("/ws", c.HandleWebSocket)
	if c.Metrics != nil {
		c.Echo.GET("/metrics", echo.WrapHandler(c.Metrics.Handler()))
	}
}

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps an error category onto an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.IsNotFound(err):
		return http.StatusNotFound
	case errors.IsValidation(err):
		return http.StatusBadRequest
	case errors.IsCategory(err, errors.CategoryConflict):
		return http.StatusConflict
	case errors.IsCategory(err, errors.CategoryDatabase), errors.IsCategory(err, errors.CategoryTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HandleError writes err as a JSON error response. Client errors carry the
// error text; server errors carry message and are logged.
func (c *Controller) HandleError(ctx echo.Context, err error, message string) error {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		c.log.Error(message,
			logger.Error(err),
			logger.Int("status", code),
			logger.String("method", ctx.Request().Method),
			logger.String("path", ctx.Request().URL.Path))
		return ctx.JSON(code, errorResponse{Error: message})
	}
	return ctx.JSON(code, errorResponse{Error: err.Error()})
}

func badRequest(ctx echo.Context, msg string) error {
	return ctx.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

func parseUintParam(ctx echo.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(ctx.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, errors.Newf("invalid %s %q", name, ctx.Param(name)).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	return uint(id), nil
}
