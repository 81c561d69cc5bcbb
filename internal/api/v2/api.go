// Package api implements the agrialert HTTP API under /api/v2.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/greenfield-iot/agrialert/internal/alerting"
	"github.com/greenfield-iot/agrialert/internal/conf"
	"github.com/greenfield-iot/agrialert/internal/errors"
	"github.com/greenfield-iot/agrialert/internal/logger"
	"github.com/greenfield-iot/agrialert/internal/observability/metrics"
	"github.com/greenfield-iot/agrialert/internal/sensor"
)

// SnapshotPublisher accepts decoded snapshots for asynchronous evaluation.
type SnapshotPublisher interface {
	Publish(snapshot *sensor.Snapshot) bool
}

// Controller owns the v2 route group and the services its handlers call.
type Controller struct {
	Echo  *echo.Echo
	Group *echo.Group

	rules     *alerting.RuleStore
	triggered *alerting.TriggeredLog
	engine    *alerting.Engine
	bus       SnapshotPublisher

	settings *conf.WebServerSettings
	tokens   map[string]string
	log      logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	// protect is the middleware chain for authenticated routes.
	protect []echo.MiddlewareFunc

	// ctx is cancelled on shutdown so long-lived websocket handlers return.
	ctx context.Context
}

// New registers every /api/v2 route on e. ctx bounds long-lived
// connections; cancel it before shutting the server down.
func New(ctx context.Context, e *echo.Echo, svc *alerting.Service, settings *conf.WebServerSettings, log logger.Logger, m *metrics.Metrics) *Controller {
	c := &Controller{
		Echo:      e,
		Group:     e.Group("/api/v2"),
		rules:     svc.Rules,
		triggered: svc.Triggered,
		engine:    svc.Engine,
		bus:       svc.Bus,
		settings:  settings,
		tokens:    settings.TokenUsers(),
		log:       log.Module("api"),
		metrics:   m,
		now:       time.Now,
		ctx:       ctx,
	}

	c.Group.Use(middleware.Recover(), c.metricsMiddleware)
	c.Group.GET("/health", c.Health)

	c.protect = []echo.MiddlewareFunc{c.authMiddleware}
	if limiter := c.rateLimiter(); limiter != nil {
		c.protect = append(c.protect, limiter)
	}

	c.initAlertRoutes()
	c.initDeviceRoutes()

	return c
}

// Health reports liveness.
func (c *Controller) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// HandleError maps err onto an HTTP status by category. Validation errors
// expose their message and offending field; server-side failures are logged
// and answered with message.
func (c *Controller) HandleError(ctx echo.Context, err error, message string) error {
	status := statusFor(err)

	resp := ErrorResponse{Error: message}
	if status < http.StatusInternalServerError {
		resp.Error = err.Error()
	} else {
		c.log.Error(message,
			logger.String("path", ctx.Path()),
			logger.String("category", string(errors.CategoryOf(err))),
			logger.Error(err))
	}

	var ee *errors.EnhancedError
	if status == http.StatusBadRequest && errors.As(err, &ee) {
		if field, ok := ee.ContextValue("field"); ok {
			if s, ok := field.(string); ok {
				resp.Field = s
			}
		}
	}

	return ctx.JSON(status, resp)
}

func statusFor(err error) int {
	switch errors.CategoryOf(err) {
	case errors.CategoryValidation:
		return http.StatusBadRequest
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(ctx echo.Context, message, field string) error {
	return ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: message, Field: field})
}
