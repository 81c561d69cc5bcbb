package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/greenfield-iot/agrialert/internal/alerting"
	"github.com/greenfield-iot/agrialert/internal/datastore/entities"
	"github.com/greenfield-iot/agrialert/internal/logger"
)

// initAlertRoutes registers alert rule and triggered-log endpoints.
func (c *Controller) initAlertRoutes() {
	alerts := c.Group.Group("/alerts", c.protect...)

	alerts.GET("/schema", c.GetAlertSchema)

	alerts.GET("/rules", c.ListAlertRules)
	alerts.POST("/rules", c.CreateAlertRule)
	alerts.GET("/rules/:id", c.GetAlertRule)
	alerts.PUT("/rules/:id", c.UpdateAlertRule)
	alerts.PATCH("/rules/:id/toggle", c.ToggleAlertRule)
	alerts.DELETE("/rules/:id", c.DeleteAlertRule)
	alerts.POST("/rules/:id/test", c.TestAlertRule)
	alerts.GET("/rules/:id/debounce", c.GetDebounceState)

	alerts.GET("/triggered", c.ListTriggeredAlerts)
	alerts.GET("/triggered/stream", c.StreamTriggeredAlerts)
}

// GetAlertSchema returns the parameter, comparison and contact catalog.
func (c *Controller) GetAlertSchema(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, alerting.GetSchema(c.engine.Cooldown()))
}

// ListAlertRules returns the caller's rules, optionally filtered by ?active.
func (c *Controller) ListAlertRules(ctx echo.Context) error {
	var active *bool
	if param := ctx.QueryParam("active"); param != "" {
		v, err := strconv.ParseBool(param)
		if err != nil {
			return badRequest(ctx, "active must be true or false", "active")
		}
		active = &v
	}

	rules, err := c.rules.List(ctx.Request().Context(), userIDFrom(ctx), active)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list alert rules")
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"rules": rules,
		"count": len(rules),
	})
}

// GetAlertRule returns one of the caller's rules.
func (c *Controller) GetAlertRule(ctx echo.Context) error {
	rule, err := c.rules.Get(ctx.Request().Context(), userIDFrom(ctx), ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get alert rule")
	}
	return ctx.JSON(http.StatusOK, rule)
}

// CreateAlertRule validates and stores a new rule owned by the caller.
func (c *Controller) CreateAlertRule(ctx echo.Context) error {
	var rule entities.AlertRule
	if err := ctx.Bind(&rule); err != nil {
		return badRequest(ctx, "Invalid request body", "")
	}

	created, err := c.rules.Create(ctx.Request().Context(), userIDFrom(ctx), &rule)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to create alert rule")
	}
	return ctx.JSON(http.StatusCreated, created)
}

// UpdateAlertRule replaces one of the caller's rules.
func (c *Controller) UpdateAlertRule(ctx echo.Context) error {
	var rule entities.AlertRule
	if err := ctx.Bind(&rule); err != nil {
		return badRequest(ctx, "Invalid request body", "")
	}

	updated, err := c.rules.Update(ctx.Request().Context(), userIDFrom(ctx), ctx.Param("id"), &rule)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to update alert rule")
	}
	return ctx.JSON(http.StatusOK, updated)
}

// ToggleAlertRule activates or deactivates a rule.
func (c *Controller) ToggleAlertRule(ctx echo.Context) error {
	var body struct {
		Active *bool `json:"active"`
	}
	if err := ctx.Bind(&body); err != nil {
		return badRequest(ctx, "Invalid request body", "")
	}
	if body.Active == nil {
		return badRequest(ctx, "active is required", "active")
	}

	rule, err := c.rules.Toggle(ctx.Request().Context(), userIDFrom(ctx), ctx.Param("id"), *body.Active)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to toggle alert rule")
	}
	return ctx.JSON(http.StatusOK, rule)
}

// DeleteAlertRule removes one of the caller's rules.
func (c *Controller) DeleteAlertRule(ctx echo.Context) error {
	if err := c.rules.Delete(ctx.Request().Context(), userIDFrom(ctx), ctx.Param("id")); err != nil {
		return c.HandleError(ctx, err, "Failed to delete alert rule")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// TestAlertRule fires the rule's notification once, bypassing evaluation and
// debounce. The resulting triggered record is returned whether or not
// delivery succeeded.
func (c *Controller) TestAlertRule(ctx echo.Context) error {
	rec, err := c.engine.TestFire(ctx.Request().Context(), userIDFrom(ctx), ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to test alert rule")
	}

	c.log.Info("alert rule test fired",
		logger.String("rule_id", rec.AlertID),
		logger.String("user_id", rec.UserID),
		logger.String("status", rec.Status))

	return ctx.JSON(http.StatusOK, rec)
}

// GetDebounceState reports whether the rule would pass the debounce gate now.
// The probe does not consume the window.
func (c *Controller) GetDebounceState(ctx echo.Context) error {
	ok, err := c.engine.CanDispatch(ctx.Request().Context(), userIDFrom(ctx), ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to read debounce state")
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"canDispatch": ok,
		"cooldown":    c.engine.Cooldown().String(),
	})
}

// ListTriggeredAlerts returns the caller's triggered alerts, newest first.
func (c *Controller) ListTriggeredAlerts(ctx echo.Context) error {
	limit := alerting.DefaultTriggeredPageSize
	if param := ctx.QueryParam("limit"); param != "" {
		if v, err := strconv.Atoi(param); err == nil {
			limit = alerting.ClampPageSize(v)
		}
	}
	offset := 0
	if param := ctx.QueryParam("offset"); param != "" {
		if v, err := strconv.Atoi(param); err == nil && v >= 0 {
			offset = v
		}
	}

	items, total, err := c.triggered.List(ctx.Request().Context(), userIDFrom(ctx), limit, offset)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list triggered alerts")
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"alerts": items,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}
