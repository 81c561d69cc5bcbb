package api

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/greenfield-iot/agrialert/internal/errors"
	"github.com/greenfield-iot/agrialert/internal/logger"
	"github.com/greenfield-iot/agrialert/internal/observability/metrics"
	"github.com/greenfield-iot/agrialert/internal/sensor"
)

const maxSnapshotBody = "64K"

// initDeviceRoutes registers the HTTP snapshot ingest for devices that do
// not speak MQTT.
func (c *Controller) initDeviceRoutes() {
	devices := c.Group.Group("/devices", c.protect...)
	devices.POST("/:deviceId/snapshot", c.IngestSnapshot, middleware.BodyLimit(maxSnapshotBody))
}

// IngestSnapshot decodes a device snapshot and queues it for evaluation. It
// answers 202 once the snapshot is on the bus, and 503 when the bus is full
// or stopped.
func (c *Controller) IngestSnapshot(ctx echo.Context) error {
	userID := userIDFrom(ctx)
	deviceID := ctx.Param("deviceId")
	if deviceID == "" {
		return badRequest(ctx, "device id is required", "deviceId")
	}

	body, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return badRequest(ctx, "Failed to read request body", "")
	}

	snapshot, err := sensor.DecodeSnapshot(userID, deviceID, body, c.now())
	if err != nil {
		c.metrics.SnapshotRejected(metrics.SourceHTTP)
		return badRequest(ctx, err.Error(), "body")
	}
	c.metrics.SnapshotReceived(metrics.SourceHTTP)

	if !c.bus.Publish(snapshot) {
		c.log.Warn("snapshot not queued",
			logger.String("user_id", userID),
			logger.String("device_id", deviceID))
		return ctx.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "snapshot queue unavailable, retry later"})
	}

	return ctx.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}
