package api

import (
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/greenfield-iot/agrialert/internal/datastore/entities"
	"github.com/greenfield-iot/agrialert/internal/logger"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
	streamMaxMsgSize = 512
	streamBuffer     = 32
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Non-browser clients omit Origin; auth still applies to them.
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	},
}

// StreamTriggeredAlerts pushes the caller's triggered alerts over a
// websocket as they are recorded. Each message is one JSON record. Records
// are dropped for a client that falls more than streamBuffer behind.
func (c *Controller) StreamTriggeredAlerts(ctx echo.Context) error {
	userID := userIDFrom(ctx)

	records := make(chan *entities.TriggeredAlert, streamBuffer)
	unsubscribe := c.triggered.Subscribe(userID, func(rec *entities.TriggeredAlert) {
		select {
		case records <- rec:
		default:
			c.log.Warn("triggered stream client lagging, record dropped",
				logger.String("user_id", userID),
				logger.String("record_id", rec.ID))
		}
	})
	defer unsubscribe()

	// Subscribed before the handshake completes so a connected client never
	// misses a record.
	conn, err := streamUpgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		c.log.Warn("failed to upgrade triggered stream", logger.Error(err))
		return nil
	}
	defer func() { _ = conn.Close() }()

	c.log.Debug("triggered stream connected", logger.String("user_id", userID))
	defer c.log.Debug("triggered stream closed", logger.String("user_id", userID))

	// The reader only services control frames; it exits when the client
	// goes away or stops answering pings.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(streamMaxMsgSize)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	// This goroutine is the only writer, as gorilla/websocket requires.
	// Returning nil after the upgrade keeps echo from writing to a hijacked
	// connection.
	for {
		select {
		case rec := <-records:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(rec); err != nil {
				return nil
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		case <-closed:
			return nil
		case <-c.ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(streamWriteWait))
			return nil
		}
	}
}
