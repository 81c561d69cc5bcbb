// Package mqtt subscribes to device snapshot topics and feeds decoded
// snapshots to the alerting bus.
package mqtt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/greenfield-iot/agrialert/internal/conf"
	"github.com/greenfield-iot/agrialert/internal/errors"
	"github.com/greenfield-iot/agrialert/internal/logger"
	"github.com/greenfield-iot/agrialert/internal/observability/metrics"
	"github.com/greenfield-iot/agrialert/internal/sensor"
)

const (
	// SnapshotSuffix is the last topic level devices publish readings to:
	// <prefix>/<userId>/<deviceId>/snapshot.
	SnapshotSuffix = "snapshot"

	connectTimeout    = 10 * time.Second
	disconnectQuiesce = 250 // milliseconds
	maxReconnect      = 2 * time.Minute
)

const component = "mqtt"

// Publisher accepts decoded snapshots. *alerting.SnapshotBus implements it.
type Publisher interface {
	Publish(snapshot *sensor.Snapshot) bool
}

// Client is a paho-backed subscriber for device snapshots.
type Client struct {
	settings conf.MQTTSettings
	sink     Publisher
	log      logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu     sync.Mutex
	client paho.Client
}

// NewClient creates an unconnected client. m may be nil. A nil sink makes a
// publish-only client that never subscribes.
func NewClient(settings *conf.MQTTSettings, sink Publisher, log logger.Logger, m *metrics.Metrics) *Client {
	return &Client{
		settings: *settings,
		sink:     sink,
		log:      log.Module(component),
		metrics:  m,
		now:      time.Now,
	}
}

// SubscriptionTopic is the wildcard filter covering every user's devices.
func (c *Client) SubscriptionTopic() string {
	return c.settings.TopicPrefix + "/+/+/" + SnapshotSuffix
}

// SnapshotTopic is the topic a device publishes its readings to.
func SnapshotTopic(prefix, userID, deviceID string) string {
	return prefix + "/" + userID + "/" + deviceID + "/" + SnapshotSuffix
}

// ParseTopic extracts the owner and device from a snapshot topic.
func ParseTopic(prefix, topic string) (userID, deviceID string, ok bool) {
	rest, found := strings.CutPrefix(topic, prefix+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[2] != SnapshotSuffix || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// Connect connects to the broker and subscribes. The subscription is
// renewed on every reconnect.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil && c.client.IsConnected() {
		return nil
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(c.settings.Broker)
	opts.SetClientID(c.settings.ClientID)
	if c.settings.Username != "" {
		opts.SetUsername(c.settings.Username)
		opts.SetPassword(c.settings.Password)
	}
	opts.SetConnectTimeout(connectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(maxReconnect)
	opts.SetCleanSession(true)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	client := paho.NewClient(opts)
	token := client.Connect()
	if err := waitToken(ctx, token); err != nil {
		client.Disconnect(0)
		return errors.New(err).
			Component(component).
			Category(errors.CategoryNetwork).
			Context("broker", c.settings.Broker).
			Build()
	}
	c.client = client
	return nil
}

// Disconnect closes the broker connection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()

	if client != nil {
		client.Disconnect(disconnectQuiesce)
	}
	c.metrics.SetMQTTConnected(false)
}

// IsConnected reports whether the broker connection is up.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil && c.client.IsConnected()
}

// PublishSnapshot sends a device payload to its snapshot topic. Used by the
// simulate command and integration tests.
func (c *Client) PublishSnapshot(ctx context.Context, userID, deviceID string, payload []byte) error {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil || !client.IsConnected() {
		return errors.Newf("mqtt client is not connected").
			Component(component).
			Category(errors.CategoryNetwork).
			Build()
	}

	topic := SnapshotTopic(c.settings.TopicPrefix, userID, deviceID)
	if err := waitToken(ctx, client.Publish(topic, c.settings.QoS, false, payload)); err != nil {
		return errors.New(err).
			Component(component).
			Category(errors.CategoryNetwork).
			Context("topic", topic).
			Build()
	}
	return nil
}

func (c *Client) onConnect(client paho.Client) {
	c.metrics.SetMQTTConnected(true)
	if c.sink == nil {
		return
	}
	topic := c.SubscriptionTopic()
	token := client.Subscribe(topic, c.settings.QoS, c.onMessage)
	// Handlers run on paho's goroutine; never block it indefinitely.
	if !token.WaitTimeout(connectTimeout) || token.Error() != nil {
		c.log.Error("failed to subscribe to snapshot topic",
			logger.String("topic", topic),
			logger.Error(token.Error()))
		return
	}
	c.log.Info("subscribed to snapshot topic",
		logger.String("broker", c.settings.Broker),
		logger.String("topic", topic))
}

func (c *Client) onConnectionLost(_ paho.Client, err error) {
	c.metrics.SetMQTTConnected(false)
	c.log.Warn("mqtt connection lost", logger.Error(err))
}

func (c *Client) onMessage(_ paho.Client, msg paho.Message) {
	c.handle(msg.Topic(), msg.Payload())
}

// handle decodes one message and hands it to the sink.
func (c *Client) handle(topic string, payload []byte) {
	userID, deviceID, ok := ParseTopic(c.settings.TopicPrefix, topic)
	if !ok {
		c.metrics.SnapshotRejected(metrics.SourceMQTT)
		c.log.Debug("ignoring message on unexpected topic", logger.String("topic", topic))
		return
	}

	snapshot, err := sensor.DecodeSnapshot(userID, deviceID, payload, c.now())
	if err != nil {
		c.metrics.SnapshotRejected(metrics.SourceMQTT)
		c.log.Warn("rejected malformed snapshot",
			logger.String("user_id", userID),
			logger.String("device_id", deviceID),
			logger.Error(err))
		return
	}

	c.metrics.SnapshotReceived(metrics.SourceMQTT)
	c.sink.Publish(snapshot)
}

// waitToken waits for a paho token, giving up when ctx is done.
func waitToken(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("mqtt operation cancelled: %w", ctx.Err())
	}
}
