//go:build integration

//nolint:misspell // Mosquitto is the official Eclipse project name
package containers

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const mosquittoNoAuthConf = `listener 1883
allow_anonymous true
`

// MosquittoContainer is a throwaway Eclipse Mosquitto broker for the
// sensor-feed integration tests.
type MosquittoContainer struct {
	container  testcontainers.Container
	brokerURL  string
	host       string
	port       int
	configFile string
}

// MosquittoConfig holds configuration for Mosquitto container creation.
type MosquittoConfig struct {
	// Image tag (default: "2.0")
	ImageTag string
}

// DefaultMosquittoConfig returns a MosquittoConfig with sensible defaults.
func DefaultMosquittoConfig() MosquittoConfig {
	return MosquittoConfig{ImageTag: "2.0"}
}

// NewMosquittoContainer starts an anonymous-access broker and waits until a
// client can connect. If config is nil, uses DefaultMosquittoConfig().
func NewMosquittoContainer(ctx context.Context, config *MosquittoConfig) (*MosquittoContainer, error) {
	if config == nil {
		defaultCfg := DefaultMosquittoConfig()
		config = &defaultCfg
	}

	configFile, err := writeTempFile("mosquitto-*.conf", mosquittoNoAuthConf)
	if err != nil {
		return nil, fmt.Errorf("failed to create mosquitto config: %w", err)
	}

	req := testcontainers.ContainerRequest{
		Image:        "eclipse-mosquitto:" + config.ImageTag,
		ExposedPorts: []string{"1883/tcp"},
		Cmd:          []string{"mosquitto", "-c", "/mosquitto-no-auth.conf"},
		Files: []testcontainers.ContainerFile{{
			HostFilePath:      configFile,
			ContainerFilePath: "/mosquitto-no-auth.conf",
			FileMode:          0o644,
		}},
		WaitingFor: wait.ForLog("mosquitto version").WithStartupTimeout(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		_ = os.Remove(configFile)
		return nil, fmt.Errorf("failed to start Mosquitto container: %w", err)
	}

	mc := &MosquittoContainer{container: container, configFile: configFile}
	if err := mc.resolveEndpoint(ctx); err != nil {
		_ = mc.Terminate(ctx)
		return nil, err
	}
	if err := RetryWithBackoff(ctx, 5, 200*time.Millisecond, 2*time.Second, mc.HealthCheck); err != nil {
		_ = mc.Terminate(ctx)
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	return mc, nil
}

func (c *MosquittoContainer) resolveEndpoint(ctx context.Context) error {
	host, err := c.container.Host(ctx)
	if err != nil {
		return fmt.Errorf("failed to get container host: %w", err)
	}
	mappedPort, err := c.container.MappedPort(ctx, "1883")
	if err != nil {
		return fmt.Errorf("failed to get mapped port: %w", err)
	}
	c.host = host
	c.port = mappedPort.Int()
	c.brokerURL = "tcp://" + net.JoinHostPort(host, strconv.Itoa(c.port))
	return nil
}

// BrokerURL returns the MQTT broker URL (e.g., "tcp://localhost:32771").
func (c *MosquittoContainer) BrokerURL() string {
	return c.brokerURL
}

// HealthCheck connects and disconnects a throwaway client.
func (c *MosquittoContainer) HealthCheck() error {
	client, err := c.CreateClient("healthcheck", func(o *mqtt.ClientOptions) {
		o.SetAutoReconnect(false)
		o.SetConnectTimeout(5 * time.Second)
	})
	if err != nil {
		return err
	}
	client.Disconnect(250)
	return nil
}

// CreateClient creates a new MQTT client connected to this broker.
// The caller is responsible for disconnecting the client when done.
func (c *MosquittoContainer) CreateClient(clientID string, opts ...func(*mqtt.ClientOptions)) (mqtt.Client, error) {
	mqttOpts := mqtt.NewClientOptions()
	mqttOpts.AddBroker(c.brokerURL)
	mqttOpts.SetClientID(clientID)
	mqttOpts.SetConnectTimeout(10 * time.Second)
	mqttOpts.SetAutoReconnect(true)
	for _, opt := range opts {
		opt(mqttOpts)
	}

	client := mqtt.NewClient(mqttOpts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connect timeout for client %s", clientID)
	}
	if token.Error() != nil {
		return nil, fmt.Errorf("failed to connect client: %w", token.Error())
	}
	return client, nil
}

// ClearRetainedMessages removes every retained message so one test's device
// state cannot leak into the next.
func (c *MosquittoContainer) ClearRetainedMessages(ctx context.Context) error {
	client, err := c.CreateClient("cleaner")
	if err != nil {
		return fmt.Errorf("failed to create cleaner client: %w", err)
	}
	defer client.Disconnect(250)

	var (
		mu     sync.Mutex
		topics []string
	)
	token := client.Subscribe("#", 0, func(_ mqtt.Client, msg mqtt.Message) {
		if msg.Retained() {
			mu.Lock()
			topics = append(topics, msg.Topic())
			mu.Unlock()
		}
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe timeout after 5s")
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to subscribe: %w", token.Error())
	}

	// Retained messages arrive right after the subscription.
	select {
	case <-time.After(100 * time.Millisecond):
	case <-ctx.Done():
		return fmt.Errorf("context cancelled while waiting for retained messages: %w", ctx.Err())
	}

	if t := client.Unsubscribe("#"); !t.WaitTimeout(5*time.Second) || t.Error() != nil {
		return fmt.Errorf("failed to unsubscribe: %v", t.Error())
	}

	mu.Lock()
	pending := append([]string(nil), topics...)
	mu.Unlock()

	for _, topic := range pending {
		t := client.Publish(topic, 0, true, nil)
		if !t.WaitTimeout(5 * time.Second) {
			return fmt.Errorf("publish timeout for topic %s after 5s", topic)
		}
		if t.Error() != nil {
			return fmt.Errorf("failed to clear topic %s: %w", topic, t.Error())
		}
	}
	return nil
}

// Terminate stops the container and removes the temp config file.
func (c *MosquittoContainer) Terminate(ctx context.Context) error {
	var terminateErr error
	if c.container != nil {
		if err := c.container.Terminate(ctx); err != nil {
			terminateErr = fmt.Errorf("failed to terminate container: %w", err)
		}
	}
	if c.configFile != "" {
		_ = os.Remove(c.configFile)
	}
	return terminateErr
}

func writeTempFile(pattern, content string) (string, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", err
	}
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
