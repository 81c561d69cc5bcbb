//go:build integration

// Package mqtt_test runs the snapshot feed against a real Mosquitto broker
// managed by testcontainers, from device publish to dispatched alert.
//
//nolint:misspell // Mosquitto is the official Eclipse project name
package mqtt_test

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenfield-iot/agrialert/internal/alerting"
	"github.com/greenfield-iot/agrialert/internal/conf"
	"github.com/greenfield-iot/agrialert/internal/datastore"
	"github.com/greenfield-iot/agrialert/internal/datastore/entities"
	"github.com/greenfield-iot/agrialert/internal/logger"
	"github.com/greenfield-iot/agrialert/internal/mqtt"
	"github.com/greenfield-iot/agrialert/internal/notification"
	"github.com/greenfield-iot/agrialert/internal/sensor"
	"github.com/greenfield-iot/agrialert/internal/testutil/containers"
)

const (
	topicPrefix = "agrialert-it"
	endpoint    = "https://alerts.example.com"
)

var broker *containers.MosquittoContainer

func TestMain(m *testing.M) {
	ctx := context.Background()

	var err error
	broker, err = containers.NewMosquittoContainer(ctx, nil)
	if err != nil {
		panic("failed to create MQTT broker: " + err.Error())
	}

	code := m.Run()

	_ = broker.Terminate(ctx)
	os.Exit(code)
}

func mqttSettings(t *testing.T) *conf.MQTTSettings {
	t.Helper()
	return &conf.MQTTSettings{
		Enabled:     true,
		Broker:      broker.BrokerURL(),
		ClientID:    fmt.Sprintf("it-%d", time.Now().UnixNano()),
		TopicPrefix: topicPrefix,
		QoS:         1,
	}
}

type chanSink chan *sensor.Snapshot

func (c chanSink) Publish(s *sensor.Snapshot) bool {
	c <- s
	return true
}

func connect(t *testing.T, sink mqtt.Publisher) *mqtt.Client {
	t.Helper()
	client := mqtt.NewClient(mqttSettings(t), sink, logger.NewNopLogger(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))
	t.Cleanup(client.Disconnect)
	require.Eventually(t, client.IsConnected, 5*time.Second, 50*time.Millisecond)
	return client
}

func TestMQTTIntegration_SnapshotReachesSink(t *testing.T) {
	sink := make(chanSink, 4)
	client := connect(t, sink)

	// Give the on-connect subscription a moment to land.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, client.PublishSnapshot(context.Background(), "u1", "field-1",
		[]byte(`{"soilMoisturePct": 22, "gas": {"co2": 640}}`)))

	select {
	case s := <-sink:
		assert.Equal(t, "u1", s.UserID)
		assert.Equal(t, "field-1", s.DeviceID)
		v, ok := s.Value(sensor.SoilMoisturePct)
		require.True(t, ok)
		assert.InDelta(t, 22.0, v, 0)
	case <-time.After(5 * time.Second):
		t.Fatal("snapshot not delivered")
	}
}

func TestMQTTIntegration_MalformedPayloadIgnored(t *testing.T) {
	sink := make(chanSink, 4)
	client := connect(t, sink)
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, client.PublishSnapshot(context.Background(), "u1", "field-1", []byte(`oops`)))

	select {
	case s := <-sink:
		t.Fatalf("unexpected snapshot %+v", s)
	case <-time.After(500 * time.Millisecond):
	}
}

// TestMQTTIntegration_EndToEndDispatch wires the feed into the alerting
// service and checks that a burst of qualifying readings yields one alert.
func TestMQTTIntegration_EndToEndDispatch(t *testing.T) {
	log := logger.NewNopLogger()

	db, err := datastore.Open(&conf.DatabaseSettings{
		Type: conf.DatabaseSQLite,
		Path: filepath.Join(t.TempDir(), "it.db"),
	}, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = datastore.Close(db) })

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodPost, endpoint+notification.ProcessAlertsPath,
		httpmock.NewStringResponder(http.StatusOK, `{"ok":true}`))

	settings := &conf.Settings{}
	settings.Alerting.Cooldown = conf.Duration(time.Minute)
	settings.Alerting.Debounce.Store = conf.DebounceStoreDatabase
	settings.Alerting.Debounce.FailOpen = true
	settings.Alerting.BusBufferSize = 64
	settings.Notification = conf.NotificationSettings{
		Endpoint: endpoint,
		Timeout:  conf.Duration(time.Second),
		Token:    "it-token",
		Retry:    conf.RetrySettings{MaxAttempts: 1, InitialBackoff: conf.Duration(time.Millisecond), MaxBackoff: conf.Duration(time.Millisecond)},
	}

	sender := notification.NewDispatcher(&settings.Notification, log,
		notification.WithHTTPClient(&http.Client{Transport: transport}))
	svc, err := alerting.Initialize(settings, alerting.Deps{DB: db, Sender: sender}, log)
	require.NoError(t, err)
	t.Cleanup(svc.Stop)

	_, err = svc.Rules.Create(context.Background(), "u1", &entities.AlertRule{
		Parameter:  sensor.SoilMoisturePct,
		Comparison: alerting.ComparisonLess,
		Threshold:  30,
		Active:     true,
		Contact:    entities.Contact{Type: alerting.ContactEmail, Value: "farmer@example.com"},
	})
	require.NoError(t, err)

	client := connect(t, svc.Bus)
	time.Sleep(200 * time.Millisecond)

	for _, v := range []int{25, 24, 23} {
		require.NoError(t, client.PublishSnapshot(context.Background(), "u1", "field-1",
			fmt.Appendf(nil, `{"soilMoisturePct": %d}`, v)))
	}

	require.Eventually(t, func() bool {
		_, total, err := svc.Triggered.List(context.Background(), "u1", 10, 0)
		return err == nil && total >= 1
	}, 10*time.Second, 50*time.Millisecond)

	// Let the remaining snapshots pass through the gate.
	time.Sleep(500 * time.Millisecond)
	svc.Stop()

	items, total, err := svc.Triggered.List(context.Background(), "u1", 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, entities.TriggeredStatusSent, items[0].Status)
	assert.Equal(t, 1, transport.GetTotalCallCount())
}
