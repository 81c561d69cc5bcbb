package mqtt

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenfield-iot/agrialert/internal/conf"
	"github.com/greenfield-iot/agrialert/internal/errors"
	"github.com/greenfield-iot/agrialert/internal/logger"
	"github.com/greenfield-iot/agrialert/internal/observability/metrics"
	"github.com/greenfield-iot/agrialert/internal/sensor"
)

type captureSink struct {
	mu        sync.Mutex
	snapshots []*sensor.Snapshot
}

func (s *captureSink) Publish(snapshot *sensor.Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snapshot)
	return true
}

func (s *captureSink) all() []*sensor.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*sensor.Snapshot(nil), s.snapshots...)
}

func testSettings() *conf.MQTTSettings {
	return &conf.MQTTSettings{
		Broker:      "tcp://127.0.0.1:1",
		ClientID:    "agrialert-test",
		TopicPrefix: "agrialert",
		QoS:         1,
	}
}

func TestParseTopic(t *testing.T) {
	t.Parallel()

	tests := []struct {
		topic  string
		user   string
		device string
		ok     bool
	}{
		{"agrialert/u1/field-1/snapshot", "u1", "field-1", true},
		{"agrialert/u1/field-1/status", "", "", false},
		{"agrialert/u1/snapshot", "", "", false},
		{"agrialert/u1/a/b/snapshot", "", "", false},
		{"agrialert//field-1/snapshot", "", "", false},
		{"other/u1/field-1/snapshot", "", "", false},
		{"agrialertx/u1/field-1/snapshot", "", "", false},
	}
	for _, tt := range tests {
		user, device, ok := ParseTopic("agrialert", tt.topic)
		assert.Equal(t, tt.ok, ok, tt.topic)
		assert.Equal(t, tt.user, user, tt.topic)
		assert.Equal(t, tt.device, device, tt.topic)
	}
}

func TestTopics(t *testing.T) {
	t.Parallel()

	c := NewClient(testSettings(), &captureSink{}, logger.NewNopLogger(), nil)
	assert.Equal(t, "agrialert/+/+/snapshot", c.SubscriptionTopic())
	assert.Equal(t, "agrialert/u1/barn/snapshot", SnapshotTopic("agrialert", "u1", "barn"))

	user, device, ok := ParseTopic("agrialert", SnapshotTopic("agrialert", "u1", "barn"))
	assert.True(t, ok)
	assert.Equal(t, "u1", user)
	assert.Equal(t, "barn", device)
}

func TestHandle_PublishesDecodedSnapshot(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	sink := &captureSink{}
	c := NewClient(testSettings(), sink, logger.NewNopLogger(), m)
	fixed := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	c.handle("agrialert/u1/field-1/snapshot", []byte(`{"soilMoisturePct": 25, "gas": {"co2": 800}}`))

	got := sink.all()
	require.Len(t, got, 1)
	assert.Equal(t, "u1", got[0].UserID)
	assert.Equal(t, "field-1", got[0].DeviceID)
	assert.Equal(t, fixed, got[0].CapturedAt)

	v, ok := got[0].Value(sensor.CO2)
	require.True(t, ok)
	assert.InDelta(t, 800.0, v, 0)

	assert.InDelta(t, 1.0, testutil.ToFloat64(m.SnapshotsReceived.WithLabelValues(metrics.SourceMQTT)), 0)
}

func TestHandle_RejectsBadInput(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	sink := &captureSink{}
	c := NewClient(testSettings(), sink, logger.NewNopLogger(), m)

	c.handle("agrialert/u1/field-1/status", []byte(`{}`))
	c.handle("agrialert/u1/field-1/snapshot", []byte(`not json`))
	c.handle("agrialert/u1/field-1/snapshot", []byte(`[1,2,3]`))

	assert.Empty(t, sink.all())
	assert.InDelta(t, 3.0, testutil.ToFloat64(m.SnapshotsRejected.WithLabelValues(metrics.SourceMQTT)), 0)
}

func TestConnect_UnreachableBroker(t *testing.T) {
	t.Parallel()

	c := NewClient(testSettings(), &captureSink{}, logger.NewNopLogger(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := c.Connect(ctx)
	require.Error(t, err)
	assert.Equal(t, errors.CategoryNetwork, errors.CategoryOf(err))
	assert.False(t, c.IsConnected())
}

func TestPublishSnapshot_NotConnected(t *testing.T) {
	t.Parallel()

	c := NewClient(testSettings(), &captureSink{}, logger.NewNopLogger(), nil)
	err := c.PublishSnapshot(context.Background(), "u1", "d1", []byte(`{}`))
	require.Error(t, err)
	assert.Equal(t, errors.CategoryNetwork, errors.CategoryOf(err))
}
