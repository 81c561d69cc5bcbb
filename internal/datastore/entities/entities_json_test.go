package entities

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenfield-iot/agrialert/internal/sensor"
)

// TestAlertRuleJSONKeys pins the camelCase wire names clients depend on.
func TestAlertRuleJSONKeys(t *testing.T) {
	t.Parallel()

	rule := AlertRule{
		ID:         "r-1",
		UserID:     "u-1",
		DeviceID:   "field-3",
		Parameter:  sensor.SoilMoisturePct,
		Comparison: "<",
		Threshold:  30,
		Critical:   true,
		Active:     true,
		Contact:    Contact{Type: "email", Value: "farmer@example.com"},
		CreatedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(rule)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))

	for _, key := range []string{"id", "userId", "deviceId", "parameter", "comparison", "threshold", "critical", "active", "contact", "createdAt", "updatedAt"} {
		assert.Contains(t, m, key, "JSON should contain key %q", key)
	}
	assert.Equal(t, "soilMoisturePct", m["parameter"])

	contact, ok := m["contact"].(map[string]any)
	require.True(t, ok, "contact should be a nested object")
	assert.Equal(t, "email", contact["type"])
	assert.Equal(t, "farmer@example.com", contact["value"])
}

func TestTriggeredAlertJSONKeys(t *testing.T) {
	t.Parallel()

	rec := TriggeredAlert{
		ID:           "t-1",
		UserID:       "u-1",
		AlertID:      "r-1",
		Parameter:    sensor.CO2,
		Comparison:   ">",
		Threshold:    1000,
		CurrentValue: 1200,
		DeviceID:     "barn",
		TriggeredAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Status:       TriggeredStatusSent,
		Attempts:     1,
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))

	for _, key := range []string{"id", "userId", "alertId", "parameter", "comparison", "threshold", "currentValue", "critical", "deviceId", "triggeredAt", "status", "attempts"} {
		assert.Contains(t, m, key, "JSON should contain key %q", key)
	}
	assert.NotContains(t, m, "error", "empty error should be omitted")
	assert.NotContains(t, m, "test", "non-test records should omit the flag")
}

func TestAlertRule_AppliesTo(t *testing.T) {
	t.Parallel()

	all := AlertRule{}
	assert.True(t, all.AppliesTo("a"))
	assert.True(t, all.AppliesTo("b"))

	scoped := AlertRule{DeviceID: "a"}
	assert.True(t, scoped.AppliesTo("a"))
	assert.False(t, scoped.AppliesTo("b"))
}

func TestDispatchMark_LastDispatch(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 3, 4, 5, 6, 7, 8, time.UTC)
	m := DispatchMark{LastDispatchAt: ts.UnixNano()}
	assert.True(t, ts.Equal(m.LastDispatch()))
}
