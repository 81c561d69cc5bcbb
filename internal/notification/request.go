package notification

import "time"

// Request is the body POSTed to the dispatch endpoint.
type Request struct {
	SensorData map[string]any `json:"sensorData"`
	DeviceID   string         `json:"deviceId"`
	Alert      Alert          `json:"alert"`
}

// Alert describes the rule that fired and the reading that fired it.
type Alert struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Parameter    string    `json:"parameter"`
	Comparison   string    `json:"comparison"`
	Threshold    float64   `json:"threshold"`
	CurrentValue float64   `json:"currentValue"`
	Critical     bool      `json:"critical"`
	Contact      Contact   `json:"contact"`
	TriggeredAt  time.Time `json:"triggeredAt"`
	Test         bool      `json:"test,omitempty"`
}

// Contact is the delivery destination handed to the endpoint.
type Contact struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Response reports how a dispatch went. It is returned even when Dispatch
// fails so callers can record the attempt count.
type Response struct {
	StatusCode int
	Attempts   int
	Duration   time.Duration
}
