package sensor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Snapshot is the latest set of readings reported by one device.
type Snapshot struct {
	UserID     string         `json:"userId"`
	DeviceID   string         `json:"deviceId"`
	Readings   map[string]any `json:"readings"`
	CapturedAt time.Time      `json:"capturedAt"`
}

// Value extracts the numeric reading for p. Lookup order is the top-level
// key, then the parameter's catalog group, then every other nested map in
// key order. Only one level of nesting is searched. Missing, non-numeric and
// non-finite readings report false.
func (s *Snapshot) Value(p Parameter) (float64, bool) {
	if s == nil || s.Readings == nil {
		return 0, false
	}
	key := string(p)

	if raw, ok := s.Readings[key]; ok {
		if _, nested := raw.(map[string]any); !nested {
			return toFloat64(raw)
		}
	}

	info, _ := p.Info()
	if info.Group != "" {
		if group, ok := s.Readings[info.Group].(map[string]any); ok {
			if raw, ok := group[key]; ok {
				return toFloat64(raw)
			}
		}
	}

	names := make([]string, 0, len(s.Readings))
	for name, v := range s.Readings {
		if _, ok := v.(map[string]any); ok && name != info.Group {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		group := s.Readings[name].(map[string]any)
		if raw, ok := group[key]; ok {
			return toFloat64(raw)
		}
	}
	return 0, false
}

// DecodeSnapshot parses a device payload. The payload must be a JSON object;
// numbers are kept as json.Number so integer readings keep their precision
// until extraction. A top-level "timestamp" (RFC 3339 or unix seconds)
// overrides now as the capture time.
func DecodeSnapshot(userID, deviceID string, payload []byte, now time.Time) (*Snapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var readings map[string]any
	if err := dec.Decode(&readings); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if readings == nil {
		return nil, fmt.Errorf("failed to decode snapshot: payload is not an object")
	}

	captured := now
	if ts, ok := readings["timestamp"]; ok {
		if t, ok := parseTimestamp(ts); ok {
			captured = t
		}
		delete(readings, "timestamp")
	}

	return &Snapshot{
		UserID:     userID,
		DeviceID:   deviceID,
		Readings:   readings,
		CapturedAt: captured,
	}, nil
}

func parseTimestamp(v any) (time.Time, bool) {
	switch ts := v.(type) {
	case string:
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			return t, true
		}
	case json.Number:
		if secs, err := ts.Int64(); err == nil && secs > 0 {
			return time.Unix(secs, 0), true
		}
	}
	return time.Time{}, false
}

func toFloat64(val any) (float64, bool) {
	var f float64
	switch v := val.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int8:
		f = float64(v)
	case int16:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case uint:
		f = float64(v)
	case uint8:
		f = float64(v)
	case uint16:
		f = float64(v)
	case uint32:
		f = float64(v)
	case uint64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
