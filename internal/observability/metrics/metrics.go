// Package metrics defines the prometheus instruments for the alert pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "agrialert"

// Snapshot sources.
const (
	SourceMQTT = "mqtt"
	SourceHTTP = "http"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing,
// so components can be built without instrumentation in tests.
type Metrics struct {
	SnapshotsReceived  *prometheus.CounterVec
	SnapshotsDropped   prometheus.Counter
	SnapshotsRejected  *prometheus.CounterVec
	RuleEvaluations    *prometheus.CounterVec
	DebounceSuppressed prometheus.Counter
	DebounceErrors     prometheus.Counter
	Dispatches         *prometheus.CounterVec
	DispatchAttempts   prometheus.Histogram
	DispatchDuration   prometheus.Histogram
	CachedRuleSets     prometheus.Gauge
	MQTTConnected      prometheus.Gauge
	HTTPRequests       *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SnapshotsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_received_total",
			Help:      "Sensor snapshots accepted onto the bus",
		}, []string{"source"}),
		SnapshotsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_dropped_total",
			Help:      "Snapshots dropped because the bus buffer was full",
		}),
		SnapshotsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_rejected_total",
			Help:      "Snapshots that could not be decoded",
		}, []string{"source"}),
		RuleEvaluations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_evaluations_total",
			Help:      "Rule evaluations by outcome",
		}, []string{"outcome"}),
		DebounceSuppressed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "debounce_suppressed_total",
			Help:      "Met rules suppressed by the debounce gate",
		}),
		DebounceErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "debounce_errors_total",
			Help:      "Debounce store failures",
		}),
		Dispatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Notification dispatches by final status",
		}, []string{"status"}),
		DispatchAttempts: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_attempts",
			Help:      "HTTP attempts per dispatch",
			Buckets:   []float64{1, 2, 3, 4, 5, 8},
		}),
		DispatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Wall time of a dispatch including retries",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		CachedRuleSets: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cached_rule_sets",
			Help:      "Users whose active rules are cached by the engine",
		}),
		MQTTConnected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mqtt_connected",
			Help:      "1 while the sensor feed is connected",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) SnapshotReceived(source string) {
	if m == nil {
		return
	}
	m.SnapshotsReceived.WithLabelValues(source).Inc()
}

func (m *Metrics) SnapshotDropped() {
	if m == nil {
		return
	}
	m.SnapshotsDropped.Inc()
}

func (m *Metrics) SnapshotRejected(source string) {
	if m == nil {
		return
	}
	m.SnapshotsRejected.WithLabelValues(source).Inc()
}

func (m *Metrics) RuleEvaluated(outcome string) {
	if m == nil {
		return
	}
	m.RuleEvaluations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Suppressed() {
	if m == nil {
		return
	}
	m.DebounceSuppressed.Inc()
}

func (m *Metrics) DebounceError() {
	if m == nil {
		return
	}
	m.DebounceErrors.Inc()
}

// Dispatched records one finished dispatch.
func (m *Metrics) Dispatched(status string, attempts int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Dispatches.WithLabelValues(status).Inc()
	m.DispatchAttempts.Observe(float64(attempts))
	m.DispatchDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) SetCachedRuleSets(n int) {
	if m == nil {
		return
	}
	m.CachedRuleSets.Set(float64(n))
}

func (m *Metrics) SetMQTTConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.MQTTConnected.Set(1)
	} else {
		m.MQTTConnected.Set(0)
	}
}

// ObserveHTTP records one API request.
func (m *Metrics) ObserveHTTP(method, route, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
