package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// Command metrics
	Commands           *prometheus.CounterVec
	NavigationDuration prometheus.Histogram

	// Session metrics
	SessionReady     prometheus.Gauge
	Recoveries       *prometheus.CounterVec
	RecoveryDuration prometheus.Histogram

	// Screenshot publisher metrics
	ScreenshotsPublished prometheus.Counter
	ScreenshotFailures   prometheus.Counter

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),

		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "periscope_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "periscope_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		WSConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "periscope_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "periscope_ws_messages_total",
				Help: "Total number of WebSocket messages received",
			},
			[]string{"type"},
		),

		Commands: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "periscope_commands_total",
				Help: "Total number of browser commands dispatched",
			},
			[]string{"command", "outcome"},
		),
		NavigationDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "periscope_navigation_duration_seconds",
				Help:    "Page navigation duration in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),

		SessionReady: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "periscope_session_ready",
				Help: "Whether the browser session is ready (1) or not (0)",
			},
		),
		Recoveries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "periscope_session_recoveries_total",
				Help: "Total number of session recoveries by trigger",
			},
			[]string{"trigger"},
		),
		RecoveryDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "periscope_session_recovery_duration_seconds",
				Help:    "Session recovery duration in seconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60},
			},
		),

		ScreenshotsPublished: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "periscope_screenshots_published_total",
				Help: "Total number of screenshots written to the static path",
			},
		),
		ScreenshotFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "periscope_screenshot_failures_total",
				Help: "Total number of failed screenshot captures",
			},
		),

		Uptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "periscope_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
	}
}

// RecordHTTPRequest records metrics for a completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.Uptime.Set(time.Since(m.startTime).Seconds())
}

// RecordCommand records one dispatched command and its outcome.
func (m *Metrics) RecordCommand(command, outcome string) {
	m.Commands.WithLabelValues(command, outcome).Inc()
}

// RecordRecovery records one recovery trigger.
func (m *Metrics) RecordRecovery(trigger string) {
	m.Recoveries.WithLabelValues(trigger).Inc()
}

// SetSessionReady updates the readiness gauge.
func (m *Metrics) SetSessionReady(ready bool) {
	if ready {
		m.SessionReady.Set(1)
	} else {
		m.SessionReady.Set(0)
	}
}
