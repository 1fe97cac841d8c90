package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
//
// Every Record/Set method is safe to call on a nil *Metrics so components can
// run without instrumentation in tests.
type Metrics struct {
	// Console HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Platform REST API metrics
	APICalls     *prometheus.CounterVec
	APIDuration  *prometheus.HistogramVec
	APIRefreshes *prometheus.CounterVec

	// WebSocket metrics
	WSConnected     prometheus.Gauge
	WSMessages      *prometheus.CounterVec
	WSReconnects    prometheus.Counter
	WSParseErrors   prometheus.Counter
	WSDropped       *prometheus.CounterVec
	WSHandlerErrors *prometheus.CounterVec

	// Activity buffer metrics
	ActivityBuffered *prometheus.GaugeVec

	// Notification metrics
	Notices *prometheus.CounterVec

	startTime time.Time
}

// NewMetrics creates a metrics collector registered on reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "console_http_requests_total",
				Help: "Total number of console HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "console_http_request_duration_seconds",
				Help:    "Console HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"method", "path"},
		),

		APICalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "console_api_calls_total",
				Help: "Total number of platform API calls",
			},
			[]string{"method", "endpoint", "status"},
		),
		APIDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "console_api_call_duration_seconds",
				Help:    "Platform API call duration in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "endpoint"},
		),
		APIRefreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "console_api_token_refreshes_total",
				Help: "Token refreshes triggered by 401 responses",
			},
			[]string{"result"},
		),

		WSConnected: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "console_ws_connected",
				Help: "1 while the real-time WebSocket is open",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "console_ws_messages_total",
				Help: "Total number of WebSocket envelopes",
			},
			[]string{"direction", "type"},
		),
		WSReconnects: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "console_ws_reconnect_attempts_total",
				Help: "Scheduled automatic reconnect attempts",
			},
		),
		WSParseErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "console_ws_parse_errors_total",
				Help: "Inbound frames dropped because they were not valid JSON envelopes",
			},
		),
		WSDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "console_ws_dropped_total",
				Help: "Inbound envelopes dropped after parsing",
			},
			[]string{"reason"},
		),
		WSHandlerErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "console_ws_handler_errors_total",
				Help: "Subscriber callbacks that failed or panicked",
			},
			[]string{"type"},
		),

		ActivityBuffered: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "console_activity_buffered",
				Help: "Entries currently held in each recent-activity buffer",
			},
			[]string{"category"},
		),

		Notices: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "console_notices_total",
				Help: "User-visible notices by level",
			},
			[]string{"level"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "console_uptime_seconds",
			Help: "Console uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// RecordHTTPRequest records a console HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordAPICall records a platform API call
func (m *Metrics) RecordAPICall(method, endpoint, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.APICalls.WithLabelValues(method, endpoint, status).Inc()
	m.APIDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordTokenRefresh records the outcome of a 401-triggered refresh
func (m *Metrics) RecordTokenRefresh(success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.APIRefreshes.WithLabelValues(result).Inc()
}

// SetWSConnected flips the connection gauge
func (m *Metrics) SetWSConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.WSConnected.Set(1)
	} else {
		m.WSConnected.Set(0)
	}
}

// RecordWSMessage records a WebSocket envelope; direction is "in" or "out"
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSReconnects counts a scheduled reconnect attempt
func (m *Metrics) IncWSReconnects() {
	if m == nil {
		return
	}
	m.WSReconnects.Inc()
}

// IncWSParseErrors counts a malformed inbound frame
func (m *Metrics) IncWSParseErrors() {
	if m == nil {
		return
	}
	m.WSParseErrors.Inc()
}

// RecordWSDropped counts an envelope dropped for reason
func (m *Metrics) RecordWSDropped(reason string) {
	if m == nil {
		return
	}
	m.WSDropped.WithLabelValues(reason).Inc()
}

// RecordWSHandlerError counts a failed subscriber callback
func (m *Metrics) RecordWSHandlerError(msgType string) {
	if m == nil {
		return
	}
	m.WSHandlerErrors.WithLabelValues(msgType).Inc()
}

// SetActivityBuffered sets the buffered entry count for a category
func (m *Metrics) SetActivityBuffered(category string, n int) {
	if m == nil {
		return
	}
	m.ActivityBuffered.WithLabelValues(category).Set(float64(n))
}

// RecordNotice counts a user-visible notice
func (m *Metrics) RecordNotice(level string) {
	if m == nil {
		return
	}
	m.Notices.WithLabelValues(level).Inc()
}
