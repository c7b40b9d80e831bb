package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the recording engine
type Metrics struct {
	// Session lifecycle metrics
	ActiveSessions    prometheus.Gauge
	SessionsStarted   prometheus.Counter
	SessionsCompleted prometheus.Counter
	SessionsFailed    prometheus.Counter
	SessionDuration   prometheus.Histogram

	// Capture metrics
	FramesCaptured  *prometheus.CounterVec
	CaptureErrors   *prometheus.CounterVec
	DegradedStarts  prometheus.Counter
	AudioDetections *prometheus.CounterVec

	// Merge metrics
	MergesTotal   *prometheus.CounterVec
	MergeDuration prometheus.Histogram

	// Recovery metrics
	RecoveryCandidates prometheus.Gauge
	RecoveriesTotal    *prometheus.CounterVec

	// Status publishing metrics
	StatusWrites      prometheus.Counter
	StatusWriteErrors prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return newMetricsWith(promauto.With(prometheus.DefaultRegisterer))
}

// NewMetricsFor registers against a private registry; used by tests to avoid
// duplicate registration panics.
func NewMetricsFor(reg prometheus.Registerer) *Metrics {
	return newMetricsWith(promauto.With(reg))
}

func newMetricsWith(factory promauto.Factory) *Metrics {
	return &Metrics{
		// Session lifecycle metrics
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "recorder_active_sessions",
			Help: "Current number of active recording sessions",
		}),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "recorder_sessions_started_total",
			Help: "Total number of recording sessions started",
		}),
		SessionsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "recorder_sessions_completed_total",
			Help: "Total number of sessions that reached a verified final file",
		}),
		SessionsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "recorder_sessions_failed_total",
			Help: "Total number of sessions that ended in the failed state",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "recorder_session_duration_seconds",
			Help:    "Distribution of recording session durations",
			Buckets: []float64{10, 30, 60, 300, 900, 1800, 3600, 7200},
		}),

		// Capture metrics
		FramesCaptured: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_frames_captured_total",
			Help: "Total number of PCM frames captured per stream role",
		}, []string{"role"}),
		CaptureErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_capture_errors_total",
			Help: "Total number of capture stream failures per role",
		}, []string{"role"}),
		DegradedStarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "recorder_degraded_starts_total",
			Help: "Total number of sessions started without a microphone stream",
		}),
		AudioDetections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_audio_detections_total",
			Help: "Total number of streams whose audio presence flag switched on",
		}, []string{"role"}),

		// Merge metrics
		MergesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_merges_total",
			Help: "Total number of merge attempts by result",
		}, []string{"result"}),
		MergeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "recorder_merge_duration_seconds",
			Help:    "Distribution of merge subprocess durations",
			Buckets: prometheus.DefBuckets,
		}),

		// Recovery metrics
		RecoveryCandidates: factory.NewGauge(prometheus.GaugeOpts{
			Name: "recorder_recovery_candidates",
			Help: "Number of orphaned sessions found by the last recovery scan",
		}),
		RecoveriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_recoveries_total",
			Help: "Total number of recovery attempts by result",
		}, []string{"result"}),

		// Status publishing metrics
		StatusWrites: factory.NewCounter(prometheus.CounterOpts{
			Name: "recorder_status_writes_total",
			Help: "Total number of status documents written",
		}),
		StatusWriteErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "recorder_status_write_errors_total",
			Help: "Total number of failed status document writes",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "recorder_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error response
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
