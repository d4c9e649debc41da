package syncer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricSyncTicksTotal         = "sync_ticks_total"
	MetricSyncRefreshDuration    = "sync_refresh_duration_seconds"
	MetricSyncViewSize           = "sync_view_size"
	MetricSubmissionsTotal       = "submissions_total"
	MetricAttachmentUploadsTotal = "attachment_uploads_total"
)

// Status constants for tick and submission outcomes.
const (
	StatusSuccess  = "success"
	StatusFailure  = "failure"
	StatusRejected = "rejected"
)

// Metrics contains Prometheus metrics for the sync loop.
// All operations are thread-safe.
type Metrics struct {
	ticksTotal      *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	viewSize        prometheus.Gauge
	submissions     *prometheus.CounterVec
	uploads         *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to
// register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		ticksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricSyncTicksTotal,
				Help: "Total number of sync ticks by refresh status",
			},
			[]string{"status"},
		),
		refreshDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    MetricSyncRefreshDuration,
				Help:    "Histogram of view refresh duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
		),
		viewSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: MetricSyncViewSize,
				Help: "Number of messages in the local view after the last refresh",
			},
		),
		submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricSubmissionsTotal,
				Help: "Total number of message submissions by outcome",
			},
			[]string{"status"},
		),
		uploads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricAttachmentUploadsTotal,
				Help: "Total number of attachment uploads by outcome",
			},
			[]string{"status"},
		),
	}
}

// Register registers all collectors with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.ticksTotal,
		m.refreshDuration,
		m.viewSize,
		m.submissions,
		m.uploads,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// RecordRefresh records one refresh attempt.
func (m *Metrics) RecordRefresh(success bool, elapsed time.Duration, viewSize int) {
	status := StatusSuccess
	if !success {
		status = StatusFailure
	}
	m.ticksTotal.WithLabelValues(status).Inc()
	m.refreshDuration.Observe(elapsed.Seconds())
	if success {
		m.viewSize.Set(float64(viewSize))
	}
}

// RecordSubmission records one submission outcome.
func (m *Metrics) RecordSubmission(status string) {
	m.submissions.WithLabelValues(status).Inc()
}

// RecordUpload records one attachment upload outcome.
func (m *Metrics) RecordUpload(success bool) {
	status := StatusSuccess
	if !success {
		status = StatusFailure
	}
	m.uploads.WithLabelValues(status).Inc()
}
