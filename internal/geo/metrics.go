package geo

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricProviderLookupsTotal   = "geo_provider_lookups_total"
	MetricProviderLookupDuration = "geo_provider_lookup_duration_seconds"
	MetricProviderCacheHitsTotal = "geo_provider_cache_hits_total"
	MetricPreciseLookupsTotal    = "geo_precise_lookups_total"
)

// Status constants for lookup outcomes.
const (
	LookupStatusSuccess = "success"
	LookupStatusFailure = "failure"
)

// Metrics contains Prometheus metrics for geo acquisition.
// All operations are thread-safe.
type Metrics struct {
	providerLookups  *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	cacheHits        *prometheus.CounterVec
	preciseLookups   *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to
// register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		providerLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricProviderLookupsTotal,
				Help: "Total number of IP provider lookups by provider and status",
			},
			[]string{"provider", "status"},
		),
		providerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricProviderLookupDuration,
				Help:    "Histogram of IP provider lookup duration in seconds by provider",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"provider"},
		),
		cacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricProviderCacheHitsTotal,
				Help: "Total number of provider cache hits by provider",
			},
			[]string{"provider"},
		),
		preciseLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricPreciseLookupsTotal,
				Help: "Total number of precise geolocation attempts by resulting status",
			},
			[]string{"status"},
		),
	}
}

// Register registers all collectors with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.providerLookups,
		m.providerDuration,
		m.cacheHits,
		m.preciseLookups,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// RecordProviderLookup records one provider lookup outcome and its
// duration.
func (m *Metrics) RecordProviderLookup(provider string, success bool, elapsed time.Duration) {
	status := LookupStatusSuccess
	if !success {
		status = LookupStatusFailure
	}
	m.providerLookups.WithLabelValues(provider, status).Inc()
	m.providerDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// RecordCacheHit records one provider cache hit.
func (m *Metrics) RecordCacheHit(provider string) {
	m.cacheHits.WithLabelValues(provider).Inc()
}

// RecordPreciseLookup records one precise acquisition outcome.
func (m *Metrics) RecordPreciseLookup(status Status) {
	m.preciseLookups.WithLabelValues(string(status)).Inc()
}
