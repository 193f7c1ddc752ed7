package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the authorization subsystem
type Metrics struct {
	// Permission cache metrics. entry_type is "role" or "user".
	CacheHitsTotal        *prometheus.CounterVec
	CacheMissesTotal      *prometheus.CounterVec
	CacheStaleServedTotal *prometheus.CounterVec
	CacheEvictionsTotal   *prometheus.CounterVec
	CacheEntries          *prometheus.GaugeVec

	// Remote fetch metrics
	FetchDuration    *prometheus.HistogramVec
	FetchErrorsTotal *prometheus.CounterVec

	// Change event metrics. reason is "stale_sequence" or "malformed".
	EventsAppliedTotal   prometheus.Counter
	EventsDiscardedTotal *prometheus.CounterVec
	EventsPublishedTotal prometheus.Counter

	// Policy evaluation metrics. outcome is "allow", "deny" or "unavailable".
	DecisionsTotal   *prometheus.CounterVec
	DecisionDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permit_cache_hits_total",
				Help: "Total number of permission cache hits",
			},
			[]string{"entry_type"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permit_cache_misses_total",
				Help: "Total number of permission cache misses",
			},
			[]string{"entry_type"},
		),
		CacheStaleServedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permit_cache_stale_served_total",
				Help: "Total number of stale cache entries served under the grace policy",
			},
			[]string{"entry_type"},
		),
		CacheEvictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permit_cache_evictions_total",
				Help: "Total number of cache entries evicted",
			},
			[]string{"entry_type"},
		),
		CacheEntries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "permit_cache_entries",
				Help: "Current number of cache entries",
			},
			[]string{"entry_type"},
		),
		FetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "permit_fetch_duration_seconds",
				Help:    "Duration of remote fetches from the authorization store",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		FetchErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permit_fetch_errors_total",
				Help: "Total number of failed remote fetches",
			},
			[]string{"kind"},
		),
		EventsAppliedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "permit_events_applied_total",
				Help: "Total number of change events applied to the cache",
			},
		),
		EventsDiscardedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permit_events_discarded_total",
				Help: "Total number of change events discarded",
			},
			[]string{"reason"},
		),
		EventsPublishedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "permit_events_published_total",
				Help: "Total number of change events published by the store",
			},
		),
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permit_authz_decisions_total",
				Help: "Total number of authorization decisions by outcome",
			},
			[]string{"outcome"},
		),
		DecisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "permit_authz_decision_duration_seconds",
				Help:    "Duration of authorization decisions",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheStaleServedTotal,
		m.CacheEvictionsTotal,
		m.CacheEntries,
		m.FetchDuration,
		m.FetchErrorsTotal,
		m.EventsAppliedTotal,
		m.EventsDiscardedTotal,
		m.EventsPublishedTotal,
		m.DecisionsTotal,
		m.DecisionDuration,
	)

	return m
}

// Handler returns an HTTP handler serving the metrics from registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
