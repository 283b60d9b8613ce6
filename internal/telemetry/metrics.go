// Package telemetry provides observability primitives for the catalog cache.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the catalog cache.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	ActiveRequests      prometheus.Gauge
	TierLookups         *prometheus.CounterVec
	UpstreamDuration    *prometheus.HistogramVec
	UpstreamErrors      *prometheus.CounterVec
	CoalescedJoins      *prometheus.CounterVec
	InterceptorOutcomes *prometheus.CounterVec
	BackgroundRefreshes *prometheus.CounterVec
	HydrationRuns       *prometheus.CounterVec
	HydrationItems      *prometheus.GaugeVec
	SweptEntries        *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tcgcache",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "tcgcache",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tcgcache",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		TierLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tcgcache",
			Name:      "tier_lookups_total",
			Help:      "Cache tier lookups by tier, category and result (hit, stale, miss).",
		}, []string{"tier", "category", "result"}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "tcgcache",
			Name:                            "upstream_duration_seconds",
			Help:                            "Upstream fetch duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"category"}),

		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tcgcache",
			Name:      "upstream_errors_total",
			Help:      "Total failed upstream fetches.",
		}, []string{"category", "kind"}),

		CoalescedJoins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tcgcache",
			Name:      "coalesced_joins_total",
			Help:      "Lookups that joined an in-flight fetch instead of issuing one.",
		}, []string{"category"}),

		InterceptorOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tcgcache",
			Name:      "interceptor_outcomes_total",
			Help:      "Intercepted requests by class and outcome.",
		}, []string{"class", "outcome"}),

		BackgroundRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tcgcache",
			Name:      "background_refreshes_total",
			Help:      "Stale-while-revalidate background refreshes by result.",
		}, []string{"result"}),

		HydrationRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tcgcache",
			Name:      "hydration_runs_total",
			Help:      "Background hydration runs by category and result.",
		}, []string{"category", "result"}),

		HydrationItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tcgcache",
			Name:      "hydration_items",
			Help:      "Item count of the last published hydration per category.",
		}, []string{"category"}),

		SweptEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tcgcache",
			Name:      "swept_entries_total",
			Help:      "Persistent entries removed by age-based sweeps.",
		}, []string{"namespace"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.TierLookups,
		m.UpstreamDuration,
		m.UpstreamErrors,
		m.CoalescedJoins,
		m.InterceptorOutcomes,
		m.BackgroundRefreshes,
		m.HydrationRuns,
		m.HydrationItems,
		m.SweptEntries,
	)

	return m
}

// Lookup records a tier lookup result.
func (m *Metrics) Lookup(tier, category, result string) {
	if m == nil {
		return
	}
	m.TierLookups.WithLabelValues(tier, category, result).Inc()
}

// Upstream records a completed upstream fetch. kind is empty on success.
func (m *Metrics) Upstream(category string, seconds float64, kind string) {
	if m == nil {
		return
	}
	m.UpstreamDuration.WithLabelValues(category).Observe(seconds)
	if kind != "" {
		m.UpstreamErrors.WithLabelValues(category, kind).Inc()
	}
}

// Joined records a lookup that shared an in-flight fetch.
func (m *Metrics) Joined(category string) {
	if m == nil {
		return
	}
	m.CoalescedJoins.WithLabelValues(category).Inc()
}

// Intercepted records an interceptor decision.
func (m *Metrics) Intercepted(class, outcome string) {
	if m == nil {
		return
	}
	m.InterceptorOutcomes.WithLabelValues(class, outcome).Inc()
}

// Refreshed records a background refresh result.
func (m *Metrics) Refreshed(result string) {
	if m == nil {
		return
	}
	m.BackgroundRefreshes.WithLabelValues(result).Inc()
}

// Hydrated records a finished hydration run.
func (m *Metrics) Hydrated(category, result string, items int) {
	if m == nil {
		return
	}
	m.HydrationRuns.WithLabelValues(category, result).Inc()
	if result == "published" {
		m.HydrationItems.WithLabelValues(category).Set(float64(items))
	}
}

// Swept records entries removed by the sweeper.
func (m *Metrics) Swept(namespace string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SweptEntries.WithLabelValues(namespace).Add(float64(n))
}
