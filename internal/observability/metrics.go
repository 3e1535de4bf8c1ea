package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// morphing engine.
type Metrics struct {
	// Dataset cache metrics.
	CacheLookups   *prometheus.CounterVec // labels: result={hit,miss}
	CacheEvictions prometheus.Counter
	CacheBytes     prometheus.Gauge
	CacheEntries   prometheus.Gauge

	// Remote fetch metrics.
	FetchRequests *prometheus.CounterVec // labels: outcome={success,unavailable,error}
	FetchDuration prometheus.Histogram

	// Ensemble and workflow metrics.
	ModelsDropped    prometheus.Counter
	Combinations     *prometheus.CounterVec // labels: outcome={success,skipped,error}
	MorphDuration    prometheus.Histogram
	VariablesMorphed prometheus.Counter
	VariablesSkipped prometheus.Counter
}

// NewMetrics creates and registers all engine metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.CacheLookups,
		m.CacheEvictions,
		m.CacheBytes,
		m.CacheEntries,
		m.FetchRequests,
		m.FetchDuration,
		m.ModelsDropped,
		m.Combinations,
		m.MorphDuration,
		m.VariablesMorphed,
		m.VariablesSkipped,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "epwmorph",
			Name:      "cache_lookups_total",
			Help:      "Dataset cache lookups by result.",
		}, []string{"result"}),
		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "epwmorph",
			Name:      "cache_evictions_total",
			Help:      "Dataset cache entries evicted by the LRU policy.",
		}),
		CacheBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "epwmorph",
			Name:      "cache_bytes",
			Help:      "Total bytes stored in the dataset cache.",
		}),
		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "epwmorph",
			Name:      "cache_entries",
			Help:      "Number of entries in the dataset cache.",
		}),
		FetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "epwmorph",
			Name:      "fetch_requests_total",
			Help:      "Remote dataset fetch attempts by outcome.",
		}, []string{"outcome"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "epwmorph",
			Name:      "fetch_duration_seconds",
			Help:      "Remote dataset fetch duration including retries.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}),
		ModelsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "epwmorph",
			Name:      "models_dropped_total",
			Help:      "Models dropped from an ensemble after exhausted fetch retries.",
		}),
		Combinations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "epwmorph",
			Name:      "combinations_total",
			Help:      "Requested (pathway, percentile, year) combinations by outcome.",
		}, []string{"outcome"}),
		MorphDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "epwmorph",
			Name:      "morph_duration_seconds",
			Help:      "Duration of morphing one combination once deltas are derived.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		VariablesMorphed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "epwmorph",
			Name:      "variables_morphed_total",
			Help:      "Variables successfully morphed across all combinations.",
		}),
		VariablesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "epwmorph",
			Name:      "variables_skipped_total",
			Help:      "Variables skipped due to incomplete change signals.",
		}),
	}
}
