package query

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metricSet struct {
	queries       prometheus.Counter
	duration      prometheus.Histogram
	cacheHits     prometheus.Counter
	cacheMisses   prometheus.Counter
	fallbackScans prometheus.Counter
}

func newMetricSet(r prometheus.Registerer) *metricSet {
	m := &metricSet{
		queries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "query_points_total",
				Help: "Point queries answered.",
			},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "query_duration_seconds",
				Help:    "Point query latency.",
				Buckets: prometheus.DefBuckets,
			},
		),
		cacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "query_cache_hits_total",
				Help: "Candidate lists served from the cell cache.",
			},
		),
		cacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "query_cache_misses_total",
				Help: "Candidate lookups that fell through to the store.",
			},
		),
		fallbackScans: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "query_fallback_scans_total",
				Help: "Queries answered by the bounded fallback scan.",
			},
		),
	}
	if r != nil {
		r.MustRegister(m.queries, m.duration, m.cacheHits, m.cacheMisses, m.fallbackScans)
	}
	return m
}
