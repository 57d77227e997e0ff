package overpass

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metricSet struct {
	requests  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	excluded  prometheus.Gauge
	exhausted prometheus.Counter
}

func newMetricSet(r prometheus.Registerer) *metricSet {
	m := &metricSet{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "overpass_requests_total",
				Help: "Requests per endpoint by outcome.",
			},
			[]string{"endpoint", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "overpass_request_duration_seconds",
				Help:    "Wall time of one request against one endpoint.",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
			},
			[]string{"endpoint"},
		),
		excluded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "overpass_excluded_endpoints",
				Help: "Endpoints currently out of rotation.",
			},
		),
		exhausted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "overpass_fetch_exhausted_total",
				Help: "Fetches that failed across every attempt and endpoint.",
			},
		),
	}
	if r != nil {
		r.MustRegister(m.requests, m.duration, m.excluded, m.exhausted)
	}
	return m
}
