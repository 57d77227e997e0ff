package wdpa

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metricSet struct {
	rows   *prometheus.CounterVec
	layers prometheus.Counter
}

func newMetricSet(r prometheus.Registerer) *metricSet {
	m := &metricSet{
		rows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wdpa_rows_total",
				Help: "Shapefile rows processed by result.",
			},
			[]string{"result"},
		),
		layers: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wdpa_layers_total",
				Help: "Shapefile layers processed.",
			},
		),
	}
	if r != nil {
		r.MustRegister(m.rows, m.layers)
	}
	return m
}
