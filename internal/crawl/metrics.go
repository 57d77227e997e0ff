package crawl

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metricSet struct {
	tiles        *prometheus.CounterVec
	records      *prometheus.CounterVec
	recordErrors prometheus.Counter
}

func newMetricSet(r prometheus.Registerer) *metricSet {
	m := &metricSet{
		tiles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawl_tiles_total",
				Help: "Count of crawl tiles by result.",
			},
			[]string{"result"},
		),
		records: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawl_records_total",
				Help: "Reserve records written during crawls.",
			},
			[]string{"op"},
		),
		recordErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "crawl_record_errors_total",
				Help: "Records dropped by per-record processing errors.",
			},
		),
	}
	if r != nil {
		r.MustRegister(m.tiles, m.records, m.recordErrors)
	}
	return m
}
