package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus metrics. They are registered on a
// private registry so two engines embedded in one process do not collide.
type Metrics struct {
	registry *prometheus.Registry

	RowsInserted   prometheus.Counter
	RowsDeleted    prometheus.Counter
	RowsUpdated    prometheus.Counter
	PagesFlushed   prometheus.Counter
	WalAppends     prometheus.Counter
	Checkpoints    prometheus.Counter
	RowCacheHits   prometheus.Counter
	RowCacheMisses prometheus.Counter

	OpenTables prometheus.Gauge
}

// New creates and registers the engine metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
		reg.MustRegister(c)
		return c
	}

	m := &Metrics{
		registry: reg,

		RowsInserted:   factory("minirel_rows_inserted_total", "Total rows inserted"),
		RowsDeleted:    factory("minirel_rows_deleted_total", "Total rows tombstoned by DELETE"),
		RowsUpdated:    factory("minirel_rows_updated_total", "Total rows rewritten by UPDATE"),
		PagesFlushed:   factory("minirel_pages_flushed_total", "Total dirty pages written to disk"),
		WalAppends:     factory("minirel_cidx_wal_appends_total", "Total composite-index WAL records appended"),
		Checkpoints:    factory("minirel_cidx_checkpoints_total", "Total composite-index snapshot rebuilds"),
		RowCacheHits:   factory("minirel_row_cache_hits_total", "Decoded-row cache hits"),
		RowCacheMisses: factory("minirel_row_cache_misses_total", "Decoded-row cache misses"),
	}

	m.OpenTables = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "minirel_open_tables",
		Help: "Tables currently registered in the system catalog",
	})
	reg.MustRegister(m.OpenTables)

	return m
}

// Registry exposes the private registry so a host can mount it on its own
// /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
