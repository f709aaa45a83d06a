// Package metrics holds the Prometheus instruments for ingestion, aggregation
// and population loads. CLI runs are short-lived, so the registry is written
// to a node_exporter textfile on exit instead of being scraped.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rotisserie/eris"
)

// Metrics provides observability for pipeline runs. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Ingestion runs by outcome: success, already_processed, failed.
	IngestRuns *prometheus.CounterVec

	// Incident rows written and rows dropped during normalization.
	IngestRows    prometheus.Counter
	IngestDropped prometheus.Counter

	IngestDuration prometheus.Histogram

	// Aggregate rows upserted per demographic type.
	AggregateRows *prometheus.CounterVec

	// Aggregation runs by mode (calculate, recalculate) and outcome.
	AggregationRuns     *prometheus.CounterVec
	AggregationDuration *prometheus.HistogramVec

	// Population figures upserted per source.
	PopulationRecords *prometheus.CounterVec
}

// New registers every instrument on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		IngestRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crimestats_ingest_runs_total",
			Help: "Ingestion runs by outcome",
		}, []string{"status"}),
		IngestRows: f.NewCounter(prometheus.CounterOpts{
			Name: "crimestats_ingest_rows_total",
			Help: "Normalized incident rows written",
		}),
		IngestDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "crimestats_ingest_dropped_rows_total",
			Help: "Source rows excluded for a missing or invalid year or count",
		}),
		IngestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "crimestats_ingest_duration_seconds",
			Help:    "Duration of one ingestion run",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		AggregateRows: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crimestats_aggregate_rows_total",
			Help: "Aggregate rows upserted by demographic type",
		}, []string{"demographic_type"}),
		AggregationRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crimestats_aggregation_runs_total",
			Help: "Aggregation runs by mode and outcome",
		}, []string{"mode", "status"}),
		AggregationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crimestats_aggregation_duration_seconds",
			Help:    "Duration of one aggregation run",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"mode"}),
		PopulationRecords: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crimestats_population_records_total",
			Help: "Population figures upserted by source",
		}, []string{"source"}),
	}
}

// ObserveIngest records the outcome of one ingestion run.
func (m *Metrics) ObserveIngest(status string, rows, dropped int64, d time.Duration) {
	if m == nil {
		return
	}
	m.IngestRuns.WithLabelValues(status).Inc()
	m.IngestRows.Add(float64(rows))
	m.IngestDropped.Add(float64(dropped))
	m.IngestDuration.Observe(d.Seconds())
}

// AddAggregateRows counts rows upserted for one demographic type.
func (m *Metrics) AddAggregateRows(demographicType string, n int) {
	if m != nil {
		m.AggregateRows.WithLabelValues(demographicType).Add(float64(n))
	}
}

// ObserveAggregation records one calculate or recalculate run.
func (m *Metrics) ObserveAggregation(mode, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.AggregationRuns.WithLabelValues(mode, status).Inc()
	m.AggregationDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// AddPopulationRecords counts population figures stored from source.
func (m *Metrics) AddPopulationRecords(source string, n int64) {
	if m != nil {
		m.PopulationRecords.WithLabelValues(source).Add(float64(n))
	}
}

// Gatherer exposes the registry, mainly for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// WriteTextfile writes every instrument to path in the text exposition format.
// An empty path is a no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return eris.Wrapf(err, "metrics: write textfile %s", path)
	}
	return nil
}
