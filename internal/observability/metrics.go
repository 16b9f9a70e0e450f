package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "owid_pivot"

// Metrics holds the Prometheus counters, histograms, and gauges for pivot runs.
type Metrics struct {
	Registry prometheus.Gatherer

	RowsRead        prometheus.Counter
	RowsSkipped     *prometheus.CounterVec // labels: reason={invalid_date,malformed}
	RowsOmitted     *prometheus.CounterVec // labels: metric
	OutputsWritten  *prometheus.CounterVec // labels: format={csv,xlsx,kafka}
	OutputErrors    *prometheus.CounterVec // labels: format
	Cells           *prometheus.CounterVec // labels: state={filled,empty}
	RunDuration     prometheus.Histogram
	PivotDuration   *prometheus.HistogramVec // labels: metric
	PipelineRunning prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		RowsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_read_total",
			Help:      "Total observations accepted from long-format sources.",
		}),
		RowsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_skipped_total",
			Help:      "Source rows dropped before pivoting, by reason.",
		}, []string{"reason"}),
		RowsOmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_omitted_total",
			Help:      "Observations left out of one metric's output because the row ends before its column.",
		}, []string{"metric"}),
		OutputsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outputs_written_total",
			Help:      "Wide-format outputs written, by format.",
		}, []string{"format"}),
		OutputErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_errors_total",
			Help:      "Failed output writes, by format.",
		}, []string{"format"}),
		Cells: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cells_total",
			Help:      "Wide-format cells produced, by state.",
		}, []string{"state"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete extract-pivot-load run.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		PivotDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pivot_duration_seconds",
			Help:      "Duration of a single metric pivot.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"metric"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a run is in progress, 0 otherwise.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RowsRead,
		m.RowsSkipped,
		m.RowsOmitted,
		m.OutputsWritten,
		m.OutputErrors,
		m.Cells,
		m.RunDuration,
		m.PivotDuration,
		m.PipelineRunning,
	}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	m.Registry = prometheus.DefaultGatherer
	return m
}

// NewMetricsForTesting creates Metrics on a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	m := newMetrics()
	reg := prometheus.NewRegistry()
	reg.MustRegister(m.collectors()...)
	m.Registry = reg
	return m
}

// WriteTextfile dumps the current metric values in the Prometheus text
// format, for node_exporter's textfile collector after one-shot runs.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
