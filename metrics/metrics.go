// Package metrics records run statistics in node_exporter's textfile format
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "airtable_export"

// Recorder collects per-export metrics for one run
type Recorder struct {
	registry    *prometheus.Registry
	records     *prometheus.GaugeVec
	rows        *prometheus.GaugeVec
	duration    *prometheus.GaugeVec
	lastSuccess *prometheus.GaugeVec
	failures    *prometheus.CounterVec
}

// NewRecorder creates a recorder with its own registry
func NewRecorder() *Recorder {
	labels := []string{"export", "table_id"}
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		records: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "records",
			Help:      "Records fetched from the table in the last run.",
		}, labels),
		rows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rows_written",
			Help:      "CSV rows written in the last run.",
		}, labels),
		duration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "duration_seconds",
			Help:      "Time spent fetching and exporting the table.",
		}, labels),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful export.",
		}, labels),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Exports that did not produce a file.",
		}, append(labels, "status")),
	}
	r.registry.MustRegister(r.records, r.rows, r.duration, r.lastSuccess, r.failures)
	return r
}

// Observation is one finished export
type Observation struct {
	Export   string
	TableID  string
	Records  int
	Rows     int
	Seconds  float64
	Finished int64
	Status   string
	OK       bool
}

// Observe records the outcome of a single export
func (r *Recorder) Observe(o Observation) {
	r.records.WithLabelValues(o.Export, o.TableID).Set(float64(o.Records))
	r.rows.WithLabelValues(o.Export, o.TableID).Set(float64(o.Rows))
	r.duration.WithLabelValues(o.Export, o.TableID).Set(o.Seconds)
	if o.OK {
		r.lastSuccess.WithLabelValues(o.Export, o.TableID).Set(float64(o.Finished))
		return
	}
	r.failures.WithLabelValues(o.Export, o.TableID, o.Status).Inc()
}

// Gatherer exposes the underlying registry
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// WriteTextfile writes all metrics to path atomically
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
