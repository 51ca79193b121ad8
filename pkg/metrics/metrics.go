// Package metrics provides Prometheus collectors for the BigQuery target.
//
// # Basic Usage
//
//	reg := prometheus.NewRegistry()
//	m := metrics.New(reg)
//
//	m.Records.WithLabelValues("users", "batch").Add(float64(n))
//
//	timer := metrics.NewTimer()
//	err := commit(ctx)
//	m.ObserveUpload("users", "batch", timer.Stop(), err)
//
// Collectors are registered on the registry passed to New, so tests and
// multiple targets in one process do not collide on the default registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bqtarget"

// Metrics holds the collectors shared by every sink of a target.
type Metrics struct {
	Records        *prometheus.CounterVec   // records accepted into batches
	Batches        *prometheus.CounterVec   // committed batches by outcome
	UploadDuration *prometheus.HistogramVec // commit latency
	Retries        *prometheus.CounterVec   // retried remote operations
	JobsInFlight   *prometheus.GaugeVec     // admitted, unfinished upload jobs
	CoercedStreams *prometheus.GaugeVec     // 1 when a stream has coerced columns
}

// New creates and registers the collectors on reg. A nil reg uses a fresh
// private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		Records: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_total",
				Help:      "Total number of records accepted into batches",
			},
			[]string{"stream", "method"},
		),
		Batches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_total",
				Help:      "Total number of committed batches by status",
			},
			[]string{"stream", "method", "status"},
		),
		UploadDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upload_duration_seconds",
				Help:      "Time spent committing a batch",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"stream", "method"},
		),
		Retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Total number of retried remote operations",
			},
			[]string{"stream", "operation"},
		),
		JobsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "jobs_in_flight",
				Help:      "Upload jobs admitted and not yet finished",
			},
			[]string{"stream"},
		),
		CoercedStreams: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "coerced_streams",
				Help:      "Streams whose schema has columns coerced to STRING",
			},
			[]string{"stream"},
		),
	}
}

// ObserveUpload records the duration and outcome of one commit
func (m *Metrics) ObserveUpload(stream, method string, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "failed"
	}
	m.Batches.WithLabelValues(stream, method, status).Inc()
	m.UploadDuration.WithLabelValues(stream, method).Observe(d.Seconds())
}

// Timer measures elapsed time
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the time elapsed since the timer started
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
