// Package metrics exposes the daemon's Prometheus gauges/counters,
// grounded on the teacher's promauto.NewGaugeVec/NewCounterVec
// conventions (internal/api/access_metrics_handlers.go).
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	AdmissionInUse       prometheus.Gauge
	AdmissionRejections   prometheus.Counter
	OperationsTotal       *prometheus.CounterVec
	CommandDuration       *prometheus.HistogramVec
	SnapshotsTotal        prometheus.Counter
	SnapshotRestoresTotal *prometheus.CounterVec
)

func ensureInit() {
	once.Do(func() {
		AdmissionInUse = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hearthd",
			Subsystem: "kernel",
			Name:      "admission_in_use",
			Help:      "Number of concurrency-semaphore slots currently occupied.",
		})

		AdmissionRejections = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hearthd",
			Subsystem: "kernel",
			Name:      "admission_rejections_total",
			Help:      "Total number of operations rejected because the admission semaphore was saturated.",
		})

		OperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hearthd",
			Subsystem: "kernel",
			Name:      "operations_total",
			Help:      "Total number of kernel-mediated operations by type and outcome.",
		}, []string{"operation_type", "outcome"})

		CommandDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hearthd",
			Subsystem: "executor",
			Name:      "command_duration_seconds",
			Help:      "Duration of command-executor invocations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"success"})

		SnapshotsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hearthd",
			Subsystem: "snapshot",
			Name:      "created_total",
			Help:      "Total number of snapshots created.",
		})

		SnapshotRestoresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hearthd",
			Subsystem: "snapshot",
			Name:      "restores_total",
			Help:      "Total number of snapshot restore attempts by outcome.",
		}, []string{"outcome"})

		prometheus.MustRegister(
			AdmissionInUse,
			AdmissionRejections,
			OperationsTotal,
			CommandDuration,
			SnapshotsTotal,
			SnapshotRestoresTotal,
		)
	})
}

// Init registers every metric exactly once; safe to call repeatedly
// (e.g. from tests that construct multiple kernels).
func Init() { ensureInit() }
