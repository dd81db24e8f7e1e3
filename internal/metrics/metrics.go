// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const ServiceName = "safeback"

// Outcome label values.
const (
	OutcomeSuccess    = "success"
	OutcomeFailure    = "failure"
	OutcomeContention = "contention"
	OutcomeSkipped    = "skipped"
)

var (
	SnapshotCaptures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: prometheus.BuildFQName(ServiceName, "snapshot", "captures_total"),
		Help: "Snapshot captures by type and outcome",
	}, []string{"type", "outcome"})
	SnapshotCaptureDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    prometheus.BuildFQName(ServiceName, "snapshot", "capture_duration_seconds"),
		Help:    "Duration of snapshot capture in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"type"})
	SnapshotSizeBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    prometheus.BuildFQName(ServiceName, "snapshot", "size_bytes"),
		Help:    "Size of serialized snapshot documents",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
	})
	OmittedDomains = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: prometheus.BuildFQName(ServiceName, "snapshot", "omitted_domains_total"),
		Help: "Non-critical domains skipped during capture",
	}, []string{"domain"})
	Restores = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: prometheus.BuildFQName(ServiceName, "restore", "total"),
		Help: "Restores by outcome",
	}, []string{"outcome"})
	RestoreDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    prometheus.BuildFQName(ServiceName, "restore", "duration_seconds"),
		Help:    "Duration of restores in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})
	SnapshotsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: prometheus.BuildFQName(ServiceName, "retention", "pruned_total"),
		Help: "Snapshots deleted by retention",
	})
	RetentionBlobErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: prometheus.BuildFQName(ServiceName, "retention", "blob_errors_total"),
		Help: "Blob deletions that failed during retention",
	})
	SchedulerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: prometheus.BuildFQName(ServiceName, "scheduler", "workspace_runs_total"),
		Help: "Scheduled workspace captures by outcome",
	}, []string{"outcome"})
	SchedulerLastRun = promauto.NewGauge(prometheus.GaugeOpts{
		Name: prometheus.BuildFQName(ServiceName, "scheduler", "last_run_timestamp_seconds"),
		Help: "Unix time of the last scheduler pass",
	})
)
