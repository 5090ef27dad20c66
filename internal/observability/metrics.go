// Package observability exposes Prometheus metrics for the agent and server.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	uploadQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "healthsync",
		Subsystem: "agent",
		Name:      "upload_queue_depth",
		Help:      "Number of batches waiting in the upload queue.",
	})
	uploadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "agent",
		Name:      "uploads_total",
		Help:      "Batch upload attempts by outcome.",
	}, []string{"outcome"})
	lastSyncGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "healthsync",
		Subsystem: "agent",
		Name:      "last_sync_timestamp_seconds",
		Help:      "Unix timestamp of the last confirmed sync per stream.",
	}, []string{"stream"})
	syncFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "agent",
		Name:      "sync_failures_total",
		Help:      "Failed sync cycles per stream.",
	}, []string{"stream"})

	recordsIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "ingest",
		Name:      "records_total",
		Help:      "Records processed by the ingestion service, by disposition.",
	}, []string{"disposition"})
	batchesIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "ingest",
		Name:      "batches_total",
		Help:      "Batches handled by the ingestion service, by outcome.",
	}, []string{"outcome"})
	ingestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "healthsync",
		Subsystem: "ingest",
		Name:      "batch_duration_seconds",
		Help:      "Wall time spent committing one batch.",
		Buckets:   prometheus.DefBuckets,
	})
	refreshTriggers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "refresh",
		Name:      "triggers_total",
		Help:      "Downstream refresh triggers by outcome.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(
		uploadQueueDepth,
		uploadsTotal,
		lastSyncGauge,
		syncFailures,
		recordsIngested,
		batchesIngested,
		ingestDuration,
		refreshTriggers,
	)
}

// SetUploadQueueDepth updates the queue depth gauge.
func SetUploadQueueDepth(depth int) {
	uploadQueueDepth.Set(float64(depth))
}

// RecordUpload counts one upload attempt.
func RecordUpload(outcome string) {
	uploadsTotal.WithLabelValues(outcome).Inc()
}

// RecordSyncCommitted updates the per-stream sync watermark.
func RecordSyncCommitted(stream string, ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastSyncGauge.WithLabelValues(stream).Set(float64(ts.Unix()))
}

// RecordSyncFailure counts a failed cycle for a stream.
func RecordSyncFailure(stream string) {
	syncFailures.WithLabelValues(stream).Inc()
}

// RecordIngestedBatch counts one ingested batch and its record dispositions.
func RecordIngestedBatch(inserted, duplicate int, elapsed time.Duration) {
	recordsIngested.WithLabelValues("inserted").Add(float64(inserted))
	recordsIngested.WithLabelValues("duplicate").Add(float64(duplicate))
	batchesIngested.WithLabelValues("committed").Inc()
	ingestDuration.Observe(elapsed.Seconds())
}

// RecordIngestFailure counts a rolled-back batch.
func RecordIngestFailure() {
	batchesIngested.WithLabelValues("rolled_back").Inc()
}

// RecordRefreshTrigger counts a downstream refresh trigger outcome.
func RecordRefreshTrigger(outcome string) {
	refreshTriggers.WithLabelValues(outcome).Inc()
}
