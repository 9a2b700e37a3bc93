// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ItemsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "contexter_ingest_items_received_total",
		Help: "Items received on upload endpoints",
	}, []string{"kind"})

	// ItemsWritten is labelled by outcome: inserted, updated, rejected or skipped.
	ItemsWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "contexter_ingest_items_total",
		Help: "Uploaded items by outcome",
	}, []string{"kind", "outcome"})

	UpsertDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "contexter_ingest_upsert_duration_seconds",
		Help:    "Time taken to store one upload request",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"kind"})

	ItemsRead = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "contexter_read_items_total",
		Help: "Items returned by read endpoints",
	}, []string{"kind"})

	RetentionDeleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "contexter_retention_deleted_total",
		Help: "Rows deleted by the retention job",
	}, []string{"table"})

	RateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "contexter_http_rate_limited_total",
		Help: "Requests rejected by the rate limiter",
	})
)

func init() {
	prometheus.MustRegister(
		ItemsReceived,
		ItemsWritten,
		UpsertDuration,
		ItemsRead,
		RetentionDeleted,
		RateLimited,
	)
}
