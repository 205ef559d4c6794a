// Package metrics provides Prometheus metrics for the goodwill service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransitionsTotal counts committed donation status changes.
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "goodwill",
			Subsystem: "lifecycle",
			Name:      "transitions_total",
			Help:      "Total number of committed donation status transitions",
		},
		[]string{"from", "to"},
	)

	// RejectionsTotal counts lifecycle operations that failed, by error kind.
	RejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "goodwill",
			Subsystem: "lifecycle",
			Name:      "rejections_total",
			Help:      "Total number of rejected lifecycle operations by error kind",
		},
		[]string{"kind"},
	)

	// OperationDuration tracks lifecycle operation latency in seconds.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "goodwill",
			Subsystem: "lifecycle",
			Name:      "operation_seconds",
			Help:      "Duration of lifecycle operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 10},
		},
		[]string{"operation"},
	)

	// OutboxPublishedTotal counts notifications handed to Kafka.
	OutboxPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "goodwill",
			Subsystem: "outbox",
			Name:      "published_total",
			Help:      "Total number of outbox notifications by publish status",
		},
		[]string{"status"},
	)

	// OutboxBacklog is the size of the last unpublished batch the relay saw.
	OutboxBacklog = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "goodwill",
			Subsystem: "outbox",
			Name:      "batch_size",
			Help:      "Number of unpublished notifications fetched in the last relay tick",
		},
	)

	// EvidenceBytesTotal counts bytes written to the blob store.
	EvidenceBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "goodwill",
			Subsystem: "evidence",
			Name:      "stored_bytes_total",
			Help:      "Total bytes written to the evidence blob store by backend",
		},
		[]string{"backend"},
	)
)
