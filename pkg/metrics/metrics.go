package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Broadcasts counts broadcast invocations per tenant outcome (ok|error).
	Broadcasts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tavolo_push_broadcasts_total",
			Help: "Total number of push broadcast invocations",
		},
		[]string{"result"},
	)

	// Deliveries counts per-target delivery attempts by result
	// (sent|rejected|expired|failed).
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tavolo_push_deliveries_total",
			Help: "Total number of per-subscription delivery attempts",
		},
		[]string{"result"},
	)

	// DeliveryLatency measures the end-to-end time of a single delivery,
	// encryption included.
	DeliveryLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tavolo_push_delivery_seconds",
			Help:    "Per-subscription delivery latency",
			Buckets: prometheus.DefBuckets,
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tavolo_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
