package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	FirehoseEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firehose_events_total",
			Help: "Total number of commit events consumed from the firehose",
		},
		[]string{"collection"},
	)

	FirehoseEventProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "firehose_event_processing_duration_seconds",
			Help:    "Duration of firehose event processing",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection"},
	)

	FirehoseReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "firehose_reconnects_total",
			Help: "Total number of firehose reconnection attempts",
		},
	)

	RepostsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reposts_suppressed_total",
			Help: "Total number of self-reposts suppressed by the classifier",
		},
	)
)
