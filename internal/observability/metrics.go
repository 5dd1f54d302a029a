package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PicturesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pano",
		Name:      "pictures_processed_total",
		Help:      "Total number of pictures processed by the ingestion worker",
	}, []string{"result"})

	ProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pano",
		Name:      "picture_processing_duration_seconds",
		Help:      "Duration of per-picture pipeline stages",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"stage"})

	DerivatesGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pano",
		Name:      "derivates_generated_total",
		Help:      "Total number of derivate files written",
	}, []string{"kind"})

	OnDemandGenerations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pano",
		Name:      "on_demand_generations_total",
		Help:      "Derivates generated lazily by the read API",
	}, []string{"kind"})

	BlurCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pano",
		Name:      "blur_calls_total",
		Help:      "Calls to the remote blurring service",
	}, []string{"result"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pano",
		Name:      "queue_depth",
		Help:      "Number of pictures waiting in the process queue",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pano",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pano",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
