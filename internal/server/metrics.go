package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arenacal_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arenacal_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Calibration workflow metrics
	stageRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arenacal_stage_runs_total",
			Help: "Total number of calibration stage runs",
		},
		[]string{"stage", "status"}, // status: success, error
	)

	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arenacal_stage_duration_seconds",
			Help:    "Calibration stage duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 25, 60},
		},
		[]string{"stage"},
	)

	panoramaWidth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "arenacal_panorama_width_pixels",
			Help: "Canvas width of the most recent panorama",
		},
	)

	bundleAdjustmentRMS = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "arenacal_bundle_adjustment_rms_pixels",
			Help: "Reprojection RMS of the most recent bundle adjustment",
		},
	)

	// Rate limiting metrics
	rateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "arenacal_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
	)

	// File upload metrics
	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "arenacal_upload_size_bytes",
			Help:    "Size of uploaded camera images in bytes",
			Buckets: []float64{10 * 1024, 100 * 1024, 1024 * 1024, 5 * 1024 * 1024, 20 * 1024 * 1024, 50 * 1024 * 1024},
		},
	)

	// Directory watcher metrics
	watchedSetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arenacal_watched_sets_total",
			Help: "Total number of image sets picked up from the watch directory",
		},
		[]string{"status"},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "arenacal_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arenacal_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: sent, received
	)
)
