package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "envmon_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "envmon_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "envmon_http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "endpoint"},
	)

	// Sensor metrics
	ReadingsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "envmon_readings_generated_total",
			Help: "Total number of synthetic sensor values generated",
		},
		[]string{"metric", "range"}, // range: normal, anomalous
	)

	SensorValue = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "envmon_sensor_value",
			Help: "Most recent value collected for each metric",
		},
		[]string{"metric"},
	)

	SensorFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "envmon_sensor_fetch_duration_seconds",
			Help:    "Time taken to acquire a sensor value",
			Buckets: []float64{.01, .1, 1, 5, 15, 30, 60, 90, 120, 180},
		},
		[]string{"metric"},
	)

	// Alert metrics
	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "envmon_alerts_total",
			Help: "Total number of threshold violations detected",
		},
		[]string{"metric"},
	)

	// Collection loop metrics
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "envmon_cycles_total",
			Help: "Total number of collection cycles",
		},
		[]string{"status"}, // status: persisted, store_failed, fetch_failed, skipped
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "envmon_cycle_duration_seconds",
			Help:    "Time taken to fetch, evaluate and persist one snapshot",
			Buckets: []float64{.01, .1, 1, 10, 30, 60, 120, 180, 300},
		},
	)

	// Storage metrics
	StoreAppendTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "envmon_store_append_total",
			Help: "Total number of snapshot appends to the persistent store",
		},
		[]string{"backend", "status"}, // status: success, failed
	)

	StoreAppendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "envmon_store_append_duration_seconds",
			Help:    "Time taken to append a snapshot to the persistent store",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"backend"},
	)

	// Kafka producer metrics
	KafkaPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "envmon_kafka_publish_retries_total",
			Help: "Total number of Kafka publish retries",
		},
	)

	KafkaBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "envmon_kafka_bytes_written_total",
			Help: "Total bytes written to Kafka",
		},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "envmon_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
