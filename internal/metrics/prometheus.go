package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the speech stream service
type Metrics struct {
	// Streaming connection metrics
	ActiveConnections  prometheus.Gauge
	ConnectionsTotal   prometheus.Counter
	ConnectionDuration prometheus.Histogram

	// Processing step metrics
	ChunksProcessed    prometheus.Counter
	ProcessingDuration prometheus.Histogram
	ProcessingFailures prometheus.Counter
	Retractions        prometheus.Counter
	EmittedTokens      prometheus.Counter

	// Recognition backend metrics
	RecognitionRequests prometheus.Counter
	RecognitionFailures prometheus.Counter
	RecognitionRetries  prometheus.Counter
	RecognitionDuration prometheus.Histogram

	// Unit pool metrics
	PoolActiveSessions prometheus.Gauge
	PoolAvailable      prometheus.Gauge
	PoolExhaustions    prometheus.Counter
	PoolEvictions      prometheus.Counter

	// Remote proxy protocol metrics
	ProxyRequests *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Streaming connection metrics
		ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "speech_active_connections",
			Help: "Current number of active streaming connections",
		}),
		ConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "speech_connections_total",
			Help: "Total number of streaming connections accepted",
		}),
		ConnectionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "speech_connection_duration_seconds",
			Help:    "Duration of streaming connections in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),

		// Processing step metrics
		ChunksProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "speech_chunks_processed_total",
			Help: "Total number of audio chunks submitted for processing",
		}),
		ProcessingDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "speech_processing_duration_seconds",
			Help:    "Time spent decoding and reconciling one audio window",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}),
		ProcessingFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "speech_processing_failures_total",
			Help: "Total number of processing steps that failed",
		}),
		Retractions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "speech_retractions_total",
			Help: "Total number of deltas that retracted previously emitted text",
		}),
		EmittedTokens: promauto.NewCounter(prometheus.CounterOpts{
			Name: "speech_emitted_tokens_total",
			Help: "Total number of new tokens emitted to clients",
		}),

		// Recognition backend metrics
		RecognitionRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "speech_recognition_requests_total",
			Help: "Total number of recognition backend requests sent",
		}),
		RecognitionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "speech_recognition_failures_total",
			Help: "Total number of failed recognition backend requests",
		}),
		RecognitionRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "speech_recognition_retries_total",
			Help: "Total number of recognition request retries",
		}),
		RecognitionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "speech_recognition_duration_seconds",
			Help:    "Duration of recognition backend requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),

		// Unit pool metrics
		PoolActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "speech_pool_active_sessions",
			Help: "Current number of sessions holding a processing unit",
		}),
		PoolAvailable: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "speech_pool_available_units",
			Help: "Current number of idle processing units in the pool",
		}),
		PoolExhaustions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "speech_pool_exhaustions_total",
			Help: "Total number of checkouts rejected because the pool was empty",
		}),
		PoolEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "speech_pool_evictions_total",
			Help: "Total number of idle sessions evicted by the reaper",
		}),

		// Remote proxy protocol metrics
		ProxyRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "speech_proxy_requests_total",
			Help: "Total number of remote proxy protocol requests",
		}, []string{"operation", "status_code"}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "speech_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "speech_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// RecordConnectionOpened increments the connection counters
func (m *Metrics) RecordConnectionOpened() {
	if m == nil {
		return
	}
	m.ConnectionsTotal.Inc()
	m.ActiveConnections.Inc()
}

// RecordConnectionClosed decrements the active gauge and records duration
func (m *Metrics) RecordConnectionClosed(durationSeconds float64) {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
	m.ConnectionDuration.Observe(durationSeconds)
}

// RecordChunkProcessed records one completed processing step
func (m *Metrics) RecordChunkProcessed(durationSeconds float64, newTokens int, retracted bool) {
	if m == nil {
		return
	}
	m.ChunksProcessed.Inc()
	m.ProcessingDuration.Observe(durationSeconds)
	m.EmittedTokens.Add(float64(newTokens))
	if retracted {
		m.Retractions.Inc()
	}
}

// RecordProcessingFailure increments the processing failure counter
func (m *Metrics) RecordProcessingFailure() {
	if m == nil {
		return
	}
	m.ProcessingFailures.Inc()
}

// RecordRecognitionRequest records one backend request outcome
func (m *Metrics) RecordRecognitionRequest(success bool, retries int, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RecognitionRequests.Inc()
	m.RecognitionRetries.Add(float64(retries))
	m.RecognitionDuration.Observe(durationSeconds)
	if !success {
		m.RecognitionFailures.Inc()
	}
}

// SetPoolOccupancy updates the pool occupancy gauges
func (m *Metrics) SetPoolOccupancy(active, available int) {
	if m == nil {
		return
	}
	m.PoolActiveSessions.Set(float64(active))
	m.PoolAvailable.Set(float64(available))
}

// RecordPoolExhaustion increments the exhaustion counter
func (m *Metrics) RecordPoolExhaustion() {
	if m == nil {
		return
	}
	m.PoolExhaustions.Inc()
}

// RecordPoolEviction increments the eviction counter
func (m *Metrics) RecordPoolEviction() {
	if m == nil {
		return
	}
	m.PoolEvictions.Inc()
}

// RecordProxyRequest records one remote proxy protocol request
func (m *Metrics) RecordProxyRequest(operation, statusCode string) {
	if m == nil {
		return
	}
	m.ProxyRequests.WithLabelValues(operation, statusCode).Inc()
}

// RecordHTTPRequest records an HTTP API request with its duration
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
