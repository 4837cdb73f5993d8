// Package metrics provides Prometheus metrics for the Parry ranking service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// batchSizeBuckets covers the game client's flush sizes (a handful up to a few hundred events).
var batchSizeBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000} //nolint:gochecknoglobals // fixed bucket layout

// latencyBuckets are in milliseconds; bcrypt verify alone sits around 50-250.
var latencyBuckets = []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000} //nolint:gochecknoglobals // fixed bucket layout

// Manager manages all Prometheus metrics for the Parry service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Telemetry ingest
	eventsIngested  prometheus.Counter
	eventsDuplicate prometheus.Counter
	eventsRejected  prometheus.Counter
	batchSize       prometheus.Histogram
	ingestLatency   prometheus.Histogram

	// Ranking
	rankingSubmissions *prometheus.CounterVec
	passwordLatency    *prometheus.HistogramVec
	rankingEntries     prometheus.Gauge
	eventLogRecords    prometheus.Gauge
	dedupeWindowSize   prometheus.Gauge

	// Repository
	repositoryUpdateLatency prometheus.Histogram
	repositoryQueryLatency  prometheus.Histogram
	repositoryErrors        *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	rateLimited         *prometheus.CounterVec

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
	customRegistry.MustRegister(collectors.NewBuildInfoCollector())
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "parry",
		subsystem:        "ranking",
		histogramBuckets: latencyBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// RefreshInterval reports how often gauge updaters should run.
func (m *Manager) RefreshInterval() time.Duration { return m.refreshInterval }

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.customLabels,
	}
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.eventsIngested = auto.NewCounter(m.counterOpts("events_ingested_total",
		"Total number of telemetry events persisted"))
	m.eventsDuplicate = auto.NewCounter(m.counterOpts("events_duplicate_total",
		"Total number of telemetry events skipped as client retries"))
	m.eventsRejected = auto.NewCounter(m.counterOpts("events_rejected_total",
		"Total number of telemetry events in rejected batches"))
	m.batchSize = auto.NewHistogram(m.histogramOpts("batch_size_events",
		"Number of events per ingested batch", batchSizeBuckets))
	m.ingestLatency = auto.NewHistogram(m.histogramOpts("ingest_latency_milliseconds",
		"Batch ingest latency in milliseconds", m.histogramBuckets))

	m.rankingSubmissions = auto.NewCounterVec(m.counterOpts("submissions_total",
		"Ranking submissions by outcome"), []string{"outcome"})
	m.passwordLatency = auto.NewHistogramVec(m.histogramOpts("password_latency_milliseconds",
		"Password hash and verify latency in milliseconds", m.histogramBuckets), []string{"op"})
	m.rankingEntries = auto.NewGauge(m.gaugeOpts("entries",
		"Number of nicknames on the leaderboard"))
	m.eventLogRecords = auto.NewGauge(m.gaugeOpts("event_log_records",
		"Number of telemetry events stored"))
	m.dedupeWindowSize = auto.NewGauge(m.gaugeOpts("dedupe_window_size",
		"Number of event keys in the retry dedupe window"))

	m.repositoryUpdateLatency = auto.NewHistogram(m.histogramOpts("repository_update_latency_milliseconds",
		"Repository write latency in milliseconds", m.histogramBuckets))
	m.repositoryQueryLatency = auto.NewHistogram(m.histogramOpts("repository_query_latency_milliseconds",
		"Repository read latency in milliseconds", m.histogramBuckets))
	m.repositoryErrors = auto.NewCounterVec(m.counterOpts("repository_errors_total",
		"Repository errors by backend and operation"), []string{"backend", "op"})

	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total",
		"Total number of HTTP requests by endpoint and method"), []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds",
		"HTTP request duration in milliseconds", m.histogramBuckets), []string{"endpoint", "method", "status_code"})
	m.rateLimited = auto.NewCounterVec(m.counterOpts("http_rate_limited_total",
		"Requests rejected by the rate limiter"), []string{"endpoint"})

	m.errorRateByComponent = auto.NewCounterVec(m.counterOpts("errors_by_component_total",
		"Total number of errors by component"), []string{"component", "error_type"})
	m.errorRateByType = auto.NewCounterVec(m.counterOpts("errors_by_type_total",
		"Total number of errors by type and severity"), []string{"error_type", "severity"})
	m.errorRateByEndpoint = auto.NewCounterVec(m.counterOpts("errors_by_endpoint_total",
		"Total number of errors by endpoint"), []string{"endpoint", "method", "error_type"})
	m.errorLatency = auto.NewHistogramVec(m.histogramOpts("error_latency_milliseconds",
		"Latency of requests that ended in an error", m.histogramBuckets), []string{"component", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_bytes",
		"Allocated heap bytes"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutines",
		"Current number of goroutines"))
	m.systemGCPauseTime = auto.NewHistogram(m.histogramOpts("system_gc_pause_milliseconds",
		"Average GC pause in milliseconds", m.histogramBuckets))
}

// Telemetry ingest.

func RecordEventsIngested(n int) {
	if globalManager.enabled && n > 0 {
		globalManager.eventsIngested.Add(float64(n))
	}
}

func RecordEventsDuplicate(n int) {
	if globalManager.enabled && n > 0 {
		globalManager.eventsDuplicate.Add(float64(n))
	}
}

func RecordEventsRejected(n int) {
	if globalManager.enabled && n > 0 {
		globalManager.eventsRejected.Add(float64(n))
	}
}

func RecordBatchSize(n int) {
	if globalManager.enabled {
		globalManager.batchSize.Observe(float64(n))
	}
}

func RecordIngestLatency(latencyMs float64) {
	if globalManager.enabled {
		globalManager.ingestLatency.Observe(latencyMs)
	}
}

// Ranking.

// RecordSubmission counts a ranking submission by outcome (registered, updated, unchanged, unauthorized).
func RecordSubmission(outcome string) {
	if globalManager.enabled {
		globalManager.rankingSubmissions.WithLabelValues(outcome).Inc()
	}
}

// RecordPasswordLatency observes bcrypt cost; op is "hash" or "verify".
func RecordPasswordLatency(op string, latencyMs float64) {
	if globalManager.enabled {
		globalManager.passwordLatency.WithLabelValues(op).Observe(latencyMs)
	}
}

func UpdateRankingEntries(count int) {
	if globalManager.enabled {
		globalManager.rankingEntries.Set(float64(count))
	}
}

func UpdateEventLogRecords(count int) {
	if globalManager.enabled {
		globalManager.eventLogRecords.Set(float64(count))
	}
}

func UpdateDedupeWindowSize(count int64) {
	if globalManager.enabled {
		globalManager.dedupeWindowSize.Set(float64(count))
	}
}

// Repository.

func RecordRepositoryUpdateLatency(latencyMs float64) {
	if globalManager.enabled {
		globalManager.repositoryUpdateLatency.Observe(latencyMs)
	}
}

func RecordRepositoryQueryLatency(latencyMs float64) {
	if globalManager.enabled {
		globalManager.repositoryQueryLatency.Observe(latencyMs)
	}
}

func RecordRepositoryError(backend, op string) {
	if globalManager.enabled {
		globalManager.repositoryErrors.WithLabelValues(backend, op).Inc()
	}
}

// HTTP.

func RecordHTTPRequest(endpoint, method, statusCode string) {
	if globalManager.enabled {
		globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	}
}

func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if globalManager.enabled {
		globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
	}
}

func RecordRateLimited(endpoint string) {
	if globalManager.enabled {
		globalManager.rateLimited.WithLabelValues(endpoint).Inc()
	}
}

// Errors.

func RecordErrorByComponent(component, errorType string) {
	if globalManager.enabled {
		globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
	}
}

func RecordErrorByType(errorType, severity string) {
	if globalManager.enabled {
		globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
	}
}

func RecordErrorByEndpoint(endpoint, method, errorType string) {
	if globalManager.enabled {
		globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
	}
}

func RecordErrorLatency(component, errorType string, latencyMs float64) {
	if globalManager.enabled {
		globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
	}
}

// System.

func UpdateSystemMemoryUsage(bytes uint64) {
	if globalManager.enabled {
		globalManager.systemMemoryUsage.Set(float64(bytes))
	}
}

func UpdateSystemGoroutineCount(count int) {
	if globalManager.enabled {
		globalManager.systemGoroutineCount.Set(float64(count))
	}
}

func RecordSystemGCPauseTime(pauseMs float64) {
	if globalManager.enabled {
		globalManager.systemGCPauseTime.Observe(pauseMs)
	}
}

// RefreshInterval reports the global manager's gauge refresh interval.
func RefreshInterval() time.Duration { return globalManager.refreshInterval }

// GetRegistry returns the registry the global manager writes to.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
