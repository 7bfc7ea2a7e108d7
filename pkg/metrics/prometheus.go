// Package metrics provides Prometheus metrics for the imagery order runner.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the runner.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	waitBuckets      []float64
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Run progress
	sitesProcessed *prometheus.CounterVec
	sitesInFlight  prometheus.Gauge
	sitesQueued    prometheus.Gauge
	workersBusy    prometheus.Gauge

	// Order lifecycle
	ordersPlaced    prometheus.Counter
	ordersAdopted   prometheus.Counter
	pollAttempts    prometheus.Counter
	orderWait       prometheus.Histogram
	stageReached    *prometheus.CounterVec
	bytesDownloaded prometheus.Counter
	rastersFound    prometheus.Counter
	rastersMissing  prometheus.Counter

	// Upstream API
	apiRequests        *prometheus.CounterVec
	apiRequestDuration *prometheus.HistogramVec
	tokenRefreshes     *prometheus.CounterVec

	// Ledger
	ledgerErrors *prometheus.CounterVec

	// Status server
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "atlasbatch",
		subsystem:        "orders",
		histogramBuckets: prometheus.DefBuckets,
		waitBuckets:      []float64{60, 300, 900, 1800, 3600, 7200, 14400, 21600},
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)
	labels := prometheus.Labels(m.customLabels)

	m.sitesProcessed = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "sites_processed_total",
		Help:        "Sites finished, by outcome (completed, skipped, failed)",
		ConstLabels: labels,
	}, []string{"outcome"})

	m.sitesInFlight = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "sites_in_flight",
		Help:        "Sites queued or being processed in the current run",
		ConstLabels: labels,
	})

	m.sitesQueued = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "sites_queued",
		Help:        "Sites waiting for a free worker",
		ConstLabels: labels,
	})

	m.workersBusy = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "workers_busy",
		Help:        "Site workers currently processing a site",
		ConstLabels: labels,
	})

	m.ordersPlaced = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "orders_placed_total",
		Help:        "Orders created on the imagery API",
		ConstLabels: labels,
	})

	m.ordersAdopted = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "orders_adopted_total",
		Help:        "Orders found by customer reference and reused instead of re-ordered",
		ConstLabels: labels,
	})

	m.pollAttempts = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "poll_attempts_total",
		Help:        "Order status polls",
		ConstLabels: labels,
	})

	m.orderWait = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "order_wait_seconds",
		Help:        "Time from order placement to delivered status",
		Buckets:     m.waitBuckets,
		ConstLabels: labels,
	})

	m.stageReached = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "stage_reached_total",
		Help:        "Order lifecycle transitions by stage",
		ConstLabels: labels,
	}, []string{"stage"})

	m.bytesDownloaded = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "downloaded_bytes_total",
		Help:        "Bytes streamed from delivered orders and quicklooks",
		ConstLabels: labels,
	})

	m.rastersFound = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "rasters_extracted_total",
		Help:        "Rasters extracted from delivered archives",
		ConstLabels: labels,
	})

	m.rastersMissing = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "rasters_missing_total",
		Help:        "Delivered archives without a matching raster",
		ConstLabels: labels,
	})

	m.apiRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   "api",
		Name:        "requests_total",
		Help:        "Imagery API requests by endpoint and status code",
		ConstLabels: labels,
	}, []string{"endpoint", "status_code"})

	m.apiRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   "api",
		Name:        "request_duration_seconds",
		Help:        "Imagery API request latency",
		Buckets:     m.histogramBuckets,
		ConstLabels: labels,
	}, []string{"endpoint"})

	m.tokenRefreshes = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   "api",
		Name:        "token_refreshes_total",
		Help:        "Bearer token exchanges by audience",
		ConstLabels: labels,
	}, []string{"audience"})

	m.ledgerErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   "ledger",
		Name:        "errors_total",
		Help:        "Order ledger failures by operation",
		ConstLabels: labels,
	}, []string{"operation"})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   "http",
		Name:        "requests_total",
		Help:        "Status server requests by route, method and status code",
		ConstLabels: labels,
	}, []string{"route", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   "http",
		Name:        "request_duration_seconds",
		Help:        "Status server request latency",
		Buckets:     m.histogramBuckets,
		ConstLabels: labels,
	}, []string{"route", "method"})
}

// RecordSiteProcessed counts a finished site by outcome.
func RecordSiteProcessed(outcome string) {
	globalManager.sitesProcessed.WithLabelValues(outcome).Inc()
}

// UpdateSitesInFlight sets the number of sites still to finish.
func UpdateSitesInFlight(n int) {
	globalManager.sitesInFlight.Set(float64(n))
}

// UpdateSitesQueued sets the number of sites waiting for a worker.
func UpdateSitesQueued(n int) {
	globalManager.sitesQueued.Set(float64(n))
}

// AddWorkersBusy moves the busy worker gauge by delta.
func AddWorkersBusy(delta int) {
	globalManager.workersBusy.Add(float64(delta))
}

// RecordOrderPlaced increments the created orders counter.
func RecordOrderPlaced() {
	globalManager.ordersPlaced.Inc()
}

// RecordOrderAdopted increments the reused orders counter.
func RecordOrderAdopted() {
	globalManager.ordersAdopted.Inc()
}

// RecordPollAttempt increments the poll counter.
func RecordPollAttempt() {
	globalManager.pollAttempts.Inc()
}

// RecordOrderWait observes how long an order took to be delivered.
func RecordOrderWait(seconds float64) {
	globalManager.orderWait.Observe(seconds)
}

// RecordStage counts a lifecycle transition.
func RecordStage(stage string) {
	globalManager.stageReached.WithLabelValues(stage).Inc()
}

// RecordBytesDownloaded adds to the downloaded bytes counter.
func RecordBytesDownloaded(n int64) {
	if n > 0 {
		globalManager.bytesDownloaded.Add(float64(n))
	}
}

// RecordRasterExtracted increments the extracted raster counter.
func RecordRasterExtracted() {
	globalManager.rastersFound.Inc()
}

// RecordRasterMissing increments the archives-without-raster counter.
func RecordRasterMissing() {
	globalManager.rastersMissing.Inc()
}

// RecordAPIRequest counts an upstream API call and its latency.
func RecordAPIRequest(endpoint, statusCode string, seconds float64) {
	globalManager.apiRequests.WithLabelValues(endpoint, statusCode).Inc()
	globalManager.apiRequestDuration.WithLabelValues(endpoint).Observe(seconds)
}

// RecordTokenRefresh counts a bearer token exchange for audience.
func RecordTokenRefresh(audience string) {
	globalManager.tokenRefreshes.WithLabelValues(audience).Inc()
}

// RecordLedgerError counts a failed ledger operation.
func RecordLedgerError(operation string) {
	globalManager.ledgerErrors.WithLabelValues(operation).Inc()
}

// RecordHTTPRequest counts a status server request and its latency.
func RecordHTTPRequest(route, method, statusCode string, seconds float64) {
	globalManager.httpRequests.WithLabelValues(route, method, statusCode).Inc()
	globalManager.httpRequestDuration.WithLabelValues(route, method).Observe(seconds)
}

// GetRegistry returns the registry the global manager writes to.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
