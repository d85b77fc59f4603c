// Package metrics provides Prometheus metrics for the fieldwork vendor client.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector emitted by the service.
type Manager struct {
	namespace       string
	subsystem       string
	durationBuckets []float64
	backoffBuckets  []float64
	enabled         bool
	customLabels    map[string]string
	metricPrefix    string
	registry        prometheus.Registerer

	// Outbound vendor calls
	vendorRequests        *prometheus.CounterVec
	vendorAttempts        *prometheus.CounterVec
	vendorRetries         *prometheus.CounterVec
	vendorBackoff         *prometheus.HistogramVec
	vendorRequestDuration *prometheus.HistogramVec

	// Credential lifecycle
	tokenRefreshes     *prometheus.CounterVec
	tokenInvalidations prometheus.Counter

	// Fielding workflow
	resourcesCreated *prometheus.CounterVec
	launchJobs       *prometheus.CounterVec

	// Respondent protocol
	respondentValidations *prometheus.CounterVec
	respondentUpdates     *prometheus.CounterVec

	// Inbound HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorRateByEndpoint *prometheus.CounterVec
}

// Global metrics manager instance and the registry it writes to.
var (
	globalMu       sync.RWMutex              //nolint:gochecknoglobals // guards globalManager
	globalManager  *Manager                  //nolint:gochecknoglobals // singleton metrics manager
	customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // avoids default Go collectors
)

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:       "fieldwork",
		subsystem:       "vendor",
		durationBuckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		backoffBuckets:  []float64{0.5, 1, 2, 4, 8, 16, 32, 64},
		enabled:         true,
		customLabels:    make(map[string]string),
		registry:        prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// SetGlobal replaces the manager behind the package-level recorders.
func SetGlobal(m *Manager) error {
	if m == nil {
		return ErrGlobalManager
	}
	globalMu.Lock()
	globalManager = m
	globalMu.Unlock()
	return nil
}

func current() *Manager {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalManager == nil || !globalManager.enabled {
		return nil
	}
	return globalManager
}

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)
	labels := prometheus.Labels(m.customLabels)

	m.vendorRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("requests_total"),
		Help:        "Logical vendor operations by final outcome",
		ConstLabels: labels,
	}, []string{"operation", "outcome"})

	m.vendorAttempts = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("request_attempts_total"),
		Help:        "HTTP attempts sent to the vendor, including retries",
		ConstLabels: labels,
	}, []string{"operation"})

	m.vendorRetries = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("retries_total"),
		Help:        "Vendor retries by trigger (rate_limit, server_error, transport)",
		ConstLabels: labels,
	}, []string{"operation", "reason"})

	m.vendorBackoff = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("backoff_seconds"),
		Help:        "Wait applied before a retry",
		Buckets:     m.backoffBuckets,
		ConstLabels: labels,
	}, []string{"operation", "source"})

	m.vendorRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("request_duration_seconds"),
		Help:        "Wall time of a logical vendor operation including retries",
		Buckets:     m.durationBuckets,
		ConstLabels: labels,
	}, []string{"operation"})

	m.tokenRefreshes = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("token_refreshes_total"),
		Help:        "Client-credentials exchanges by result",
		ConstLabels: labels,
	}, []string{"result"})

	m.tokenInvalidations = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("token_invalidations_total"),
		Help:        "Cached credentials dropped after a 401 or failed exchange",
		ConstLabels: labels,
	})

	m.resourcesCreated = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("resources_created_total"),
		Help:        "Vendor resources created (project, target_group)",
		ConstLabels: labels,
	}, []string{"resource"})

	m.launchJobs = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("launch_jobs_total"),
		Help:        "Accepted launches by where the job id came from",
		ConstLabels: labels,
	}, []string{"source"})

	m.respondentValidations = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("respondent_validations_total"),
		Help:        "S2S respondent validations by returned status",
		ConstLabels: labels,
	}, []string{"status"})

	m.respondentUpdates = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("respondent_status_updates_total"),
		Help:        "S2S terminal dispositions by status and result",
		ConstLabels: labels,
	}, []string{"status", "result"})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   "http",
		Name:        m.name("requests_total"),
		Help:        "Inbound HTTP requests by endpoint and method",
		ConstLabels: labels,
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   "http",
		Name:        m.name("request_duration_milliseconds"),
		Help:        "Inbound HTTP request duration in milliseconds",
		Buckets:     []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		ConstLabels: labels,
	}, []string{"endpoint", "method", "status_code"})

	m.errorRateByEndpoint = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   "http",
		Name:        m.name("errors_total"),
		Help:        "Inbound HTTP errors by endpoint and error type",
		ConstLabels: labels,
	}, []string{"endpoint", "method", "error_type"})
}

// RecordVendorAttempt counts one HTTP attempt for operation.
func RecordVendorAttempt(operation string) {
	if m := current(); m != nil {
		m.vendorAttempts.WithLabelValues(operation).Inc()
	}
}

// RecordVendorRetry counts a retry and the wait that preceded it.
// source is "retry_after" or "exponential".
func RecordVendorRetry(operation, reason, source string, waitSeconds float64) {
	if m := current(); m != nil {
		m.vendorRetries.WithLabelValues(operation, reason).Inc()
		m.vendorBackoff.WithLabelValues(operation, source).Observe(waitSeconds)
	}
}

// RecordVendorOutcome records the final outcome of a logical operation.
func RecordVendorOutcome(operation, outcome string, seconds float64) {
	if m := current(); m != nil {
		m.vendorRequests.WithLabelValues(operation, outcome).Inc()
		m.vendorRequestDuration.WithLabelValues(operation).Observe(seconds)
	}
}

// RecordTokenRefresh counts a credential exchange; result is "success" or "failure".
func RecordTokenRefresh(result string) {
	if m := current(); m != nil {
		m.tokenRefreshes.WithLabelValues(result).Inc()
	}
}

// RecordTokenInvalidation counts a dropped credential.
func RecordTokenInvalidation() {
	if m := current(); m != nil {
		m.tokenInvalidations.Inc()
	}
}

// RecordResourceCreated counts a created vendor resource.
func RecordResourceCreated(resource string) {
	if m := current(); m != nil {
		m.resourcesCreated.WithLabelValues(resource).Inc()
	}
}

// RecordLaunchJob counts an accepted launch by job id source.
func RecordLaunchJob(source string) {
	if m := current(); m != nil {
		m.launchJobs.WithLabelValues(source).Inc()
	}
}

// RecordRespondentValidation counts a validation by returned status code.
func RecordRespondentValidation(status string) {
	if m := current(); m != nil {
		m.respondentValidations.WithLabelValues(status).Inc()
	}
}

// RecordRespondentUpdate counts a terminal disposition submission.
func RecordRespondentUpdate(status, result string) {
	if m := current(); m != nil {
		m.respondentUpdates.WithLabelValues(status, result).Inc()
	}
}

// RecordHTTPRequest records an inbound HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if m := current(); m != nil {
		m.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	}
}

// RecordHTTPRequestDuration records inbound HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	if m := current(); m != nil {
		m.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
	}
}

// RecordErrorByEndpoint records an inbound HTTP error.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	if m := current(); m != nil {
		m.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
	}
}

// GetRegistry returns the custom Prometheus registry used by the default manager.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
