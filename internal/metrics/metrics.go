package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for the console
type Metrics struct {
	// Console HTTP
	HTTPRequestsTotal          *prometheus.CounterVec
	HTTPRequestDurationSeconds *prometheus.HistogramVec
	HTTPErrorsTotal            *prometheus.CounterVec

	// Backend API
	BackendRequestsTotal          *prometheus.CounterVec
	BackendRequestDurationSeconds *prometheus.HistogramVec
	SessionExpirationsTotal       prometheus.Counter

	// Admin features
	LoginAttemptsTotal     *prometheus.CounterVec
	AccessDecisionsTotal   *prometheus.CounterVec
	PermissionSavesTotal   *prometheus.CounterVec
	AuditQueriesTotal      *prometheus.CounterVec
	UserLookupsTotal       *prometheus.CounterVec
	RateLimitExceededTotal *prometheus.CounterVec

	// System
	UptimeSeconds    prometheus.Gauge
	Goroutines       prometheus.Gauge
	SessionsStored   prometheus.Gauge
	StorageUsedBytes prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_http_requests_total",
				Help: "Total number of console HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backoffice_http_request_duration_seconds",
				Help:    "Console HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_http_errors_total",
				Help: "Total number of console HTTP error responses",
			},
			[]string{"error_type"},
		),

		BackendRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_backend_requests_total",
				Help: "Total number of requests issued to the backend API",
			},
			[]string{"endpoint", "status"},
		),
		BackendRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backoffice_backend_request_duration_seconds",
				Help:    "Backend API request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"endpoint"},
		),
		SessionExpirationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "backoffice_session_expirations_total",
				Help: "Total number of sessions cleared after a 401 or an expired token",
			},
		),

		LoginAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_login_attempts_total",
				Help: "Total number of console login attempts",
			},
			[]string{"result"},
		),
		AccessDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_access_decisions_total",
				Help: "Total number of section access decisions",
			},
			[]string{"section", "decision"},
		),
		PermissionSavesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_permission_saves_total",
				Help: "Total number of role permission saves",
			},
			[]string{"role", "result"},
		),
		AuditQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_audit_queries_total",
				Help: "Total number of audit log and login history page loads",
			},
			[]string{"tab", "result"},
		),
		UserLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_user_lookups_total",
				Help: "Total number of admin lookups made by the detail view",
			},
			[]string{"result"},
		),
		RateLimitExceededTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_ratelimit_exceeded_total",
				Help: "Total number of rate limit exceeded events",
			},
			[]string{"route"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "backoffice_uptime_seconds",
				Help: "Console uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "backoffice_goroutines",
				Help: "Number of active goroutines",
			},
		),
		SessionsStored: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "backoffice_sessions_stored",
				Help: "Number of sessions held in the session database",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "backoffice_storage_used_bytes",
				Help: "Session database file size in bytes",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDurationSeconds,
		m.HTTPErrorsTotal,
		m.BackendRequestsTotal,
		m.BackendRequestDurationSeconds,
		m.SessionExpirationsTotal,
		m.LoginAttemptsTotal,
		m.AccessDecisionsTotal,
		m.PermissionSavesTotal,
		m.AuditQueriesTotal,
		m.UserLookupsTotal,
		m.RateLimitExceededTotal,
		m.UptimeSeconds,
		m.Goroutines,
		m.SessionsStored,
		m.StorageUsedBytes,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// ObserveBackendRequest records one backend call. status is the HTTP code
// or "error" when the request never got a response.
func ObserveBackendRequest(endpoint, status string, d time.Duration) {
	m := Global()
	if m != nil {
		m.BackendRequestsTotal.WithLabelValues(endpoint, status).Inc()
		m.BackendRequestDurationSeconds.WithLabelValues(endpoint).Observe(d.Seconds())
	}
}

// IncSessionExpired increments the session expiration counter
func IncSessionExpired() {
	m := Global()
	if m != nil {
		m.SessionExpirationsTotal.Inc()
	}
}

// IncLoginAttempt increments the login attempt counter
func IncLoginAttempt(result string) {
	m := Global()
	if m != nil {
		m.LoginAttemptsTotal.WithLabelValues(result).Inc()
	}
}

// IncAccessDecision increments the access decision counter
func IncAccessDecision(section, decision string) {
	m := Global()
	if m != nil {
		m.AccessDecisionsTotal.WithLabelValues(section, decision).Inc()
	}
}

// IncPermissionSave increments the permission save counter
func IncPermissionSave(role, result string) {
	m := Global()
	if m != nil {
		m.PermissionSavesTotal.WithLabelValues(role, result).Inc()
	}
}

// IncAuditQuery increments the audit query counter
func IncAuditQuery(tab, result string) {
	m := Global()
	if m != nil {
		m.AuditQueriesTotal.WithLabelValues(tab, result).Inc()
	}
}

// IncUserLookup increments the admin lookup counter
func IncUserLookup(result string) {
	m := Global()
	if m != nil {
		m.UserLookupsTotal.WithLabelValues(result).Inc()
	}
}

// IncRateLimitExceeded increments rate limit exceeded counter
func IncRateLimitExceeded(route string) {
	m := Global()
	if m != nil {
		m.RateLimitExceededTotal.WithLabelValues(route).Inc()
	}
}
