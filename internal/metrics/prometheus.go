package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains all Prometheus metrics for the relay provisioner
type PrometheusMetrics struct {
	// Reconciliation metrics
	CyclesRunTotal        prometheus.Counter
	CyclesSkippedTotal    *prometheus.CounterVec
	CycleDuration         prometheus.Histogram
	OrdersCheckedTotal    prometheus.Counter
	OrdersSettledTotal    prometheus.Counter
	OrderErrorsTotal      *prometheus.CounterVec
	RelaysProvisionedTotal prometheus.Counter
	PendingOrders         prometheus.Gauge

	// Custodian metrics
	CustodianRequestsTotal  *prometheus.CounterVec
	CustodianRequestDuration *prometheus.HistogramVec

	// Auth metrics
	AuthAttemptsTotal *prometheus.CounterVec

	// Notification metrics
	NotificationsSentTotal    *prometheus.CounterVec
	NotificationFailuresTotal *prometheus.CounterVec

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	ComponentHealth   *prometheus.GaugeVec
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge
}

// NewPrometheusMetrics creates and registers all Prometheus metrics
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		CyclesRunTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "provisioner_reconcile_cycles_total",
				Help: "Total number of reconciliation cycles run",
			},
		),

		CyclesSkippedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provisioner_reconcile_cycles_skipped_total",
				Help: "Total number of reconciliation cycles skipped",
			},
			[]string{"reason"},
		),

		CycleDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "provisioner_reconcile_cycle_duration_seconds",
				Help:    "Time spent per reconciliation cycle",
				Buckets: prometheus.DefBuckets,
			},
		),

		OrdersCheckedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "provisioner_orders_checked_total",
				Help: "Total number of pending orders checked against the custodian",
			},
		),

		OrdersSettledTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "provisioner_orders_settled_total",
				Help: "Total number of orders observed settled and marked paid",
			},
		),

		OrderErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provisioner_order_errors_total",
				Help: "Total number of per-order reconciliation errors",
			},
			[]string{"stage"},
		),

		RelaysProvisionedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "provisioner_relays_provisioned_total",
				Help: "Total number of relays advanced to provision",
			},
		),

		PendingOrders: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "provisioner_pending_orders",
				Help: "Number of unpaid pending orders at the last cycle",
			},
		),

		CustodianRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provisioner_custodian_requests_total",
				Help: "Total number of custodian API requests",
			},
			[]string{"operation", "status"},
		),

		CustodianRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "provisioner_custodian_request_duration_seconds",
				Help:    "Duration of custodian API requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		AuthAttemptsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provisioner_auth_attempts_total",
				Help: "Total number of authentication attempts",
			},
			[]string{"kind", "status"},
		),

		NotificationsSentTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provisioner_notifications_sent_total",
				Help: "Total number of notifications sent",
			},
			[]string{"channel", "type"},
		),

		NotificationFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provisioner_notification_failures_total",
				Help: "Total number of failed notifications",
			},
			[]string{"channel", "type"},
		),

		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provisioner_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "provisioner_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ApplicationUptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "provisioner_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),

		ComponentHealth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "provisioner_component_health",
				Help: "Component health status (1 healthy, 0 unhealthy)",
			},
			[]string{"component"},
		),

		MemoryUsage: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "provisioner_memory_usage_bytes",
				Help: "Current memory usage in bytes",
			},
		),

		GoroutineCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "provisioner_goroutines",
				Help: "Current number of goroutines",
			},
		),
	}
}

// RecordCycle records one completed reconciliation cycle
func (m *PrometheusMetrics) RecordCycle(duration time.Duration) {
	m.CyclesRunTotal.Inc()
	m.CycleDuration.Observe(duration.Seconds())
}

// RecordCycleSkipped records a skipped cycle
func (m *PrometheusMetrics) RecordCycleSkipped(reason string) {
	m.CyclesSkippedTotal.WithLabelValues(reason).Inc()
}

// RecordOrderChecked records one pending order checked with the custodian
func (m *PrometheusMetrics) RecordOrderChecked() {
	m.OrdersCheckedTotal.Inc()
}

// RecordOrderSettled records one order marked paid
func (m *PrometheusMetrics) RecordOrderSettled() {
	m.OrdersSettledTotal.Inc()
}

// RecordOrderError records a per-order reconciliation error
func (m *PrometheusMetrics) RecordOrderError(stage string) {
	m.OrderErrorsTotal.WithLabelValues(stage).Inc()
}

// RecordRelayProvisioned records one relay advanced to provision
func (m *PrometheusMetrics) RecordRelayProvisioned() {
	m.RelaysProvisionedTotal.Inc()
}

// UpdatePendingOrders updates the pending-order gauge
func (m *PrometheusMetrics) UpdatePendingOrders(count int) {
	m.PendingOrders.Set(float64(count))
}

// RecordCustodianRequest records a custodian API call
func (m *PrometheusMetrics) RecordCustodianRequest(operation, status string, duration time.Duration) {
	m.CustodianRequestsTotal.WithLabelValues(operation, status).Inc()
	m.CustodianRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordAuthAttempt records an authentication attempt
func (m *PrometheusMetrics) RecordAuthAttempt(kind, status string) {
	m.AuthAttemptsTotal.WithLabelValues(kind, status).Inc()
}

// RecordNotificationSent records a delivered notification
func (m *PrometheusMetrics) RecordNotificationSent(channel, notificationType string) {
	m.NotificationsSentTotal.WithLabelValues(channel, notificationType).Inc()
}

// RecordNotificationFailure records a failed notification
func (m *PrometheusMetrics) RecordNotificationFailure(channel, notificationType string) {
	m.NotificationFailuresTotal.WithLabelValues(channel, notificationType).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateComponentHealth updates a component health gauge
func (m *PrometheusMetrics) UpdateComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.ComponentHealth.WithLabelValues(component).Set(value)
}

// UpdateApplicationUptime updates the uptime gauge
func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateMemoryUsage updates the memory gauge
func (m *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	m.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutineCount updates the goroutine gauge
func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	m.GoroutineCount.Set(float64(count))
}
