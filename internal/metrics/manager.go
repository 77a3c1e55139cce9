package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Manager owns the process-level view of the metrics: runtime gauges plus
// the health of registered components, refreshed together on one schedule.
type Manager struct {
	prometheus *PrometheusMetrics
	logger     *logrus.Entry
	startTime  time.Time

	mu     sync.Mutex
	probes map[string]func() bool
}

// NewManager creates a new metrics manager
func NewManager() *Manager {
	return &Manager{
		prometheus: NewPrometheusMetrics(),
		logger:     logrus.WithField("component", "metrics"),
		startTime:  time.Now(),
		probes:     make(map[string]func() bool),
	}
}

// GetPrometheusMetrics returns the Prometheus metrics instance
func (m *Manager) GetPrometheusMetrics() *PrometheusMetrics {
	return m.prometheus
}

// RegisterHealthProbe attaches a component health check. The probe runs on
// every Refresh and must be safe to call from any goroutine.
func (m *Manager) RegisterHealthProbe(component string, probe func() bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes[component] = probe
}

// Refresh updates the runtime gauges and re-evaluates every registered
// health probe.
func (m *Manager) Refresh() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.prometheus.UpdateMemoryUsage(memStats.Alloc)
	m.prometheus.UpdateGoroutineCount(runtime.NumGoroutine())
	m.prometheus.UpdateApplicationUptime(m.startTime)

	m.mu.Lock()
	probes := make(map[string]func() bool, len(m.probes))
	for component, probe := range m.probes {
		probes[component] = probe
	}
	m.mu.Unlock()

	// Probes run outside the lock; a slow Ping must not block
	// registration.
	for component, probe := range probes {
		m.prometheus.UpdateComponentHealth(component, probe())
	}
}
