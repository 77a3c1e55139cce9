package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestManagerRefreshRunsHealthProbes(t *testing.T) {
	// Prometheus registration is global, so one manager serves the whole
	// test binary.
	manager := NewManager()
	prom := manager.GetPrometheusMetrics()

	healthy := true
	manager.RegisterHealthProbe("storage", func() bool { return healthy })
	manager.RegisterHealthProbe("custodian", func() bool { return false })

	manager.Refresh()
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.ComponentHealth.WithLabelValues("storage")))
	assert.Equal(t, 0.0, testutil.ToFloat64(prom.ComponentHealth.WithLabelValues("custodian")))

	// Probes are re-evaluated on every refresh.
	healthy = false
	manager.Refresh()
	assert.Equal(t, 0.0, testutil.ToFloat64(prom.ComponentHealth.WithLabelValues("storage")))

	// Runtime gauges come along for the ride.
	assert.Greater(t, testutil.ToFloat64(prom.GoroutineCount), 0.0)
	assert.Greater(t, testutil.ToFloat64(prom.MemoryUsage), 0.0)
}
