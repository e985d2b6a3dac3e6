package metrics

import (
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

// Manager owns the process-wide Prometheus metrics and refreshes the
// system-level gauges the HTTP server's updater ticks.
type Manager struct {
	prometheus *PrometheusMetrics
	logger     *logrus.Entry
	startTime  time.Time
}

// NewManager creates a metrics manager. Registration happens once here;
// components receive the manager and nil-guard it, so running without
// metrics is always possible.
func NewManager() *Manager {
	return &Manager{
		prometheus: NewPrometheusMetrics(),
		logger:     logrus.WithField("component", "metrics"),
		startTime:  time.Now(),
	}
}

// GetPrometheusMetrics returns the Prometheus metrics instance
func (m *Manager) GetPrometheusMetrics() *PrometheusMetrics {
	return m.prometheus
}

// UpdateSystemMetrics refreshes the uptime, goroutine and heap gauges.
func (m *Manager) UpdateSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.prometheus.UpdateMemoryUsage(memStats.Alloc)
	m.prometheus.UpdateGoroutineCount(runtime.NumGoroutine())
	m.prometheus.UpdateApplicationUptime(m.startTime)

	m.logger.WithFields(logrus.Fields{
		"goroutines": runtime.NumGoroutine(),
		"heap_bytes": memStats.Alloc,
	}).Debug("System metrics updated")
}
