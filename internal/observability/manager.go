package observability

import (
	"context"
	"time"
)

// Manager bundles the logger, metrics and tracer built from one config.
type Manager struct {
	tracing   *TracingManager
	logging   *Logger
	metrics   *MetricsManager
	startTime time.Time
}

func NewManager(tracingConfig TracingConfig, loggingConfig LoggingConfig, metricsConfig MetricsConfig) (*Manager, error) {
	tracing, err := NewTracingManager(tracingConfig)
	if err != nil {
		return nil, err
	}

	logging, err := NewLogger(loggingConfig)
	if err != nil {
		return nil, err
	}

	metrics := NewMetricsManager(metricsConfig)

	SetGlobalLogger(logging)

	return &Manager{
		tracing:   tracing,
		logging:   logging,
		metrics:   metrics,
		startTime: time.Now(),
	}, nil
}

// NewNopManager returns a manager with logging discarded and metrics and tracing disabled.
func NewNopManager() *Manager {
	return &Manager{
		tracing:   NoopTracing(),
		logging:   NopLogger(),
		metrics:   NewMetricsManager(MetricsConfig{}),
		startTime: time.Now(),
	}
}

func (m *Manager) Tracing() *TracingManager { return m.tracing }
func (m *Manager) Logger() *Logger          { return m.logging }
func (m *Manager) Metrics() *MetricsManager { return m.metrics }

func (m *Manager) Start(ctx context.Context, version, commit, buildDate string) {
	m.metrics.StartUptimeTracker(ctx)
	m.metrics.SetBuildInfo(version, commit, buildDate)
}

func (m *Manager) Uptime() time.Duration {
	return time.Since(m.startTime)
}

// Status reports which observability features are active.
func (m *Manager) Status() map[string]any {
	return map[string]any{
		"tracing_enabled": m.tracing.IsEnabled(),
		"metrics_enabled": m.metrics.IsEnabled(),
		"uptime_seconds":  m.Uptime().Seconds(),
	}
}

func (m *Manager) Shutdown(ctx context.Context) error {
	return m.tracing.Shutdown(ctx)
}
