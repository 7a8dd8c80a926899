package health

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

type ComponentHealth struct {
	Name      string            `json:"name"`
	Status    Status            `json:"status"`
	Message   string            `json:"message,omitempty"`
	LastCheck time.Time         `json:"last_check"`
	Duration  time.Duration     `json:"duration_ms"`
	Details   map[string]string `json:"details,omitempty"`
}

// SystemHealth is the body of GET /health.
type SystemHealth struct {
	Status     Status                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components"`
	Summary    HealthSummary              `json:"summary"`
}

type HealthSummary struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Unhealthy int `json:"unhealthy"`
	Degraded  int `json:"degraded"`
}

type HealthCheckFunc func(ctx context.Context) ComponentHealth

// Pinger is anything with a connectivity probe: stores, the asset index,
// the lock backend and the FIWARE client all qualify.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker runs the registered checks concurrently under one deadline
// and logs every component whose status changed since the previous run.
type HealthChecker struct {
	mu       sync.Mutex
	checks   map[string]HealthCheckFunc
	previous map[string]Status
	timeout  time.Duration
	logger   zerolog.Logger
}

type Option func(*HealthChecker)

func WithLogger(logger zerolog.Logger) Option {
	return func(hc *HealthChecker) {
		hc.logger = logger.With().Str("component", "health").Logger()
	}
}

func NewHealthChecker(timeout time.Duration, opts ...Option) *HealthChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	hc := &HealthChecker{
		checks:   make(map[string]HealthCheckFunc),
		previous: make(map[string]Status),
		timeout:  timeout,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(hc)
	}
	return hc
}

func (hc *HealthChecker) RegisterComponent(name string, check HealthCheckFunc) {
	hc.mu.Lock()
	hc.checks[name] = check
	hc.mu.Unlock()
}

// RegisterPinger registers a ping-based check. A failing non-critical
// component degrades the system instead of marking it unhealthy.
func (hc *HealthChecker) RegisterPinger(name string, pinger Pinger, critical bool) {
	hc.RegisterComponent(name, PingCheck(name, pinger, critical))
}

func (hc *HealthChecker) Check(ctx context.Context) SystemHealth {
	hc.mu.Lock()
	checks := maps.Clone(hc.checks)
	hc.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, hc.timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		results = make(map[string]ComponentHealth, len(checks))
		g       errgroup.Group
	)
	for name, check := range checks {
		g.Go(func() error {
			result := hc.run(ctx, name, check)
			mu.Lock()
			results[name] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	hc.logTransitions(results)
	return summarize(results)
}

// run stops waiting for a check that ignores its context once the deadline passes.
func (hc *HealthChecker) run(ctx context.Context, name string, check HealthCheckFunc) ComponentHealth {
	done := make(chan ComponentHealth, 1)
	go func() { done <- check(ctx) }()

	select {
	case result := <-done:
		result.Name = name
		return result
	case <-ctx.Done():
		return ComponentHealth{
			Name:      name,
			Status:    StatusUnhealthy,
			Message:   "Health check timeout",
			LastCheck: time.Now(),
			Duration:  hc.timeout,
		}
	}
}

func (hc *HealthChecker) logTransitions(results map[string]ComponentHealth) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	for name, result := range results {
		prev, seen := hc.previous[name]
		hc.previous[name] = result.Status
		if prev == result.Status || (!seen && result.Status == StatusHealthy) {
			continue
		}
		if result.Status == StatusHealthy {
			hc.logger.Info().Str("target", name).Str("from", string(prev)).Msg("Component recovered")
			continue
		}
		hc.logger.Warn().Str("target", name).Str("status", string(result.Status)).
			Str("reason", result.Message).Msg("Component health changed")
	}
}

func summarize(results map[string]ComponentHealth) SystemHealth {
	summary := HealthSummary{Total: len(results)}
	for _, result := range results {
		switch result.Status {
		case StatusHealthy:
			summary.Healthy++
		case StatusUnhealthy:
			summary.Unhealthy++
		case StatusDegraded:
			summary.Degraded++
		}
	}

	status := StatusHealthy
	switch {
	case summary.Unhealthy > 0:
		status = StatusUnhealthy
	case summary.Degraded > 0:
		status = StatusDegraded
	}

	return SystemHealth{
		Status:     status,
		Timestamp:  time.Now(),
		Components: results,
		Summary:    summary,
	}
}

// StartPeriodicChecks re-runs Check every interval until ctx ends, so
// transitions are logged even when nobody polls /health.
func (hc *HealthChecker) StartPeriodicChecks(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				hc.Check(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func PingCheck(name string, pinger Pinger, critical bool) HealthCheckFunc {
	return func(ctx context.Context) ComponentHealth {
		start := time.Now()
		err := pinger.Ping(ctx)
		health := ComponentHealth{
			Name:      name,
			Status:    StatusHealthy,
			Message:   "Connection healthy",
			LastCheck: start,
			Duration:  time.Since(start),
		}
		if err != nil {
			health.Status = StatusDegraded
			if critical {
				health.Status = StatusUnhealthy
			}
			health.Message = fmt.Sprintf("%s ping failed: %v", name, err)
		}
		health.Details = map[string]string{
			"response_time": health.Duration.String(),
			"critical":      fmt.Sprintf("%t", critical),
		}
		return health
	}
}
