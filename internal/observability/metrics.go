package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	Path      string `yaml:"path" mapstructure:"path"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
}

// MetricsManager records domain and HTTP metrics on a private registry.
// A disabled or nil manager accepts every Record call and does nothing.
type MetricsManager struct {
	config   MetricsConfig
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	upstreamRequests        *prometheus.CounterVec
	upstreamRequestDuration *prometheus.HistogramVec
	proxyResponses          *prometheus.CounterVec

	tokenLogins    *prometheus.CounterVec
	tokenCacheHits prometheus.Counter

	transactionTransitions *prometheus.CounterVec
	transactionDenied      *prometheus.CounterVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	lockOperations   *prometheus.CounterVec
	lockWaitDuration prometheus.Histogram

	eventsPublished *prometheus.CounterVec

	circuitBreakerState *prometheus.GaugeVec

	uptimeSeconds prometheus.Gauge
	buildInfo     *prometheus.GaugeVec
}

func NewMetricsManager(config MetricsConfig) *MetricsManager {
	if !config.Enabled {
		return &MetricsManager{config: config}
	}

	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	namespace := config.Namespace
	if namespace == "" {
		namespace = "procuredata"
	}

	mm := &MetricsManager{
		config:   config,
		registry: registry,
	}

	mm.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	mm.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	mm.upstreamRequests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Requests forwarded to FIWARE backends",
		},
		[]string{"upstream", "method", "status_code"},
	)

	mm.upstreamRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Upstream request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"upstream"},
	)

	mm.proxyResponses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "responses_total",
			Help:      "Proxy envelopes by connection status",
		},
		[]string{"status"},
	)

	mm.tokenLogins = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "logins_total",
			Help:      "Identity manager password logins",
		},
		[]string{"result"},
	)

	mm.tokenCacheHits = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "cache_hits_total",
			Help:      "Token requests served from the cache",
		},
	)

	mm.transactionTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transactions",
			Name:      "transitions_total",
			Help:      "Applied transaction state transitions",
		},
		[]string{"action", "from", "to"},
	)

	mm.transactionDenied = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transactions",
			Name:      "denied_total",
			Help:      "Transaction actions refused by the state machine",
		},
		[]string{"action", "status"},
	)

	mm.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	mm.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	mm.lockOperations = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lock",
			Name:      "operations_total",
			Help:      "Total number of lock operations",
		},
		[]string{"operation", "status"},
	)

	mm.lockWaitDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "lock",
			Name:      "wait_duration_seconds",
			Help:      "Lock wait duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	mm.eventsPublished = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Transaction events handed to the publisher",
		},
		[]string{"event_type", "status"},
	)

	mm.circuitBreakerState = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	mm.uptimeSeconds = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "uptime_seconds",
			Help:      "System uptime in seconds",
		},
	)

	mm.buildInfo = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "commit", "build_date"},
	)

	return mm
}

func (mm *MetricsManager) enabled() bool {
	return mm != nil && mm.config.Enabled
}

func (mm *MetricsManager) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	if !mm.enabled() {
		return
	}
	mm.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	mm.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (mm *MetricsManager) RecordUpstreamRequest(upstream, method string, statusCode int, duration time.Duration) {
	if !mm.enabled() {
		return
	}
	mm.upstreamRequests.WithLabelValues(upstream, method, strconv.Itoa(statusCode)).Inc()
	mm.upstreamRequestDuration.WithLabelValues(upstream).Observe(duration.Seconds())
}

func (mm *MetricsManager) RecordProxyResponse(status string) {
	if !mm.enabled() {
		return
	}
	mm.proxyResponses.WithLabelValues(status).Inc()
}

func (mm *MetricsManager) RecordTokenLogin(success bool) {
	if !mm.enabled() {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	mm.tokenLogins.WithLabelValues(result).Inc()
}

func (mm *MetricsManager) RecordTokenCacheHit() {
	if !mm.enabled() {
		return
	}
	mm.tokenCacheHits.Inc()
}

func (mm *MetricsManager) RecordTransition(action, from, to string) {
	if !mm.enabled() {
		return
	}
	mm.transactionTransitions.WithLabelValues(action, from, to).Inc()
}

func (mm *MetricsManager) RecordDeniedAction(action, status string) {
	if !mm.enabled() {
		return
	}
	mm.transactionDenied.WithLabelValues(action, status).Inc()
}

func (mm *MetricsManager) RecordCacheHit(cacheType string) {
	if !mm.enabled() {
		return
	}
	mm.cacheHits.WithLabelValues(cacheType).Inc()
}

func (mm *MetricsManager) RecordCacheMiss(cacheType string) {
	if !mm.enabled() {
		return
	}
	mm.cacheMisses.WithLabelValues(cacheType).Inc()
}

func (mm *MetricsManager) RecordLockOperation(operation string, success bool, wait time.Duration) {
	if !mm.enabled() {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	mm.lockOperations.WithLabelValues(operation, status).Inc()
	if operation == "acquire" {
		mm.lockWaitDuration.Observe(wait.Seconds())
	}
}

func (mm *MetricsManager) RecordEventPublished(eventType string, err error) {
	if !mm.enabled() {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	mm.eventsPublished.WithLabelValues(eventType, status).Inc()
}

func (mm *MetricsManager) SetCircuitBreakerState(name string, state int) {
	if !mm.enabled() {
		return
	}
	mm.circuitBreakerState.WithLabelValues(name).Set(float64(state))
}

func (mm *MetricsManager) SetBuildInfo(version, commit, buildDate string) {
	if !mm.enabled() {
		return
	}
	mm.buildInfo.WithLabelValues(version, commit, buildDate).Set(1)
}

func (mm *MetricsManager) Handler() http.Handler {
	if !mm.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(mm.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry exposes the private registry, mainly for tests.
func (mm *MetricsManager) Registry() *prometheus.Registry {
	if mm == nil {
		return nil
	}
	return mm.registry
}

func (mm *MetricsManager) MetricsMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !mm.enabled() {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			mm.RecordHTTPRequest(r.Method, routePattern(r), status, time.Since(start))
		})
	}
}

// routePattern keeps label cardinality bounded by using the matched chi route.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

func (mm *MetricsManager) IsEnabled() bool {
	return mm.enabled()
}

func (mm *MetricsManager) StartUptimeTracker(ctx context.Context) {
	if !mm.enabled() {
		return
	}

	startTime := time.Now()
	ticker := time.NewTicker(10 * time.Second)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mm.uptimeSeconds.Set(time.Since(startTime).Seconds())
			}
		}
	}()
}
