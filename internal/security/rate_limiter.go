package security

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"
)

type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int           `yaml:"burst_size" mapstructure:"burst_size"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval" mapstructure:"cleanup_interval"`

	// EndpointLimits are keyed by "METHOD /path", e.g. "POST /api/v1/fiware/proxy".
	// Inside a chi route group the route pattern is used instead of the raw path.
	EndpointLimits map[string]EndpointLimit `yaml:"endpoint_limits" mapstructure:"endpoint_limits"`

	IPLimitEnabled      bool    `yaml:"ip_limit_enabled" mapstructure:"ip_limit_enabled"`
	IPRequestsPerSecond float64 `yaml:"ip_requests_per_second" mapstructure:"ip_requests_per_second"`
	IPBurstSize         int     `yaml:"ip_burst_size" mapstructure:"ip_burst_size"`

	OrgLimitEnabled      bool    `yaml:"org_limit_enabled" mapstructure:"org_limit_enabled"`
	OrgRequestsPerSecond float64 `yaml:"org_requests_per_second" mapstructure:"org_requests_per_second"`
	OrgBurstSize         int     `yaml:"org_burst_size" mapstructure:"org_burst_size"`
}

type EndpointLimit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" mapstructure:"burst_size"`
}

// RateLimiter applies a global limit plus optional per-IP, per-organization
// and per-endpoint limits, all token buckets from x/time/rate.
type RateLimiter struct {
	config           RateLimitConfig
	globalLimiter    *rate.Limiter
	ipLimiters       map[string]*rateLimiterEntry
	orgLimiters      map[string]*rateLimiterEntry
	endpointLimiters map[string]*rate.Limiter
	mutex            sync.Mutex
	stopCleanup      chan struct{}
	stopOnce         sync.Once
}

type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		config:           config,
		ipLimiters:       make(map[string]*rateLimiterEntry),
		orgLimiters:      make(map[string]*rateLimiterEntry),
		endpointLimiters: make(map[string]*rate.Limiter),
		stopCleanup:      make(chan struct{}),
	}

	if !config.Enabled {
		return rl
	}

	rl.globalLimiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.BurstSize)
	for endpoint, limit := range config.EndpointLimits {
		rl.endpointLimiters[endpoint] = rate.NewLimiter(rate.Limit(limit.RequestsPerSecond), limit.BurstSize)
	}

	if config.CleanupInterval > 0 {
		go rl.cleanupRoutine()
	}

	return rl
}

func (rl *RateLimiter) Allow() bool {
	if !rl.config.Enabled || rl.globalLimiter == nil {
		return true
	}
	return rl.globalLimiter.Allow()
}

func (rl *RateLimiter) AllowIP(ip string) bool {
	if !rl.config.Enabled || !rl.config.IPLimitEnabled {
		return true
	}
	return rl.keyedLimiter(rl.ipLimiters, ip, rl.config.IPRequestsPerSecond, rl.config.IPBurstSize).Allow()
}

func (rl *RateLimiter) AllowOrganization(orgID string) bool {
	if !rl.config.Enabled || !rl.config.OrgLimitEnabled || orgID == "" {
		return true
	}
	return rl.keyedLimiter(rl.orgLimiters, orgID, rl.config.OrgRequestsPerSecond, rl.config.OrgBurstSize).Allow()
}

func (rl *RateLimiter) AllowEndpoint(endpoint string) bool {
	if !rl.config.Enabled {
		return true
	}
	rl.mutex.Lock()
	limiter := rl.endpointLimiters[endpoint]
	rl.mutex.Unlock()
	if limiter == nil {
		return true
	}
	return limiter.Allow()
}

func (rl *RateLimiter) keyedLimiter(limiters map[string]*rateLimiterEntry, key string, rps float64, burst int) *rate.Limiter {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	if entry, exists := limiters[key]; exists {
		entry.lastSeen = time.Now()
		return entry.limiter
	}

	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	limiters[key] = &rateLimiterEntry{limiter: limiter, lastSeen: time.Now()}
	return limiter
}

func (rl *RateLimiter) cleanupRoutine() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *RateLimiter) cleanup(now time.Time) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	cutoff := now.Add(-rl.config.CleanupInterval * 2)
	for _, limiters := range []map[string]*rateLimiterEntry{rl.ipLimiters, rl.orgLimiters} {
		for key, entry := range limiters {
			if entry.lastSeen.Before(cutoff) {
				delete(limiters, key)
			}
		}
	}
}

func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

func (rl *RateLimiter) IsEnabled() bool {
	return rl.config.Enabled
}

func (rl *RateLimiter) GetStats() map[string]any {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	return map[string]any{
		"enabled":            rl.config.Enabled,
		"ip_limiters_count":  len(rl.ipLimiters),
		"org_limiters_count": len(rl.orgLimiters),
		"global_limit": map[string]any{
			"requests_per_second": rl.config.RequestsPerSecond,
			"burst_size":          rl.config.BurstSize,
		},
	}
}

func (rl *RateLimiter) RateLimitMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.config.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			if !rl.Allow() {
				rl.sendRateLimitResponse(w, "Global rate limit exceeded")
				return
			}

			if !rl.AllowIP(ClientIP(r)) {
				rl.sendRateLimitResponse(w, "IP rate limit exceeded")
				return
			}

			if !rl.AllowOrganization(r.Header.Get("X-Organization-ID")) {
				rl.sendRateLimitResponse(w, "Organization rate limit exceeded")
				return
			}

			if !rl.AllowEndpoint(endpointKey(r)) {
				rl.sendRateLimitResponse(w, "Endpoint rate limit exceeded")
				return
			}

			if rl.globalLimiter != nil {
				w.Header().Set("X-RateLimit-Limit", strconv.FormatFloat(float64(rl.globalLimiter.Limit()), 'f', 0, 64))
				w.Header().Set("X-RateLimit-Burst", strconv.Itoa(rl.globalLimiter.Burst()))
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) sendRateLimitResponse(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", "1")
	w.WriteHeader(http.StatusTooManyRequests)

	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error": map[string]string{
			"code":    "RATE_LIMITED",
			"message": message,
		},
	})
}

func endpointKey(r *http.Request) string {
	path := r.URL.Path
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		path = rctx.RoutePattern()
	}
	return r.Method + " " + path
}

// ClientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the peer address.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
