package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInputSanitizer_SanitizeString(t *testing.T) {
	s := NewInputSanitizer(SanitizerConfig{Enabled: true})

	got, err := s.SanitizeString("  <b>Energy</b> forecast for R&D<script>alert(1)</script>\x00 ")
	require.NoError(t, err)
	assert.Equal(t, "Energy forecast for R&D", got)

	disabled := NewInputSanitizer(SanitizerConfig{Enabled: false})
	got, err = disabled.SanitizeString("<b>x</b>")
	require.NoError(t, err)
	assert.Equal(t, "<b>x</b>", got)
}

func TestInputSanitizer_StrictLength(t *testing.T) {
	s := NewInputSanitizer(SanitizerConfig{Enabled: true, StrictMode: true, MaxStringLength: 4})

	_, err := s.SanitizeString("too long")
	assert.Error(t, err)
}

func TestInputSanitizer_SanitizeValue(t *testing.T) {
	s := NewInputSanitizer(SanitizerConfig{Enabled: true})

	got, err := s.SanitizeValue(map[string]any{
		"title":    "<i>Fleet</i> telemetry",
		"keywords": []any{"<b>iot</b>", "fleet"},
		"speed":    12.5,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"title":    "Fleet telemetry",
		"keywords": []any{"iot", "fleet"},
		"speed":    12.5,
	}, got)
}

func TestInputSanitizer_SanitizeEntityType(t *testing.T) {
	s := NewInputSanitizer(SanitizerConfig{Enabled: true})

	got, err := s.SanitizeEntityType(" Device ")
	require.NoError(t, err)
	assert.Equal(t, "Device", got)

	_, err = s.SanitizeEntityType("Device;drop")
	assert.Error(t, err)
	_, err = s.SanitizeEntityType("")
	assert.Error(t, err)
}

func TestRateLimiter_Global(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Enabled: true, RequestsPerSecond: 0.001, BurstSize: 2})
	defer rl.Stop()

	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())
}

func TestRateLimiter_PerOrganization(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{
		Enabled:              true,
		RequestsPerSecond:    1000,
		BurstSize:            1000,
		OrgLimitEnabled:      true,
		OrgRequestsPerSecond: 0.001,
		OrgBurstSize:         1,
	})
	defer rl.Stop()

	assert.True(t, rl.AllowOrganization("org-a"))
	assert.False(t, rl.AllowOrganization("org-a"))
	assert.True(t, rl.AllowOrganization("org-b"))
	assert.True(t, rl.AllowOrganization(""))
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{
		Enabled:             true,
		RequestsPerSecond:   10,
		BurstSize:           10,
		CleanupInterval:     time.Minute,
		IPLimitEnabled:      true,
		IPRequestsPerSecond: 10,
		IPBurstSize:         10,
	})
	defer rl.Stop()

	rl.AllowIP("10.0.0.1")
	assert.Equal(t, 1, rl.GetStats()["ip_limiters_count"])

	rl.cleanup(time.Now().Add(time.Hour))
	assert.Equal(t, 0, rl.GetStats()["ip_limiters_count"])
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 1000,
		BurstSize:         1000,
		EndpointLimits: map[string]EndpointLimit{
			"POST /api/v1/fiware/proxy": {RequestsPerSecond: 0.001, BurstSize: 1},
		},
	})
	defer rl.Stop()

	handler := rl.RateLimitMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/api/v1/fiware/proxy", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/api/v1/fiware/proxy", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Contains(t, second.Body.String(), "RATE_LIMITED")

	other := httptest.NewRecorder()
	handler.ServeHTTP(other, httptest.NewRequest(http.MethodGet, "/api/v1/assets", nil))
	assert.Equal(t, http.StatusOK, other.Code)
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", ClientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	assert.Equal(t, "203.0.113.5", ClientIP(r))
}
