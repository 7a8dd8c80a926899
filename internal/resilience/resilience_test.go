package resilience

import (
	"context"
	"errors"
	"net/http"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) *RetryManager {
	return NewRetryManager(RetryConfig{
		Enabled:      true,
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	}, StrategyExponential)
}

func TestUpstreamRetryable(t *testing.T) {
	assert.True(t, UpstreamRetryable(&StatusError{Upstream: "orion", StatusCode: http.StatusServiceUnavailable}))
	assert.True(t, UpstreamRetryable(syscall.ECONNREFUSED))
	assert.False(t, UpstreamRetryable(&StatusError{Upstream: "orion", StatusCode: http.StatusNotFound}))
	assert.False(t, UpstreamRetryable(context.Canceled))
	assert.False(t, UpstreamRetryable(nil))
}

func TestRetryManager_RetriesUntilSuccess(t *testing.T) {
	rm := fastRetry(3)
	calls := 0

	result, err := rm.ExecuteWithResult(context.Background(), func() (any, error) {
		calls++
		if calls < 3 {
			return nil, &StatusError{Upstream: "keyrock", StatusCode: http.StatusBadGateway}
		}
		return "ok", nil
	}, UpstreamRetryable)

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls)
}

func TestRetryManager_StopsOnNonRetryable(t *testing.T) {
	rm := fastRetry(5)
	calls := 0

	err := rm.Execute(context.Background(), func() error {
		calls++
		return &StatusError{Upstream: "orion", StatusCode: http.StatusBadRequest}
	}, UpstreamRetryable)

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryManager_Exhausted(t *testing.T) {
	rm := fastRetry(2)
	cause := &StatusError{Upstream: "orion", StatusCode: http.StatusServiceUnavailable}

	err := rm.Execute(context.Background(), func() error { return cause }, UpstreamRetryable)

	require.Error(t, err)
	var statusErr *StatusError
	assert.True(t, errors.As(err, &statusErr))
}

func TestCircuitBreaker_OpensOnUpstreamFailures(t *testing.T) {
	cbm := NewCircuitBreakerManager(CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 2,
		Timeout:          time.Minute,
	}, zerolog.Nop())

	var observed []int
	cbm.SetObserver(func(name string, state int) { observed = append(observed, state) })

	fail := func(context.Context) (any, error) {
		return nil, &StatusError{Upstream: "orion", StatusCode: http.StatusInternalServerError}
	}
	for i := 0; i < 2; i++ {
		_, _ = cbm.ExecuteWithContext(context.Background(), "orion", fail)
	}

	assert.Equal(t, gobreaker.StateOpen, cbm.GetState("orion"))
	assert.Equal(t, []int{int(gobreaker.StateOpen)}, observed)

	_, err := cbm.ExecuteWithContext(context.Background(), "orion", fail)
	assert.True(t, IsCircuitBreakerError(err))
}

func TestCircuitBreaker_ClientErrorsDoNotTrip(t *testing.T) {
	cbm := NewCircuitBreakerManager(CircuitBreakerConfig{Enabled: true, FailureThreshold: 1}, zerolog.Nop())

	for i := 0; i < 3; i++ {
		_, err := cbm.ExecuteWithContext(context.Background(), "orion", func(context.Context) (any, error) {
			return nil, &StatusError{Upstream: "orion", StatusCode: http.StatusNotFound}
		})
		require.Error(t, err)
	}

	assert.Equal(t, gobreaker.StateClosed, cbm.GetState("orion"))
}

func TestUpstream_DisabledBreakerPassesThrough(t *testing.T) {
	u := NewUpstream("keyrock", NewCircuitBreakerManager(CircuitBreakerConfig{}, zerolog.Nop()), nil)

	result, err := u.Do(context.Background(), http.MethodGet, func(context.Context) (any, error) { return 42, nil })

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, "keyrock", u.Name())
}

func TestUpstream_RetriesOnlyIdempotentMethods(t *testing.T) {
	u := NewUpstream("orion", nil, fastRetry(3))
	gatewayTimeout := &StatusError{Upstream: "orion", StatusCode: http.StatusGatewayTimeout}

	tests := []struct {
		method    string
		wantCalls int
	}{
		{http.MethodGet, 3},
		{http.MethodDelete, 3},
		{http.MethodPost, 1},
		{http.MethodPatch, 1},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			calls := 0
			_, err := u.Do(context.Background(), tt.method, func(context.Context) (any, error) {
				calls++
				return nil, gatewayTimeout
			})
			require.Error(t, err)
			assert.Equal(t, tt.wantCalls, calls)
		})
	}
}
