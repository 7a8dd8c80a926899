package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled" mapstructure:"enabled"`
	MaxRequests      uint32        `yaml:"max_requests" mapstructure:"max_requests"`
	Interval         time.Duration `yaml:"interval" mapstructure:"interval"`
	Timeout          time.Duration `yaml:"timeout" mapstructure:"timeout"`
	FailureThreshold uint32        `yaml:"failure_threshold" mapstructure:"failure_threshold"`
}

// StateObserver is told about every breaker state change. The metrics
// manager's SetCircuitBreakerState satisfies it.
type StateObserver func(name string, state int)

// CircuitBreakerManager keeps one breaker per upstream name.
type CircuitBreakerManager struct {
	config   CircuitBreakerConfig
	breakers map[string]*gobreaker.CircuitBreaker
	mutex    sync.RWMutex
	logger   zerolog.Logger
	observer StateObserver
}

func NewCircuitBreakerManager(config CircuitBreakerConfig, logger zerolog.Logger) *CircuitBreakerManager {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	return &CircuitBreakerManager{
		config:   config,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		logger:   logger,
	}
}

func (cbm *CircuitBreakerManager) SetObserver(observer StateObserver) {
	cbm.mutex.Lock()
	defer cbm.mutex.Unlock()
	cbm.observer = observer
}

func (cbm *CircuitBreakerManager) GetBreaker(name string) *gobreaker.CircuitBreaker {
	if !cbm.config.Enabled {
		return nil
	}

	cbm.mutex.RLock()
	breaker, exists := cbm.breakers[name]
	cbm.mutex.RUnlock()

	if exists {
		return breaker
	}

	cbm.mutex.Lock()
	defer cbm.mutex.Unlock()

	if breaker, exists := cbm.breakers[name]; exists {
		return breaker
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cbm.config.MaxRequests,
		Interval:    cbm.config.Interval,
		Timeout:     cbm.config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cbm.config.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			cbm.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
			if cbm.observer != nil {
				cbm.observer(name, int(to))
			}
		},
		IsSuccessful: func(err error) bool {
			// Caller errors such as a 404 from the broker do not count against the upstream.
			return err == nil || !IsUpstreamFailure(err)
		},
	}

	breaker = gobreaker.NewCircuitBreaker(settings)
	cbm.breakers[name] = breaker

	return breaker
}

func (cbm *CircuitBreakerManager) ExecuteWithContext(ctx context.Context, name string, fn func(context.Context) (any, error)) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	breaker := cbm.GetBreaker(name)
	if breaker == nil {
		return fn(ctx)
	}

	return breaker.Execute(func() (any, error) {
		return fn(ctx)
	})
}

func (cbm *CircuitBreakerManager) GetState(name string) gobreaker.State {
	cbm.mutex.RLock()
	defer cbm.mutex.RUnlock()

	if breaker, exists := cbm.breakers[name]; exists {
		return breaker.State()
	}

	return gobreaker.StateClosed
}

func (cbm *CircuitBreakerManager) IsEnabled() bool {
	return cbm.config.Enabled
}

// Status summarizes every breaker for the health endpoint.
func (cbm *CircuitBreakerManager) Status() map[string]any {
	cbm.mutex.RLock()
	defer cbm.mutex.RUnlock()

	breakers := make(map[string]any, len(cbm.breakers))
	for name, breaker := range cbm.breakers {
		counts := breaker.Counts()
		breakers[name] = map[string]any{
			"state":                breaker.State().String(),
			"requests":             counts.Requests,
			"total_failures":       counts.TotalFailures,
			"consecutive_failures": counts.ConsecutiveFailures,
		}
	}

	return map[string]any{
		"enabled":          cbm.config.Enabled,
		"circuit_breakers": breakers,
	}
}

func IsCircuitBreakerError(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
