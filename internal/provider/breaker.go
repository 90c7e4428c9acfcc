package provider

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"memetrader/internal/domain"
)

// BreakerConfig configures the circuit breaker around an upstream API.
type BreakerConfig struct {
	ConsecutiveFailures uint32        `yaml:"consecutive_failures" json:"consecutive_failures"` // failures that open the breaker
	Cooldown            time.Duration `yaml:"cooldown" json:"cooldown"`                         // open state duration
	HalfOpenRequests    uint32        `yaml:"half_open_requests" json:"half_open_requests"`
}

// DefaultBreakerConfig opens after five consecutive failures for 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{ConsecutiveFailures: 5, Cooldown: 30 * time.Second, HalfOpenRequests: 1}
}

// NewBreaker builds a breaker for the named upstream. Absent and malformed
// answers are answers: only transport and server failures count toward
// tripping.
func NewBreaker(name string, cfg BreakerConfig, logger zerolog.Logger) *gobreaker.CircuitBreaker {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrAbsent) || errors.Is(err, domain.ErrMalformedData)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})
}

// Guard runs fn through the breaker.
func Guard[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	v, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// IsBreakerOpen reports whether err came from an open breaker.
func IsBreakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
