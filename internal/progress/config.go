package progress

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Defaults match the cruise figures of the route planner front-end.
const (
	DefaultSpeedKmh       = 903.0
	DefaultLookahead      = 15 * time.Minute
	DefaultRecheckPeriod  = 60 * time.Second
	DefaultRequestTimeout = 30 * time.Second
)

// ErrInvalidConfig wraps every configuration validation failure.
var ErrInvalidConfig = errors.New("invalid progress config")

// RetryPolicy bounds reroute retries after retryable failures.
type RetryPolicy struct {
	BaseInterval time.Duration
	MaxInterval  time.Duration
	Multiplier   float64
	// MaxRetries is the number of retries after the first failed request.
	MaxRetries int
}

// Config tunes the scheduler.
type Config struct {
	SpeedKmh       float64
	Lookahead      time.Duration
	RecheckPeriod  time.Duration
	RequestTimeout time.Duration
	Retry          RetryPolicy
}

// DefaultRetryPolicy returns 5s, 10s, 20s... capped at 5m, five retries.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseInterval: 5 * time.Second,
		MaxInterval:  5 * time.Minute,
		Multiplier:   2,
		MaxRetries:   5,
	}
}

// DefaultConfig returns the stock scheduler configuration.
func DefaultConfig() Config {
	return Config{
		SpeedKmh:       DefaultSpeedKmh,
		Lookahead:      DefaultLookahead,
		RecheckPeriod:  DefaultRecheckPeriod,
		RequestTimeout: DefaultRequestTimeout,
		Retry:          DefaultRetryPolicy(),
	}
}

// Validate checks the configuration invariants.
func (c Config) Validate() error {
	switch {
	case math.IsNaN(c.SpeedKmh) || math.IsInf(c.SpeedKmh, 0) || c.SpeedKmh <= 0:
		return fmt.Errorf("%w: speed must be a positive finite number, got %v", ErrInvalidConfig, c.SpeedKmh)
	case c.Lookahead <= 0:
		return fmt.Errorf("%w: lookahead must be positive, got %s", ErrInvalidConfig, c.Lookahead)
	case c.RecheckPeriod <= 0:
		return fmt.Errorf("%w: recheck period must be positive, got %s", ErrInvalidConfig, c.RecheckPeriod)
	case c.RequestTimeout < 0:
		return fmt.Errorf("%w: request timeout must not be negative, got %s", ErrInvalidConfig, c.RequestTimeout)
	}
	return c.Retry.Validate()
}

// Validate checks the retry policy invariants.
func (p RetryPolicy) Validate() error {
	switch {
	case p.MaxRetries < 0:
		return fmt.Errorf("%w: max retries must not be negative, got %d", ErrInvalidConfig, p.MaxRetries)
	case p.MaxRetries == 0:
		return nil
	case p.BaseInterval <= 0:
		return fmt.Errorf("%w: retry base interval must be positive, got %s", ErrInvalidConfig, p.BaseInterval)
	case p.MaxInterval < p.BaseInterval:
		return fmt.Errorf("%w: retry max interval %s is below base interval %s", ErrInvalidConfig, p.MaxInterval, p.BaseInterval)
	case p.Multiplier < 1:
		return fmt.Errorf("%w: retry multiplier must be at least 1, got %v", ErrInvalidConfig, p.Multiplier)
	}
	return nil
}

// newBackOff builds a deterministic exponential backoff for the policy. The
// first NextBackOff after Reset returns BaseInterval.
func (p RetryPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseInterval,
		RandomizationFactor: 0,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxInterval,
	}
	b.Reset()
	return b
}
