// Copyright (c) Microsoft. All rights reserved.

package toolloop

import (
	"context"
	"errors"
	"math"
	"time"
)

// RetryConfig controls [RetryMiddleware].
type RetryConfig struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64

	// Retryable decides whether an endpoint error is retried. Nil retries
	// errors wrapping [ErrEndpointUnavailable]; errors outside the
	// [ErrEndpoint] tree reach middleware already wrapped that way.
	Retryable func(error) bool
}

// DefaultRetryConfig returns three attempts starting at 200ms, doubling up
// to 5s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    200 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Backoff returns the delay before retry number attempt (zero-based).
func (c RetryConfig) Backoff(attempt int) time.Duration {
	mult := c.BackoffMultiplier
	if mult <= 0 {
		mult = 2.0
	}
	d := time.Duration(float64(c.InitialBackoff) * math.Pow(mult, float64(attempt)))
	if c.MaxBackoff > 0 && d > c.MaxBackoff {
		return c.MaxBackoff
	}
	return d
}

func defaultRetryable(err error) bool {
	return errors.Is(err, ErrEndpointUnavailable)
}

// RetryMiddleware retries failed model calls with exponential backoff.
// Waiting stops as soon as ctx is done. A retried call still counts as a
// single turn.
func RetryMiddleware(cfg RetryConfig) EndpointMiddleware {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	retryable := cfg.Retryable
	if retryable == nil {
		retryable = defaultRetryable
	}
	return func(next EndpointFunc) EndpointFunc {
		return func(ctx context.Context, history []Turn, tools []ToolDeclaration, gen *GenerationConfig) (*ModelResponse, error) {
			var lastErr error
			for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
				resp, err := next(ctx, history, tools, gen)
				if err == nil {
					return resp, nil
				}
				lastErr = err
				if !retryable(err) || ctx.Err() != nil {
					return nil, err
				}
				if attempt == cfg.MaxAttempts-1 {
					break
				}

				timer := time.NewTimer(cfg.Backoff(attempt))
				select {
				case <-ctx.Done():
					timer.Stop()
					return nil, lastErr
				case <-timer.C:
				}
			}
			return nil, lastErr
		}
	}
}
