package gige

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// RetryConfig controls how often and how patiently a failed camera operation
// is retried.
type RetryConfig struct {
	MaxRetries    int           // Number of retries after the first attempt (default: 1)
	RetryDelay    time.Duration // Delay before the first retry (default: 5 seconds)
	MaxRetryDelay time.Duration // Cap for the doubled delays (default: 5 seconds)
}

// DefaultStreamRetry is the stream-creation policy: one retry after 5 seconds.
func DefaultStreamRetry() RetryConfig {
	return RetryConfig{
		MaxRetries:    1,
		RetryDelay:    5 * time.Second,
		MaxRetryDelay: 5 * time.Second,
	}
}

// RetryState tracks attempts of one RunWithRetry call.
type RetryState struct {
	CurrentRetries int
	Retries        *atomic.Uint32 // Lifetime retry counter, shared across calls
}

// AttemptFunc is one try. attempt is 0 for the first try.
type AttemptFunc func(ctx context.Context, attempt int) error

// RunWithRetry runs fn until it succeeds, the retries are used up, or ctx is
// cancelled. The delay doubles per retry up to MaxRetryDelay.
func RunWithRetry(
	ctx context.Context,
	fn AttemptFunc,
	cfg RetryConfig,
	state *RetryState,
	logger zerolog.Logger,
) error {
	var lastErr error
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn(ctx, state.CurrentRetries)
		if err == nil {
			state.CurrentRetries = 0
			return nil
		}
		lastErr = err

		state.CurrentRetries++
		if state.CurrentRetries > cfg.MaxRetries {
			return fmt.Errorf("giving up after %d attempts: %w", state.CurrentRetries, lastErr)
		}
		if state.Retries != nil {
			state.Retries.Add(1)
		}

		delay := calculateBackoff(state.CurrentRetries, cfg)

		logger.Warn().
			Err(err).
			Int("attempt", state.CurrentRetries).
			Int("max_retries", cfg.MaxRetries).
			Dur("delay", delay).
			Msg("gige: retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// calculateBackoff returns retryDelay * 2^(attempt-1), capped at MaxRetryDelay.
func calculateBackoff(attempt int, cfg RetryConfig) time.Duration {
	delay := cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
	if cfg.MaxRetryDelay > 0 && delay > cfg.MaxRetryDelay {
		delay = cfg.MaxRetryDelay
	}
	return delay
}
