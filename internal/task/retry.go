package task

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/webtoonlab/panelgen/internal/generation"
)

// RetryConfig holds the tunables for bounded exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the total attempt ceiling, first attempt included.
	MaxAttempts int

	// BaseDelay is the delay before the second attempt; each further
	// attempt doubles it.
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff delay.
	MaxDelay time.Duration
}

// DefaultRetryConfig returns the retry defaults used across the pipeline.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

// AttemptHooks observe the attempt lifecycle. Started fires before an
// attempt runs with its 1-based number; Finished fires after it with the
// attempt's error (nil on success). The coordinator uses them to keep
// StageRecord attempt history accurate even for attempts later superseded
// by a success. Either hook may be nil.
type AttemptHooks struct {
	Started  func(attempt int)
	Finished func(attempt int, err error)
}

// RetryPolicy wraps stage execution with bounded exponential backoff and
// jitter. It is the sole retry authority in the pipeline: executors never
// retry themselves and the coordinator treats the policy's outcome as
// final for a stage.
type RetryPolicy struct {
	config RetryConfig
	logger *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRetryPolicy creates a policy with the given configuration, applying
// defaults for non-positive values.
func NewRetryPolicy(config RetryConfig, logger *slog.Logger) *RetryPolicy {
	defaults := DefaultRetryConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = defaults.BaseDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = defaults.MaxDelay
	}

	return &RetryPolicy{
		config: config,
		logger: logger.With("component", "retry_policy"),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// MaxAttempts returns the configured attempt ceiling.
func (p *RetryPolicy) MaxAttempts() int {
	return p.config.MaxAttempts
}

// Run executes fn up to MaxAttempts times. Only retryable failures are
// re-attempted; a fatal failure returns immediately. On exhausting the
// ceiling the last failure is returned as terminal. Hooks fire for every
// attempt that actually ran.
func (p *RetryPolicy) Run(
	ctx context.Context,
	hooks AttemptHooks,
	fn func(ctx context.Context) error,
) error {
	var lastErr error

	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if hooks.Started != nil {
			hooks.Started(attempt)
		}
		lastErr = fn(ctx)
		if hooks.Finished != nil {
			hooks.Finished(attempt, lastErr)
		}

		if lastErr == nil {
			return nil
		}

		if ctx.Err() != nil {
			// The attempt lost to cancellation, not to the provider.
			return ctx.Err()
		}

		if !generation.IsRetryable(lastErr) {
			p.logger.WarnContext(ctx, "fatal failure, not retrying",
				"attempt", attempt,
				"error", lastErr)
			return lastErr
		}

		if attempt == p.config.MaxAttempts {
			break
		}

		delay := p.backoff(attempt)
		p.logger.InfoContext(ctx, "retrying after delay",
			"attempt", attempt,
			"max_attempts", p.config.MaxAttempts,
			"delay", delay,
			"error", lastErr)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("exceeded maximum attempts (%d): %w", p.config.MaxAttempts, lastErr)
}

// backoff computes the delay after the given 1-based attempt:
// base * 2^(attempt-1), scaled by a jitter factor in [0.5, 1.0) and capped
// at MaxDelay.
func (p *RetryPolicy) backoff(attempt int) time.Duration {
	seconds := p.config.BaseDelay.Seconds() * math.Pow(2, float64(attempt-1))

	p.mu.Lock()
	jitter := 0.5 + p.rng.Float64()*0.5
	p.mu.Unlock()

	delay := time.Duration(seconds * jitter * float64(time.Second))
	if delay > p.config.MaxDelay {
		delay = p.config.MaxDelay
	}
	return delay
}
