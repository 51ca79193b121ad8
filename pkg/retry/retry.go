// Package retry runs operations under an exponential backoff policy.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy defines retry behavior. Do returns the error of the last attempt
// unchanged, so callers see the provider's error rather than a retry wrapper.
type Policy struct {
	// MaxAttempts bounds the number of calls. Zero means unbounded, which is
	// only allowed together with a Deadline.
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RandomizeFactor float64
	// Deadline bounds the whole retry loop, waits included.
	Deadline time.Duration
	// Retryable decides whether an error warrants another attempt.
	// Nil retries connection-class errors only.
	Retryable func(error) bool
	// OnRetry is called before each wait with the failed attempt number
	// (starting at 1) and its error.
	OnRetry func(attempt int, err error)
}

// Do calls fn until it succeeds, returns a non-retryable error, runs out of
// attempts or the deadline passes.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Deadline)
		defer cancel()
	}

	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 && p.Deadline <= 0 {
		maxAttempts = 1
	}

	retryable := p.Retryable
	if retryable == nil {
		retryable = IsConnectionError
	}

	var lastErr error
	for attempt := 1; maxAttempts <= 0 || attempt <= maxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) {
			return err
		}

		// Don't wait after the last attempt
		if attempt == maxAttempts {
			break
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}

		timer := time.NewTimer(p.delay(attempt - 1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}

	return lastErr
}

// delay returns the wait after the given zero-based attempt
func (p Policy) delay(attempt int) time.Duration {
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	delay := float64(p.InitialDelay) * math.Pow(multiplier, float64(attempt))

	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	// Apply randomization factor (jitter)
	if p.RandomizeFactor > 0 {
		delta := delay * p.RandomizeFactor
		delay = delay - delta + rand.Float64()*2*delta
	}

	return time.Duration(delay)
}

// Delay returns the wait after the given zero-based attempt (for testing/preview)
func (p Policy) Delay(attempt int) time.Duration {
	return p.delay(attempt)
}

// WithMaxAttempts returns a copy with updated max attempts
func (p Policy) WithMaxAttempts(attempts int) Policy {
	p.MaxAttempts = attempts
	return p
}

// WithDelay returns a copy with updated delays
func (p Policy) WithDelay(initial, max time.Duration) Policy {
	p.InitialDelay = initial
	p.MaxDelay = max
	return p
}

// WithDeadline returns a copy bounded by d
func (p Policy) WithDeadline(d time.Duration) Policy {
	p.Deadline = d
	return p
}

// WithRetryable returns a copy using pred to classify errors
func (p Policy) WithRetryable(pred func(error) bool) Policy {
	p.Retryable = pred
	return p
}

// WithOnRetry returns a copy calling fn before each wait
func (p Policy) WithOnRetry(fn func(attempt int, err error)) Policy {
	p.OnRetry = fn
	return p
}

// Default returns three attempts with a 1s to 30s doubling backoff
func Default() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialDelay:    1 * time.Second,
		MaxDelay:        30 * time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0.25,
	}
}

// Upload is the policy for streaming inserts and load job submission:
// five attempts, 1s growing by 1.5x up to 10s.
func Upload() Policy {
	return Policy{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   1.5,
	}
}

// Provision is the policy for creating the dataset and table.
func Provision() Policy {
	return Policy{
		MaxAttempts:  2,
		InitialDelay: 1 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

// SchemaUpdate is the policy for applying an evolved schema. The deadline is
// the configured operation timeout.
func SchemaUpdate(deadline time.Duration) Policy {
	return Policy{
		InitialDelay: 1 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Deadline:     deadline,
	}
}

// None calls the operation once
func None() Policy {
	return Policy{MaxAttempts: 1}
}
