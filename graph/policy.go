package graph

import (
	"math/rand"
	"time"
)

// DefaultMaxAttempts is the attempt bound used when a RetryPolicy is not
// supplied.
const DefaultMaxAttempts = 3

// RetryPolicy configures the Retrying Invoker.
//
// Each failed attempt (transport error, timeout or validation rejection)
// is followed by a backoff delay of min(BaseDelay * 2^attempt, MaxDelay)
// plus jitter, until MaxAttempts attempts have been made.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of calls, including the first one.
	// Must be >= 1. A value of 1 means no retries.
	MaxAttempts int

	// BaseDelay is the base delay for exponential backoff between attempts.
	// Zero retries immediately.
	BaseDelay time.Duration

	// MaxDelay caps the exponential component. Zero means no cap.
	MaxDelay time.Duration

	// AttemptTimeout bounds a single call. A call that runs past it counts
	// as a failed attempt. Zero leaves the call bounded only by the parent
	// context.
	AttemptTimeout time.Duration

	// Retryable decides whether a failure is worth another attempt.
	// If nil, every failure is retried. Cancellation of the parent context
	// is never retried regardless of this predicate.
	Retryable func(error) bool
}

// DefaultRetryPolicy returns the policy used when none is configured:
// three attempts with a short exponential backoff and a 30 second bound per
// attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    DefaultMaxAttempts,
		BaseDelay:      250 * time.Millisecond,
		MaxDelay:       4 * time.Second,
		AttemptTimeout: 30 * time.Second,
	}
}

// computeBackoff calculates the delay before the next attempt using
// exponential backoff with jitter.
//
// delay = min(base * 2^attempt, maxDelay) + jitter(0, base).
//
// Where:
// - attempt: Zero-based retry number (0 for the first retry).
// - base: Base delay from RetryPolicy.BaseDelay.
// - maxDelay: Cap from RetryPolicy.MaxDelay (0 = uncapped).
// - rng: Jitter source; nil falls back to the global source.
//
// Example delays with base=1s, maxDelay=30s:
// - attempt 0: 1-2s.
// - attempt 1: 2-3s.
// - attempt 2: 4-5s.
// - attempt 10: 30-31s (capped).
func computeBackoff(attempt int, base, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		return 0
	}

	exponentialDelay := base * (1 << attempt)
	if maxDelay > 0 && (exponentialDelay > maxDelay || exponentialDelay <= 0) {
		exponentialDelay = maxDelay
	}

	var jitter time.Duration
	if rng != nil {
		jitter = time.Duration(rng.Int63n(int64(base)))
	} else {
		jitter = time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- jitter for retry timing, not security
	}

	return exponentialDelay + jitter
}

// Validate checks if the RetryPolicy configuration is valid.
// Returns ErrInvalidRetryPolicy if any constraint is violated:
//   - MaxAttempts must be >= 1 (1 means no retries, just initial attempt)
//   - Delays and the attempt timeout must not be negative
//   - If both MaxDelay and BaseDelay are > 0, then MaxDelay must be >= BaseDelay
func (rp *RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if rp.BaseDelay < 0 || rp.MaxDelay < 0 || rp.AttemptTimeout < 0 {
		return ErrInvalidRetryPolicy
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}
