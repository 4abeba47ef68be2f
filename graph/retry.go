package graph

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Validator accepts or rejects one candidate model reply and converts an
// accepted reply into its typed form. Validators must be pure.
type Validator[T any] interface {
	Validate(candidate string) (T, error)
}

// ValidatorFunc is a function adapter that implements the Validator interface.
type ValidatorFunc[T any] func(candidate string) (T, error)

// Validate implements Validator for ValidatorFunc.
func (f ValidatorFunc[T]) Validate(candidate string) (T, error) {
	return f(candidate)
}

// RetryError is returned by Invoke once every allowed attempt has failed.
// It matches ErrRetriesExhausted and unwraps to the last attempt's failure.
type RetryError struct {
	// Label identifies the invocation, typically the stage name.
	Label string

	// Attempts is the number of calls that were made.
	Attempts int

	// Last is the failure of the final attempt.
	Last error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("exhausted retries for %s after %d attempts: %v", e.Label, e.Attempts, e.Last)
}

// Unwrap returns the last attempt's failure.
func (e *RetryError) Unwrap() error {
	return e.Last
}

// Is makes every RetryError match ErrRetriesExhausted.
func (e *RetryError) Is(target error) bool {
	return target == ErrRetriesExhausted
}

// Attempt describes the attempt currently in progress inside Invoke.
type Attempt struct {
	// Number is 1-based.
	Number int

	// Max is the policy's MaxAttempts.
	Max int
}

// Penultimate reports whether this is the second-to-last attempt or later.
// With a bound of 1 there is no penultimate attempt.
func (a Attempt) Penultimate() bool {
	return a.Max > 1 && a.Number >= a.Max-1
}

type attemptKey struct{}

// AttemptFromContext returns the attempt in progress when ctx was derived
// inside Invoke.
func AttemptFromContext(ctx context.Context) (Attempt, bool) {
	a, ok := ctx.Value(attemptKey{}).(Attempt)
	return a, ok
}

// Invoker is the Retrying Invoker. It is safe for concurrent use as long as
// the configured sleep and rand sources are.
type Invoker struct {
	policy  RetryPolicy
	logger  *zap.Logger
	metrics *PrometheusMetrics
	rng     *rand.Rand
	sleep   func(ctx context.Context, d time.Duration) error
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithInvokerLogger sets the logger used for failed attempts.
func WithInvokerLogger(logger *zap.Logger) InvokerOption {
	return func(inv *Invoker) {
		if logger != nil {
			inv.logger = logger
		}
	}
}

// WithInvokerMetrics records retries and exhaustions.
func WithInvokerMetrics(m *PrometheusMetrics) InvokerOption {
	return func(inv *Invoker) {
		inv.metrics = m
	}
}

// WithSleep replaces the backoff sleep. Tests use it to run without delays.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) InvokerOption {
	return func(inv *Invoker) {
		if sleep != nil {
			inv.sleep = sleep
		}
	}
}

// WithRand sets the jitter source.
func WithRand(rng *rand.Rand) InvokerOption {
	return func(inv *Invoker) {
		inv.rng = rng
	}
}

// NewInvoker validates the policy and builds an Invoker.
func NewInvoker(policy RetryPolicy, opts ...InvokerOption) (*Invoker, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	inv := &Invoker{
		policy: policy,
		logger: zap.NewNop(),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv, nil
}

// Policy returns the invoker's retry policy.
func (inv *Invoker) Policy() RetryPolicy {
	return inv.policy
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Invoke calls call until v accepts a candidate or the attempt bound is
// reached.
//
// Each attempt runs under the policy's AttemptTimeout. A call error, a
// timeout and a validation rejection all count as failed attempts. The
// first accepted value is returned; earlier candidates are discarded whole,
// so a success on attempt 3 is indistinguishable from a success on attempt 1.
//
// Invoke never mutates anything on its own. Only the call is repeated,
// which is why callers must do their state mutations after Invoke returns.
//
// Returns:
//   - The validated value
//   - *RetryError (matches ErrRetriesExhausted) when every attempt failed
//   - ctx.Err() when the parent context is cancelled
//
// A nil inv uses DefaultRetryPolicy.
func Invoke[T any](
	ctx context.Context,
	inv *Invoker,
	label string,
	call func(ctx context.Context) (string, error),
	v Validator[T],
) (T, error) {
	var zero T

	if inv == nil {
		inv = &Invoker{policy: DefaultRetryPolicy(), logger: zap.NewNop(), sleep: sleepContext}
	}
	policy := inv.policy

	var last error
	attempts := 0
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		attempts = attempt

		attemptCtx := context.WithValue(ctx, attemptKey{}, Attempt{Number: attempt, Max: policy.MaxAttempts})
		candidate, err := callWithTimeout(attemptCtx, label, policy.AttemptTimeout, call)
		reason := "error"
		if err == nil {
			value, verr := v.Validate(candidate)
			if verr == nil {
				return value, nil
			}
			err = verr
			reason = "invalid"
		} else if errors.Is(err, ErrAttemptTimeout) || errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}

		// Parent cancellation ends the invocation without counting as exhaustion.
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		last = err
		inv.logger.Warn("model attempt failed",
			zap.String("label", label),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", policy.MaxAttempts),
			zap.String("reason", reason),
			zap.Error(err),
		)

		if policy.Retryable != nil && !policy.Retryable(err) {
			break
		}
		if attempt == policy.MaxAttempts {
			break
		}

		if inv.metrics != nil {
			inv.metrics.IncrementRetries(label, reason)
		}
		if err := inv.sleep(ctx, computeBackoff(attempt-1, policy.BaseDelay, policy.MaxDelay, inv.rng)); err != nil {
			return zero, err
		}
	}

	if inv.metrics != nil {
		inv.metrics.IncrementExhausted(label)
	}
	return zero, &RetryError{Label: label, Attempts: attempts, Last: last}
}
