package graph

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrAttemptTimeout is wrapped by the error recorded for an attempt that ran
// past RetryPolicy.AttemptTimeout.
var ErrAttemptTimeout = errors.New("attempt timed out")

type callResult[T any] struct {
	value T
	err   error
}

// callWithTimeout runs one attempt under the per-attempt timeout.
//
// The call runs on its own goroutine so that a call which ignores its
// context still cannot hold the stage past the deadline. Its result is
// dropped once the deadline passes.
//
// Parameters:
//   - ctx: Parent context (run scope)
//   - label: Invocation label used in the timeout error
//   - timeout: Per-attempt bound (0 = bounded by ctx only)
//   - call: The attempt
func callWithTimeout[T any](
	ctx context.Context,
	label string,
	timeout time.Duration,
	call func(context.Context) (T, error),
) (T, error) {
	var zero T

	if timeout <= 0 {
		return call(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel() // Always cleanup to prevent context leaks

	done := make(chan callResult[T], 1)
	go func() {
		v, err := call(attemptCtx)
		done <- callResult[T]{value: v, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return zero, fmt.Errorf("%w: %s exceeded %v: %v", ErrAttemptTimeout, label, timeout, res.err)
		}
		return res.value, res.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, fmt.Errorf("%w: %s exceeded %v", ErrAttemptTimeout, label, timeout)
	}
}
