// Package graph provides the stage execution engine for coachgraph.
package graph

import "errors"

// ErrMaxStepsExceeded indicates that a single Step call executed more nodes
// than the configured limit without suspending or halting. It usually means
// a routing cycle with no suspension point in it.
var ErrMaxStepsExceeded = errors.New("execution exceeded maximum steps limit")

// ErrRetriesExhausted is matched by every *RetryError. Use errors.Is to detect
// that a model call failed on all of its attempts.
var ErrRetriesExhausted = errors.New("exhausted retries")

// ErrInvalidRetryPolicy is returned by RetryPolicy.Validate.
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")

// ErrHalted is returned by Step when the thread was halted by an earlier
// turn and no further input is accepted.
var ErrHalted = errors.New("run halted")

// EngineError represents an error from Engine operations.
type EngineError struct {
	Message string
	Code    string
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// Is lets a MAX_STEPS_EXCEEDED or RUN_HALTED engine error match the matching
// sentinel.
func (e *EngineError) Is(target error) bool {
	switch e.Code {
	case "MAX_STEPS_EXCEEDED":
		return target == ErrMaxStepsExceeded
	case "RUN_HALTED":
		return target == ErrHalted
	}
	return false
}
