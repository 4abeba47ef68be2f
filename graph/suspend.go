package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Interrupt signals that a node suspended at a named point to wait for
// external input. Nodes obtain one from Suspend and return it as
// NodeResult.Err. The engine persists the suspension point in the thread's
// checkpoint and returns control to the caller of Step.
type Interrupt struct {
	// Key names the suspension point inside the node.
	Key string

	// Prompt is the descriptor shown to the user while the run waits.
	Prompt string

	// NodeID is the suspended node. Filled in by the engine.
	NodeID string

	// Step is the thread step at which the node suspended. Filled in by the engine.
	Step int

	// Timestamp is when the interrupt was created.
	Timestamp time.Time
}

// Error returns the error message for the interrupt.
func (i *Interrupt) Error() string {
	return fmt.Sprintf("suspended at node %s (key %q, step %d)", i.NodeID, i.Key, i.Step)
}

// IsInterrupt reports whether err is, or wraps, an *Interrupt.
func IsInterrupt(err error) bool {
	_, ok := GetInterrupt(err)
	return ok
}

// GetInterrupt extracts the *Interrupt from err.
func GetInterrupt(err error) (*Interrupt, bool) {
	var intr *Interrupt
	if errors.As(err, &intr) {
		return intr, true
	}
	return nil, false
}

type resumeKey struct{}

// resumption carries the external input for exactly one suspension point.
type resumption struct {
	mu       sync.Mutex
	key      string
	input    string
	consumed bool
}

func (r *resumption) take(key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.consumed || r.key != key {
		return "", false
	}
	r.consumed = true
	return r.input, true
}

func (r *resumption) wasConsumed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.consumed
}

func withResumption(ctx context.Context, r *resumption) context.Context {
	return context.WithValue(ctx, resumeKey{}, r)
}

// Suspend pauses the calling node until external input arrives.
//
// When the engine is resuming this node at key, Suspend returns the input
// and a nil error, as if it were an ordinary call. Otherwise it returns an
// *Interrupt that the node must return as NodeResult.Err:
//
//	input, err := graph.Suspend(ctx, "answer", lastQuestion)
//	if err != nil {
//	    return graph.NodeResult[State]{Delta: before, Err: err}
//	}
//
// The resume input is delivered once. A second Suspend with the same key in
// the same execution suspends again.
func Suspend(ctx context.Context, key, prompt string) (string, error) {
	if r, ok := ctx.Value(resumeKey{}).(*resumption); ok {
		if input, ok := r.take(key); ok {
			return input, nil
		}
	}
	return "", &Interrupt{
		Key:       key,
		Prompt:    prompt,
		Timestamp: time.Now().UTC(),
	}
}
