// Package store provides persistence for thread checkpoints and step history.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a thread has no checkpoint or step history.
var ErrNotFound = errors.New("not found")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// Store persists the durable record of every conversation thread.
//
// Two kinds of record are kept per thread:
//   - Step history: the state after every node execution, an append-only audit trail
//   - Checkpoint: the latest state plus the suspension point, loaded before
//     and saved after every Step
//
// Implementations must be safe for concurrent use. The engine serializes
// access per thread, so a store only needs to keep distinct threads apart.
//
// Type parameter S is the state type (must be JSON-serializable for the
// database-backed stores).
type Store[S any] interface {
	// SaveStep persists the state after a node execution step.
	// Each step is identified by threadID + step number. Saving the same
	// step twice replaces the earlier record.
	SaveStep(ctx context.Context, threadID string, step int, nodeID string, state S) error

	// LoadLatest retrieves the most recent step state for a thread.
	//
	// Returns:
	//   - state: The most recent persisted state
	//   - step: The step number of the returned state
	//   - error: ErrNotFound if the thread has no steps
	LoadLatest(ctx context.Context, threadID string) (state S, step int, err error)

	// SaveCheckpoint stores the thread's checkpoint, replacing any previous one.
	SaveCheckpoint(ctx context.Context, cp Checkpoint[S]) error

	// LoadCheckpoint retrieves the thread's checkpoint.
	// Returns ErrNotFound if the thread was never started.
	LoadCheckpoint(ctx context.Context, threadID string) (Checkpoint[S], error)
}

// ThreadLister is implemented by stores that can enumerate known threads.
type ThreadLister interface {
	ListThreads(ctx context.Context) ([]string, error)
}

// Cursor is the saved program counter of a thread: which node is waiting
// and at which suspension point inside it.
type Cursor struct {
	// Node is the node to run on the next Step.
	Node string `json:"node"`

	// Key names the suspension point inside Node. Empty when Node has not
	// started yet.
	Key string `json:"key,omitempty"`

	// Prompt is the descriptor returned to the caller while waiting.
	Prompt string `json:"prompt,omitempty"`

	// Awaiting is true while the thread waits for external input at Key.
	Awaiting bool `json:"awaiting"`

	// Since is when the suspension began.
	Since time.Time `json:"since,omitempty"`
}

// Checkpoint is the durable snapshot of one thread.
type Checkpoint[S any] struct {
	// ThreadID keys the checkpoint.
	ThreadID string `json:"thread_id"`

	// Step is the number of node executions committed so far.
	Step int `json:"step"`

	// State is the accumulated state after Step executions.
	State S `json:"state"`

	// Cursor records where execution resumes.
	Cursor Cursor `json:"cursor"`

	// Halted is set once the run stopped for good.
	Halted bool `json:"halted"`

	// UpdatedAt is when the checkpoint was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// StepRecord represents a single execution step in a thread's history.
type StepRecord[S any] struct {
	// Step is the sequential step number (1-indexed).
	Step int `json:"step"`

	// NodeID identifies which node produced this state.
	NodeID string `json:"node_id"`

	// State is the state after this step completed.
	State S `json:"state"`
}
