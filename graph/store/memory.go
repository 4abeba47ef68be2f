package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory implementation of Store[S].
//
// It stores step history and checkpoints in maps.
// Designed for:
//   - Testing and development
//   - Single-process deployments where losing threads on restart is acceptable
//
// MemStore is thread-safe and supports concurrent access.
//
// Limitations:
//   - Data is lost when process terminates
//   - Memory usage grows with thread history
//
// Type parameter S is the state type to persist.
type MemStore[S any] struct {
	mu          sync.RWMutex
	steps       map[string][]StepRecord[S] // threadID -> list of steps
	checkpoints map[string]Checkpoint[S]   // threadID -> checkpoint
}

// NewMemStore creates a new in-memory store.
//
// Example:
//
//	st := store.NewMemStore[coach.State]()
//	engine := graph.New(coach.Reduce, st)
func NewMemStore[S any]() *MemStore[S] {
	return &MemStore[S]{
		steps:       make(map[string][]StepRecord[S]),
		checkpoints: make(map[string]Checkpoint[S]),
	}
}

// SaveStep persists a thread execution step.
//
// A record for an existing step number replaces the earlier one.
func (m *MemStore[S]) SaveStep(_ context.Context, threadID string, step int, nodeID string, state S) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record := StepRecord[S]{
		Step:   step,
		NodeID: nodeID,
		State:  state,
	}

	records := m.steps[threadID]
	for i := range records {
		if records[i].Step == step {
			records[i] = record
			return nil
		}
	}
	m.steps[threadID] = append(records, record)
	return nil
}

// LoadLatest retrieves the most recent step for a thread.
//
// Returns the step with the highest step number.
func (m *MemStore[S]) LoadLatest(_ context.Context, threadID string) (state S, step int, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records, exists := m.steps[threadID]
	if !exists || len(records) == 0 {
		var zero S
		return zero, 0, ErrNotFound
	}

	latest := records[0]
	for _, record := range records[1:] {
		if record.Step > latest.Step {
			latest = record
		}
	}

	return latest.State, latest.Step, nil
}

// History returns the thread's step records ordered by step number.
func (m *MemStore[S]) History(_ context.Context, threadID string) ([]StepRecord[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records, exists := m.steps[threadID]
	if !exists {
		return nil, ErrNotFound
	}
	out := make([]StepRecord[S], len(records))
	copy(out, records)
	sort.Slice(out, func(i, j int) bool { return out[i].Step < out[j].Step })
	return out, nil
}

// SaveCheckpoint stores the thread checkpoint, replacing any earlier one.
func (m *MemStore[S]) SaveCheckpoint(_ context.Context, cp Checkpoint[S]) error {
	if cp.ThreadID == "" {
		return fmt.Errorf("checkpoint thread ID cannot be empty")
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.checkpoints[cp.ThreadID] = cp
	return nil
}

// LoadCheckpoint retrieves the thread checkpoint.
//
// Returns ErrNotFound if the thread doesn't exist.
func (m *MemStore[S]) LoadCheckpoint(_ context.Context, threadID string) (Checkpoint[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp, exists := m.checkpoints[threadID]
	if !exists {
		return Checkpoint[S]{}, ErrNotFound
	}
	return cp, nil
}

// ListThreads returns all thread IDs with a checkpoint, sorted.
func (m *MemStore[S]) ListThreads(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.checkpoints))
	for id := range m.checkpoints {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// serializableMemStore is the JSON-serializable representation of MemStore.
type serializableMemStore[S any] struct {
	Steps       map[string][]StepRecord[S] `json:"steps"`
	Checkpoints map[string]Checkpoint[S]   `json:"checkpoints"`
}

// MarshalJSON snapshots the store, for example to seed a test fixture or to
// carry threads across a restart of a development server.
func (m *MemStore[S]) MarshalJSON() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return json.Marshal(serializableMemStore[S]{
		Steps:       m.steps,
		Checkpoints: m.checkpoints,
	})
}

// UnmarshalJSON replaces the store contents with a snapshot produced by
// MarshalJSON.
func (m *MemStore[S]) UnmarshalJSON(data []byte) error {
	var snap serializableMemStore[S]
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to unmarshal MemStore: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.steps = snap.Steps
	if m.steps == nil {
		m.steps = make(map[string][]StepRecord[S])
	}
	m.checkpoints = snap.Checkpoints
	if m.checkpoints == nil {
		m.checkpoints = make(map[string]Checkpoint[S])
	}
	return nil
}
