package graph

import (
	"encoding/json"
	"fmt"
)

// Reducer merges a node's partial update into the previous state.
//
// Reducers must be deterministic. prev is a private copy owned by the
// engine; delta must not be modified.
type Reducer[S any] func(prev, delta S) S

// deepCopy creates a deep copy of state S using JSON round-trip serialization.
//
// The engine copies every checkpoint state it loads, so a node can never
// alias the value held by an in-memory store.
//
// Limitations:
//   - Unexported struct fields are lost unless the type implements json.Marshaler
//   - Channels and functions cannot be copied
func deepCopy[S any](state S) (S, error) {
	var zero S

	data, err := json.Marshal(state)
	if err != nil {
		return zero, fmt.Errorf("failed to marshal state: %w", err)
	}

	var copied S
	if err := json.Unmarshal(data, &copied); err != nil {
		return zero, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	return copied, nil
}
