package graph

// Edge represents a conditional transition between two stages.
//
// Edges are evaluated only when a node returns an empty Route. They can be:
// - Unconditional: Always traverse (When = nil).
// - Conditional: Only traverse if predicate returns true (When != nil).
//
// The first matching edge in registration order wins, so a catch-all edge
// should be connected last.
//
// Type parameter S is the state type used for predicate evaluation.
type Edge[S any] struct {
	// From is the source node ID.
	From string

	// To is the destination node ID.
	To string

	// When is an optional predicate that determines if this edge should be traversed.
	// If nil, the edge is unconditional (always traverse).
	When Predicate[S]
}

// Predicate evaluates the merged state after a node ran.
//
// Predicates must be pure. The engine may evaluate several of them for one
// routing decision.
//
// Type parameter S is the state type to evaluate.
type Predicate[S any] func(state S) bool

// Not negates a predicate.
func Not[S any](p Predicate[S]) Predicate[S] {
	return func(state S) bool {
		return !p(state)
	}
}
