package graph

import "context"

// Node is one stage of a conversation graph.
// It receives the current state, performs its work and returns a NodeResult.
//
// A node may:
//   - Read the current state
//   - Suspend for external input via Suspend
//   - Call a model through Invoke
//   - Return a partial state update via Delta
//   - Control routing via Route
//
// Type parameter S is the state type shared across the run.
type Node[S any] interface {
	// Run executes the node's logic with the given context and state.
	Run(ctx context.Context, state S) NodeResult[S]
}

// NodeResult is the output of one node execution.
//
//   - Delta: Partial state update merged via the engine's reducer
//   - Route: Next hop, or empty to fall back to edge routing
//   - Err: Node failure, or an *Interrupt when the node suspended
//
// When Err is an *Interrupt the engine still commits Delta. This is how a node
// persists work done before its suspension point. For any other error the
// Delta is discarded and the checkpoint is left untouched.
type NodeResult[S any] struct {
	// Delta is the partial state update produced by this node.
	Delta S

	// Route specifies the next node. Leave it empty to let edges decide.
	Route Next

	// Err contains any error that occurred during node execution.
	Err error
}

// Next specifies what happens after a node completes.
//
// It supports two explicit routing modes:
//   - Terminal: Halt the run (Terminal = true)
//   - Single: Go to a specific node (To = "nodeID")
//
// The zero value defers to the edges registered with Connect.
type Next struct {
	// To specifies the next node to execute.
	To string

	// Terminal halts the run. A halted thread accepts no further input.
	Terminal bool
}

// Stop returns a Next that halts the run.
func Stop() Next {
	return Next{Terminal: true}
}

// Goto returns a Next that routes to the specified node.
func Goto(nodeID string) Next {
	return Next{To: nodeID}
}

// NodeFunc is a function adapter that implements the Node interface.
//
// Example:
//
//	greet := NodeFunc[MyState](func(ctx context.Context, s MyState) NodeResult[MyState] {
//	    return NodeResult[MyState]{
//	        Delta: MyState{Greeting: "hello"},
//	        Route: Goto("ask"),
//	    }
//	})
type NodeFunc[S any] func(ctx context.Context, state S) NodeResult[S]

// Run implements the Node interface for NodeFunc.
func (f NodeFunc[S]) Run(ctx context.Context, state S) NodeResult[S] {
	return f(ctx, state)
}

// NodeError represents an error that occurred during node execution.
type NodeError struct {
	// Message is the human-readable error description.
	Message string

	// Code is a machine-readable error code for programmatic handling.
	Code string

	// NodeID identifies which node produced this error.
	NodeID string

	// Cause is the underlying error that caused this NodeError.
	Cause error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + msg
	}
	return msg
}

// Unwrap returns the underlying cause error for error wrapping support.
func (e *NodeError) Unwrap() error {
	return e.Cause
}
