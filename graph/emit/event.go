package emit

// Event is one observation from the engine: a node completed, failed or
// suspended, or a thread started or halted.
type Event struct {
	// ThreadID identifies the conversation thread.
	ThreadID string

	// Step is the thread step the event belongs to. Zero for thread-level
	// events emitted before any node ran.
	Step int

	// NodeID is the node the event is about.
	NodeID string

	// Msg is the event kind, e.g. "node completed" or "node suspended".
	Msg string

	// Meta carries event-specific details such as "error", "key" or
	// "duration_ms".
	Meta map[string]interface{}
}
