package emit

import "sync"

// BufferedEmitter keeps events in memory, grouped by thread.
//
// It backs tests and the `coachd chat --trace` view, where the event trail of
// a single conversation is printed after each turn. Nothing is ever evicted
// except through Clear, so do not use it for a long-lived server.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // threadID -> events
}

// HistoryFilter selects events from a thread's history. Zero fields match
// everything; set fields are combined with AND.
type HistoryFilter struct {
	NodeID  string // Filter by node ID (empty = no filter)
	Msg     string // Filter by message (empty = no filter)
	MinStep *int   // Minimum step number (nil = no filter)
	MaxStep *int   // Maximum step number (nil = no filter)
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit stores an event.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[event.ThreadID] = append(b.events[event.ThreadID], event)
}

// GetHistory returns a copy of the thread's events in emission order.
func (b *BufferedEmitter) GetHistory(threadID string) []Event {
	return b.GetHistoryWithFilter(threadID, HistoryFilter{})
}

// GetHistoryWithFilter returns the thread's events that match filter.
// The result is never nil.
func (b *BufferedEmitter) GetHistoryWithFilter(threadID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]Event, 0, len(b.events[threadID]))
	for _, event := range b.events[threadID] {
		if filter.matches(event) {
			result = append(result, event)
		}
	}
	return result
}

func (f HistoryFilter) matches(event Event) bool {
	if f.NodeID != "" && event.NodeID != f.NodeID {
		return false
	}
	if f.Msg != "" && event.Msg != f.Msg {
		return false
	}
	if f.MinStep != nil && event.Step < *f.MinStep {
		return false
	}
	if f.MaxStep != nil && event.Step > *f.MaxStep {
		return false
	}
	return true
}

// Clear removes the thread's events, or every event when threadID is empty.
func (b *BufferedEmitter) Clear(threadID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if threadID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, threadID)
}
