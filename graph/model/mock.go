package model

import (
	"context"
	"sync"
)

// MockChatModel is a test implementation of ChatModel.
//
// Use MockChatModel in tests to drive stages without making actual LLM API
// calls. It provides:
//   - Scripted responses, one per call
//   - Per-call error injection
//   - Stalled calls that block until their context ends
//   - Call history tracking
//
// Example usage:
//
//	mock := &MockChatModel{
//	    Responses: []ChatOut{
//	        {Text: `{"response":"Hi!","proceed":false}`},
//	        {Text: `{"response":"Great.","proceed":true,"mood":"calm"}`},
//	    },
//	}
//
// Example simulating two attempt timeouts before a reply:
//
//	mock := &MockChatModel{Stall: 2, Responses: []ChatOut{{Text: "ok"}}}
type MockChatModel struct {
	// Responses contains the sequence of responses to return.
	// Each successful call returns the next response in order.
	// If all responses are consumed, the last response repeats.
	Responses []ChatOut

	// Err, if set, is returned by every call.
	Err error

	// Errs is consulted by call index before Responses. A nil entry lets the
	// call through to the next response.
	Errs []error

	// Stall makes the first Stall calls block until their context is done.
	Stall int

	// Calls tracks the history of all Chat() invocations.
	Calls []MockChatCall

	mu        sync.Mutex
	callIndex int // next response
}

// MockChatCall records a single invocation of Chat().
type MockChatCall struct {
	Messages []Message
	Format   *ResponseFormat
}

// Chat implements the ChatModel interface.
//
// The call is recorded in Calls history regardless of its outcome.
func (m *MockChatModel) Chat(ctx context.Context, messages []Message, format *ResponseFormat) (ChatOut, error) {
	if ctx.Err() != nil {
		return ChatOut{}, ctx.Err()
	}

	m.mu.Lock()
	n := len(m.Calls)
	m.Calls = append(m.Calls, MockChatCall{
		Messages: append([]Message(nil), messages...),
		Format:   format,
	})
	stall := n < m.Stall
	m.mu.Unlock()

	if stall {
		<-ctx.Done()
		return ChatOut{}, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return ChatOut{}, m.Err
	}
	if n < len(m.Errs) && m.Errs[n] != nil {
		return ChatOut{}, m.Errs[n]
	}

	if len(m.Responses) == 0 {
		return ChatOut{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}
	return m.Responses[idx], nil
}

// Reset clears the call history and resets the response index.
func (m *MockChatModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = nil
	m.callIndex = 0
}

// CallCount returns the number of times Chat() has been called.
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.Calls)
}

// LastCall returns the most recent invocation, if any.
func (m *MockChatModel) LastCall() (MockChatCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.Calls) == 0 {
		return MockChatCall{}, false
	}
	return m.Calls[len(m.Calls)-1], true
}
