// Package model provides LLM integration adapters.
//
// Stages talk to a ChatModel and nothing else. Provider packages
// (openai, anthropic, google) adapt a vendor SDK to this interface, and the
// wrappers in this package (Fallback, Instrumented) compose on top of any
// implementation.
package model

import "context"

// ChatModel defines the interface for LLM chat providers.
//
// Implementations should:
//   - Convert the standard Message format to the provider's format.
//   - Honour format by asking the provider for a JSON object when it is
//     non-nil, and for free text otherwise.
//   - Respect context cancellation and deadlines. The Retrying Invoker runs
//     every call under a per-attempt timeout.
//   - Not retry on their own. Retrying is the invoker's job.
//
// Example usage:
//
//	out, err := m.Chat(ctx, []model.Message{
//	    {Role: model.RoleSystem, Content: "You are a supportive coach."},
//	    {Role: model.RoleUser, Content: "I feel a bit overwhelmed today."},
//	}, &model.ResponseFormat{Name: "mood", Schema: moodShape.Schema()})
type ChatModel interface {
	// Chat sends messages to the LLM and returns the response.
	//
	// A nil format requests free text.
	Chat(ctx context.Context, messages []Message, format *ResponseFormat) (ChatOut, error)
}

// Message represents a single message in an LLM conversation.
type Message struct {
	// Role identifies the message sender. Use the Role* constants.
	Role string

	// Content contains the message text.
	Content string
}

// Standard role constants for LLM conversations.
const (
	// RoleSystem indicates a system message that sets context or instructions.
	RoleSystem = "system"

	// RoleUser indicates a message from the human user.
	RoleUser = "user"

	// RoleAssistant indicates a response from the LLM.
	RoleAssistant = "assistant"
)

// ResponseFormat asks the provider for a JSON object reply.
//
// Schema is a JSON-schema object ("type", "properties", "required"), as
// rendered by shape.Shape.Schema. Providers that support schema-constrained
// output pass it through, the rest only switch on JSON mode and rely on the
// prompt and the validator.
type ResponseFormat struct {
	// Name labels the format, typically the shape name.
	Name string

	// Schema describes the expected object. May be nil.
	Schema map[string]interface{}
}

// ChatOut represents the output from an LLM chat completion.
type ChatOut struct {
	// Text contains the LLM's generated response.
	Text string

	// Model names the model that produced Text. Wrappers such as Fallback
	// leave it untouched so callers can tell which model served an attempt.
	Model string
}

// SplitSystem separates system messages from the conversation.
//
// Several providers take the system prompt out of band. Multiple system
// messages are joined with a blank line, in order.
func SplitSystem(messages []Message) (system string, rest []Message) {
	rest = make([]Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role != RoleSystem {
			rest = append(rest, msg)
			continue
		}
		if system != "" {
			system += "\n\n"
		}
		system += msg.Content
	}
	return system, rest
}
