package model

import (
	"context"

	"github.com/dshills/coachgraph/graph"
)

// Fallback serves early attempts from Primary and the penultimate and final
// attempts of a graph.Invoke from Secondary.
//
// Outside an invocation, or with a nil Secondary, every call goes to
// Primary.
type Fallback struct {
	Primary   ChatModel
	Secondary ChatModel
}

// Chat implements ChatModel.
func (f *Fallback) Chat(ctx context.Context, messages []Message, format *ResponseFormat) (ChatOut, error) {
	return f.pick(ctx).Chat(ctx, messages, format)
}

func (f *Fallback) pick(ctx context.Context) ChatModel {
	if f.Secondary == nil {
		return f.Primary
	}
	if attempt, ok := graph.AttemptFromContext(ctx); ok && attempt.Penultimate() {
		return f.Secondary
	}
	return f.Primary
}
