package coach

import (
	"errors"

	"github.com/dshills/coachgraph/graph"
)

// TechnicalDifficultyMessage is what the user sees when a turn fails.
const TechnicalDifficultyMessage = "I'm experiencing some technical difficulties right now. " +
	"Let's get back to this later. Is there anything else I can help you with?"

// ConversationEndedMessage is what the user sees after the thread halted.
const ConversationEndedMessage = "This conversation has ended. Start a new one whenever you're ready."

// UserFacingError carries the message to show the user alongside the
// internal failure, which must never reach the client.
type UserFacingError struct {
	Message string
	Cause   error
}

func (e *UserFacingError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return e.Message + " (" + e.Cause.Error() + ")"
}

// Unwrap returns the internal failure.
func (e *UserFacingError) Unwrap() error {
	return e.Cause
}

// UserMessage maps an error to the text shown to the user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var uf *UserFacingError
	if errors.As(err, &uf) {
		return uf.Message
	}
	if errors.Is(err, graph.ErrHalted) {
		return ConversationEndedMessage
	}
	return TechnicalDifficultyMessage
}

// IsUserFacing reports whether err already carries a user message.
func IsUserFacing(err error) bool {
	var uf *UserFacingError
	return errors.As(err, &uf)
}
