// Package coach implements the coaching conversation on top of the graph
// engine: the conversation state and its reducer, the parameterized Stage,
// the default stage table and the Runner that fronts it all.
package coach

import (
	"encoding/json"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	Human     Role = "human"
	Assistant Role = "assistant"
)

// Turn is one entry of the transcript.
type Turn struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// MessageLog is the append-only transcript.
//
// The zero value is an empty log. Append never modifies the receiver's
// backing array, so a log held by a committed state is never changed by a
// later append.
type MessageLog struct {
	turns []Turn
}

// NewMessageLog builds a log from turns in order.
func NewMessageLog(turns ...Turn) MessageLog {
	return MessageLog{turns: append([]Turn(nil), turns...)}
}

// Append returns a log with turns added at the end.
func (l MessageLog) Append(turns ...Turn) MessageLog {
	if len(turns) == 0 {
		return l
	}
	out := make([]Turn, 0, len(l.turns)+len(turns))
	out = append(out, l.turns...)
	out = append(out, turns...)
	return MessageLog{turns: out}
}

// Len returns the number of turns.
func (l MessageLog) Len() int {
	return len(l.turns)
}

// Turns returns a copy of every turn.
func (l MessageLog) Turns() []Turn {
	return append([]Turn(nil), l.turns...)
}

// Recent returns a copy of the last n turns.
func (l MessageLog) Recent(n int) []Turn {
	if n <= 0 || n >= len(l.turns) {
		return l.Turns()
	}
	return append([]Turn(nil), l.turns[len(l.turns)-n:]...)
}

// LastAssistant returns the content of the latest assistant turn.
func (l MessageLog) LastAssistant() string {
	for i := len(l.turns) - 1; i >= 0; i-- {
		if l.turns[i].Role == Assistant {
			return l.turns[i].Content
		}
	}
	return ""
}

// Equal reports whether both logs hold the same turns in the same order.
func (l MessageLog) Equal(o MessageLog) bool {
	if len(l.turns) != len(o.turns) {
		return false
	}
	for i := range l.turns {
		a, b := l.turns[i], o.turns[i]
		if a.Role != b.Role || a.Content != b.Content || !a.At.Equal(b.At) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the log as an array of turns.
func (l MessageLog) MarshalJSON() ([]byte, error) {
	if l.turns == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.turns)
}

// UnmarshalJSON decodes an array of turns.
func (l *MessageLog) UnmarshalJSON(data []byte) error {
	var turns []Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return err
	}
	l.turns = turns
	return nil
}

// Identity describes the user. It is supplied once when a thread starts.
type Identity struct {
	UserID             string    `json:"user_id,omitempty"`
	Name               string    `json:"name"`
	Behavior           string    `json:"behavior,omitempty"`
	Persona            string    `json:"persona,omitempty"`
	PrimaryArchetype   string    `json:"primary_archetype,omitempty"`
	SecondaryArchetype string    `json:"secondary_archetype,omitempty"`
	Now                time.Time `json:"now"`
	Timezone           string    `json:"timezone,omitempty"`
}

// Fact names a derived fact.
type Fact string

const (
	NoFact         Fact = ""
	FactMood       Fact = "mood"
	FactFocus      Fact = "focus"
	FactIntention  Fact = "intention"
	FactCommitment Fact = "commitment"
	FactReminder   Fact = "reminder"
)

// Facts holds what the current episode has established. Each field is set
// at most once per episode.
type Facts struct {
	Mood       string    `json:"mood,omitempty"`
	Focus      string    `json:"focus,omitempty"`
	Intention  string    `json:"intention,omitempty"`
	Commitment string    `json:"commitment,omitempty"`
	Reminder   *Reminder `json:"reminder,omitempty"`
}

// Get returns a fact as text. The reminder renders as its summary.
func (f Facts) Get(k Fact) string {
	switch k {
	case FactMood:
		return f.Mood
	case FactFocus:
		return f.Focus
	case FactIntention:
		return f.Intention
	case FactCommitment:
		return f.Commitment
	case FactReminder:
		if f.Reminder != nil {
			return f.Reminder.String()
		}
	}
	return ""
}

// Has reports whether k is set.
func (f Facts) Has(k Fact) bool {
	if k == FactReminder {
		return f.Reminder != nil
	}
	return f.Get(k) != ""
}

// with returns f with k set to value. The reminder is set through its own
// field.
func (f Facts) with(k Fact, value string) Facts {
	switch k {
	case FactMood:
		f.Mood = value
	case FactFocus:
		f.Focus = value
	case FactIntention:
		f.Intention = value
	case FactCommitment:
		f.Commitment = value
	}
	return f
}

// merge fills every unset field of f from delta.
func (f Facts) merge(delta Facts) Facts {
	if f.Mood == "" {
		f.Mood = delta.Mood
	}
	if f.Focus == "" {
		f.Focus = delta.Focus
	}
	if f.Intention == "" {
		f.Intention = delta.Intention
	}
	if f.Commitment == "" {
		f.Commitment = delta.Commitment
	}
	if f.Reminder == nil && delta.Reminder != nil {
		r := *delta.Reminder
		f.Reminder = &r
	}
	return f
}

// State is the conversation state of one thread.
type State struct {
	ThreadID string     `json:"thread_id"`
	Messages MessageLog `json:"messages"`
	Identity *Identity  `json:"identity,omitempty"`
	Facts    Facts      `json:"facts"`

	// Flags holds each stage's routing flag from its latest execution.
	Flags map[string]bool `json:"flags,omitempty"`

	// Loops counts unresolved signals per logical stage.
	Loops map[string]int `json:"loops,omitempty"`

	// Episode numbers the check-in, starting at 1.
	Episode int  `json:"episode"`
	Halted  bool `json:"halted,omitempty"`
}

// Reduce merges a stage delta into prev.
//
// Merge rules:
//   - Messages: delta turns are appended
//   - ThreadID, Identity: set once, later values ignored
//   - Episode: a higher number starts a new episode, clearing Facts and
//     Loops before the rest of the delta applies
//   - Facts: unset fields are filled, set ones are kept
//   - Flags, Loops: delta keys overwrite
//   - Halted: sticky
func Reduce(prev, delta State) State {
	out := prev

	if out.ThreadID == "" {
		out.ThreadID = delta.ThreadID
	}
	if out.Identity == nil && delta.Identity != nil {
		id := *delta.Identity
		out.Identity = &id
	}

	out.Messages = prev.Messages.Append(delta.Messages.turns...)

	if delta.Episode > out.Episode {
		out.Episode = delta.Episode
		out.Facts = Facts{}
		out.Loops = nil
	}
	out.Facts = out.Facts.merge(delta.Facts)

	if len(delta.Flags) > 0 {
		flags := make(map[string]bool, len(out.Flags)+len(delta.Flags))
		for k, v := range out.Flags {
			flags[k] = v
		}
		for k, v := range delta.Flags {
			flags[k] = v
		}
		out.Flags = flags
	}

	if len(delta.Loops) > 0 {
		loops := make(map[string]int, len(out.Loops)+len(delta.Loops))
		for k, v := range out.Loops {
			loops[k] = v
		}
		for k, v := range delta.Loops {
			loops[k] = v
		}
		out.Loops = loops
	}

	out.Halted = out.Halted || delta.Halted
	return out
}
