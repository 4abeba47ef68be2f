package coach

import (
	"context"
	"errors"

	"github.com/dshills/coachgraph/graph"
	"go.uber.org/zap"
)

// Reply is what the user sees after a turn.
type Reply struct {
	ThreadID      string        `json:"thread_id"`
	Prompt        string        `json:"prompt"`
	AwaitingInput bool          `json:"awaiting_input"`
	Halted        bool          `json:"halted"`
	Notification  *Notification `json:"notification,omitempty"`

	// InputIgnored is set when the thread was not waiting for input, as
	// after a failed first turn. Prompt is then the question the input
	// should answer.
	InputIgnored bool `json:"input_ignored,omitempty"`
}

// Notification asks the client to schedule the reminder resolved during
// the turn.
type Notification struct {
	ShouldSchedule bool   `json:"should_schedule"`
	ReminderType   string `json:"reminder_type"`
	Frequency      string `json:"frequency,omitempty"`
	Date           string `json:"date,omitempty"`
	Timezone       string `json:"timezone"`
	ScheduledTime  string `json:"scheduled_time"`
}

// Runner fronts an engine built from a stage table.
type Runner struct {
	engine *graph.Engine[State]
	logger *zap.Logger
}

// NewRunner wraps engine. A nil logger uses the engine's.
func NewRunner(engine *graph.Engine[State], logger *zap.Logger) *Runner {
	if logger == nil {
		logger = engine.Logger()
	}
	return &Runner{engine: engine, logger: logger}
}

// Start creates a thread for identity and runs it to the first question.
// Returning users enter at welcome_back.
//
// An identity failing ValidateIdentity is returned as is and no thread is
// created. A thread id that is already taken fails with the
// graph.EngineError code THREAD_EXISTS.
func (r *Runner) Start(ctx context.Context, threadID string, identity Identity, returning bool) (Reply, error) {
	if err := ValidateIdentity(identity); err != nil {
		return Reply{ThreadID: threadID}, err
	}
	entry := StageWelcome
	if returning {
		entry = StageWelcomeBack
	}
	initial := State{ThreadID: threadID, Identity: &identity, Episode: 1}
	if err := r.engine.Begin(ctx, threadID, initial, entry); err != nil {
		return Reply{ThreadID: threadID}, err
	}
	return r.advance(ctx, threadID, nil)
}

// Step delivers the user's input to the thread.
//
// Input failing ValidateMessage is returned as is and nothing runs. Every
// engine failure is returned as a *UserFacingError whose message is also
// the reply prompt.
func (r *Runner) Step(ctx context.Context, threadID, input string) (Reply, error) {
	if err := ValidateMessage("user", NormalizeInput(input)); err != nil {
		return Reply{ThreadID: threadID}, err
	}
	return r.advance(ctx, threadID, &input)
}

// Pending advances the thread without input. A suspended thread returns its
// pending prompt and a freshly begun one runs to its first question.
func (r *Runner) Pending(ctx context.Context, threadID string) (Reply, error) {
	return r.advance(ctx, threadID, nil)
}

func (r *Runner) advance(ctx context.Context, threadID string, input *string) (Reply, error) {
	var before State
	if cp, err := r.engine.Checkpoint(ctx, threadID); err == nil {
		before = cp.State
	}

	res, err := r.engine.Step(ctx, threadID, input)
	if err != nil {
		msg := UserMessage(err)
		if errors.Is(err, graph.ErrHalted) {
			r.logger.Info("input for halted thread", zap.String("thread_id", threadID))
		} else {
			r.logger.Error("turn failed", zap.String("thread_id", threadID), zap.Error(err))
		}
		return Reply{ThreadID: threadID, Prompt: msg, Halted: res.Halted, InputIgnored: res.InputIgnored},
			&UserFacingError{Message: msg, Cause: err}
	}

	reply := Reply{
		ThreadID:      threadID,
		Prompt:        res.Prompt,
		AwaitingInput: res.AwaitingInput,
		Halted:        res.Halted,
		Notification:  notification(before, res.State),
		InputIgnored:  res.InputIgnored,
	}
	if res.Halted {
		reply.Prompt = res.State.Messages.LastAssistant()
	}
	return reply, nil
}

// notification reports a reminder that became set between before and after.
func notification(before, after State) *Notification {
	r := after.Facts.Reminder
	if r == nil {
		return nil
	}
	if before.Facts.Reminder != nil && before.Episode == after.Episode {
		return nil
	}
	return &Notification{
		ShouldSchedule: true,
		ReminderType:   "commitment",
		Frequency:      r.Frequency,
		Date:           r.Date,
		Timezone:       r.Timezone,
		ScheduledTime:  r.Time,
	}
}

// History returns the thread's transcript.
func (r *Runner) History(ctx context.Context, threadID string) ([]Turn, error) {
	cp, err := r.engine.Checkpoint(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return cp.State.Messages.Turns(), nil
}

// State returns the thread's committed state.
func (r *Runner) State(ctx context.Context, threadID string) (State, error) {
	cp, err := r.engine.Checkpoint(ctx, threadID)
	if err != nil {
		return State{}, err
	}
	return cp.State, nil
}
